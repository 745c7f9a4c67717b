package daemon

import (
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/process_runner"
	"code.cloudfoundry.org/ironframe/protocol"
	"code.cloudfoundry.org/ironframe/transport"
	"code.cloudfoundry.org/lager/v3"
	"github.com/fxamacker/cbor/v2"
)

// EventPublisher sends events back to the container service.
type EventPublisher interface {
	Notify(topic string, payload interface{}) error
}

// Daemon serves container host requests, running processes as the user the
// host itself runs as.
type Daemon struct {
	runner    process_runner.ProcessRunner
	tracker   *ProcessTracker
	publisher EventPublisher
	logger    lager.Logger
}

func New(runner process_runner.ProcessRunner, publisher EventPublisher, logger lager.Logger) *Daemon {
	return &Daemon{
		runner:    runner,
		tracker:   NewProcessTracker(),
		publisher: publisher,
		logger:    logger.Session("daemon"),
	}
}

func (d *Daemon) Tracker() *ProcessTracker {
	return d.tracker
}

// Handle dispatches a request to its handler. It is a
// transport.RequestHandler.
func (d *Daemon) Handle(method string, params cbor.RawMessage) (interface{}, error) {
	switch method {
	case protocol.MethodCreateProcess:
		var p protocol.CreateProcessParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}

		return d.CreateProcess(p)

	case protocol.MethodWaitForProcessExit:
		var p protocol.WaitForProcessExitParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}

		return d.WaitForProcessExit(p)

	case protocol.MethodStopProcess:
		var p protocol.StopProcessParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}

		return struct{}{}, d.StopProcess(p)

	case protocol.MethodStopAllProcesses:
		var p protocol.StopAllProcessesParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}

		return struct{}{}, d.StopAllProcesses(p.Timeout)

	case protocol.MethodFindProcessById:
		var p protocol.FindProcessByIdParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}

		return d.FindProcessById(p), nil

	case protocol.MethodPing:
		return struct{}{}, nil
	}

	return nil, &transport.RPCError{
		Code:    transport.CodeMethodNotFound,
		Message: "method not found",
		Data:    method,
	}
}

func (d *Daemon) CreateProcess(p protocol.CreateProcessParams) (protocol.CreateProcessResult, error) {
	cLog := d.logger.Session("create-process", lager.Data{"key": p.Key, "path": p.ExecutablePath})

	if p.Key == "" {
		return protocol.CreateProcessResult{}, invalidParams("missing process key")
	}

	if d.tracker.IsTracked(p.Key) {
		return protocol.CreateProcessResult{}, DuplicateProcessError{p.Key}
	}

	process, err := d.runner.Run(process_runner.ProcessRunSpec{
		ExecutablePath:   p.ExecutablePath,
		Arguments:        p.Arguments,
		Environment:      p.Environment,
		WorkingDirectory: p.WorkingDirectory,
		OutputCallback: func(line string) {
			d.publish(p.Key, protocol.STDOUT, line)
		},
		ErrorCallback: func(line string) {
			d.publish(p.Key, protocol.STDERR, line)
		},
	})
	if err != nil {
		cLog.Error("failed-to-run", err)
		return protocol.CreateProcessResult{}, err
	}

	err = d.tracker.Track(p.Key, process)
	if err != nil {
		cLog.Error("failed-to-track", err)
		process.Kill()
		return protocol.CreateProcessResult{}, err
	}

	cLog.Info("created", lager.Data{"pid": process.ID()})

	return protocol.CreateProcessResult{ID: process.ID()}, nil
}

// WaitForProcessExit stops tracking the process once it is seen to exit.
func (d *Daemon) WaitForProcessExit(p protocol.WaitForProcessExitParams) (protocol.WaitForProcessExitResult, error) {
	process, err := d.tracker.Lookup(p.Key)
	if err != nil {
		return protocol.WaitForProcessExitResult{}, err
	}

	exited := true
	if p.Timeout < 0 {
		_, err = process.WaitForExit()
	} else {
		exited, err = process.WaitForExitTimeout(p.Timeout)
	}

	if err != nil {
		return protocol.WaitForProcessExitResult{}, err
	}

	if !exited {
		return protocol.WaitForProcessExitResult{}, nil
	}

	d.tracker.Remove(p.Key)

	return protocol.WaitForProcessExitResult{
		Exited:   true,
		ExitCode: process.ExitCode(),
	}, nil
}

func (d *Daemon) StopProcess(p protocol.StopProcessParams) error {
	process, err := d.tracker.Lookup(p.Key)
	if err != nil {
		return err
	}

	return d.stop(process, p.Timeout)
}

// StopAllProcesses stops every tracked process in parallel, each given
// timeout to exit before it is killed.
func (d *Daemon) StopAllProcesses(timeout time.Duration) error {
	processes := d.tracker.ActiveProcesses()

	errs := make([]error, len(processes))

	wg := new(sync.WaitGroup)
	for i, process := range processes {
		wg.Add(1)

		go func(i int, process ironframe.Process) {
			defer wg.Done()
			errs[i] = d.stop(process, timeout)
		}(i, process)
	}

	wg.Wait()

	return errors.Join(errs...)
}

func (d *Daemon) FindProcessById(p protocol.FindProcessByIdParams) protocol.FindProcessByIdResult {
	key, process := d.tracker.FindById(p.ID)
	if process == nil {
		return protocol.FindProcessByIdResult{}
	}

	return protocol.FindProcessByIdResult{
		Key:         key,
		ID:          process.ID(),
		Environment: process.Environment(),
	}
}

func (d *Daemon) stop(process ironframe.Process, timeout time.Duration) error {
	if timeout > 0 {
		exited, err := process.WaitForExitTimeout(timeout)
		if err == nil && exited {
			return nil
		}
	}

	err := process.Kill()
	if err != nil {
		d.logger.Error("failed-to-kill", err, lager.Data{"pid": process.ID()})
	}

	return err
}

func (d *Daemon) publish(key string, dataType protocol.ProcessDataType, line string) {
	err := d.publisher.Notify(protocol.EventProcessData, protocol.ProcessDataEvent{
		Key:      key,
		DataType: dataType,
		Data:     line,
	})
	if err != nil {
		d.logger.Error("failed-to-publish-process-data", err, lager.Data{"key": key, "type": dataType.String()})
	}
}

func decode(params cbor.RawMessage, v interface{}) error {
	err := transport.Unmarshal(params, v)
	if err != nil {
		return invalidParams(err.Error())
	}

	return nil
}

func invalidParams(reason string) error {
	return &transport.RPCError{
		Code:    transport.CodeInvalidParams,
		Message: "invalid params",
		Data:    reason,
	}
}
