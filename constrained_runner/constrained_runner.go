package constrained_runner

import (
	"io"
	"sync"
	"time"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/container_host"
	"code.cloudfoundry.org/ironframe/process_runner"
	"code.cloudfoundry.org/ironframe/protocol"
	"code.cloudfoundry.org/lager/v3"
	"github.com/google/uuid"
)

const DefaultStopTimeout = 10 * time.Second

// BaseEnvironment returns the block every constrained process starts from,
// usually process_runner.SystemDefaultEnvironment.
type BaseEnvironment func() (map[string]string, error)

// ConstrainedProcessRunner runs processes through a container host, so they
// start as the container user inside the container's job object.
type ConstrainedProcessRunner struct {
	client          container_host.Client
	baseEnvironment BaseEnvironment
	logger          lager.Logger
}

func New(client container_host.Client, baseEnvironment BaseEnvironment, logger lager.Logger) *ConstrainedProcessRunner {
	return &ConstrainedProcessRunner{
		client:          client,
		baseEnvironment: baseEnvironment,
		logger:          logger.Session("constrained-runner"),
	}
}

// Run ignores BufferedInputOutput and Credentials. Output is always
// delivered line by line, and the host decides the user.
func (r *ConstrainedProcessRunner) Run(spec process_runner.ProcessRunSpec) (ironframe.Process, error) {
	key := uuid.NewString()

	rLog := r.logger.Session("run", lager.Data{"key": key, "path": spec.ExecutablePath})

	baseEnvironment, err := r.baseEnvironment()
	if err != nil {
		rLog.Error("failed-to-create-environment", err)
		return nil, err
	}

	environment := process_runner.MergeEnvironment(baseEnvironment, spec.Environment)

	r.client.SubscribeToProcessData(key, dataCallback(spec.OutputCallback, spec.ErrorCallback))

	result, err := r.client.CreateProcess(protocol.CreateProcessParams{
		Key:              key,
		ExecutablePath:   spec.ExecutablePath,
		Arguments:        spec.Arguments,
		Environment:      environment,
		WorkingDirectory: spec.WorkingDirectory,
	})
	if err != nil {
		rLog.Error("failed-to-create-process", err)
		r.client.UnsubscribeFromProcessData(key)
		return nil, err
	}

	rLog.Info("created", lager.Data{"pid": result.ID})

	return newProcess(r.client, key, result.ID, environment, spec.ExitedCallback), nil
}

// FindProcessById returns nil if the host does not track a process with
// the id.
func (r *ConstrainedProcessRunner) FindProcessById(id int) (ironframe.Process, error) {
	result, err := r.client.FindProcessById(id)
	if err != nil {
		return nil, err
	}

	if result == nil {
		return nil, nil
	}

	return newProcess(r.client, result.Key, result.ID, result.Environment, nil), nil
}

// StopAll asks the host to stop its processes, giving them DefaultStopTimeout
// to exit unless kill is set.
func (r *ConstrainedProcessRunner) StopAll(kill bool) error {
	timeout := DefaultStopTimeout
	if kill {
		timeout = 0
	}

	return r.client.StopAllProcesses(timeout)
}

func (r *ConstrainedProcessRunner) Close() error {
	return r.client.Shutdown()
}

func dataCallback(outputCallback, errorCallback func(string)) func(protocol.ProcessDataEvent) {
	return func(event protocol.ProcessDataEvent) {
		switch event.DataType {
		case protocol.STDOUT:
			if outputCallback != nil {
				outputCallback(event.Data)
			}
		case protocol.STDERR:
			if errorCallback != nil {
				errorCallback(event.Data)
			}
		}
	}
}

type ConstrainedProcess struct {
	client      container_host.Client
	key         string
	id          int
	environment map[string]string
	onExit      func(int)

	mu       sync.Mutex
	exited   bool
	exitCode int
}

func newProcess(client container_host.Client, key string, id int, environment map[string]string, onExit func(int)) *ConstrainedProcess {
	return &ConstrainedProcess{
		client:      client,
		key:         key,
		id:          id,
		environment: environment,
		onExit:      onExit,
		exitCode:    -1,
	}
}

func (p *ConstrainedProcess) Key() string {
	return p.key
}

func (p *ConstrainedProcess) ID() int {
	return p.id
}

func (p *ConstrainedProcess) Kill() error {
	if p.hasExited() {
		return nil
	}

	return p.client.StopProcess(p.key, 0)
}

func (p *ConstrainedProcess) WaitForExit() (int, error) {
	_, err := p.wait(-1)
	if err != nil {
		return -1, err
	}

	return p.ExitCode(), nil
}

func (p *ConstrainedProcess) WaitForExitTimeout(timeout time.Duration) (bool, error) {
	return p.wait(timeout)
}

func (p *ConstrainedProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exitCode
}

func (p *ConstrainedProcess) Environment() map[string]string {
	return p.environment
}

func (p *ConstrainedProcess) StandardInput() io.WriteCloser {
	return nil
}

func (p *ConstrainedProcess) StandardOutput() io.Reader {
	return nil
}

func (p *ConstrainedProcess) StandardError() io.Reader {
	return nil
}

func (p *ConstrainedProcess) hasExited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exited
}

// wait stops routing output for the process once it has exited. The host
// sends every line before its answer, so nothing is lost.
func (p *ConstrainedProcess) wait(timeout time.Duration) (bool, error) {
	if p.hasExited() {
		return true, nil
	}

	result, err := p.client.WaitForProcessExit(protocol.WaitForProcessExitParams{
		Key:     p.key,
		Timeout: timeout,
	})
	if err != nil {
		return false, err
	}

	if !result.Exited {
		return false, nil
	}

	p.mu.Lock()
	first := !p.exited
	p.exited = true
	p.exitCode = result.ExitCode
	p.mu.Unlock()

	if first {
		p.client.UnsubscribeFromProcessData(p.key)

		if p.onExit != nil {
			p.onExit(result.ExitCode)
		}
	}

	return true, nil
}
