package container_host

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/metrics"
	"code.cloudfoundry.org/ironframe/protocol"
	"code.cloudfoundry.org/ironframe/transport"
	"code.cloudfoundry.org/lager/v3"
	"github.com/fxamacker/cbor/v2"
	"go.opencensus.io/trace"
)

// processes still running when the client shuts down get this long to be
// stopped by the host before it is killed
const shutdownTimeout = 5 * time.Second

type Client interface {
	CreateProcess(params protocol.CreateProcessParams) (protocol.CreateProcessResult, error)
	WaitForProcessExit(params protocol.WaitForProcessExitParams) (protocol.WaitForProcessExitResult, error)
	StopProcess(key string, timeout time.Duration) error
	StopAllProcesses(timeout time.Duration) error

	// FindProcessById returns nil if the host does not track a process with
	// the id.
	FindProcessById(id int) (*protocol.FindProcessByIdResult, error)

	// SubscribeToProcessData routes data events for key to callback. A later
	// subscription for the same key replaces the earlier one.
	SubscribeToProcessData(key string, callback func(protocol.ProcessDataEvent))
	UnsubscribeFromProcessData(key string)

	// Ping reports whether the host answered within timeout.
	Ping(timeout time.Duration) bool

	// Shutdown closes the connection and kills the host. It is safe to call
	// more than once and after the host has exited.
	Shutdown() error

	// Exited is closed once the host process has exited.
	Exited() <-chan struct{}
}

type ContainerHostClient struct {
	process ironframe.Process
	conn    *transport.Conn
	clock   clock.Clock
	logger  lager.Logger

	subscribers  map[string]func(protocol.ProcessDataEvent)
	subscribersL sync.RWMutex

	exited       chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewClient starts serving conn and watches process, tearing conn down when
// the process exits.
func NewClient(process ironframe.Process, conn *transport.Conn, clock clock.Clock, logger lager.Logger) *ContainerHostClient {
	client := &ContainerHostClient{
		process: process,
		conn:    conn,
		clock:   clock,
		logger:  logger.Session("container-host-client", lager.Data{"pid": process.ID()}),

		subscribers: make(map[string]func(protocol.ProcessDataEvent)),
		exited:      make(chan struct{}),
	}

	conn.HandleEvents(client.handleEvent)
	conn.Start()

	go client.watch()

	return client
}

func (c *ContainerHostClient) CreateProcess(params protocol.CreateProcessParams) (protocol.CreateProcessResult, error) {
	var result protocol.CreateProcessResult
	err := c.call(context.Background(), protocol.MethodCreateProcess, params, &result)
	return result, err
}

func (c *ContainerHostClient) WaitForProcessExit(params protocol.WaitForProcessExitParams) (protocol.WaitForProcessExitResult, error) {
	var result protocol.WaitForProcessExitResult
	err := c.call(context.Background(), protocol.MethodWaitForProcessExit, params, &result)
	return result, err
}

func (c *ContainerHostClient) StopProcess(key string, timeout time.Duration) error {
	return c.call(context.Background(), protocol.MethodStopProcess, protocol.StopProcessParams{
		Key:     key,
		Timeout: timeout,
	}, nil)
}

func (c *ContainerHostClient) StopAllProcesses(timeout time.Duration) error {
	return c.call(context.Background(), protocol.MethodStopAllProcesses, protocol.StopAllProcessesParams{
		Timeout: timeout,
	}, nil)
}

func (c *ContainerHostClient) FindProcessById(id int) (*protocol.FindProcessByIdResult, error) {
	var result protocol.FindProcessByIdResult
	err := c.call(context.Background(), protocol.MethodFindProcessById, protocol.FindProcessByIdParams{ID: id}, &result)
	if err != nil {
		return nil, err
	}

	if result.Key == "" {
		return nil, nil
	}

	return &result, nil
}

func (c *ContainerHostClient) SubscribeToProcessData(key string, callback func(protocol.ProcessDataEvent)) {
	c.subscribersL.Lock()
	defer c.subscribersL.Unlock()

	c.subscribers[key] = callback
}

func (c *ContainerHostClient) UnsubscribeFromProcessData(key string) {
	c.subscribersL.Lock()
	defer c.subscribersL.Unlock()

	delete(c.subscribers, key)
}

func (c *ContainerHostClient) Ping(timeout time.Duration) bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	answered := make(chan error, 1)
	go func() {
		answered <- c.call(ctx, protocol.MethodPing, struct{}{}, nil)
	}()

	select {
	case err := <-answered:
		return err == nil
	case <-c.clock.After(timeout):
		return false
	}
}

func (c *ContainerHostClient) Shutdown() error {
	c.shutdownOnce.Do(func() {
		sLog := c.logger.Session("shutdown")

		select {
		case <-c.exited:
		default:
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			err := c.call(ctx, protocol.MethodStopAllProcesses, protocol.StopAllProcessesParams{}, nil)
			cancel()

			if err != nil {
				sLog.Info("failed-to-stop-processes", lager.Data{"error": err.Error()})
			}
		}

		err := c.conn.Close()
		if err != nil {
			sLog.Error("failed-to-close-connection", err)
		}

		c.shutdownErr = c.process.Kill()
		if c.shutdownErr != nil {
			sLog.Error("failed-to-kill-host", c.shutdownErr)
		}
	})

	return c.shutdownErr
}

func (c *ContainerHostClient) Exited() <-chan struct{} {
	return c.exited
}

func (c *ContainerHostClient) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	ctx, span := trace.StartSpan(ctx, "ContainerHostClient::"+method)
	defer span.End()

	start := c.clock.Now()
	err := c.conn.Call(ctx, method, params, result)
	metrics.RecordRPC(ctx, method, c.clock.Since(start))
	metrics.SetSpanStatus(span, err)

	var rpcErr *transport.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == transport.CodeProcessNotFound {
		return ironframe.ProcessNotFoundError{ProcessID: rpcErr.Data}
	}

	return err
}

func (c *ContainerHostClient) watch() {
	exitCode, err := c.process.WaitForExit()
	if err != nil {
		c.logger.Error("failed-to-wait-for-host", err)
	}

	c.logger.Info("host-exited", lager.Data{"exit-code": exitCode})

	c.conn.Close()
	close(c.exited)
}

func (c *ContainerHostClient) handleEvent(topic string, payload cbor.RawMessage) {
	if topic != protocol.EventProcessData {
		c.logger.Info("ignoring-event", lager.Data{"topic": topic})
		return
	}

	var event protocol.ProcessDataEvent
	err := transport.Unmarshal(payload, &event)
	if err != nil {
		c.logger.Error("failed-to-decode-process-data", err)
		return
	}

	c.subscribersL.RLock()
	callback, found := c.subscribers[event.Key]
	c.subscribersL.RUnlock()

	if found {
		callback(event)
	}
}
