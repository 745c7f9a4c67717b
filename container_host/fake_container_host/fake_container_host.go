package fake_container_host

import (
	"sync"
	"time"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/container_host"
	"code.cloudfoundry.org/ironframe/jobobject"
	"code.cloudfoundry.org/ironframe/protocol"
)

type StartedHost struct {
	ID          string
	Directory   container_host.Directory
	Job         jobobject.JobObject
	Credentials *ironframe.Credentials
}

type FakeService struct {
	StartError error

	// Client is returned by every start. A new FakeClient is made for each
	// start when it is nil.
	Client *FakeClient

	started []StartedHost

	sync.RWMutex
}

func NewService() *FakeService {
	return &FakeService{}
}

func (s *FakeService) StartContainerHost(id string, directory container_host.Directory, job jobobject.JobObject, credentials *ironframe.Credentials) (container_host.Client, error) {
	s.Lock()
	defer s.Unlock()

	if s.StartError != nil {
		return nil, s.StartError
	}

	s.started = append(s.started, StartedHost{
		ID:          id,
		Directory:   directory,
		Job:         job,
		Credentials: credentials,
	})

	if s.Client != nil {
		return s.Client, nil
	}

	return New(), nil
}

func (s *FakeService) Started() []StartedHost {
	s.RLock()
	defer s.RUnlock()

	return append([]StartedHost{}, s.started...)
}

type trackedProcess struct {
	params protocol.CreateProcessParams
	id     int
}

type FakeClient struct {
	CreateProcessError    error
	WaitForExitError      error
	StopProcessError      error
	StopAllProcessesError error
	FindProcessError      error
	ShutdownError         error

	Pingable bool

	// WhenWaiting, if set, answers every WaitForProcessExit. Otherwise
	// processes report having exited with code 0.
	WhenWaiting func(params protocol.WaitForProcessExitParams) (protocol.WaitForProcessExitResult, error)

	created       []protocol.CreateProcessParams
	waits         []protocol.WaitForProcessExitParams
	stopped       []protocol.StopProcessParams
	stopAllCalls  []time.Duration
	processes     map[string]trackedProcess
	subscribers   map[string]func(protocol.ProcessDataEvent)
	shutdownCalls int
	nextID        int
	exited        chan struct{}

	sync.RWMutex
}

func New() *FakeClient {
	return &FakeClient{
		Pingable: true,

		processes:   make(map[string]trackedProcess),
		subscribers: make(map[string]func(protocol.ProcessDataEvent)),
		nextID:      2000,
		exited:      make(chan struct{}),
	}
}

func (c *FakeClient) CreateProcess(params protocol.CreateProcessParams) (protocol.CreateProcessResult, error) {
	c.Lock()
	defer c.Unlock()

	if c.CreateProcessError != nil {
		return protocol.CreateProcessResult{}, c.CreateProcessError
	}

	c.nextID++

	c.created = append(c.created, params)
	c.processes[params.Key] = trackedProcess{params: params, id: c.nextID}

	return protocol.CreateProcessResult{ID: c.nextID}, nil
}

func (c *FakeClient) WaitForProcessExit(params protocol.WaitForProcessExitParams) (protocol.WaitForProcessExitResult, error) {
	c.Lock()
	c.waits = append(c.waits, params)
	whenWaiting := c.WhenWaiting
	waitErr := c.WaitForExitError
	c.Unlock()

	if waitErr != nil {
		return protocol.WaitForProcessExitResult{}, waitErr
	}

	if whenWaiting != nil {
		return whenWaiting(params)
	}

	return protocol.WaitForProcessExitResult{Exited: true, ExitCode: 0}, nil
}

func (c *FakeClient) StopProcess(key string, timeout time.Duration) error {
	c.Lock()
	defer c.Unlock()

	c.stopped = append(c.stopped, protocol.StopProcessParams{Key: key, Timeout: timeout})

	return c.StopProcessError
}

func (c *FakeClient) StopAllProcesses(timeout time.Duration) error {
	c.Lock()
	defer c.Unlock()

	c.stopAllCalls = append(c.stopAllCalls, timeout)

	return c.StopAllProcessesError
}

func (c *FakeClient) FindProcessById(id int) (*protocol.FindProcessByIdResult, error) {
	c.RLock()
	defer c.RUnlock()

	if c.FindProcessError != nil {
		return nil, c.FindProcessError
	}

	for key, process := range c.processes {
		if process.id == id {
			return &protocol.FindProcessByIdResult{
				Key:         key,
				ID:          id,
				Environment: process.params.Environment,
			}, nil
		}
	}

	return nil, nil
}

func (c *FakeClient) SubscribeToProcessData(key string, callback func(protocol.ProcessDataEvent)) {
	c.Lock()
	defer c.Unlock()

	c.subscribers[key] = callback
}

func (c *FakeClient) UnsubscribeFromProcessData(key string) {
	c.Lock()
	defer c.Unlock()

	delete(c.subscribers, key)
}

func (c *FakeClient) Ping(timeout time.Duration) bool {
	c.RLock()
	defer c.RUnlock()

	return c.Pingable
}

func (c *FakeClient) Shutdown() error {
	c.Lock()
	defer c.Unlock()

	c.shutdownCalls++

	return c.ShutdownError
}

func (c *FakeClient) Exited() <-chan struct{} {
	return c.exited
}

// Exit makes the host appear to have exited.
func (c *FakeClient) Exit() {
	c.Lock()
	defer c.Unlock()

	select {
	case <-c.exited:
	default:
		close(c.exited)
	}
}

// SendProcessData delivers event to the subscriber for its key. It reports
// whether there was one.
func (c *FakeClient) SendProcessData(event protocol.ProcessDataEvent) bool {
	c.RLock()
	callback, found := c.subscribers[event.Key]
	c.RUnlock()

	if found {
		callback(event)
	}

	return found
}

func (c *FakeClient) Created() []protocol.CreateProcessParams {
	c.RLock()
	defer c.RUnlock()

	return append([]protocol.CreateProcessParams{}, c.created...)
}

func (c *FakeClient) Waits() []protocol.WaitForProcessExitParams {
	c.RLock()
	defer c.RUnlock()

	return append([]protocol.WaitForProcessExitParams{}, c.waits...)
}

func (c *FakeClient) Stopped() []protocol.StopProcessParams {
	c.RLock()
	defer c.RUnlock()

	return append([]protocol.StopProcessParams{}, c.stopped...)
}

func (c *FakeClient) StopAllCalls() []time.Duration {
	c.RLock()
	defer c.RUnlock()

	return append([]time.Duration{}, c.stopAllCalls...)
}

func (c *FakeClient) IsSubscribed(key string) bool {
	c.RLock()
	defer c.RUnlock()

	_, found := c.subscribers[key]
	return found
}

func (c *FakeClient) ShutdownCalls() int {
	c.RLock()
	defer c.RUnlock()

	return c.shutdownCalls
}
