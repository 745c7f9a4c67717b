package fake_backend

import (
	"io"
	"strconv"
	"sync"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/process_runner/fake_process_runner"
)

type FakeContainer struct {
	Spec ironframe.ContainerSpec

	StopError        error
	InfoError        error
	RunError         error
	ReservePortError error
	LimitMemoryError error
	LimitCPUError    error
	PropertyError    error

	// WhenRunning, if set, plays the part of the process: it may write to
	// the process's output and returns its exit code.
	WhenRunning func(spec ironframe.ProcessSpec, pio ironframe.ProcessIO) int

	Stopped       []bool
	Ran           []ironframe.ProcessSpec
	ReservedPorts []int
	MemoryLimit   uint64
	CPURate       int
	ProcessLimit  uint32

	state      ironframe.ContainerState
	properties ironframe.Properties
	processes  map[int]ironframe.Process
	nextPid    int

	sync.RWMutex
}

func NewFakeContainer(spec ironframe.ContainerSpec) *FakeContainer {
	properties := ironframe.Properties{}
	for name, value := range spec.Properties {
		properties[name] = value
	}

	return &FakeContainer{
		Spec: spec,

		state:      ironframe.StateActive,
		properties: properties,
		processes:  make(map[int]ironframe.Process),
		nextPid:    100,
	}
}

func (c *FakeContainer) ID() string {
	return c.Spec.Handle
}

func (c *FakeContainer) Handle() string {
	return c.Spec.Handle
}

func (c *FakeContainer) State() ironframe.ContainerState {
	c.RLock()
	defer c.RUnlock()

	return c.state
}

func (c *FakeContainer) Run(spec ironframe.ProcessSpec, pio ironframe.ProcessIO) (ironframe.Process, error) {
	if c.RunError != nil {
		return nil, c.RunError
	}

	c.Lock()
	c.Ran = append(c.Ran, spec)
	c.nextPid++
	pid := c.nextPid
	whenRunning := c.WhenRunning
	c.Unlock()

	process := fake_process_runner.NewFakeProcess(pid, spec.Environment)

	exitCode := 0
	if whenRunning != nil {
		exitCode = whenRunning(spec, pio)
	} else if pio.Stdin != nil {
		io.Copy(io.Discard, pio.Stdin)
	}

	process.Exit(exitCode)

	c.Lock()
	c.processes[pid] = process
	c.Unlock()

	return process, nil
}

func (c *FakeContainer) FindProcessById(pid int) (ironframe.Process, error) {
	c.RLock()
	defer c.RUnlock()

	process, found := c.processes[pid]
	if !found {
		return nil, ironframe.ProcessNotFoundError{ProcessID: strconv.Itoa(pid)}
	}

	return process, nil
}

func (c *FakeContainer) Stop(kill bool) error {
	c.Lock()
	defer c.Unlock()

	c.Stopped = append(c.Stopped, kill)

	if c.StopError != nil {
		return c.StopError
	}

	c.state = ironframe.StateStopped

	return nil
}

func (c *FakeContainer) Destroy() error {
	c.Lock()
	defer c.Unlock()

	c.state = ironframe.StateDestroyed

	return nil
}

func (c *FakeContainer) Info() (ironframe.ContainerInfo, error) {
	if c.InfoError != nil {
		return ironframe.ContainerInfo{}, c.InfoError
	}

	c.RLock()
	defer c.RUnlock()

	return ironframe.ContainerInfo{
		State:         c.state,
		ContainerPath: `C:\containers\` + c.Spec.Handle + `\user\`,
		Properties:    c.copyProperties(),
		ReservedPorts: append([]int{}, c.ReservedPorts...),
	}, nil
}

func (c *FakeContainer) ReservePort(requestedPort int) (int, error) {
	if c.ReservePortError != nil {
		return 0, c.ReservePortError
	}

	c.Lock()
	defer c.Unlock()

	port := requestedPort
	if port == 0 {
		port = 40000 + len(c.ReservedPorts)
	}

	c.ReservedPorts = append(c.ReservedPorts, port)

	return port, nil
}

func (c *FakeContainer) LimitMemory(limitInBytes uint64) error {
	if c.LimitMemoryError != nil {
		return c.LimitMemoryError
	}

	c.Lock()
	defer c.Unlock()

	c.MemoryLimit = limitInBytes

	return nil
}

func (c *FakeContainer) CurrentMemoryLimit() (uint64, error) {
	c.RLock()
	defer c.RUnlock()

	return c.MemoryLimit, nil
}

func (c *FakeContainer) LimitCPU(rate int) error {
	if c.LimitCPUError != nil {
		return c.LimitCPUError
	}

	c.Lock()
	defer c.Unlock()

	c.CPURate = rate

	return nil
}

func (c *FakeContainer) CurrentCPULimit() (int, error) {
	c.RLock()
	defer c.RUnlock()

	return c.CPURate, nil
}

func (c *FakeContainer) LimitActiveProcesses(count uint32) error {
	c.Lock()
	defer c.Unlock()

	c.ProcessLimit = count

	return nil
}

func (c *FakeContainer) GetProperties() (ironframe.Properties, error) {
	if c.PropertyError != nil {
		return nil, c.PropertyError
	}

	c.RLock()
	defer c.RUnlock()

	return c.copyProperties(), nil
}

func (c *FakeContainer) GetProperty(name string) (*string, error) {
	if c.PropertyError != nil {
		return nil, c.PropertyError
	}

	c.RLock()
	defer c.RUnlock()

	value, found := c.properties[name]
	if !found {
		return nil, nil
	}

	return &value, nil
}

func (c *FakeContainer) SetProperty(name string, value string) error {
	if c.PropertyError != nil {
		return c.PropertyError
	}

	c.Lock()
	defer c.Unlock()

	c.properties[name] = value

	return nil
}

func (c *FakeContainer) RemoveProperty(name string) error {
	if c.PropertyError != nil {
		return c.PropertyError
	}

	c.Lock()
	defer c.Unlock()

	delete(c.properties, name)

	return nil
}

func (c *FakeContainer) RanSpecs() []ironframe.ProcessSpec {
	c.RLock()
	defer c.RUnlock()

	return append([]ironframe.ProcessSpec{}, c.Ran...)
}

func (c *FakeContainer) copyProperties() ironframe.Properties {
	properties := ironframe.Properties{}
	for name, value := range c.properties {
		properties[name] = value
	}

	return properties
}
