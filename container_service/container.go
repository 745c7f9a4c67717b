package container_service

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/jobobject"
	"code.cloudfoundry.org/ironframe/metrics"
	"code.cloudfoundry.org/ironframe/port_manager"
	"code.cloudfoundry.org/ironframe/process_runner"
	"code.cloudfoundry.org/ironframe/property_service"
	"code.cloudfoundry.org/lager/v3"
)

const (
	OutOfMemoryEvent = "out of memory"

	terminateTimeout = 10 * time.Second
)

type ContainerUser interface {
	UserName() string
	Credentials() ironframe.Credentials
	Delete() error
}

// ConstrainedRunner runs processes through the container host.
type ConstrainedRunner interface {
	process_runner.ProcessRunner

	// FindProcessById returns nil if the host does not track the id.
	FindProcessById(id int) (ironframe.Process, error)
}

type ContainerDirectory interface {
	RootPath() string
	UserPath() string
	MapBinPath(path string) (string, error)
	MapUserPath(path string) (string, error)
	MapPrivatePath(path string) (string, error)
	Destroy() error
}

type Container struct {
	id     string
	handle string

	user        ContainerUser
	directory   ContainerDirectory
	job         jobobject.JobObject
	limits      *jobobject.Limits
	properties  property_service.PropertyService
	portManager port_manager.PortManager
	helper      process_runner.ProcessHelper

	// processRunner runs privileged processes. constrainedRunner is nil for
	// restored containers, whose host is not relaunched.
	processRunner     process_runner.ProcessRunner
	constrainedRunner ConstrainedRunner

	environment map[string]string

	logger lager.Logger

	state  ironframe.ContainerState
	stateL sync.RWMutex

	events  []string
	eventsL sync.RWMutex

	reservedPorts  []int
	reservedPortsL sync.RWMutex

	destroyL sync.Mutex
}

func (c *Container) ID() string {
	return c.id
}

func (c *Container) Handle() string {
	return c.handle
}

func (c *Container) State() ironframe.ContainerState {
	c.stateL.RLock()
	defer c.stateL.RUnlock()

	return c.state
}

func (c *Container) Events() []string {
	c.eventsL.RLock()
	defer c.eventsL.RUnlock()

	events := make([]string, len(c.events))
	copy(events, c.events)

	return events
}

func (c *Container) ReservedPorts() []int {
	c.reservedPortsL.RLock()
	defer c.reservedPortsL.RUnlock()

	ports := make([]int, len(c.reservedPorts))
	copy(ports, c.reservedPorts)

	return ports
}

func (c *Container) Run(spec ironframe.ProcessSpec, pio ironframe.ProcessIO) (ironframe.Process, error) {
	if c.State() != ironframe.StateActive {
		return nil, ironframe.ErrContainerNotActive
	}

	rLog := c.logger.Session("run", lager.Data{
		"path":       spec.ExecutablePath,
		"privileged": spec.Privileged,
	})

	executablePath, workingDirectory, err := c.mapPaths(spec)
	if err != nil {
		rLog.Error("failed-to-map-paths", err)
		return nil, err
	}

	runner := c.processRunner
	if !spec.Privileged && c.constrainedRunner != nil {
		runner = c.constrainedRunner
	}

	process, err := runner.Run(process_runner.ProcessRunSpec{
		ExecutablePath:   executablePath,
		Arguments:        spec.Arguments,
		Environment:      process_runner.MergeEnvironment(c.environment, spec.Environment),
		WorkingDirectory: workingDirectory,
		OutputCallback:   lineWriter(pio.Stdout),
		ErrorCallback:    lineWriter(pio.Stderr),
	})
	if err != nil {
		rLog.Error("failed-to-run", err)
		return nil, err
	}

	if runner == c.processRunner {
		err := c.job.AssignProcessToJob(process.ID())
		if err != nil {
			rLog.Error("failed-to-assign-to-job", err, lager.Data{"pid": process.ID()})
			return nil, errors.Join(err, process.Kill())
		}
	}

	if pio.Stdin != nil && process.StandardInput() != nil {
		go func(stdin io.WriteCloser) {
			io.Copy(stdin, pio.Stdin)
			stdin.Close()
		}(process.StandardInput())
	}

	rLog.Info("started", lager.Data{"pid": process.ID()})

	return process, nil
}

func (c *Container) FindProcessById(pid int) (ironframe.Process, error) {
	if c.constrainedRunner != nil {
		process, err := c.constrainedRunner.FindProcessById(pid)
		if err != nil {
			c.logger.Error("failed-to-find-process", err, lager.Data{"pid": pid})
			return nil, err
		}

		if process != nil {
			return process, nil
		}
	}

	return nil, ironframe.ProcessNotFoundError{ProcessID: strconv.Itoa(pid)}
}

// Stop leaves the container Stopped even if some processes could not be
// stopped; those failures are returned.
func (c *Container) Stop(kill bool) error {
	sLog := c.logger.Session("stop", lager.Data{"kill": kill})

	var errs []error

	if c.constrainedRunner != nil {
		err := c.constrainedRunner.StopAll(kill)
		if err != nil {
			sLog.Error("failed-to-stop-constrained-processes", err)

			err = c.job.TerminateProcessesAndWait(terminateTimeout)
			if err != nil {
				sLog.Error("failed-to-terminate-job", err)
				errs = append(errs, err)
			}
		}
	}

	err := c.processRunner.StopAll(kill)
	if err != nil {
		sLog.Error("failed-to-stop-privileged-processes", err)
		errs = append(errs, err)
	}

	c.setState(ironframe.StateStopped)

	sLog.Info("stopped")

	return errors.Join(errs...)
}

func (c *Container) Destroy() error {
	c.destroyL.Lock()
	defer c.destroyL.Unlock()

	if c.State() == ironframe.StateDestroyed {
		return nil
	}

	dLog := c.logger.Session("destroy")

	var errs []error
	step := func(action string, err error) {
		if err != nil {
			dLog.Error("failed-to-"+action, err)
			errs = append(errs, err)
		}
	}

	step("stop", c.Stop(true))
	step("release-processes", c.release())

	for _, port := range c.ReservedPorts() {
		step("release-port", c.portManager.ReleaseLocalPort(port, c.user.UserName()))
	}

	step("destroy-directory", c.directory.Destroy())

	// a user left behind does not keep the container alive
	err := c.user.Delete()
	if err != nil {
		dLog.Error("failed-to-delete-user", err, lager.Data{"user": c.user.UserName()})
	}

	c.setState(ironframe.StateDestroyed)

	metrics.RecordContainerDestroyed(context.Background())

	dLog.Info("destroyed")

	return errors.Join(errs...)
}

// release shuts down the host and the runners and closes the job object,
// which kills anything left in it.
func (c *Container) release() error {
	var errs []error

	errs = append(errs, c.limits.Close())

	if c.constrainedRunner != nil {
		errs = append(errs, c.constrainedRunner.Close())
	}

	errs = append(errs, c.processRunner.Close())

	err := c.job.TerminateProcessesAndWait(terminateTimeout)
	if err != nil && !errors.Is(err, ironframe.ErrDisposed) {
		errs = append(errs, err)
	}

	errs = append(errs, c.job.Close())

	return errors.Join(errs...)
}

func (c *Container) Info() (ironframe.ContainerInfo, error) {
	state := c.State()
	if state == ironframe.StateDestroyed {
		return ironframe.ContainerInfo{}, ironframe.ErrContainerNotActive
	}

	properties, err := c.properties.GetProperties()
	if err != nil {
		return ironframe.ContainerInfo{}, err
	}

	containerMetrics, err := c.collectMetrics()
	if err != nil {
		return ironframe.ContainerInfo{}, err
	}

	return ironframe.ContainerInfo{
		State:         state,
		Events:        c.Events(),
		ContainerPath: c.directory.UserPath(),
		Properties:    properties,
		ReservedPorts: c.ReservedPorts(),
		Metrics:       containerMetrics,
	}, nil
}

func (c *Container) ReservePort(requestedPort int) (int, error) {
	if c.State() != ironframe.StateActive {
		return 0, ironframe.ErrContainerNotActive
	}

	port, err := c.portManager.ReserveLocalPort(requestedPort, c.user.UserName())
	if err != nil {
		c.logger.Error("failed-to-reserve-port", err, lager.Data{"requested": requestedPort})
		return 0, err
	}

	c.reservedPortsL.Lock()
	c.reservedPorts = append(c.reservedPorts, port)
	c.reservedPortsL.Unlock()

	return port, nil
}

func (c *Container) LimitMemory(limitInBytes uint64) error {
	if c.State() != ironframe.StateActive {
		return ironframe.ErrContainerNotActive
	}

	return c.limits.LimitMemory(limitInBytes)
}

func (c *Container) CurrentMemoryLimit() (uint64, error) {
	return c.job.GetJobMemoryLimit()
}

func (c *Container) LimitCPU(rate int) error {
	if c.State() != ironframe.StateActive {
		return ironframe.ErrContainerNotActive
	}

	return c.job.SetJobCpuLimit(rate)
}

func (c *Container) CurrentCPULimit() (int, error) {
	return c.job.GetJobCpuLimit()
}

func (c *Container) LimitActiveProcesses(count uint32) error {
	if c.State() != ironframe.StateActive {
		return ironframe.ErrContainerNotActive
	}

	return c.job.SetActiveProcessLimit(count)
}

func (c *Container) GetProperties() (ironframe.Properties, error) {
	return c.properties.GetProperties()
}

func (c *Container) GetProperty(name string) (*string, error) {
	return c.properties.GetProperty(name)
}

func (c *Container) SetProperty(name string, value string) error {
	return c.properties.SetProperty(name, value)
}

func (c *Container) RemoveProperty(name string) error {
	return c.properties.RemoveProperty(name)
}

func (c *Container) setState(state ironframe.ContainerState) {
	c.stateL.Lock()
	defer c.stateL.Unlock()

	if c.state == ironframe.StateDestroyed {
		return
	}

	c.state = state
}

func (c *Container) addEvent(event string) {
	c.eventsL.Lock()
	defer c.eventsL.Unlock()

	c.events = append(c.events, event)
}

func (c *Container) memoryLimitReached() {
	c.logger.Info("memory-limit-reached")

	c.addEvent(OutOfMemoryEvent)

	metrics.RecordMemoryLimitReached(context.Background())

	err := c.job.TerminateProcesses()
	if err != nil {
		c.logger.Error("failed-to-terminate-processes", err)
	}
}

func (c *Container) mapPaths(spec ironframe.ProcessSpec) (string, string, error) {
	if spec.DisablePathMapping {
		workingDirectory := spec.WorkingDirectory
		if workingDirectory == "" {
			workingDirectory = c.directory.UserPath()
		}

		return spec.ExecutablePath, workingDirectory, nil
	}

	executablePath, err := c.directory.MapUserPath(spec.ExecutablePath)
	if err != nil {
		return "", "", err
	}

	workingDirectory := spec.WorkingDirectory
	if workingDirectory == "" {
		workingDirectory = "/"
	}

	workingDirectory, err = c.directory.MapUserPath(workingDirectory)
	if err != nil {
		return "", "", err
	}

	return executablePath, workingDirectory, nil
}

// processes that exit between listing and reading are skipped
func (c *Container) collectMetrics() (ironframe.Metrics, error) {
	cpu, err := c.job.GetCpuStatistics()
	if err != nil {
		return ironframe.Metrics{}, err
	}

	pids, err := c.job.GetProcessIds()
	if err != nil {
		return ironframe.Metrics{}, err
	}

	var privateBytes uint64
	for _, pid := range pids {
		bytes, err := c.helper.PrivateBytes(pid)
		if err != nil {
			c.logger.Debug("failed-to-read-private-bytes", lager.Data{"pid": pid, "error": err.Error()})
			continue
		}

		privateBytes += bytes
	}

	return ironframe.Metrics{
		CPUStat:    ironframe.ContainerCPUStat{TotalProcessorTime: cpu.TotalProcessorTime()},
		MemoryStat: ironframe.ContainerMemoryStat{PrivateBytes: privateBytes},
	}, nil
}

func lineWriter(w io.Writer) func(string) {
	if w == nil {
		return nil
	}

	var mu sync.Mutex

	return func(line string) {
		mu.Lock()
		defer mu.Unlock()

		io.WriteString(w, line+"\n")
	}
}
