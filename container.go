package ironframe

import (
	"io"
	"time"
)

type ContainerState string

const (
	StateBorn      ContainerState = "born"
	StateActive    ContainerState = "active"
	StateStopped   ContainerState = "stopped"
	StateDestroyed ContainerState = "destroyed"
)

type Container interface {
	// ID is derived from the handle and names the container's user, job
	// object and directory.
	ID() string

	Handle() string

	State() ContainerState

	// Run starts a process in the container.
	//
	// Privileged processes are started directly by the service and assigned
	// to the container's job object. All other processes are started by the
	// container host as the container user.
	//
	// Errors:
	// * ErrContainerNotActive if the container was stopped or destroyed.
	// * ErrInvalidArgument if a path maps outside the container's user directory.
	Run(spec ProcessSpec, io ProcessIO) (Process, error)

	// FindProcessById returns a process the container host started, by its
	// OS process id.
	//
	// Errors:
	// * ProcessNotFoundError if the host does not track the id. Restored
	//   containers have no host, so they never find a process.
	FindProcessById(pid int) (Process, error)

	// Stop stops every process in the container.
	//
	// If kill is false, processes are given 10 seconds to exit before they
	// are killed.
	Stop(kill bool) error

	// Destroy releases every resource held by the container. A failure to
	// release one resource does not prevent the others from being released;
	// all failures are returned together. A user that cannot be deleted is
	// only logged.
	Destroy() error

	// Returns information about a container.
	Info() (ContainerInfo, error)

	// ReservePort reserves a TCP port for the container user. A requested
	// port of 0 reserves any free port. Returns the reserved port.
	ReservePort(requestedPort int) (int, error)

	LimitMemory(limitInBytes uint64) error
	CurrentMemoryLimit() (uint64, error)

	// LimitCPU caps CPU usage, in hundredths of a percent of the machine.
	//
	// Errors:
	// * ErrInvalidArgument if the rate is outside [1, 10000].
	LimitCPU(rate int) error
	CurrentCPULimit() (int, error)

	LimitActiveProcesses(count uint32) error

	GetProperties() (Properties, error)

	// GetProperty returns nil if the property is not set.
	GetProperty(name string) (*string, error)
	SetProperty(name string, value string) error
	RemoveProperty(name string) error
}

type Properties map[string]string

type ContainerSpec struct {
	// Handle, if specified, is used as the container's handle. Otherwise a
	// random one is generated.
	Handle string `json:"handle,omitempty"`

	Properties Properties `json:"properties,omitempty"`

	// Environment is the default environment of every process run in the
	// container.
	Environment map[string]string `json:"env,omitempty"`
}

type ProcessSpec struct {
	ExecutablePath   string            `json:"path"`
	Arguments        []string          `json:"args,omitempty"`
	Environment      map[string]string `json:"env,omitempty"`
	WorkingDirectory string            `json:"dir,omitempty"`

	Privileged bool `json:"privileged,omitempty"`

	// DisablePathMapping passes ExecutablePath and WorkingDirectory through
	// untouched instead of resolving them inside the container.
	DisablePathMapping bool `json:"disable_path_mapping,omitempty"`
}

type ProcessIO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

type Process interface {
	ID() int

	// Kill terminates the process. Killing a process that has already
	// exited is not an error.
	Kill() error

	WaitForExit() (int, error)

	// WaitForExitTimeout reports whether the process exited within timeout.
	WaitForExitTimeout(timeout time.Duration) (bool, error)

	ExitCode() int

	Environment() map[string]string

	StandardInput() io.WriteCloser

	// StandardOutput and StandardError are only available for processes
	// run with buffered input and output.
	StandardOutput() io.Reader
	StandardError() io.Reader
}

type Credentials struct {
	UserName string
	Password string
	Domain   string
}

type ContainerInfo struct {
	State         ContainerState `json:"state"`
	Events        []string       `json:"events"`
	ContainerPath string         `json:"container_path"`
	Properties    Properties     `json:"properties"`
	ReservedPorts []int          `json:"reserved_ports"`
	Metrics       Metrics        `json:"metrics"`
}

type Metrics struct {
	CPUStat    ContainerCPUStat    `json:"cpu_stat"`
	MemoryStat ContainerMemoryStat `json:"memory_stat"`
}

type ContainerCPUStat struct {
	TotalProcessorTime time.Duration `json:"total_processor_time"`
}

type ContainerMemoryStat struct {
	PrivateBytes uint64 `json:"private_bytes"`
}
