package ironframe

type Backend interface {
	Ping() error

	CreateContainer(spec ContainerSpec) (Container, error)
	DestroyContainer(handle string) error

	// GetContainerByHandle returns nil if no container has the handle.
	// Handles are matched case-insensitively.
	GetContainerByHandle(handle string) Container

	GetContainers() []Container
	GetContainerHandles() []string

	Close() error
}
