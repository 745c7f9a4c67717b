package fake_backend

import (
	"strings"
	"sync"

	"code.cloudfoundry.org/ironframe"
)

type FakeBackend struct {
	PingError    error
	CreateError  error
	DestroyError error
	CloseError   error

	// CreateResult is returned by CreateContainer instead of a new
	// FakeContainer.
	CreateResult *FakeContainer

	// WhenDestroying, if set, is called before a container is removed.
	WhenDestroying func(handle string)

	CreatedSpecs []ironframe.ContainerSpec
	Destroyed    []string
	Closed       bool

	containers []*FakeContainer

	sync.RWMutex
}

func New() *FakeBackend {
	return &FakeBackend{}
}

func (b *FakeBackend) Ping() error {
	return b.PingError
}

func (b *FakeBackend) CreateContainer(spec ironframe.ContainerSpec) (ironframe.Container, error) {
	if b.CreateError != nil {
		return nil, b.CreateError
	}

	b.Lock()
	defer b.Unlock()

	b.CreatedSpecs = append(b.CreatedSpecs, spec)

	container := b.CreateResult
	if container == nil {
		container = NewFakeContainer(spec)
	}

	b.containers = append(b.containers, container)

	return container, nil
}

func (b *FakeBackend) DestroyContainer(handle string) error {
	if b.WhenDestroying != nil {
		b.WhenDestroying(handle)
	}

	if b.DestroyError != nil {
		return b.DestroyError
	}

	b.Lock()
	defer b.Unlock()

	for i, container := range b.containers {
		if strings.EqualFold(container.Handle(), handle) {
			b.containers = append(b.containers[:i], b.containers[i+1:]...)
			b.Destroyed = append(b.Destroyed, handle)
			return nil
		}
	}

	return ironframe.ContainerNotFoundError{Handle: handle}
}

func (b *FakeBackend) GetContainerByHandle(handle string) ironframe.Container {
	container := b.Lookup(handle)
	if container == nil {
		return nil
	}

	return container
}

// Lookup is GetContainerByHandle returning the fake itself.
func (b *FakeBackend) Lookup(handle string) *FakeContainer {
	b.RLock()
	defer b.RUnlock()

	for _, container := range b.containers {
		if strings.EqualFold(container.Handle(), handle) {
			return container
		}
	}

	return nil
}

func (b *FakeBackend) GetContainers() []ironframe.Container {
	b.RLock()
	defer b.RUnlock()

	containers := make([]ironframe.Container, len(b.containers))
	for i, container := range b.containers {
		containers[i] = container
	}

	return containers
}

func (b *FakeBackend) GetContainerHandles() []string {
	b.RLock()
	defer b.RUnlock()

	handles := make([]string, len(b.containers))
	for i, container := range b.containers {
		handles[i] = container.Handle()
	}

	return handles
}

func (b *FakeBackend) Close() error {
	b.Lock()
	defer b.Unlock()

	b.Closed = true

	return b.CloseError
}

func (b *FakeBackend) DestroyedHandles() []string {
	b.RLock()
	defer b.RUnlock()

	return append([]string{}, b.Destroyed...)
}

func (b *FakeBackend) IsClosed() bool {
	b.RLock()
	defer b.RUnlock()

	return b.Closed
}
