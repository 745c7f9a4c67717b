package fake_port_manager

import (
	"sync"
)

type FakePortManager struct {
	ReserveError error
	ReleaseError error

	// NextPort is handed out, then incremented, when port 0 is requested.
	NextPort int

	Reserved map[int]string
	Released []int

	sync.RWMutex
}

func New() *FakePortManager {
	return &FakePortManager{
		NextPort: 40000,
		Reserved: make(map[int]string),
	}
}

func (m *FakePortManager) ReserveLocalPort(port int, userName string) (int, error) {
	if m.ReserveError != nil {
		return 0, m.ReserveError
	}

	m.Lock()
	defer m.Unlock()

	if port == 0 {
		port = m.NextPort
		m.NextPort++
	}

	m.Reserved[port] = userName

	return port, nil
}

func (m *FakePortManager) ReleaseLocalPort(port int, userName string) error {
	if m.ReleaseError != nil {
		return m.ReleaseError
	}

	m.Lock()
	defer m.Unlock()

	delete(m.Reserved, port)
	m.Released = append(m.Released, port)

	return nil
}

func (m *FakePortManager) ReservedPorts() map[int]string {
	m.RLock()
	defer m.RUnlock()

	reserved := make(map[int]string, len(m.Reserved))
	for port, user := range m.Reserved {
		reserved[port] = user
	}

	return reserved
}

func (m *FakePortManager) ReleasedPorts() []int {
	m.RLock()
	defer m.RUnlock()

	return append([]int{}, m.Released...)
}
