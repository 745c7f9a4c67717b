package fake_user_manager

import (
	"sync"
)

type FakeUserManager struct {
	CreateUserError     error
	DeleteUserError     error
	CreateGroupError    error
	AddUserToGroupError error

	// CreateUserErrors are returned by successive calls to CreateUser
	// before CreateUserError is consulted.
	CreateUserErrors []error

	Users   map[string]string
	Groups  map[string][]string
	Deleted []string

	createAttempts int

	sync.RWMutex
}

func New() *FakeUserManager {
	return &FakeUserManager{
		Users:  make(map[string]string),
		Groups: make(map[string][]string),
	}
}

func (m *FakeUserManager) CreateUser(userName, password string) error {
	m.Lock()
	defer m.Unlock()

	m.createAttempts++

	if len(m.CreateUserErrors) > 0 {
		err := m.CreateUserErrors[0]
		m.CreateUserErrors = m.CreateUserErrors[1:]
		if err != nil {
			return err
		}
	}

	if m.CreateUserError != nil {
		return m.CreateUserError
	}

	m.Users[userName] = password

	return nil
}

func (m *FakeUserManager) DeleteUser(userName string) error {
	if m.DeleteUserError != nil {
		return m.DeleteUserError
	}

	m.Lock()
	defer m.Unlock()

	delete(m.Users, userName)
	m.Deleted = append(m.Deleted, userName)

	return nil
}

func (m *FakeUserManager) CreateGroup(groupName string) error {
	if m.CreateGroupError != nil {
		return m.CreateGroupError
	}

	m.Lock()
	defer m.Unlock()

	if _, found := m.Groups[groupName]; !found {
		m.Groups[groupName] = []string{}
	}

	return nil
}

func (m *FakeUserManager) AddUserToGroup(userName, groupName string) error {
	if m.AddUserToGroupError != nil {
		return m.AddUserToGroupError
	}

	m.Lock()
	defer m.Unlock()

	m.Groups[groupName] = append(m.Groups[groupName], userName)

	return nil
}

func (m *FakeUserManager) HasUser(userName string) bool {
	m.RLock()
	defer m.RUnlock()

	_, found := m.Users[userName]
	return found
}

func (m *FakeUserManager) DeletedUsers() []string {
	m.RLock()
	defer m.RUnlock()

	return append([]string{}, m.Deleted...)
}

func (m *FakeUserManager) CreateAttempts() int {
	m.RLock()
	defer m.RUnlock()

	return m.createAttempts
}

type FakeDesktopPermissionManager struct {
	AddDesktopPermissionError error

	Granted []string

	sync.RWMutex
}

func NewDesktopPermissionManager() *FakeDesktopPermissionManager {
	return &FakeDesktopPermissionManager{}
}

func (m *FakeDesktopPermissionManager) AddDesktopPermission(principal string) error {
	if m.AddDesktopPermissionError != nil {
		return m.AddDesktopPermissionError
	}

	m.Lock()
	defer m.Unlock()

	m.Granted = append(m.Granted, principal)

	return nil
}
