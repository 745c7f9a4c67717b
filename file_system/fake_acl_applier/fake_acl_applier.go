package fake_acl_applier

import (
	"sync"

	"code.cloudfoundry.org/ironframe/file_system"
)

type FakeACLApplier struct {
	ApplyAccessError error

	Applied map[string][]file_system.UserAccess

	sync.RWMutex
}

func New() *FakeACLApplier {
	return &FakeACLApplier{
		Applied: make(map[string][]file_system.UserAccess),
	}
}

func (a *FakeACLApplier) ApplyAccess(path string, access []file_system.UserAccess) error {
	if a.ApplyAccessError != nil {
		return a.ApplyAccessError
	}

	a.Lock()
	defer a.Unlock()

	a.Applied[path] = access

	return nil
}

func (a *FakeACLApplier) AccessFor(path string) []file_system.UserAccess {
	a.RLock()
	defer a.RUnlock()

	return a.Applied[path]
}
