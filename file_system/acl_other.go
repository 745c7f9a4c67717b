//go:build !windows

package file_system

import (
	"os/user"
)

type noopACLApplier struct{}

// NewACLApplier returns an applier that leaves permissions untouched.
// Directory ACLs only exist on Windows.
func NewACLApplier() ACLApplier {
	return noopACLApplier{}
}

func (noopACLApplier) ApplyAccess(string, []UserAccess) error {
	return nil
}

func DefaultOwners() ([]string, error) {
	current, err := user.Current()
	if err != nil {
		return nil, err
	}

	return []string{"Administrators", current.Username}, nil
}
