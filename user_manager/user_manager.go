package user_manager

import (
	"errors"
	"fmt"
)

// ErrPasswordRejected is wrapped when the account policy refuses a
// generated password. Creation is retried with a new password.
var ErrPasswordRejected = errors.New("password rejected by account policy")

type UserManager interface {
	CreateUser(userName, password string) error
	DeleteUser(userName string) error

	// CreateGroup creates a local group. An existing group is not an error.
	CreateGroup(groupName string) error

	// AddUserToGroup is a no-op if the user is already a member.
	AddUserToGroup(userName, groupName string) error
}

type DesktopPermissionManager interface {
	// AddDesktopPermission grants principal access to the interactive
	// window station and desktop of this process, so processes it starts
	// can create windows.
	AddDesktopPermission(principal string) error
}

type NetApiError struct {
	Op   string
	Code uint32
}

func (e NetApiError) Error() string {
	return fmt.Sprintf("%s: net api status %d", e.Op, e.Code)
}
