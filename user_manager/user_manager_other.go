//go:build !windows

package user_manager

import (
	"errors"

	"code.cloudfoundry.org/lager/v3"
)

var errUnsupported = errors.New("local user management is only supported on windows")

type LocalUserManager struct{}

func New(lager.Logger) *LocalUserManager {
	return &LocalUserManager{}
}

func (*LocalUserManager) CreateUser(string, string) error     { return errUnsupported }
func (*LocalUserManager) DeleteUser(string) error             { return errUnsupported }
func (*LocalUserManager) CreateGroup(string) error            { return errUnsupported }
func (*LocalUserManager) AddUserToGroup(string, string) error { return errUnsupported }

type WindowStationPermissionManager struct{}

func NewDesktopPermissionManager() *WindowStationPermissionManager {
	return &WindowStationPermissionManager{}
}

func (WindowStationPermissionManager) AddDesktopPermission(string) error {
	return errUnsupported
}
