//go:build windows

package user_manager

import (
	"fmt"
	"runtime"
	"unsafe"

	"code.cloudfoundry.org/lager/v3"
	"golang.org/x/sys/windows"
)

const (
	nerrSuccess          = 0
	nerrGroupExists      = 2223
	nerrUserNotFound     = 2221
	nerrPasswordTooShort = 2245
	errorMemberInAlias   = 1378
	errorAliasExists     = 1379

	userPrivUser       = 1
	ufScript           = 0x0001
	ufDontExpirePasswd = 0x10000
)

var (
	netapi32 = windows.NewLazySystemDLL("netapi32.dll")
	user32   = windows.NewLazySystemDLL("user32.dll")

	procNetUserAdd              = netapi32.NewProc("NetUserAdd")
	procNetUserDel              = netapi32.NewProc("NetUserDel")
	procNetLocalGroupAdd        = netapi32.NewProc("NetLocalGroupAdd")
	procNetLocalGroupAddMembers = netapi32.NewProc("NetLocalGroupAddMembers")
	procGetProcessWindowStation = user32.NewProc("GetProcessWindowStation")
	procGetThreadDesktop        = user32.NewProc("GetThreadDesktop")
)

type userInfo1 struct {
	Name        *uint16
	Password    *uint16
	PasswordAge uint32
	Priv        uint32
	HomeDir     *uint16
	Comment     *uint16
	Flags       uint32
	ScriptPath  *uint16
}

type localGroupInfo1 struct {
	Name    *uint16
	Comment *uint16
}

type localGroupMembersInfo3 struct {
	DomainAndName *uint16
}

type LocalUserManager struct {
	logger lager.Logger
}

func New(logger lager.Logger) *LocalUserManager {
	return &LocalUserManager{
		logger: logger.Session("user-manager"),
	}
}

func (m *LocalUserManager) CreateUser(userName, password string) error {
	name, err := windows.UTF16PtrFromString(userName)
	if err != nil {
		return err
	}

	pass, err := windows.UTF16PtrFromString(password)
	if err != nil {
		return err
	}

	comment, err := windows.UTF16PtrFromString("IronFrame container user")
	if err != nil {
		return err
	}

	info := userInfo1{
		Name:     name,
		Password: pass,
		Priv:     userPrivUser,
		Comment:  comment,
		Flags:    ufScript | ufDontExpirePasswd,
	}

	status, _, _ := procNetUserAdd.Call(0, 1, uintptr(unsafe.Pointer(&info)), 0)
	switch status {
	case nerrSuccess:
		return nil
	case nerrPasswordTooShort:
		return fmt.Errorf("%w: %s", ErrPasswordRejected, NetApiError{"NetUserAdd", uint32(status)})
	default:
		return NetApiError{"NetUserAdd", uint32(status)}
	}
}

func (m *LocalUserManager) DeleteUser(userName string) error {
	name, err := windows.UTF16PtrFromString(userName)
	if err != nil {
		return err
	}

	status, _, _ := procNetUserDel.Call(0, uintptr(unsafe.Pointer(name)))
	switch status {
	case nerrSuccess:
		return nil
	case nerrUserNotFound:
		m.logger.Info("user-already-deleted", lager.Data{"user": userName})
		return nil
	default:
		return NetApiError{"NetUserDel", uint32(status)}
	}
}

func (m *LocalUserManager) CreateGroup(groupName string) error {
	name, err := windows.UTF16PtrFromString(groupName)
	if err != nil {
		return err
	}

	info := localGroupInfo1{Name: name}

	status, _, _ := procNetLocalGroupAdd.Call(0, 1, uintptr(unsafe.Pointer(&info)), 0)
	switch status {
	case nerrSuccess, nerrGroupExists, errorAliasExists:
		return nil
	default:
		return NetApiError{"NetLocalGroupAdd", uint32(status)}
	}
}

func (m *LocalUserManager) AddUserToGroup(userName, groupName string) error {
	group, err := windows.UTF16PtrFromString(groupName)
	if err != nil {
		return err
	}

	member, err := windows.UTF16PtrFromString(userName)
	if err != nil {
		return err
	}

	info := localGroupMembersInfo3{DomainAndName: member}

	status, _, _ := procNetLocalGroupAddMembers.Call(0, uintptr(unsafe.Pointer(group)), 3, uintptr(unsafe.Pointer(&info)), 1)
	switch status {
	case nerrSuccess, errorMemberInAlias:
		return nil
	default:
		return NetApiError{"NetLocalGroupAddMembers", uint32(status)}
	}
}

type WindowStationPermissionManager struct{}

func NewDesktopPermissionManager() *WindowStationPermissionManager {
	return &WindowStationPermissionManager{}
}

func (WindowStationPermissionManager) AddDesktopPermission(principal string) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	station, _, err := procGetProcessWindowStation.Call()
	if station == 0 {
		return err
	}

	desktop, _, err := procGetThreadDesktop.Call(uintptr(windows.GetCurrentThreadId()))
	if desktop == 0 {
		return err
	}

	for _, handle := range []windows.Handle{windows.Handle(station), windows.Handle(desktop)} {
		err := grantAccess(handle, principal)
		if err != nil {
			return err
		}
	}

	return nil
}

func grantAccess(handle windows.Handle, principal string) error {
	sd, err := windows.GetSecurityInfo(handle, windows.SE_WINDOW_OBJECT, windows.DACL_SECURITY_INFORMATION)
	if err != nil {
		return err
	}

	current, _, err := sd.DACL()
	if err != nil {
		return err
	}

	acl, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{
		{
			AccessPermissions: windows.GENERIC_ALL,
			AccessMode:        windows.GRANT_ACCESS,
			Inheritance:       windows.NO_INHERITANCE,
			Trustee: windows.TRUSTEE{
				MultipleTrusteeOperation: windows.NO_MULTIPLE_TRUSTEE,
				TrusteeForm:              windows.TRUSTEE_IS_NAME,
				TrusteeType:              windows.TRUSTEE_IS_UNKNOWN,
				TrusteeValue:             windows.TrusteeValueFromString(principal),
			},
		},
	}, current)
	if err != nil {
		return err
	}

	return windows.SetSecurityInfo(handle, windows.SE_WINDOW_OBJECT, windows.DACL_SECURITY_INFORMATION, nil, nil, acl, nil)
}
