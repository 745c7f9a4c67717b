//go:build windows

package process_runner

import (
	"os/exec"
	"syscall"
	"unsafe"

	"code.cloudfoundry.org/ironframe"
	"golang.org/x/sys/windows"
)

const (
	logon32LogonInteractive = 2
	logon32ProviderDefault  = 0
)

var (
	modadvapi32    = windows.NewLazySystemDLL("advapi32.dll")
	procLogonUserW = modadvapi32.NewProc("LogonUserW")
)

// DefaultEnvironment is the environment a process gets when its spec does
// not name one: the profile environment of the given user, or the
// environment of this process when no credentials are given.
func DefaultEnvironment(credentials *ironframe.Credentials) (map[string]string, error) {
	if credentials == nil {
		return processEnvironment(), nil
	}

	token, err := logonUser(credentials)
	if err != nil {
		return nil, err
	}
	defer token.Close()

	env, err := token.Environ(false)
	if err != nil {
		return nil, err
	}

	return RemoveForbidden(ParseEnvironment(env)), nil
}

// SystemDefaultEnvironment is the environment of a fresh logon without a
// user profile. Nothing of this process's own environment leaks into it.
func SystemDefaultEnvironment() (map[string]string, error) {
	env, err := windows.Token(0).Environ(false)
	if err != nil {
		return nil, err
	}

	return RemoveForbidden(ParseEnvironment(env)), nil
}

func applyCredentials(cmd *exec.Cmd, credentials *ironframe.Credentials) (func(), error) {
	token, err := logonUser(credentials)
	if err != nil {
		return nil, err
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Token:      syscall.Token(token),
		HideWindow: true,
	}

	return func() { token.Close() }, nil
}

func logonUser(credentials *ironframe.Credentials) (windows.Token, error) {
	domain := credentials.Domain
	if domain == "" {
		domain = "."
	}

	userPtr, err := windows.UTF16PtrFromString(credentials.UserName)
	if err != nil {
		return 0, err
	}

	domainPtr, err := windows.UTF16PtrFromString(domain)
	if err != nil {
		return 0, err
	}

	passwordPtr, err := windows.UTF16PtrFromString(credentials.Password)
	if err != nil {
		return 0, err
	}

	var token windows.Token
	r1, _, e1 := procLogonUserW.Call(
		uintptr(unsafe.Pointer(userPtr)),
		uintptr(unsafe.Pointer(domainPtr)),
		uintptr(unsafe.Pointer(passwordPtr)),
		logon32LogonInteractive,
		logon32ProviderDefault,
		uintptr(unsafe.Pointer(&token)),
	)
	if r1 == 0 {
		return 0, e1
	}

	return token, nil
}
