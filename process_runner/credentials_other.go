//go:build !windows

package process_runner

import (
	"errors"
	"os/exec"

	"code.cloudfoundry.org/ironframe"
)

var (
	errCredentialsUnsupported = errors.New("running processes as another user is only supported on windows")
	errSystemEnvUnsupported   = errors.New("the system default environment is only available on windows")
)

func DefaultEnvironment(credentials *ironframe.Credentials) (map[string]string, error) {
	if credentials == nil {
		return processEnvironment(), nil
	}

	return nil, errCredentialsUnsupported
}

func SystemDefaultEnvironment() (map[string]string, error) {
	return nil, errSystemEnvUnsupported
}

func applyCredentials(*exec.Cmd, *ironframe.Credentials) (func(), error) {
	return nil, errCredentialsUnsupported
}
