//go:build !windows

package process_runner

import "errors"

type RealProcessHelper struct{}

func NewProcessHelper() *RealProcessHelper {
	return &RealProcessHelper{}
}

func (h *RealProcessHelper) PrivateBytes(pid int) (uint64, error) {
	return 0, errors.New("process memory accounting is only supported on windows")
}
