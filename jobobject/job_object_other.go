//go:build !windows

package jobobject

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("job objects are only supported on windows")

type KernelJobObject struct{}

func New(name string) (*KernelJobObject, error) {
	return nil, errUnsupported
}

func (j *KernelJobObject) Name() string { return "" }

func (j *KernelJobObject) AssignProcessToJob(int) error { return errUnsupported }

func (j *KernelJobObject) GetCpuStatistics() (CPUStatistics, error) {
	return CPUStatistics{}, errUnsupported
}

func (j *KernelJobObject) GetProcessIds() ([]int, error) { return nil, errUnsupported }

func (j *KernelJobObject) SetJobMemoryLimit(uint64) error { return errUnsupported }

func (j *KernelJobObject) GetJobMemoryLimit() (uint64, error) { return 0, errUnsupported }

func (j *KernelJobObject) GetPeakJobMemoryUsed() (uint64, error) { return 0, errUnsupported }

func (j *KernelJobObject) SetJobCpuLimit(rate int) error {
	if err := ValidateCpuRate(rate); err != nil {
		return err
	}

	return errUnsupported
}

func (j *KernelJobObject) GetJobCpuLimit() (int, error) { return 0, errUnsupported }

func (j *KernelJobObject) SetActiveProcessLimit(uint32) error { return errUnsupported }

func (j *KernelJobObject) TerminateProcesses() error { return errUnsupported }

func (j *KernelJobObject) TerminateProcessesAndWait(time.Duration) error { return errUnsupported }

func (j *KernelJobObject) Close() error { return nil }
