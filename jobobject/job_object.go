package jobobject

import (
	"fmt"
	"time"

	"code.cloudfoundry.org/ironframe"
)

const (
	MinCpuRate = 1
	MaxCpuRate = 10000
)

// JobObject groups the processes of a container for accounting, limiting
// and bulk termination. Processes spawned by a member join the job too.
type JobObject interface {
	AssignProcessToJob(pid int) error

	GetCpuStatistics() (CPUStatistics, error)
	GetProcessIds() ([]int, error)

	SetJobMemoryLimit(limitInBytes uint64) error
	GetJobMemoryLimit() (uint64, error)
	GetPeakJobMemoryUsed() (uint64, error)

	// SetJobCpuLimit sets a hard cap in hundredths of a percent.
	SetJobCpuLimit(rate int) error
	GetJobCpuLimit() (int, error)

	SetActiveProcessLimit(count uint32) error

	TerminateProcesses() error
	TerminateProcessesAndWait(timeout time.Duration) error

	// Close releases the handle. The job is created with kill-on-close, so
	// closing the last handle kills every member.
	Close() error
}

type CPUStatistics struct {
	TotalKernelTime time.Duration
	TotalUserTime   time.Duration
}

func (s CPUStatistics) TotalProcessorTime() time.Duration {
	return s.TotalKernelTime + s.TotalUserTime
}

// Error carries the name of the failing job object operation and the
// underlying OS error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("job object %s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func ValidateCpuRate(rate int) error {
	if rate < MinCpuRate || rate > MaxCpuRate {
		return ironframe.InvalidArgument("cpu rate %d is outside [%d, %d]", rate, MinCpuRate, MaxCpuRate)
	}

	return nil
}
