package fake_job_object

import (
	"sync"
	"time"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/jobobject"
)

type FakeJobObject struct {
	AssignError           error
	SetMemoryLimitError   error
	GetMemoryLimitError   error
	GetPeakMemoryError    error
	SetCpuLimitError      error
	TerminateError        error
	CloseError            error
	GetProcessIdsError    error
	GetCpuStatisticsError error

	CpuStatistics jobobject.CPUStatistics

	Assigned           []int
	MemoryLimit        uint64
	PeakMemoryUsed     uint64
	CpuRate            int
	ActiveProcessLimit uint32
	Terminations       int
	Closed             bool

	sync.RWMutex
}

func New() *FakeJobObject {
	return &FakeJobObject{}
}

func (j *FakeJobObject) AssignProcessToJob(pid int) error {
	j.Lock()
	defer j.Unlock()

	if j.AssignError != nil {
		return j.AssignError
	}

	if j.Closed {
		return ironframe.ErrDisposed
	}

	j.Assigned = append(j.Assigned, pid)

	return nil
}

func (j *FakeJobObject) GetCpuStatistics() (jobobject.CPUStatistics, error) {
	j.RLock()
	defer j.RUnlock()

	if j.GetCpuStatisticsError != nil {
		return jobobject.CPUStatistics{}, j.GetCpuStatisticsError
	}

	return j.CpuStatistics, nil
}

func (j *FakeJobObject) GetProcessIds() ([]int, error) {
	j.RLock()
	defer j.RUnlock()

	if j.GetProcessIdsError != nil {
		return nil, j.GetProcessIdsError
	}

	return append([]int{}, j.Assigned...), nil
}

func (j *FakeJobObject) SetJobMemoryLimit(limitInBytes uint64) error {
	j.Lock()
	defer j.Unlock()

	if j.SetMemoryLimitError != nil {
		return j.SetMemoryLimitError
	}

	j.MemoryLimit = limitInBytes

	return nil
}

func (j *FakeJobObject) GetJobMemoryLimit() (uint64, error) {
	j.RLock()
	defer j.RUnlock()

	if j.GetMemoryLimitError != nil {
		return 0, j.GetMemoryLimitError
	}

	return j.MemoryLimit, nil
}

func (j *FakeJobObject) GetPeakJobMemoryUsed() (uint64, error) {
	j.RLock()
	defer j.RUnlock()

	if j.GetPeakMemoryError != nil {
		return 0, j.GetPeakMemoryError
	}

	return j.PeakMemoryUsed, nil
}

func (j *FakeJobObject) SetPeakJobMemoryUsed(peak uint64) {
	j.Lock()
	defer j.Unlock()

	j.PeakMemoryUsed = peak
}

func (j *FakeJobObject) SetJobCpuLimit(rate int) error {
	if err := jobobject.ValidateCpuRate(rate); err != nil {
		return err
	}

	j.Lock()
	defer j.Unlock()

	if j.SetCpuLimitError != nil {
		return j.SetCpuLimitError
	}

	j.CpuRate = rate

	return nil
}

func (j *FakeJobObject) GetJobCpuLimit() (int, error) {
	j.RLock()
	defer j.RUnlock()

	return j.CpuRate, nil
}

func (j *FakeJobObject) SetActiveProcessLimit(count uint32) error {
	j.Lock()
	defer j.Unlock()

	j.ActiveProcessLimit = count

	return nil
}

func (j *FakeJobObject) TerminateProcesses() error {
	j.Lock()
	defer j.Unlock()

	if j.TerminateError != nil {
		return j.TerminateError
	}

	j.Terminations++

	return nil
}

func (j *FakeJobObject) TerminateProcessesAndWait(time.Duration) error {
	return j.TerminateProcesses()
}

func (j *FakeJobObject) TerminationCount() int {
	j.RLock()
	defer j.RUnlock()

	return j.Terminations
}

func (j *FakeJobObject) Close() error {
	j.Lock()
	defer j.Unlock()

	if j.CloseError != nil {
		return j.CloseError
	}

	j.Closed = true

	return nil
}

func (j *FakeJobObject) IsClosed() bool {
	j.RLock()
	defer j.RUnlock()

	return j.Closed
}
