//go:build windows

package jobobject

import (
	"errors"
	"sync"
	"time"
	"unsafe"

	"code.cloudfoundry.org/ironframe"
	"golang.org/x/sys/windows"
)

const (
	processIdIncrement = 5

	cpuRateControlEnable  = 0x1
	cpuRateControlHardCap = 0x4
)

type basicAccountingInformation struct {
	TotalUserTime             int64
	TotalKernelTime           int64
	ThisPeriodTotalUserTime   int64
	ThisPeriodTotalKernelTime int64
	TotalPageFaultCount       uint32
	TotalProcesses            uint32
	ActiveProcesses           uint32
	TotalTerminatedProcesses  uint32
}

type basicProcessIdList struct {
	NumberOfAssignedProcesses uint32
	NumberOfProcessIdsInList  uint32
	ProcessIdList             [1]uintptr
}

type cpuRateControlInformation struct {
	ControlFlags uint32
	CpuRate      uint32
}

type KernelJobObject struct {
	name string

	handle windows.Handle
	closed bool
	mu     sync.RWMutex
}

// New creates the named job object, or opens it if it already exists. An
// empty name creates an anonymous job object.
func New(name string) (*KernelJobObject, error) {
	var namePtr *uint16
	if name != "" {
		var err error
		namePtr, err = windows.UTF16PtrFromString(name)
		if err != nil {
			return nil, err
		}
	}

	handle, err := windows.CreateJobObject(nil, namePtr)
	if err != nil {
		return nil, &Error{"create", err}
	}

	job := &KernelJobObject{
		name:   name,
		handle: handle,
	}

	info, err := job.extendedLimits()
	if err == nil {
		info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE
		err = job.setExtendedLimits(&info)
	}

	if err != nil {
		windows.CloseHandle(handle)
		return nil, err
	}

	return job, nil
}

func (j *KernelJobObject) Name() string {
	return j.name
}

func (j *KernelJobObject) AssignProcessToJob(pid int) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return ironframe.ErrDisposed
	}

	process, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return &Error{"open-process", err}
	}
	defer windows.CloseHandle(process)

	err = windows.AssignProcessToJobObject(j.handle, process)
	if err != nil {
		return &Error{"assign-process", err}
	}

	return nil
}

func (j *KernelJobObject) GetCpuStatistics() (CPUStatistics, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return CPUStatistics{}, ironframe.ErrDisposed
	}

	var info basicAccountingInformation
	err := windows.QueryInformationJobObject(
		j.handle,
		windows.JobObjectBasicAccountingInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
		nil,
	)
	if err != nil && !errors.Is(err, windows.ERROR_MORE_DATA) {
		return CPUStatistics{}, &Error{"query-accounting", err}
	}

	// accounting times are in 100ns ticks
	return CPUStatistics{
		TotalKernelTime: time.Duration(info.TotalKernelTime * 100),
		TotalUserTime:   time.Duration(info.TotalUserTime * 100),
	}, nil
}

func (j *KernelJobObject) GetProcessIds() ([]int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ironframe.ErrDisposed
	}

	const wordSize = unsafe.Sizeof(uintptr(0))
	headerWords := int(unsafe.Offsetof(basicProcessIdList{}.ProcessIdList) / wordSize)

	capacity := processIdIncrement
	for {
		buffer := make([]uintptr, headerWords+capacity)

		err := windows.QueryInformationJobObject(
			j.handle,
			windows.JobObjectBasicProcessIdList,
			uintptr(unsafe.Pointer(&buffer[0])),
			uint32(uintptr(len(buffer))*wordSize),
			nil,
		)
		if errors.Is(err, windows.ERROR_MORE_DATA) {
			capacity += processIdIncrement
			continue
		}

		if err != nil {
			return nil, &Error{"query-process-ids", err}
		}

		list := (*basicProcessIdList)(unsafe.Pointer(&buffer[0]))

		count := int(list.NumberOfProcessIdsInList)
		if int(list.NumberOfAssignedProcesses) > count {
			capacity += processIdIncrement
			continue
		}

		ids := make([]int, count)
		for i := 0; i < count; i++ {
			ids[i] = int(buffer[headerWords+i])
		}

		return ids, nil
	}
}

func (j *KernelJobObject) SetJobMemoryLimit(limitInBytes uint64) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return ironframe.ErrDisposed
	}

	info, err := j.extendedLimits()
	if err != nil {
		return err
	}

	info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_JOB_MEMORY
	info.JobMemoryLimit = uintptr(limitInBytes)

	return j.setExtendedLimits(&info)
}

func (j *KernelJobObject) GetJobMemoryLimit() (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return 0, ironframe.ErrDisposed
	}

	info, err := j.extendedLimits()
	if err != nil {
		return 0, err
	}

	if info.BasicLimitInformation.LimitFlags&windows.JOB_OBJECT_LIMIT_JOB_MEMORY == 0 {
		return 0, nil
	}

	return uint64(info.JobMemoryLimit), nil
}

func (j *KernelJobObject) GetPeakJobMemoryUsed() (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return 0, ironframe.ErrDisposed
	}

	info, err := j.extendedLimits()
	if err != nil {
		return 0, err
	}

	if info.BasicLimitInformation.LimitFlags&windows.JOB_OBJECT_LIMIT_JOB_MEMORY == 0 {
		return 0, nil
	}

	return uint64(info.PeakJobMemoryUsed), nil
}

func (j *KernelJobObject) SetJobCpuLimit(rate int) error {
	if err := ValidateCpuRate(rate); err != nil {
		return err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return ironframe.ErrDisposed
	}

	info := cpuRateControlInformation{
		ControlFlags: cpuRateControlEnable | cpuRateControlHardCap,
		CpuRate:      uint32(rate),
	}

	_, err := windows.SetInformationJobObject(
		j.handle,
		windows.JobObjectCpuRateControlInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	)
	if err != nil {
		return &Error{"set-cpu-rate", err}
	}

	return nil
}

func (j *KernelJobObject) GetJobCpuLimit() (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return 0, ironframe.ErrDisposed
	}

	var info cpuRateControlInformation
	err := windows.QueryInformationJobObject(
		j.handle,
		windows.JobObjectCpuRateControlInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
		nil,
	)
	if err != nil {
		return 0, &Error{"query-cpu-rate", err}
	}

	return int(info.CpuRate), nil
}

func (j *KernelJobObject) SetActiveProcessLimit(count uint32) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return ironframe.ErrDisposed
	}

	info, err := j.extendedLimits()
	if err != nil {
		return err
	}

	info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_ACTIVE_PROCESS
	info.BasicLimitInformation.ActiveProcessLimit = count

	return j.setExtendedLimits(&info)
}

func (j *KernelJobObject) TerminateProcesses() error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return ironframe.ErrDisposed
	}

	return j.terminate()
}

// TerminateProcessesAndWait returns once the job is signalled or the timeout
// elapses, whichever comes first.
func (j *KernelJobObject) TerminateProcessesAndWait(timeout time.Duration) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return ironframe.ErrDisposed
	}

	err := j.terminate()
	if err != nil {
		return err
	}

	milliseconds := uint32(windows.INFINITE)
	if timeout >= 0 {
		milliseconds = uint32(timeout / time.Millisecond)
	}

	_, err = windows.WaitForSingleObject(j.handle, milliseconds)
	if err != nil {
		return &Error{"wait", err}
	}

	return nil
}

func (j *KernelJobObject) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	j.closed = true

	err := windows.CloseHandle(j.handle)
	if err != nil {
		return &Error{"close", err}
	}

	return nil
}

func (j *KernelJobObject) terminate() error {
	err := windows.TerminateJobObject(j.handle, 0)
	if err != nil {
		return &Error{"terminate", err}
	}

	return nil
}

func (j *KernelJobObject) extendedLimits() (windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION, error) {
	var info windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION

	err := windows.QueryInformationJobObject(
		j.handle,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
		nil,
	)
	if err != nil {
		return info, &Error{"query-limits", err}
	}

	return info, nil
}

func (j *KernelJobObject) setExtendedLimits(info *windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION) error {
	_, err := windows.SetInformationJobObject(
		j.handle,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(info)),
		uint32(unsafe.Sizeof(*info)),
	)
	if err != nil {
		return &Error{"set-limits", err}
	}

	return nil
}
