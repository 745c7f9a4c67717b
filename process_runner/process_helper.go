package process_runner

// ProcessHelper reads per-process accounting that the job object does not
// aggregate.
type ProcessHelper interface {
	PrivateBytes(pid int) (uint64, error)
}
