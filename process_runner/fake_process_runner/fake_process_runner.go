package fake_process_runner

import (
	"io"
	"sync"
	"time"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/process_runner"
)

type FakeProcessRunner struct {
	RunError     error
	StopAllError error
	CloseError   error

	// WhenRunning, if set, is called for every spec and its process is
	// returned instead of a new FakeProcess.
	WhenRunning func(spec process_runner.ProcessRunSpec) (ironframe.Process, error)

	ranSpecs     []process_runner.ProcessRunSpec
	stopAllCalls []bool
	closed       bool
	nextPid      int

	sync.RWMutex
}

func New() *FakeProcessRunner {
	return &FakeProcessRunner{nextPid: 1000}
}

func (r *FakeProcessRunner) Run(spec process_runner.ProcessRunSpec) (ironframe.Process, error) {
	r.Lock()
	r.ranSpecs = append(r.ranSpecs, spec)
	r.nextPid++
	pid := r.nextPid
	whenRunning := r.WhenRunning
	runError := r.RunError
	r.Unlock()

	if runError != nil {
		return nil, runError
	}

	if whenRunning != nil {
		return whenRunning(spec)
	}

	return NewFakeProcess(pid, spec.Environment), nil
}

func (r *FakeProcessRunner) StopAll(kill bool) error {
	r.Lock()
	defer r.Unlock()

	r.stopAllCalls = append(r.stopAllCalls, kill)

	return r.StopAllError
}

func (r *FakeProcessRunner) Close() error {
	r.Lock()
	defer r.Unlock()

	r.closed = true

	return r.CloseError
}

func (r *FakeProcessRunner) RanSpecs() []process_runner.ProcessRunSpec {
	r.RLock()
	defer r.RUnlock()

	return append([]process_runner.ProcessRunSpec{}, r.ranSpecs...)
}

func (r *FakeProcessRunner) StopAllCalls() []bool {
	r.RLock()
	defer r.RUnlock()

	return append([]bool{}, r.stopAllCalls...)
}

func (r *FakeProcessRunner) IsClosed() bool {
	r.RLock()
	defer r.RUnlock()

	return r.closed
}

type FakeProcess struct {
	Pid int

	KillError error

	// Stdin, Stdout and Stderr are returned as the process's streams.
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader

	environment map[string]string
	exited      chan struct{}
	exitCode    int
	killed      bool

	sync.Mutex
}

func NewFakeProcess(pid int, environment map[string]string) *FakeProcess {
	return &FakeProcess{
		Pid:         pid,
		environment: environment,
		exited:      make(chan struct{}),
		exitCode:    -1,
	}
}

// Exit makes the process exit with the given code.
func (p *FakeProcess) Exit(code int) {
	p.Lock()
	defer p.Unlock()

	select {
	case <-p.exited:
		return
	default:
	}

	p.exitCode = code
	close(p.exited)
}

func (p *FakeProcess) ID() int {
	return p.Pid
}

func (p *FakeProcess) Kill() error {
	if p.KillError != nil {
		return p.KillError
	}

	p.Lock()
	p.killed = true
	p.Unlock()

	p.Exit(1)

	return nil
}

func (p *FakeProcess) Killed() bool {
	p.Lock()
	defer p.Unlock()

	return p.killed
}

func (p *FakeProcess) WaitForExit() (int, error) {
	<-p.exited
	return p.ExitCode(), nil
}

func (p *FakeProcess) WaitForExitTimeout(timeout time.Duration) (bool, error) {
	select {
	case <-p.exited:
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func (p *FakeProcess) ExitCode() int {
	p.Lock()
	defer p.Unlock()

	return p.exitCode
}

func (p *FakeProcess) Environment() map[string]string {
	return p.environment
}

func (p *FakeProcess) StandardInput() io.WriteCloser {
	return p.Stdin
}

func (p *FakeProcess) StandardOutput() io.Reader {
	return p.Stdout
}

func (p *FakeProcess) StandardError() io.Reader {
	return p.Stderr
}
