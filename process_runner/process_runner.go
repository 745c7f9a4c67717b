package process_runner

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/command_runner"
	"code.cloudfoundry.org/lager/v3"
)

// output left buffered in a pipe by a surviving grandchild is not waited on
// for longer than this once the process itself has exited
const outputDrainTimeout = time.Second

// output lines longer than this are not delivered
const maxLineLength = 1024 * 1024

type ProcessRunSpec struct {
	ExecutablePath   string
	Arguments        []string
	Environment      map[string]string
	WorkingDirectory string

	Credentials *ironframe.Credentials

	// BufferedInputOutput exposes the raw output readers instead of
	// delivering lines to the callbacks.
	BufferedInputOutput bool

	OutputCallback func(line string)
	ErrorCallback  func(line string)
	ExitedCallback func(exitCode int)
}

type ProcessRunner interface {
	Run(spec ProcessRunSpec) (ironframe.Process, error)
	StopAll(kill bool) error
	Close() error
}

type RealProcessRunner struct {
	runner command_runner.CommandRunner
	clock  clock.Clock
	logger lager.Logger

	processes map[*Process]struct{}
	mu        sync.Mutex
}

func New(runner command_runner.CommandRunner, clock clock.Clock, logger lager.Logger) *RealProcessRunner {
	return &RealProcessRunner{
		runner: runner,
		clock:  clock,
		logger: logger.Session("process-runner"),

		processes: make(map[*Process]struct{}),
	}
}

func (r *RealProcessRunner) Run(spec ProcessRunSpec) (ironframe.Process, error) {
	rLog := r.logger.Session("run", lager.Data{
		"path": spec.ExecutablePath,
		"args": spec.Arguments,
		"dir":  spec.WorkingDirectory,
	})

	environment := spec.Environment
	if len(environment) == 0 {
		var err error
		environment, err = DefaultEnvironment(spec.Credentials)
		if err != nil {
			rLog.Error("failed-to-create-environment", err)
			return nil, err
		}
	}

	cmd := exec.Command(spec.ExecutablePath, spec.Arguments...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = EnvironmentBlock(environment)

	if spec.Credentials != nil {
		release, err := applyCredentials(cmd, spec.Credentials)
		if err != nil {
			rLog.Error("failed-to-logon", err)
			return nil, err
		}
		defer release()
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, err
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	rLog.Debug("starting")

	err = r.runner.Start(cmd)

	stdoutW.Close()
	stderrW.Close()

	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		rLog.Error("failed-to-start", err)
		return nil, err
	}

	process := &Process{
		cmd:         cmd,
		runner:      r.runner,
		clock:       r.clock,
		environment: environment,
		stdin:       stdin,
		exited:      make(chan struct{}),
		exitCode:    -1,
	}

	drained := &sync.WaitGroup{}

	if spec.BufferedInputOutput {
		process.stdout = stdoutR
		process.stderr = stderrR
	} else {
		drained.Add(2)
		go scanLines(stdoutR, spec.OutputCallback, drained, rLog.Session("stdout"))
		go scanLines(stderrR, spec.ErrorCallback, drained, rLog.Session("stderr"))
	}

	r.track(process)

	rLog.Info("started", lager.Data{"pid": process.ID()})

	go func() {
		process.wait(drained, rLog)

		r.untrack(process)

		if spec.ExitedCallback != nil {
			spec.ExitedCallback(process.ExitCode())
		}
	}()

	return process, nil
}

// StopAll kills every process this runner started that is still running.
// Windows has no polite termination signal, so kill only controls whether
// failures are reported.
func (r *RealProcessRunner) StopAll(kill bool) error {
	r.mu.Lock()
	processes := make([]*Process, 0, len(r.processes))
	for process := range r.processes {
		processes = append(processes, process)
	}
	r.mu.Unlock()

	var errs []error
	for _, process := range processes {
		err := process.Kill()
		if err != nil {
			r.logger.Error("failed-to-stop", err, lager.Data{"pid": process.ID()})
			if kill {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (r *RealProcessRunner) Close() error {
	return nil
}

func (r *RealProcessRunner) track(process *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.processes[process] = struct{}{}
}

func (r *RealProcessRunner) untrack(process *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.processes, process)
}

func scanLines(reader io.ReadCloser, callback func(string), done *sync.WaitGroup, logger lager.Logger) {
	defer done.Done()
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)

	for scanner.Scan() {
		if callback != nil {
			callback(scanner.Text())
		}
	}

	err := scanner.Err()
	if err != nil {
		logger.Error("failed-to-read-output", err, lager.Data{"max-line-length": maxLineLength})

		// the process must not block on a full pipe
		io.Copy(io.Discard, reader)
	}
}

type Process struct {
	cmd    *exec.Cmd
	runner command_runner.CommandRunner
	clock  clock.Clock

	environment map[string]string

	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader

	exited   chan struct{}
	exitCode int
	waitErr  error
}

func (p *Process) ID() int {
	return p.cmd.Process.Pid
}

func (p *Process) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}

	return p.runner.Kill(p.cmd)
}

func (p *Process) WaitForExit() (int, error) {
	<-p.exited
	return p.exitCode, p.waitErr
}

func (p *Process) WaitForExitTimeout(timeout time.Duration) (bool, error) {
	select {
	case <-p.exited:
		return true, p.waitErr
	case <-p.clock.After(timeout):
		return false, nil
	}
}

func (p *Process) ExitCode() int {
	select {
	case <-p.exited:
		return p.exitCode
	default:
		return -1
	}
}

func (p *Process) Environment() map[string]string {
	return p.environment
}

func (p *Process) StandardInput() io.WriteCloser {
	return p.stdin
}

func (p *Process) StandardOutput() io.Reader {
	return p.stdout
}

func (p *Process) StandardError() io.Reader {
	return p.stderr
}

func (p *Process) wait(drained *sync.WaitGroup, logger lager.Logger) {
	err := p.runner.Wait(p.cmd)

	drainedCh := make(chan struct{})
	go func() {
		drained.Wait()
		close(drainedCh)
	}()

	select {
	case <-drainedCh:
	case <-p.clock.After(outputDrainTimeout):
		logger.Info("output-still-open-after-exit")
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.As(err, &exitErr):
	default:
		logger.Error("failed-to-wait", err)
		p.waitErr = err
	}

	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}

	logger.Info("exited", lager.Data{"exit-code": p.exitCode})

	close(p.exited)
}
