package fake_command_runner

import (
	"os/exec"
	"reflect"
	"sync"
)

type FakeCommandRunner struct {
	executedCommands []*exec.Cmd
	startedCommands  []*exec.Cmd
	waitedCommands   []*exec.Cmd
	killedCommands   []*exec.Cmd

	commandCallbacks map[*CommandSpec]func(*exec.Cmd) error
	waitingCallbacks map[*CommandSpec]func(*exec.Cmd) error
	killCallbacks    map[*CommandSpec]func(*exec.Cmd) error

	sync.RWMutex
}

type CommandSpec struct {
	Path string
	Args []string
	Env  []string
}

func (s CommandSpec) Matches(cmd *exec.Cmd) bool {
	if s.Path != "" && s.Path != cmd.Path {
		return false
	}

	if len(s.Args) > 0 && !reflect.DeepEqual(s.Args, cmd.Args[1:]) {
		return false
	}

	if len(s.Env) > 0 && !reflect.DeepEqual(s.Env, cmd.Env) {
		return false
	}

	return true
}

func New() *FakeCommandRunner {
	return &FakeCommandRunner{
		commandCallbacks: make(map[*CommandSpec]func(*exec.Cmd) error),
		waitingCallbacks: make(map[*CommandSpec]func(*exec.Cmd) error),
		killCallbacks:    make(map[*CommandSpec]func(*exec.Cmd) error),
	}
}

func (r *FakeCommandRunner) Run(cmd *exec.Cmd) error {
	r.Lock()
	r.executedCommands = append(r.executedCommands, cmd)
	callback := findCallback(r.commandCallbacks, cmd)
	r.Unlock()

	if callback != nil {
		return callback(cmd)
	}

	return nil
}

func (r *FakeCommandRunner) Start(cmd *exec.Cmd) error {
	r.Lock()
	r.startedCommands = append(r.startedCommands, cmd)
	callback := findCallback(r.commandCallbacks, cmd)
	r.Unlock()

	if callback != nil {
		return callback(cmd)
	}

	return nil
}

func (r *FakeCommandRunner) Wait(cmd *exec.Cmd) error {
	r.Lock()
	r.waitedCommands = append(r.waitedCommands, cmd)
	callback := findCallback(r.waitingCallbacks, cmd)
	r.Unlock()

	if callback != nil {
		return callback(cmd)
	}

	return nil
}

func (r *FakeCommandRunner) Kill(cmd *exec.Cmd) error {
	r.Lock()
	r.killedCommands = append(r.killedCommands, cmd)
	callback := findCallback(r.killCallbacks, cmd)
	r.Unlock()

	if callback != nil {
		return callback(cmd)
	}

	return nil
}

func (r *FakeCommandRunner) WhenRunning(spec CommandSpec, callback func(*exec.Cmd) error) {
	r.Lock()
	defer r.Unlock()

	r.commandCallbacks[&spec] = callback
}

func (r *FakeCommandRunner) WhenWaitingFor(spec CommandSpec, callback func(*exec.Cmd) error) {
	r.Lock()
	defer r.Unlock()

	r.waitingCallbacks[&spec] = callback
}

func (r *FakeCommandRunner) WhenKilling(spec CommandSpec, callback func(*exec.Cmd) error) {
	r.Lock()
	defer r.Unlock()

	r.killCallbacks[&spec] = callback
}

func (r *FakeCommandRunner) ExecutedCommands() []*exec.Cmd {
	r.RLock()
	defer r.RUnlock()

	return append([]*exec.Cmd{}, r.executedCommands...)
}

func (r *FakeCommandRunner) StartedCommands() []*exec.Cmd {
	r.RLock()
	defer r.RUnlock()

	return append([]*exec.Cmd{}, r.startedCommands...)
}

func (r *FakeCommandRunner) WaitedCommands() []*exec.Cmd {
	r.RLock()
	defer r.RUnlock()

	return append([]*exec.Cmd{}, r.waitedCommands...)
}

func (r *FakeCommandRunner) KilledCommands() []*exec.Cmd {
	r.RLock()
	defer r.RUnlock()

	return append([]*exec.Cmd{}, r.killedCommands...)
}

func findCallback(callbacks map[*CommandSpec]func(*exec.Cmd) error, cmd *exec.Cmd) func(*exec.Cmd) error {
	for spec, callback := range callbacks {
		if spec.Matches(cmd) {
			return callback
		}
	}

	return nil
}
