// Package command_runner starts, waits on and kills the OS processes behind
// privileged container processes, container hosts and netsh.
package command_runner

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

type CommandRunner interface {
	Run(*exec.Cmd) error
	Start(*exec.Cmd) error
	Wait(*exec.Cmd) error

	// Kill terminates the command without a grace period. Killing a
	// command that has already finished succeeds.
	Kill(*exec.Cmd) error
}

type RealCommandRunner struct{}

type CommandNotRunningError struct {
	cmd *exec.Cmd
}

func (e CommandNotRunningError) Error() string {
	return fmt.Sprintf("command is not running: %s %v", e.cmd.Path, e.cmd.Args)
}

func New() *RealCommandRunner {
	return &RealCommandRunner{}
}

func (r *RealCommandRunner) Run(cmd *exec.Cmd) error {
	return cmd.Run()
}

func (r *RealCommandRunner) Start(cmd *exec.Cmd) error {
	return cmd.Start()
}

func (r *RealCommandRunner) Wait(cmd *exec.Cmd) error {
	return cmd.Wait()
}

// Kill is TerminateProcess on windows, which fails with access denied once
// the process is exiting. That, and a process already reaped by Wait, both
// count as killed.
func (r *RealCommandRunner) Kill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return CommandNotRunningError{cmd}
	}

	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, os.ErrPermission) {
		return nil
	}

	return err
}
