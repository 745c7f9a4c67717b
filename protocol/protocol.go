// Package protocol defines the methods and payloads exchanged between the
// container service and a container host, and the request and response
// bodies of the management API.
package protocol

import "time"

const (
	MethodCreateProcess      = "Container.CreateProcess"
	MethodWaitForProcessExit = "Container.WaitForProcessExit"
	MethodStopProcess        = "Container.StopProcess"
	MethodStopAllProcesses   = "Container.StopAllProcesses"
	MethodFindProcessById    = "Container.FindProcessById"
	MethodPing               = "Ping"
)

// EventProcessData carries a ProcessDataEvent for each line a hosted process
// writes.
const EventProcessData = "processData"

type ProcessDataType int

const (
	STDOUT ProcessDataType = iota + 1
	STDERR
)

func (t ProcessDataType) String() string {
	switch t {
	case STDOUT:
		return "stdout"
	case STDERR:
		return "stderr"
	default:
		return "unknown"
	}
}

type CreateProcessParams struct {
	Key              string            `cbor:"key"`
	ExecutablePath   string            `cbor:"executablePath"`
	Arguments        []string          `cbor:"arguments,omitempty"`
	Environment      map[string]string `cbor:"environment,omitempty"`
	WorkingDirectory string            `cbor:"workingDirectory,omitempty"`
}

type CreateProcessResult struct {
	ID int `cbor:"id"`
}

// WaitForProcessExitParams waits forever when Timeout is negative.
type WaitForProcessExitParams struct {
	Key     string        `cbor:"key"`
	Timeout time.Duration `cbor:"timeout"`
}

type WaitForProcessExitResult struct {
	Exited   bool `cbor:"exited"`
	ExitCode int  `cbor:"exitCode"`
}

type StopProcessParams struct {
	Key     string        `cbor:"key"`
	Timeout time.Duration `cbor:"timeout"`
}

type StopAllProcessesParams struct {
	Timeout time.Duration `cbor:"timeout"`
}

type FindProcessByIdParams struct {
	ID int `cbor:"id"`
}

// FindProcessByIdResult is empty when no tracked process has the id.
type FindProcessByIdResult struct {
	Key         string            `cbor:"key,omitempty"`
	ID          int               `cbor:"id,omitempty"`
	Environment map[string]string `cbor:"environment,omitempty"`
}

type ProcessDataEvent struct {
	Key      string          `cbor:"key"`
	DataType ProcessDataType `cbor:"dataType"`
	Data     string          `cbor:"data"`
}
