package protocol

import "code.cloudfoundry.org/ironframe"

type CreateResponse struct {
	Handle string `json:"handle"`
}

type ListResponse struct {
	Handles []string `json:"handles"`
}

type StopRequest struct {
	Kill bool `json:"kill,omitempty"`
}

// MemoryLimits requests a limit when LimitInBytes is non-zero. The response
// always carries the current limit.
type MemoryLimits struct {
	LimitInBytes uint64 `json:"limit_in_bytes"`
}

type CPULimits struct {
	Rate int `json:"rate"`
}

type NetInRequest struct {
	HostPort int `json:"host_port,omitempty"`
}

type NetInResponse struct {
	HostPort int `json:"host_port"`
}

type RunRequest struct {
	ironframe.ProcessSpec

	Stdin string `json:"stdin,omitempty"`
}

type RunResponse struct {
	ProcessID int    `json:"process_id"`
	ExitCode  int    `json:"exit_code"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
}

type ProcessInfo struct {
	ProcessID   int               `json:"process_id"`
	Environment map[string]string `json:"environment,omitempty"`
}

type PropertyValue struct {
	Value string `json:"value"`
}
