package container_host_test

import (
	"io"
	"sync"

	"code.cloudfoundry.org/ironframe/protocol"
	"code.cloudfoundry.org/ironframe/transport"
	"code.cloudfoundry.org/lager/v3"
	"github.com/fxamacker/cbor/v2"
)

// fakeHost answers requests on the far end of a pair of pipes the way a
// container host would.
type fakeHost struct {
	conn *transport.Conn

	stdoutR *io.PipeReader
	stdinW  *io.PipeWriter

	requests []string
	created  []protocol.CreateProcessParams
	stopped  []protocol.StopProcessParams
	stopAll  []protocol.StopAllProcessesParams

	waitResult protocol.WaitForProcessExitResult
	found      protocol.FindProcessByIdResult
	stopErr    error

	// block, if set, holds every request until it is closed
	block chan struct{}

	sync.Mutex
}

func newFakeHost(logger lager.Logger) *fakeHost {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	host := &fakeHost{
		conn:    transport.NewConn(stdinR, stdoutW, logger),
		stdoutR: stdoutR,
		stdinW:  stdinW,
	}

	host.conn.HandleRequests(host.handle)
	host.conn.Start()

	return host
}

func (h *fakeHost) setBlock(block chan struct{}) {
	h.Lock()
	defer h.Unlock()

	h.block = block
}

func (h *fakeHost) handle(method string, params cbor.RawMessage) (interface{}, error) {
	h.Lock()
	h.requests = append(h.requests, method)
	block := h.block
	h.Unlock()

	if block != nil {
		<-block
	}

	h.Lock()
	defer h.Unlock()

	switch method {
	case protocol.MethodCreateProcess:
		var p protocol.CreateProcessParams
		if err := transport.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		h.created = append(h.created, p)
		return protocol.CreateProcessResult{ID: 1234}, nil

	case protocol.MethodWaitForProcessExit:
		return h.waitResult, nil

	case protocol.MethodStopProcess:
		var p protocol.StopProcessParams
		if err := transport.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		h.stopped = append(h.stopped, p)
		if h.stopErr != nil {
			return nil, h.stopErr
		}

		return struct{}{}, nil

	case protocol.MethodStopAllProcesses:
		var p protocol.StopAllProcessesParams
		if err := transport.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		h.stopAll = append(h.stopAll, p)
		return struct{}{}, nil

	case protocol.MethodFindProcessById:
		return h.found, nil

	case protocol.MethodPing:
		return struct{}{}, nil
	}

	return nil, &transport.RPCError{Code: transport.CodeMethodNotFound, Message: "method not found", Data: method}
}

func (h *fakeHost) Requests() []string {
	h.Lock()
	defer h.Unlock()

	return append([]string{}, h.requests...)
}

func (h *fakeHost) Created() []protocol.CreateProcessParams {
	h.Lock()
	defer h.Unlock()

	return append([]protocol.CreateProcessParams{}, h.created...)
}

func (h *fakeHost) StopAll() []protocol.StopAllProcessesParams {
	h.Lock()
	defer h.Unlock()

	return append([]protocol.StopAllProcessesParams{}, h.stopAll...)
}
