package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/protocol"
	"code.cloudfoundry.org/lager/v3"
)

var ErrInvalidContentType = ironframe.InvalidArgument("content-type must be application/json")
var ErrConcurrentDestroy = errors.New("container already being destroyed")

func (s *IronFrameServer) handlePing(w http.ResponseWriter, r *http.Request) {
	hLog := s.logger.Session("ping")

	err := s.backend.Ping()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	s.writeSuccess(w)
}

func (s *IronFrameServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec ironframe.ContainerSpec
	if !s.readRequest(&spec, w, r) {
		return
	}

	hLog := s.logger.Session("create", lager.Data{
		"handle": spec.Handle,
	})

	hLog.Debug("creating")

	container, err := s.backend.CreateContainer(spec)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("created", lager.Data{"handle": container.Handle()})

	s.writeResponse(w, &protocol.CreateResponse{
		Handle: container.Handle(),
	})
}

func (s *IronFrameServer) handleList(w http.ResponseWriter, r *http.Request) {
	hLog := s.logger.Session("list")

	handles := s.backend.GetContainerHandles()
	if handles == nil {
		handles = []string{}
	}

	hLog.Debug("listed", lager.Data{"count": len(handles)})

	s.writeResponse(w, &protocol.ListResponse{Handles: handles})
}

func (s *IronFrameServer) handleDestroy(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")

	hLog := s.logger.Session("destroy", lager.Data{
		"handle": handle,
	})

	// handles are case-insensitive, so are concurrent destroys
	key := strings.ToLower(handle)

	s.destroysL.Lock()

	_, alreadyDestroying := s.destroys[key]
	if !alreadyDestroying {
		s.destroys[key] = struct{}{}
	}

	s.destroysL.Unlock()

	if alreadyDestroying {
		s.writeError(w, ErrConcurrentDestroy, hLog)
		return
	}

	hLog.Debug("destroying")

	err := s.backend.DestroyContainer(handle)

	s.destroysL.Lock()
	delete(s.destroys, key)
	s.destroysL.Unlock()

	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("destroyed")

	s.writeSuccess(w)
}

func (s *IronFrameServer) handleStop(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")

	hLog := s.logger.Session("stop", lager.Data{
		"handle": handle,
	})

	var request protocol.StopRequest
	if !s.readRequest(&request, w, r) {
		return
	}

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Debug("stopping", lager.Data{"kill": request.Kill})

	err = container.Stop(request.Kill)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("stopped")

	s.writeSuccess(w)
}

func (s *IronFrameServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")

	hLog := s.logger.Session("info", lager.Data{
		"handle": handle,
	})

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Debug("getting-info")

	info, err := container.Info()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("got-info")

	s.writeResponse(w, info)
}

func (s *IronFrameServer) handleLimitMemory(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")

	hLog := s.logger.Session("limit-memory", lager.Data{
		"handle": handle,
	})

	var request protocol.MemoryLimits
	if !s.readRequest(&request, w, r) {
		return
	}

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	if request.LimitInBytes > 0 {
		hLog.Debug("limiting", lager.Data{
			"requested-limit": request.LimitInBytes,
		})

		err = container.LimitMemory(request.LimitInBytes)
		if err != nil {
			s.writeError(w, err, hLog)
			return
		}
	}

	limit, err := container.CurrentMemoryLimit()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("limited", lager.Data{
		"resulting-limit": limit,
	})

	s.writeResponse(w, &protocol.MemoryLimits{LimitInBytes: limit})
}

func (s *IronFrameServer) handleCurrentMemoryLimit(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")

	hLog := s.logger.Session("current-memory-limit", lager.Data{
		"handle": handle,
	})

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	limit, err := container.CurrentMemoryLimit()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	s.writeResponse(w, &protocol.MemoryLimits{LimitInBytes: limit})
}

func (s *IronFrameServer) handleLimitCPU(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")

	hLog := s.logger.Session("limit-cpu", lager.Data{
		"handle": handle,
	})

	var request protocol.CPULimits
	if !s.readRequest(&request, w, r) {
		return
	}

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Debug("limiting", lager.Data{
		"requested-rate": request.Rate,
	})

	err = container.LimitCPU(request.Rate)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	rate, err := container.CurrentCPULimit()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("limited", lager.Data{
		"resulting-rate": rate,
	})

	s.writeResponse(w, &protocol.CPULimits{Rate: rate})
}

func (s *IronFrameServer) handleCurrentCPULimit(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")

	hLog := s.logger.Session("current-cpu-limit", lager.Data{
		"handle": handle,
	})

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	rate, err := container.CurrentCPULimit()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	s.writeResponse(w, &protocol.CPULimits{Rate: rate})
}

func (s *IronFrameServer) handleNetIn(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")

	hLog := s.logger.Session("net-in", lager.Data{
		"handle": handle,
	})

	var request protocol.NetInRequest
	if !s.readRequest(&request, w, r) {
		return
	}

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Debug("reserving", lager.Data{
		"requested-port": request.HostPort,
	})

	port, err := container.ReservePort(request.HostPort)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("reserved", lager.Data{
		"host-port": port,
	})

	s.writeResponse(w, &protocol.NetInResponse{HostPort: port})
}

// handleRun runs the process to completion; its output is returned in the
// response rather than streamed.
func (s *IronFrameServer) handleRun(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")

	hLog := s.logger.Session("run", lager.Data{
		"handle": handle,
	})

	var request protocol.RunRequest
	if !s.readRequest(&request, w, r) {
		return
	}

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	pio := ironframe.ProcessIO{
		Stdout: stdout,
		Stderr: stderr,
	}

	if request.Stdin != "" {
		pio.Stdin = strings.NewReader(request.Stdin)
	}

	hLog.Debug("running", lager.Data{
		"path":       request.ExecutablePath,
		"privileged": request.Privileged,
	})

	process, err := container.Run(request.ProcessSpec, pio)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	exitCode, err := process.WaitForExit()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("exited", lager.Data{
		"pid":       process.ID(),
		"exit-code": exitCode,
	})

	s.writeResponse(w, &protocol.RunResponse{
		ProcessID: process.ID(),
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
	})
}

func (s *IronFrameServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")

	hLog := s.logger.Session("find-process", lager.Data{
		"handle": handle,
		"pid":    r.FormValue(":pid"),
	})

	pid, err := strconv.Atoi(r.FormValue(":pid"))
	if err != nil {
		s.writeError(w, ironframe.InvalidArgument("process id must be a number: %s", r.FormValue(":pid")), hLog)
		return
	}

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	process, err := container.FindProcessById(pid)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Debug("found")

	s.writeResponse(w, &protocol.ProcessInfo{
		ProcessID:   process.ID(),
		Environment: process.Environment(),
	})
}

func (s *IronFrameServer) handleProperties(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")

	hLog := s.logger.Session("get-properties", lager.Data{
		"handle": handle,
	})

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	properties, err := container.GetProperties()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("got-properties")

	s.writeResponse(w, properties)
}

func (s *IronFrameServer) handleProperty(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")
	key := r.FormValue(":key")

	hLog := s.logger.Session("get-property", lager.Data{
		"handle": handle,
		"key":    key,
	})

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	value, err := container.GetProperty(key)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	if value == nil {
		s.writeError(w, ironframe.PropertyNotFoundError{Handle: handle, Key: key}, hLog)
		return
	}

	hLog.Debug("got-property")

	s.writeResponse(w, &protocol.PropertyValue{Value: *value})
}

func (s *IronFrameServer) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")
	key := r.FormValue(":key")

	hLog := s.logger.Session("set-property", lager.Data{
		"handle": handle,
		"key":    key,
	})

	var request protocol.PropertyValue
	if !s.readRequest(&request, w, r) {
		return
	}

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	err = container.SetProperty(key, request.Value)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Debug("set-property-complete")

	s.writeSuccess(w)
}

func (s *IronFrameServer) handleRemoveProperty(w http.ResponseWriter, r *http.Request) {
	handle := r.FormValue(":handle")
	key := r.FormValue(":key")

	hLog := s.logger.Session("remove-property", lager.Data{
		"handle": handle,
		"key":    key,
	})

	container, err := s.lookup(handle)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	err = container.RemoveProperty(key)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("removed-property")

	s.writeSuccess(w)
}

func (s *IronFrameServer) lookup(handle string) (ironframe.Container, error) {
	container := s.backend.GetContainerByHandle(handle)
	if container == nil {
		return nil, ironframe.ContainerNotFoundError{Handle: handle}
	}

	return container, nil
}

func (s *IronFrameServer) writeError(w http.ResponseWriter, err error, logger lager.Logger) {
	logger.Error("failed", err)

	wrapped := ironframe.Error{Err: err}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(wrapped.StatusCode())
	json.NewEncoder(w).Encode(wrapped)
}

func (s *IronFrameServer) writeSuccess(w http.ResponseWriter) {
	s.writeResponse(w, &struct{}{})
}

func (s *IronFrameServer) writeResponse(w http.ResponseWriter, msg interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msg)
}

func (s *IronFrameServer) readRequest(msg interface{}, w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Content-Type") != "application/json" {
		s.writeError(w, ErrInvalidContentType, s.logger)
		return false
	}

	err := json.NewDecoder(r.Body).Decode(msg)
	if err != nil {
		s.writeError(w, ironframe.InvalidArgument("malformed request: %s", err), s.logger)
		return false
	}

	return true
}
