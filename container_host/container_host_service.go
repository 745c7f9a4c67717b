package container_host

import (
	"bufio"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/file_system"
	"code.cloudfoundry.org/ironframe/jobobject"
	"code.cloudfoundry.org/ironframe/process_runner"
	"code.cloudfoundry.org/ironframe/transport"
	"code.cloudfoundry.org/lager/v3"
)

const (
	DefaultStartupTimeout = 5 * time.Second

	// StatusOK is the only line a host writes to stderr, once it is ready
	// to serve requests.
	StatusOK = "OK"
)

var ErrHostStartFailed = errors.New("container host failed to start")

type Directory interface {
	MapBinPath(path string) (string, error)
	UserPath() string
}

type Service interface {
	StartContainerHost(id string, directory Directory, job jobobject.JobObject, credentials *ironframe.Credentials) (Client, error)
}

type ContainerHostService struct {
	fileSystem     file_system.FileSystemManager
	runner         process_runner.ProcessRunner
	dependencies   *DependencyHelper
	startupTimeout time.Duration
	clock          clock.Clock
	logger         lager.Logger
}

func NewService(
	fileSystem file_system.FileSystemManager,
	runner process_runner.ProcessRunner,
	dependencies *DependencyHelper,
	startupTimeout time.Duration,
	clock clock.Clock,
	logger lager.Logger,
) *ContainerHostService {
	if startupTimeout <= 0 {
		startupTimeout = DefaultStartupTimeout
	}

	return &ContainerHostService{
		fileSystem:     fileSystem,
		runner:         runner,
		dependencies:   dependencies,
		startupTimeout: startupTimeout,
		clock:          clock,
		logger:         logger.Session("container-host-service"),
	}
}

// StartContainerHost launches the host as the container user and returns a
// client connected to it.
//
// The host is only assigned to the job object once it has reported OK. It
// runs nothing but the handshake before then, and every process it starts
// afterwards inherits the job.
func (s *ContainerHostService) StartContainerHost(id string, directory Directory, job jobobject.JobObject, credentials *ironframe.Credentials) (Client, error) {
	sLog := s.logger.Session("start", lager.Data{"id": id})

	sLog.Debug("starting")

	hostPath, err := s.copyHost(directory)
	if err != nil {
		sLog.Error("failed-to-copy-host", err)
		return nil, err
	}

	spec := process_runner.ProcessRunSpec{
		ExecutablePath:      hostPath,
		Arguments:           []string{id},
		WorkingDirectory:    directory.UserPath(),
		Credentials:         credentials,
		BufferedInputOutput: true,
	}

	process, err := s.runner.Run(spec)
	if err != nil {
		sLog.Error("failed-to-run-host", err)
		return nil, err
	}

	stderr := bufio.NewReader(process.StandardError())

	err = s.waitForStartup(stderr)
	if err != nil {
		sLog.Error("failed-to-start", err)
		s.kill(process, sLog)
		return nil, err
	}

	go logStderr(stderr, sLog)

	err = job.AssignProcessToJob(process.ID())
	if err != nil {
		sLog.Error("failed-to-assign-host", err)
		s.kill(process, sLog)
		return nil, err
	}

	conn := transport.NewConn(process.StandardOutput(), process.StandardInput(), sLog)
	client := NewClient(process, conn, s.clock, s.logger)

	sLog.Info("started", lager.Data{"pid": process.ID()})

	return client, nil
}

func (s *ContainerHostService) copyHost(directory Directory) (string, error) {
	var hostPath string

	for i, source := range s.dependencies.Files() {
		destination, err := directory.MapBinPath(filepath.Base(source))
		if err != nil {
			return "", err
		}

		err = s.fileSystem.CopyFile(source, destination)
		if err != nil {
			return "", err
		}

		if i == 0 {
			hostPath = destination
		}
	}

	return hostPath, nil
}

type status struct {
	line string
	err  error
}

func (s *ContainerHostService) waitForStartup(stderr *bufio.Reader) error {
	statuses := make(chan status, 1)

	go func() {
		line, err := stderr.ReadString('\n')
		statuses <- status{strings.TrimRight(line, "\r\n"), err}
	}()

	select {
	case st := <-statuses:
		if st.line == StatusOK {
			return nil
		}

		if st.line == "" && st.err != nil {
			return fmt.Errorf("%w: %s", ErrHostStartFailed, st.err)
		}

		return fmt.Errorf("%w: %s", ErrHostStartFailed, st.line)

	case <-s.clock.After(s.startupTimeout):
		return fmt.Errorf("%w: timed out after %s", ErrHostStartFailed, s.startupTimeout)
	}
}

func (s *ContainerHostService) kill(process ironframe.Process, logger lager.Logger) {
	err := process.Kill()
	if err != nil {
		logger.Error("failed-to-kill-host", err)
	}
}

func logStderr(stderr *bufio.Reader, logger lager.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Info("host-stderr", lager.Data{"line": scanner.Text()})
	}
}
