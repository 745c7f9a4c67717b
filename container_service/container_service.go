package container_service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/constrained_runner"
	"code.cloudfoundry.org/ironframe/container_directory"
	"code.cloudfoundry.org/ironframe/container_host"
	"code.cloudfoundry.org/ironframe/file_system"
	"code.cloudfoundry.org/ironframe/jobobject"
	"code.cloudfoundry.org/ironframe/metrics"
	"code.cloudfoundry.org/ironframe/port_manager"
	"code.cloudfoundry.org/ironframe/process_runner"
	"code.cloudfoundry.org/ironframe/property_service"
	"code.cloudfoundry.org/ironframe/user_manager"
	"code.cloudfoundry.org/lager/v3"
	"github.com/spf13/afero"
	"go.opencensus.io/trace"
)

// HandleFileName is stored in each container's private directory so the
// handle survives a restart of the service.
const HandleFileName = "handle"

var ErrServiceClosed = ironframe.NewServiceUnavailableError("container service is closed")

type Config struct {
	ContainerBasePath string

	// UserGroup, when set, is joined by every container user and granted
	// desktop access in place of the individual users.
	UserGroup string

	// Owners keep full access to every container directory.
	Owners []string

	MemoryPollInterval time.Duration
}

type Dependencies struct {
	FileSystem    file_system.FileSystemManager
	UserManager   user_manager.UserManager
	Desktop       user_manager.DesktopPermissionManager
	PortManager   port_manager.PortManager
	ProcessHelper process_runner.ProcessHelper
	HostService   container_host.Service
	Clock         clock.Clock

	// NewProcessRunner builds the privileged runner of one container.
	NewProcessRunner func(logger lager.Logger) process_runner.ProcessRunner

	// NewJobObject creates, or opens when it already exists, the job
	// object with the given name.
	NewJobObject func(name string) (jobobject.JobObject, error)

	// SystemEnvironment is the base environment of constrained processes.
	// process_runner.SystemDefaultEnvironment is used when it is nil.
	SystemEnvironment constrained_runner.BaseEnvironment
}

type ContainerService struct {
	config Config
	deps   Dependencies
	logger lager.Logger

	containers  []*Container
	containersL sync.RWMutex

	// reserved holds the lowercased handles of containers being created.
	reserved map[string]struct{}

	closed bool
}

func NewContainerService(config Config, deps Dependencies, logger lager.Logger) *ContainerService {
	return &ContainerService{
		config: config,
		deps:   deps,
		logger: logger.Session("container-service"),

		reserved: make(map[string]struct{}),
	}
}

// Setup creates the container base directory and the user group.
func (s *ContainerService) Setup() error {
	err := s.deps.FileSystem.CreateDirectory(s.config.ContainerBasePath, s.ownerAccess())
	if err != nil {
		s.logger.Error("failed-to-create-base-path", err, lager.Data{"path": s.config.ContainerBasePath})
		return err
	}

	if s.config.UserGroup != "" {
		err = s.deps.UserManager.CreateGroup(s.config.UserGroup)
		if err != nil {
			s.logger.Error("failed-to-create-group", err, lager.Data{"group": s.config.UserGroup})
			return err
		}
	}

	return nil
}

func (s *ContainerService) Ping() error {
	s.containersL.RLock()
	defer s.containersL.RUnlock()

	if s.closed {
		return ErrServiceClosed
	}

	return nil
}

func (s *ContainerService) CreateContainer(spec ironframe.ContainerSpec) (ironframe.Container, error) {
	_, span := trace.StartSpan(context.Background(), "ContainerService::CreateContainer")
	defer span.End()

	container, err := s.createContainer(spec)
	metrics.SetSpanStatus(span, err)
	if err != nil {
		return nil, err
	}

	return container, nil
}

func (s *ContainerService) createContainer(spec ironframe.ContainerSpec) (*Container, error) {
	handle, err := s.reserveHandle(spec.Handle)
	if err != nil {
		return nil, err
	}
	defer s.releaseHandle(handle)

	id := GenerateID(handle)

	cLog := s.logger.Session("create", lager.Data{"handle": handle, "id": id})

	undo := &UndoStack{}
	fail := func(err error) (*Container, error) {
		cLog.Error("failed", err)
		return nil, errors.Join(err, undo.UndoAll())
	}

	user, err := user_manager.Create(s.deps.UserManager, s.deps.Desktop, s.config.UserGroup, id, cLog)
	if err != nil {
		return fail(err)
	}
	undo.Push(user.Delete)

	directory, err := container_directory.Create(s.deps.FileSystem, s.config.ContainerBasePath, id, user.UserName(), s.config.Owners)
	if err != nil {
		return fail(err)
	}
	undo.Push(directory.Destroy)

	err = s.writeHandle(directory, handle)
	if err != nil {
		return fail(err)
	}

	job, err := s.deps.NewJobObject(id)
	if err != nil {
		return fail(err)
	}
	undo.Push(job.Close)

	credentials := user.Credentials()

	host, err := s.deps.HostService.StartContainerHost(id, directory, job, &credentials)
	if err != nil {
		return fail(err)
	}
	undo.Push(host.Shutdown)

	constrainedRunner := constrained_runner.New(host, s.systemEnvironment(), cLog)
	undo.Push(constrainedRunner.Close)

	container, err := s.newContainer(id, handle, user, directory, job, constrainedRunner, spec.Environment, cLog)
	if err != nil {
		return fail(err)
	}

	err = container.properties.SetProperties(spec.Properties)
	if err != nil {
		return fail(err)
	}

	container.setState(ironframe.StateActive)

	s.containersL.Lock()
	s.containers = append(s.containers, container)
	s.containersL.Unlock()

	metrics.RecordContainerCreated(context.Background())

	cLog.Info("created")

	return container, nil
}

func (s *ContainerService) DestroyContainer(handle string) error {
	_, span := trace.StartSpan(context.Background(), "ContainerService::DestroyContainer")
	defer span.End()

	container := s.find(handle)
	if container == nil {
		err := ironframe.ContainerNotFoundError{Handle: handle}
		metrics.SetSpanStatus(span, err)
		return err
	}

	err := container.Destroy()

	s.containersL.Lock()
	for i, c := range s.containers {
		if c == container {
			s.containers = append(s.containers[:i], s.containers[i+1:]...)
			break
		}
	}
	s.containersL.Unlock()

	metrics.SetSpanStatus(span, err)

	return err
}

func (s *ContainerService) GetContainerByHandle(handle string) ironframe.Container {
	container := s.find(handle)
	if container == nil {
		return nil
	}

	return container
}

func (s *ContainerService) GetContainers() []ironframe.Container {
	s.containersL.RLock()
	defer s.containersL.RUnlock()

	containers := make([]ironframe.Container, len(s.containers))
	for i, container := range s.containers {
		containers[i] = container
	}

	return containers
}

func (s *ContainerService) GetContainerHandles() []string {
	s.containersL.RLock()
	defer s.containersL.RUnlock()

	handles := make([]string, len(s.containers))
	for i, container := range s.containers {
		handles[i] = container.Handle()
	}

	return handles
}

// RestoreFromContainerBasePath rebuilds a container for every directory
// under the base path. Restored containers have no host, so every process
// they run is privileged. Directories that cannot be restored are skipped
// and their errors returned together.
func (s *ContainerService) RestoreFromContainerBasePath() error {
	rLog := s.logger.Session("restore", lager.Data{"path": s.config.ContainerBasePath})

	paths, err := s.deps.FileSystem.EnumerateDirectories(s.config.ContainerBasePath)
	if err != nil {
		rLog.Error("failed-to-enumerate", err)
		return err
	}

	var errs []error
	for _, path := range paths {
		container, err := s.restoreContainer(path, rLog)
		if err != nil {
			rLog.Error("failed-to-restore", err, lager.Data{"container-path": path})
			errs = append(errs, err)
			continue
		}

		s.containersL.Lock()
		s.containers = append(s.containers, container)
		s.containersL.Unlock()

		rLog.Info("restored", lager.Data{"handle": container.Handle(), "id": container.ID()})
	}

	return errors.Join(errs...)
}

// Close releases the resources of every container without destroying
// them, so they can be restored later.
func (s *ContainerService) Close() error {
	s.containersL.Lock()
	if s.closed {
		s.containersL.Unlock()
		return nil
	}

	s.closed = true
	containers := s.containers
	s.containersL.Unlock()

	var errs []error
	for _, container := range containers {
		err := container.release()
		if err != nil {
			s.logger.Error("failed-to-release", err, lager.Data{"handle": container.Handle()})
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *ContainerService) restoreContainer(path string, logger lager.Logger) (*Container, error) {
	id := filepath.Base(path)

	directory := container_directory.Restore(s.deps.FileSystem, path)
	user := user_manager.Restore(s.deps.UserManager, id, logger)

	handle := s.readHandle(directory)
	if handle == "" {
		handle = id
	}

	job, err := s.deps.NewJobObject(id)
	if err != nil {
		return nil, err
	}

	container, err := s.newContainer(id, handle, user, directory, job, nil, nil, logger)
	if err != nil {
		return nil, errors.Join(err, job.Close())
	}

	container.setState(ironframe.StateActive)

	return container, nil
}

func (s *ContainerService) newContainer(
	id, handle string,
	user ContainerUser,
	directory ContainerDirectory,
	job jobobject.JobObject,
	constrainedRunner ConstrainedRunner,
	environment map[string]string,
	logger lager.Logger,
) (*Container, error) {
	propertiesPath, err := directory.MapPrivatePath(property_service.PropertiesFileName)
	if err != nil {
		return nil, err
	}

	cLog := logger.Session("container", lager.Data{"handle": handle})

	container := &Container{
		id:     id,
		handle: handle,

		user:        user,
		directory:   directory,
		job:         job,
		limits:      jobobject.NewLimits(job, s.deps.Clock, s.config.MemoryPollInterval, cLog),
		properties:  property_service.New(s.deps.FileSystem.Fs(), propertiesPath, s.deps.Clock, cLog),
		portManager: s.deps.PortManager,
		helper:      s.deps.ProcessHelper,

		processRunner:     s.deps.NewProcessRunner(cLog),
		constrainedRunner: constrainedRunner,

		environment: environment,

		logger: cLog,

		state: ironframe.StateBorn,
	}

	container.limits.OnMemoryLimitReached(container.memoryLimitReached)

	return container, nil
}

// reserveHandle claims the handle, generating one when it is empty, until
// releaseHandle. A handle held by a container or by a create in progress
// is rejected.
func (s *ContainerService) reserveHandle(handle string) (string, error) {
	if handle == "" {
		var err error
		handle, err = GenerateHandle()
		if err != nil {
			return "", err
		}
	}

	s.containersL.Lock()
	defer s.containersL.Unlock()

	if s.closed {
		return "", ErrServiceClosed
	}

	key := strings.ToLower(handle)

	_, reserved := s.reserved[key]
	if reserved || s.findLocked(handle) != nil {
		return "", ironframe.InvalidArgument("handle already exists: %s", handle)
	}

	s.reserved[key] = struct{}{}

	return handle, nil
}

func (s *ContainerService) releaseHandle(handle string) {
	s.containersL.Lock()
	defer s.containersL.Unlock()

	delete(s.reserved, strings.ToLower(handle))
}

func (s *ContainerService) find(handle string) *Container {
	s.containersL.RLock()
	defer s.containersL.RUnlock()

	return s.findLocked(handle)
}

func (s *ContainerService) findLocked(handle string) *Container {
	for _, container := range s.containers {
		if strings.EqualFold(container.Handle(), handle) {
			return container
		}
	}

	return nil
}

func (s *ContainerService) writeHandle(directory ContainerDirectory, handle string) error {
	path, err := directory.MapPrivatePath(HandleFileName)
	if err != nil {
		return err
	}

	return afero.WriteFile(s.deps.FileSystem.Fs(), path, []byte(handle), 0600)
}

func (s *ContainerService) readHandle(directory ContainerDirectory) string {
	path, err := directory.MapPrivatePath(HandleFileName)
	if err != nil {
		return ""
	}

	contents, err := afero.ReadFile(s.deps.FileSystem.Fs(), path)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(contents))
}

func (s *ContainerService) systemEnvironment() constrained_runner.BaseEnvironment {
	if s.deps.SystemEnvironment != nil {
		return s.deps.SystemEnvironment
	}

	return process_runner.SystemDefaultEnvironment
}

func (s *ContainerService) ownerAccess() []file_system.UserAccess {
	access := make([]file_system.UserAccess, 0, len(s.config.Owners))
	for _, owner := range s.config.Owners {
		access = append(access, file_system.UserAccess{UserName: owner, Access: file_system.AccessReadWrite})
	}

	return access
}
