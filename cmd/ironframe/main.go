package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/ironframe/command_runner"
	"code.cloudfoundry.org/ironframe/config"
	"code.cloudfoundry.org/ironframe/container_host"
	"code.cloudfoundry.org/ironframe/container_service"
	"code.cloudfoundry.org/ironframe/file_system"
	"code.cloudfoundry.org/ironframe/jobobject"
	"code.cloudfoundry.org/ironframe/metrics"
	"code.cloudfoundry.org/ironframe/port_manager"
	"code.cloudfoundry.org/ironframe/process_runner"
	"code.cloudfoundry.org/ironframe/server"
	"code.cloudfoundry.org/ironframe/user_manager"
	"code.cloudfoundry.org/lager/v3"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

var configPath = pflag.String(
	"config",
	"",
	"YAML configuration file; defaults apply when empty",
)

var listenNetwork = pflag.String(
	"listen-network",
	config.DefaultListenNetwork,
	"how to listen on the address (unix, tcp, etc.)",
)

var listenAddr = pflag.String(
	"listen-address",
	config.DefaultListenAddress,
	"address to listen on",
)

var containerBasePath = pflag.String(
	"container-base-path",
	config.DefaultContainerBasePath,
	"directory in which to store containers",
)

var logLevel = pflag.String(
	"log-level",
	config.DefaultLogLevel,
	"minimum level to log (debug, info, error or fatal)",
)

var restore = pflag.Bool(
	"restore",
	true,
	"rebuild the containers found in the container base path",
)

func main() {
	pflag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := lager.NewLogger("ironframe")
	sink := lager.NewReconfigurableSink(lager.NewWriterSink(os.Stdout, lager.DEBUG), cfg.LagerLogLevel())
	logger.RegisterSink(sink)

	err = metrics.RegisterViews()
	if err != nil {
		logger.Fatal("failed-to-register-views", err)
	}

	service, err := newContainerService(cfg, logger)
	if err != nil {
		logger.Fatal("failed-to-build-container-service", err)
	}

	err = service.Setup()
	if err != nil {
		logger.Fatal("failed-to-set-up-container-service", err)
	}

	if cfg.Restore {
		err = service.RestoreFromContainerBasePath()
		if err != nil {
			logger.Error("failed-to-restore-containers", err)
		}

		logger.Info("restored", lager.Data{"containers": len(service.GetContainerHandles())})
	}

	ironFrameServer := server.New(cfg.ListenNetwork, cfg.ListenAddress, service, logger)

	err = ironFrameServer.Start()
	if err != nil {
		logger.Fatal("failed-to-start-server", err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("started", lager.Data{
		"network": cfg.ListenNetwork,
		"addr":    ironFrameServer.Addr().String(),
	})

	sig := <-signals

	logger.Info("stopping", lager.Data{"signal": sig.String()})

	ironFrameServer.Stop()

	os.Exit(0)
}

// loadConfig applies the flags that were set over the configuration file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}

	if pflag.CommandLine.Changed("listen-network") {
		cfg.ListenNetwork = *listenNetwork
	}

	if pflag.CommandLine.Changed("listen-address") {
		cfg.ListenAddress = *listenAddr
	}

	if pflag.CommandLine.Changed("container-base-path") {
		cfg.ContainerBasePath = *containerBasePath
	}

	if pflag.CommandLine.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}

	if pflag.CommandLine.Changed("restore") {
		cfg.Restore = *restore
	}

	return cfg, cfg.Validate()
}

func newContainerService(cfg config.Config, logger lager.Logger) (*container_service.ContainerService, error) {
	owners, err := file_system.DefaultOwners()
	if err != nil {
		return nil, err
	}

	hostPath := cfg.ContainerHostPath
	if hostPath == "" {
		hostPath = container_host.DefaultHostExePath()
	}

	clk := clock.NewClock()
	commandRunner := command_runner.New()
	fileSystem := file_system.New(afero.NewOsFs(), file_system.NewACLApplier(), logger)

	hostService := container_host.NewService(
		fileSystem,
		process_runner.New(commandRunner, clk, logger),
		container_host.NewDependencyHelper(hostPath),
		cfg.HostStartupTimeout,
		clk,
		logger,
	)

	return container_service.NewContainerService(
		container_service.Config{
			ContainerBasePath:  cfg.ContainerBasePath,
			UserGroup:          cfg.ContainerUserGroup,
			Owners:             owners,
			MemoryPollInterval: cfg.MemoryPollInterval,
		},
		container_service.Dependencies{
			FileSystem:    fileSystem,
			UserManager:   user_manager.New(logger),
			Desktop:       user_manager.NewDesktopPermissionManager(),
			PortManager:   port_manager.New(port_manager.DefaultNetshPath(), commandRunner, logger),
			ProcessHelper: process_runner.NewProcessHelper(),
			HostService:   hostService,
			Clock:         clk,

			NewProcessRunner: func(logger lager.Logger) process_runner.ProcessRunner {
				return process_runner.New(commandRunner, clk, logger)
			},
			NewJobObject:      newJobObject,
			SystemEnvironment: process_runner.SystemDefaultEnvironment,
		},
		logger,
	), nil
}

func newJobObject(name string) (jobobject.JobObject, error) {
	job, err := jobobject.New(name)
	if err != nil {
		return nil, err
	}

	return job, nil
}
