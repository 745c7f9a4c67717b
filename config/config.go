package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/lager/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenNetwork      = "tcp"
	DefaultListenAddress      = "127.0.0.1:7777"
	DefaultContainerBasePath  = `C:\containers`
	DefaultContainerUserGroup = "IronFrameUsers"
	DefaultHostStartupTimeout = 5 * time.Second
	DefaultMemoryPollInterval = time.Second
	DefaultLogLevel           = "info"
)

type Config struct {
	ListenNetwork string `yaml:"listen_network"`
	ListenAddress string `yaml:"listen_address"`

	ContainerBasePath  string `yaml:"container_base_path"`
	ContainerUserGroup string `yaml:"container_user_group"`

	// ContainerHostPath defaults to the host executable next to the
	// running daemon when empty.
	ContainerHostPath  string        `yaml:"container_host_path"`
	HostStartupTimeout time.Duration `yaml:"host_startup_timeout"`

	MemoryPollInterval time.Duration `yaml:"memory_poll_interval"`

	LogLevel string `yaml:"log_level"`

	// Restore rebuilds the containers found under the base path at startup.
	Restore bool `yaml:"restore"`
}

func Default() Config {
	return Config{
		ListenNetwork:      DefaultListenNetwork,
		ListenAddress:      DefaultListenAddress,
		ContainerBasePath:  DefaultContainerBasePath,
		ContainerUserGroup: DefaultContainerUserGroup,
		HostStartupTimeout: DefaultHostStartupTimeout,
		MemoryPollInterval: DefaultMemoryPollInterval,
		LogLevel:           DefaultLogLevel,
		Restore:            true,
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	err = yaml.Unmarshal(contents, &config)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	return config, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.ListenAddress == "" {
		errs = append(errs, ironframe.InvalidArgument("listen_address must be set"))
	}

	if c.ContainerBasePath == "" {
		errs = append(errs, ironframe.InvalidArgument("container_base_path must be set"))
	}

	if c.HostStartupTimeout <= 0 {
		errs = append(errs, ironframe.InvalidArgument("host_startup_timeout must be positive, got %s", c.HostStartupTimeout))
	}

	if c.MemoryPollInterval <= 0 {
		errs = append(errs, ironframe.InvalidArgument("memory_poll_interval must be positive, got %s", c.MemoryPollInterval))
	}

	if _, err := lager.LogLevelFromString(c.LogLevel); err != nil {
		errs = append(errs, ironframe.InvalidArgument("log_level: %s", err))
	}

	return errors.Join(errs...)
}

func (c Config) LagerLogLevel() lager.LogLevel {
	level, err := lager.LogLevelFromString(c.LogLevel)
	if err != nil {
		return lager.INFO
	}

	return level
}
