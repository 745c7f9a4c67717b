package port_manager

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/command_runner"
	"code.cloudfoundry.org/lager/v3"
)

type PortManager interface {
	// ReserveLocalPort lets userName listen on port and opens the firewall
	// for it. Port 0 picks any free port. Returns the reserved port.
	ReserveLocalPort(port int, userName string) (int, error)
	ReleaseLocalPort(port int, userName string) error
}

type NetshPortManager struct {
	netshPath string
	runner    command_runner.CommandRunner
	logger    lager.Logger
}

func New(netshPath string, runner command_runner.CommandRunner, logger lager.Logger) *NetshPortManager {
	return &NetshPortManager{
		netshPath: netshPath,
		runner:    runner,
		logger:    logger.Session("port-manager"),
	}
}

func DefaultNetshPath() string {
	systemRoot := os.Getenv("SystemRoot")
	if systemRoot == "" {
		systemRoot = `C:\Windows`
	}

	return filepath.Join(systemRoot, "System32", "netsh.exe")
}

func (m *NetshPortManager) ReserveLocalPort(port int, userName string) (int, error) {
	if strings.TrimSpace(userName) == "" {
		return 0, ironframe.InvalidArgument("user name is required to reserve a port")
	}

	if port < 0 || port > 65535 {
		return 0, ironframe.InvalidArgument("port %d is out of range", port)
	}

	if port == 0 {
		var err error
		port, err = FreePort()
		if err != nil {
			return 0, err
		}
	}

	rLog := m.logger.Session("reserve", lager.Data{"port": port, "user": userName})

	err := m.netsh("http", "add", "urlacl", urlACL(port), "user="+userName)
	if err != nil {
		rLog.Error("failed-to-add-urlacl", err)
		return 0, fmt.Errorf("reserve port %d for %s: %w", port, userName, err)
	}

	err = m.netsh("advfirewall", "firewall", "add", "rule",
		"name="+ruleName(port, userName),
		"dir=in",
		"action=allow",
		"protocol=TCP",
		"localport="+strconv.Itoa(port),
	)
	if err != nil {
		rLog.Error("failed-to-add-firewall-rule", err)

		undoErr := m.netsh("http", "delete", "urlacl", urlACL(port))
		if undoErr != nil {
			rLog.Error("failed-to-remove-urlacl", undoErr)
		}

		return 0, errors.Join(fmt.Errorf("open firewall for port %d: %w", port, err), undoErr)
	}

	rLog.Info("reserved")

	return port, nil
}

// ReleaseLocalPort removes both the url reservation and the firewall rule,
// attempting each even if the other fails.
func (m *NetshPortManager) ReleaseLocalPort(port int, userName string) error {
	if strings.TrimSpace(userName) == "" {
		return ironframe.InvalidArgument("user name is required to release a port")
	}

	rLog := m.logger.Session("release", lager.Data{"port": port, "user": userName})

	var errs []error

	err := m.netsh("http", "delete", "urlacl", urlACL(port))
	if err != nil {
		rLog.Error("failed-to-remove-urlacl", err)
		errs = append(errs, fmt.Errorf("remove reservation for port %d: %w", port, err))
	}

	err = m.netsh("advfirewall", "firewall", "delete", "rule", "name="+ruleName(port, userName))
	if err != nil {
		rLog.Error("failed-to-remove-firewall-rule", err)
		errs = append(errs, fmt.Errorf("remove firewall rule for port %d: %w", port, err))
	}

	return errors.Join(errs...)
}

func (m *NetshPortManager) netsh(args ...string) error {
	output := new(bytes.Buffer)

	cmd := exec.Command(m.netshPath, args...)
	cmd.Stdout = output
	cmd.Stderr = output

	err := m.runner.Run(cmd)
	if err != nil {
		return fmt.Errorf("netsh %s: %w: %s", strings.Join(args[:2], " "), err, strings.TrimSpace(output.String()))
	}

	return nil
}

// FreePort asks the OS for a currently unused TCP port.
func FreePort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

func urlACL(port int) string {
	return fmt.Sprintf("url=http://*:%d/", port)
}

func ruleName(port int, userName string) string {
	return fmt.Sprintf("%s-%d", userName, port)
}
