package main

import (
	"fmt"
	"os"

	"code.cloudfoundry.org/clock"
	"code.cloudfoundry.org/ironframe/command_runner"
	"code.cloudfoundry.org/ironframe/container_host"
	"code.cloudfoundry.org/ironframe/container_host/daemon"
	"code.cloudfoundry.org/ironframe/process_runner"
	"code.cloudfoundry.org/ironframe/transport"
	"code.cloudfoundry.org/lager/v3"
	"github.com/spf13/pflag"
)

var logFile = pflag.String(
	"log-file",
	"",
	"file to append logs to; logs are discarded when empty",
)

func main() {
	pflag.Parse()

	if pflag.NArg() == 0 {
		exitWithError("Must specify container-id as the first argument.")
	}

	containerID := pflag.Arg(0)

	disableErrorDialogs()

	logger, closeLog, err := newLogger(*logFile)
	if err != nil {
		exitWithError(err.Error())
	}
	defer closeLog()

	logger = logger.WithData(lager.Data{"container-id": containerID})

	// stdout and stdin carry framed messages; stderr carries only the
	// status line
	conn := transport.NewConn(os.Stdin, os.Stdout, logger)

	runner := process_runner.New(command_runner.New(), clock.NewClock(), logger)
	d := daemon.New(runner, conn, logger)

	conn.HandleRequests(d.Handle)
	conn.Start()

	fmt.Fprintln(os.Stderr, container_host.StatusOK)

	logger.Info("serving")

	<-conn.Done()

	logger.Info("connection-closed", lager.Data{"reason": fmt.Sprintf("%v", conn.Err())})

	err = d.StopAllProcesses(0)
	if err != nil {
		logger.Error("failed-to-stop-processes", err)
	}
}

func newLogger(path string) (lager.Logger, func(), error) {
	logger := lager.NewLogger("containerhost")

	if path == "" {
		return logger, func() {}, nil
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, err
	}

	logger.RegisterSink(lager.NewWriterSink(file, lager.DEBUG))

	return logger, func() { file.Close() }, nil
}

func exitWithError(message string) {
	fmt.Fprintln(os.Stderr, message)
	os.Exit(1)
}
