package main_test

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/lager/v3/lagertest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/gexec"

	"code.cloudfoundry.org/ironframe/protocol"
	"code.cloudfoundry.org/ironframe/transport"
)

var _ = Describe("containerhost", func() {
	It("exits with an error when no container id is given", func() {
		session, err := gexec.Start(exec.Command(hostPath), GinkgoWriter, GinkgoWriter)
		Expect(err).ToNot(HaveOccurred())

		Eventually(session).Should(gexec.Exit(1))
		Expect(session.Err).To(gbytes.Say("Must specify container-id as the first argument."))
	})

	Context("with a container id", func() {
		var (
			cmd    *exec.Cmd
			conn   *transport.Conn
			stderr *bufio.Reader
			logDir string
		)

		BeforeEach(func() {
			var err error
			logDir, err = os.MkdirTemp("", "containerhost")
			Expect(err).ToNot(HaveOccurred())

			cmd = exec.Command(hostPath, "--log-file", filepath.Join(logDir, "host.log"), "some-id")

			stdin, err := cmd.StdinPipe()
			Expect(err).ToNot(HaveOccurred())

			stdout, err := cmd.StdoutPipe()
			Expect(err).ToNot(HaveOccurred())

			stderrPipe, err := cmd.StderrPipe()
			Expect(err).ToNot(HaveOccurred())
			stderr = bufio.NewReader(stderrPipe)

			Expect(cmd.Start()).To(Succeed())

			conn = transport.NewConn(stdout, stdin, lagertest.NewTestLogger("test"))
			conn.Start()
		})

		AfterEach(func() {
			conn.Close()
			cmd.Process.Kill()
			cmd.Wait()
			os.RemoveAll(logDir)
		})

		It("reports OK on stderr", func() {
			line, err := stderr.ReadString('\n')
			Expect(err).ToNot(HaveOccurred())
			Expect(line).To(MatchRegexp(`^OK\r?\n$`))
		})

		It("answers requests on stdin and stdout", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			Expect(conn.Call(ctx, protocol.MethodPing, struct{}{}, nil)).To(Succeed())

			var result protocol.FindProcessByIdResult
			Expect(conn.Call(ctx, protocol.MethodFindProcessById, protocol.FindProcessByIdParams{ID: 1}, &result)).To(Succeed())
			Expect(result.Key).To(BeEmpty())
		})

		It("exits once stdin is closed", func() {
			_, err := stderr.ReadString('\n')
			Expect(err).ToNot(HaveOccurred())

			exited := make(chan error, 1)
			conn.Close()

			go func() {
				exited <- cmd.Wait()
			}()

			Eventually(exited, 10*time.Second).Should(Receive(BeNil()))

			Expect(filepath.Join(logDir, "host.log")).To(BeAnExistingFile())
		})
	})
})
