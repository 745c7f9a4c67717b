package server_test

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"

	"code.cloudfoundry.org/lager/v3/lagertest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"code.cloudfoundry.org/ironframe/client"
	"code.cloudfoundry.org/ironframe/fake_backend"
	"code.cloudfoundry.org/ironframe/server"
)

var _ = Describe("The IronFrame server", func() {
	var (
		logger        *lagertest.TestLogger
		serverBackend *fake_backend.FakeBackend
	)

	BeforeEach(func() {
		logger = lagertest.NewTestLogger("test")
		serverBackend = fake_backend.New()
	})

	It("listens on the given address", func() {
		apiServer := server.New("tcp", "127.0.0.1:0", serverBackend, logger)
		Expect(apiServer.Start()).To(Succeed())
		defer apiServer.Stop()

		Expect(apiServer.Addr()).ToNot(BeNil())

		apiClient := client.New("tcp", apiServer.Addr().String())
		Eventually(apiClient.Ping).Should(Succeed())
	})

	It("has no address before it is started", func() {
		apiServer := server.New("tcp", "127.0.0.1:0", serverBackend, logger)
		Expect(apiServer.Addr()).To(BeNil())
	})

	It("fails to start when the address is taken", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).ToNot(HaveOccurred())
		defer listener.Close()

		apiServer := server.New("tcp", listener.Addr().String(), serverBackend, logger)
		Expect(apiServer.Start()).ToNot(Succeed())
	})

	It("deletes the socket file if it is already there", func() {
		if runtime.GOOS == "windows" {
			Skip("unix sockets are not used on windows")
		}

		tmpdir, err := os.MkdirTemp("", "ironframe-server-test")
		Expect(err).ToNot(HaveOccurred())
		defer os.RemoveAll(tmpdir)

		socketPath := filepath.Join(tmpdir, "ironframe.sock")

		Expect(os.WriteFile(socketPath, []byte("oops"), 0644)).To(Succeed())

		apiServer := server.New("unix", socketPath, serverBackend, logger)
		Expect(apiServer.Start()).To(Succeed())
		defer apiServer.Stop()

		apiClient := client.New("unix", socketPath)
		Eventually(apiClient.Ping).Should(Succeed())
	})

	Describe("stopping", func() {
		var apiServer *server.IronFrameServer

		BeforeEach(func() {
			apiServer = server.New("tcp", "127.0.0.1:0", serverBackend, logger)
			Expect(apiServer.Start()).To(Succeed())
		})

		It("stops accepting connections", func() {
			apiClient := client.New("tcp", apiServer.Addr().String())
			Eventually(apiClient.Ping).Should(Succeed())

			apiServer.Stop()

			Expect(apiClient.Ping()).ToNot(Succeed())
		})

		It("closes the backend", func() {
			apiServer.Stop()

			Expect(serverBackend.IsClosed()).To(BeTrue())
		})

		Context("when closing the backend fails", func() {
			BeforeEach(func() {
				serverBackend.CloseError = errors.New("oh no!")
			})

			It("logs the failure", func() {
				apiServer.Stop()

				Expect(logger.LogMessages()).To(ContainElement("test.ironframe-server.failed-to-close-backend"))
			})
		})

		It("does nothing if the server was never started", func() {
			unstarted := server.New("tcp", "127.0.0.1:0", serverBackend, logger)
			unstarted.Stop()

			Expect(serverBackend.IsClosed()).To(BeFalse())

			apiServer.Stop()
		})
	})
})
