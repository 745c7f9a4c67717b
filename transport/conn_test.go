package transport_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"code.cloudfoundry.org/lager/v3/lagertest"
	"github.com/fxamacker/cbor/v2"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	"code.cloudfoundry.org/ironframe/transport"
)

type echoParams struct {
	Message string
}

type missingError struct {
	key string
}

func (e missingError) Error() string {
	return "missing " + e.key
}

func (e missingError) AsRPCError() *transport.RPCError {
	return &transport.RPCError{Code: transport.CodeProcessNotFound, Message: "missing", Data: e.key}
}

var _ = Describe("Conn", func() {
	var (
		clientConn *transport.Conn
		serverConn *transport.Conn

		serverWriter *io.PipeWriter
	)

	BeforeEach(func() {
		logger := lagertest.NewTestLogger("test")

		clientToServerR, clientToServerW := io.Pipe()
		serverToClientR, serverToClientW := io.Pipe()

		serverWriter = serverToClientW

		clientConn = transport.NewConn(serverToClientR, clientToServerW, logger)
		serverConn = transport.NewConn(clientToServerR, serverToClientW, logger)
	})

	AfterEach(func() {
		clientConn.Close()
		serverConn.Close()
	})

	Describe("Call", func() {
		BeforeEach(func() {
			serverConn.HandleRequests(func(method string, params cbor.RawMessage) (interface{}, error) {
				switch method {
				case "Echo":
					var p echoParams
					err := transport.Unmarshal(params, &p)
					if err != nil {
						return nil, err
					}

					return echoParams{Message: "echo: " + p.Message}, nil
				case "Fail":
					return nil, errors.New("oh no")
				case "Invalid":
					return nil, &transport.RPCError{Code: transport.CodeInvalidParams, Message: "bad params"}
				case "Missing":
					return nil, fmt.Errorf("looking up: %w", missingError{key: "some-key"})
				default:
					return nil, &transport.RPCError{Code: transport.CodeMethodNotFound, Message: "method not found"}
				}
			})

			serverConn.Start()
			clientConn.Start()
		})

		It("returns the handler's result", func() {
			var result echoParams
			err := clientConn.Call(context.Background(), "Echo", echoParams{Message: "hi"}, &result)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Message).To(Equal("echo: hi"))
		})

		It("correlates concurrent calls", func() {
			wg := new(sync.WaitGroup)

			for _, message := range []string{"a", "b", "c", "d", "e"} {
				wg.Add(1)

				go func(message string) {
					defer GinkgoRecover()
					defer wg.Done()

					var result echoParams
					err := clientConn.Call(context.Background(), "Echo", echoParams{Message: message}, &result)
					Expect(err).ToNot(HaveOccurred())
					Expect(result.Message).To(Equal("echo: " + message))
				}(message)
			}

			wg.Wait()
		})

		It("returns handler errors as internal errors", func() {
			err := clientConn.Call(context.Background(), "Fail", nil, nil)

			var rpcErr *transport.RPCError
			Expect(errors.As(err, &rpcErr)).To(BeTrue())
			Expect(rpcErr.Code).To(Equal(transport.CodeInternalError))
			Expect(rpcErr.Message).To(Equal("oh no"))
		})

		It("passes RPC errors through unchanged", func() {
			err := clientConn.Call(context.Background(), "Invalid", nil, nil)

			var rpcErr *transport.RPCError
			Expect(errors.As(err, &rpcErr)).To(BeTrue())
			Expect(rpcErr.Code).To(Equal(transport.CodeInvalidParams))
		})

		It("lets errors choose their own code", func() {
			err := clientConn.Call(context.Background(), "Missing", nil, nil)

			var rpcErr *transport.RPCError
			Expect(errors.As(err, &rpcErr)).To(BeTrue())
			Expect(rpcErr.Code).To(Equal(transport.CodeProcessNotFound))
			Expect(rpcErr.Data).To(Equal("some-key"))
		})

		It("gives up when the context is done", func() {
			blocked := make(chan struct{})
			defer close(blocked)

			serverConn.HandleRequests(func(string, cbor.RawMessage) (interface{}, error) {
				<-blocked
				return nil, nil
			})

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			err := clientConn.Call(ctx, "Echo", nil, nil)
			Expect(err).To(Equal(context.DeadlineExceeded))
		})

		Context("when the other side goes away", func() {
			It("fails pending calls with ErrDisconnected", func() {
				blocked := make(chan struct{})
				defer close(blocked)

				serverConn.HandleRequests(func(string, cbor.RawMessage) (interface{}, error) {
					<-blocked
					return nil, nil
				})

				errs := make(chan error, 1)
				go func() {
					errs <- clientConn.Call(context.Background(), "Echo", nil, nil)
				}()

				Consistently(errs, 100*time.Millisecond).ShouldNot(Receive())

				serverWriter.Close()

				Eventually(errs).Should(Receive(MatchError(transport.ErrDisconnected)))
				Eventually(clientConn.Done()).Should(BeClosed())
			})

			It("fails later calls immediately", func() {
				serverWriter.Close()
				Eventually(clientConn.Done()).Should(BeClosed())

				err := clientConn.Call(context.Background(), "Echo", nil, nil)
				Expect(err).To(MatchError(transport.ErrDisconnected))
			})
		})
	})

	Context("when the peer answers a call more than once", func() {
		var (
			logger *lagertest.TestLogger
			conn   *transport.Conn
		)

		BeforeEach(func() {
			logger = lagertest.NewTestLogger("test")

			requestsR, requestsW := io.Pipe()
			responsesR, responsesW := io.Pipe()

			conn = transport.NewConn(responsesR, requestsW, logger)
			conn.Start()

			go func() {
				reader := bufio.NewReader(requestsR)

				for {
					request, err := transport.ReadEnvelope(reader)
					if err != nil {
						return
					}

					response := transport.Envelope{Kind: transport.KindResponse, ID: request.ID, Method: request.Method}
					for i := 0; i < 3; i++ {
						if transport.WriteEnvelope(responsesW, response) != nil {
							return
						}
					}
				}
			}()
		})

		AfterEach(func() {
			conn.Close()
		})

		It("drops the extra answers and keeps reading", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			Expect(conn.Call(ctx, "Echo", nil, nil)).To(Succeed())
			Expect(conn.Call(ctx, "Echo", nil, nil)).To(Succeed())
			Expect(conn.Call(ctx, "Echo", nil, nil)).To(Succeed())

			Eventually(logger).Should(gbytes.Say("duplicate-response|unmatched-response"))
		})
	})

	Context("when no request handler is registered", func() {
		BeforeEach(func() {
			serverConn.Start()
			clientConn.Start()
		})

		It("responds with method not found", func() {
			err := clientConn.Call(context.Background(), "Anything", nil, nil)

			var rpcErr *transport.RPCError
			Expect(errors.As(err, &rpcErr)).To(BeTrue())
			Expect(rpcErr.Code).To(Equal(transport.CodeMethodNotFound))
		})
	})

	Describe("Notify", func() {
		var received chan string

		BeforeEach(func() {
			received = make(chan string, 10)

			clientConn.HandleEvents(func(topic string, payload cbor.RawMessage) {
				var p echoParams
				if transport.Unmarshal(payload, &p) == nil {
					received <- topic + ":" + p.Message
				}
			})

			serverConn.Start()
			clientConn.Start()
		})

		It("delivers events in order", func() {
			Expect(serverConn.Notify("data", echoParams{Message: "1"})).To(Succeed())
			Expect(serverConn.Notify("data", echoParams{Message: "2"})).To(Succeed())
			Expect(serverConn.Notify("data", echoParams{Message: "3"})).To(Succeed())

			Eventually(received).Should(Receive(Equal("data:1")))
			Eventually(received).Should(Receive(Equal("data:2")))
			Eventually(received).Should(Receive(Equal("data:3")))
		})
	})

	Describe("Close", func() {
		It("closes Done and records the reason", func() {
			clientConn.Start()

			Expect(clientConn.Err()).To(BeNil())

			clientConn.Close()

			Expect(clientConn.Done()).To(BeClosed())
			Expect(clientConn.Err()).To(Equal(transport.ErrDisconnected))
		})

		It("rejects notifications afterwards", func() {
			clientConn.Close()

			err := clientConn.Notify("data", echoParams{})
			Expect(err).To(MatchError(transport.ErrDisconnected))
		})

		It("ends the peer's reader", func() {
			serverConn.Start()

			clientConn.Close()

			Eventually(serverConn.Done()).Should(BeClosed())
			Expect(serverConn.Err()).To(Equal(io.EOF))
		})
	})
})
