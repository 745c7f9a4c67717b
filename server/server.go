package server

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"code.cloudfoundry.org/ironframe"
	"code.cloudfoundry.org/ironframe/routes"
	"code.cloudfoundry.org/lager/v3"
	"github.com/tedsuo/rata"
)

type IronFrameServer struct {
	logger lager.Logger

	server        http.Server
	listenNetwork string
	listenAddr    string

	backend ironframe.Backend

	listener net.Listener
	handling *sync.WaitGroup

	started  bool
	stopping chan bool

	conns map[net.Conn]net.Conn
	mu    sync.Mutex

	destroys  map[string]struct{}
	destroysL *sync.Mutex
}

func New(
	listenNetwork, listenAddr string,
	backend ironframe.Backend,
	logger lager.Logger,
) *IronFrameServer {
	s := &IronFrameServer{
		logger: logger.Session("ironframe-server"),

		listenNetwork: listenNetwork,
		listenAddr:    listenAddr,

		backend: backend,

		stopping: make(chan bool),

		handling: new(sync.WaitGroup),
		conns:    make(map[net.Conn]net.Conn),

		destroys:  make(map[string]struct{}),
		destroysL: new(sync.Mutex),
	}

	handlers := map[string]http.Handler{
		routes.Ping:               http.HandlerFunc(s.handlePing),
		routes.List:               http.HandlerFunc(s.handleList),
		routes.Create:             http.HandlerFunc(s.handleCreate),
		routes.Info:               http.HandlerFunc(s.handleInfo),
		routes.Destroy:            http.HandlerFunc(s.handleDestroy),
		routes.Stop:               http.HandlerFunc(s.handleStop),
		routes.LimitCPU:           http.HandlerFunc(s.handleLimitCPU),
		routes.CurrentCPULimit:    http.HandlerFunc(s.handleCurrentCPULimit),
		routes.LimitMemory:        http.HandlerFunc(s.handleLimitMemory),
		routes.CurrentMemoryLimit: http.HandlerFunc(s.handleCurrentMemoryLimit),
		routes.NetIn:              http.HandlerFunc(s.handleNetIn),
		routes.Run:                http.HandlerFunc(s.handleRun),
		routes.Process:            http.HandlerFunc(s.handleProcess),
		routes.Properties:         http.HandlerFunc(s.handleProperties),
		routes.Property:           http.HandlerFunc(s.handleProperty),
		routes.SetProperty:        http.HandlerFunc(s.handleSetProperty),
		routes.RemoveProperty:     http.HandlerFunc(s.handleRemoveProperty),
	}

	mux, err := rata.NewRouter(routes.Routes, handlers)
	if err != nil {
		logger.Fatal("failed-to-initialize-rata", err)
	}

	conLogger := logger.Session("connection")

	s.server = http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mux.ServeHTTP(w, r)
		}),

		ConnState: func(conn net.Conn, state http.ConnState) {
			switch state {
			case http.StateNew:
				conLogger.Debug("open", lager.Data{"local_addr": conn.LocalAddr(), "remote_addr": conn.RemoteAddr()})
				s.handling.Add(1)
			case http.StateActive:
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			case http.StateIdle:
				select {
				case <-s.stopping:
					conn.Close()
				default:
					s.mu.Lock()
					s.conns[conn] = conn
					s.mu.Unlock()
				}
			case http.StateHijacked, http.StateClosed:
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conLogger.Debug("closed", lager.Data{"local_addr": conn.LocalAddr(), "remote_addr": conn.RemoteAddr()})
				s.handling.Done()
			}
		},
	}

	return s
}

func (s *IronFrameServer) Start() error {
	s.started = true

	err := s.removeExistingSocket()
	if err != nil {
		return err
	}

	listener, err := net.Listen(s.listenNetwork, s.listenAddr)
	if err != nil {
		return err
	}

	s.listener = listener

	s.logger.Info("listening", lager.Data{"addr": listener.Addr().String()})

	go s.server.Serve(listener)

	return nil
}

// Addr is the address the server is listening on, once started.
func (s *IronFrameServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop waits for in-flight requests, then closes the backend.
func (s *IronFrameServer) Stop() {
	if !s.started {
		return
	}

	close(s.stopping)

	s.listener.Close()

	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[net.Conn]net.Conn)
	s.mu.Unlock()

	for _, c := range conns {
		s.logger.Debug("closing-idle", lager.Data{
			"addr": c.RemoteAddr(),
		})

		c.Close()
	}

	s.logger.Info("waiting-for-connections-to-close")
	s.handling.Wait()

	s.logger.Info("closing-backend")
	err := s.backend.Close()
	if err != nil {
		s.logger.Error("failed-to-close-backend", err)
	}

	s.logger.Info("stopped")
}

func (s *IronFrameServer) removeExistingSocket() error {
	if s.listenNetwork != "unix" {
		return nil
	}

	if _, err := os.Stat(s.listenAddr); os.IsNotExist(err) {
		return nil
	}

	err := os.Remove(s.listenAddr)

	if err != nil {
		return fmt.Errorf("error deleting existing socket: %s", err)
	}

	return nil
}
