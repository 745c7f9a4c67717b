package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"code.cloudfoundry.org/lager/v3"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var ErrDisconnected = errors.New("transport disconnected")

// RequestHandler serves one incoming request. Returning an *RPCError sends
// it to the caller as-is; any other error is sent as an internal error.
type RequestHandler func(method string, params cbor.RawMessage) (interface{}, error)

// EventHandler receives incoming events in the order they were read.
type EventHandler func(topic string, payload cbor.RawMessage)

type Conn struct {
	reader  *bufio.Reader
	writer  io.Writer
	closers []io.Closer

	logger lager.Logger

	writeL sync.Mutex

	pending  map[string]chan Envelope
	pendingL sync.Mutex

	requestHandler RequestHandler
	eventHandler   EventHandler
	handlersL      sync.RWMutex

	done      chan struct{}
	doneOnce  sync.Once
	startOnce sync.Once
	reason    error
}

// NewConn builds a connection reading envelopes from r and writing them to
// w. If r or w are also io.Closers they are closed by Close.
func NewConn(r io.Reader, w io.Writer, logger lager.Logger) *Conn {
	conn := &Conn{
		reader: bufio.NewReader(r),
		writer: w,
		logger: logger.Session("conn"),

		pending: make(map[string]chan Envelope),
		done:    make(chan struct{}),
	}

	if closer, ok := w.(io.Closer); ok {
		conn.closers = append(conn.closers, closer)
	}

	if closer, ok := r.(io.Closer); ok {
		conn.closers = append(conn.closers, closer)
	}

	return conn
}

func (c *Conn) HandleRequests(handler RequestHandler) {
	c.handlersL.Lock()
	defer c.handlersL.Unlock()

	c.requestHandler = handler
}

func (c *Conn) HandleEvents(handler EventHandler) {
	c.handlersL.Lock()
	defer c.handlersL.Unlock()

	c.eventHandler = handler
}

// Start begins reading from the connection. It returns immediately.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		go c.readLoop()
	})
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is still up.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.reason
	default:
		return nil
	}
}

func (c *Conn) Call(ctx context.Context, method string, params interface{}, result interface{}) error {
	body, err := Marshal(params)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	responses := make(chan Envelope, 1)

	c.pendingL.Lock()
	select {
	case <-c.done:
		c.pendingL.Unlock()
		return ErrDisconnected
	default:
	}
	c.pending[id] = responses
	c.pendingL.Unlock()

	defer func() {
		c.pendingL.Lock()
		delete(c.pending, id)
		c.pendingL.Unlock()
	}()

	err = c.send(Envelope{
		Kind:   KindRequest,
		ID:     id,
		Method: method,
		Body:   body,
	})
	if err != nil {
		return err
	}

	select {
	case response := <-responses:
		return decodeResponse(response, result)
	case <-c.done:
		select {
		case response := <-responses:
			return decodeResponse(response, result)
		default:
			return ErrDisconnected
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) Notify(topic string, payload interface{}) error {
	body, err := Marshal(payload)
	if err != nil {
		return err
	}

	return c.send(Envelope{
		Kind:   KindEvent,
		Method: topic,
		Body:   body,
	})
}

func (c *Conn) Close() error {
	c.disconnect(ErrDisconnected)

	var errs []error
	for _, closer := range c.closers {
		err := closer.Close()
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (c *Conn) send(envelope Envelope) error {
	select {
	case <-c.done:
		return ErrDisconnected
	default:
	}

	c.writeL.Lock()
	defer c.writeL.Unlock()

	err := WriteEnvelope(c.writer, envelope)
	if err != nil {
		c.logger.Error("failed-to-write", err, lager.Data{"kind": envelope.Kind.String(), "method": envelope.Method})
		return fmt.Errorf("%w: %s", ErrDisconnected, err)
	}

	return nil
}

func (c *Conn) readLoop() {
	for {
		envelope, err := ReadEnvelope(c.reader)
		if err != nil {
			if err != io.EOF {
				c.logger.Error("failed-to-read", err)
			}

			c.disconnect(err)
			return
		}

		switch envelope.Kind {
		case KindResponse:
			c.deliver(envelope)
		case KindRequest:
			go c.serve(envelope)
		case KindEvent:
			c.handlersL.RLock()
			handler := c.eventHandler
			c.handlersL.RUnlock()

			if handler != nil {
				handler(envelope.Method, envelope.Body)
			}
		default:
			c.logger.Info("ignoring-envelope", lager.Data{"kind": envelope.Kind.String()})
		}
	}
}

func (c *Conn) deliver(response Envelope) {
	c.pendingL.Lock()
	responses, found := c.pending[response.ID]
	c.pendingL.Unlock()

	if !found {
		c.logger.Info("unmatched-response", lager.Data{"id": response.ID})
		return
	}

	// a call takes one response; a second with the same id is dropped so
	// the read loop never waits on it
	select {
	case responses <- response:
	default:
		c.logger.Info("duplicate-response", lager.Data{"id": response.ID, "method": response.Method})
	}
}

func (c *Conn) serve(request Envelope) {
	c.handlersL.RLock()
	handler := c.requestHandler
	c.handlersL.RUnlock()

	response := Envelope{
		Kind:   KindResponse,
		ID:     request.ID,
		Method: request.Method,
	}

	if handler == nil {
		response.Error = &RPCError{Code: CodeMethodNotFound, Message: "method not found", Data: request.Method}
	} else {
		result, err := handler(request.Method, request.Body)
		if err != nil {
			response.Error = asRPCError(err)
		} else {
			response.Body, err = Marshal(result)
			if err != nil {
				response.Error = &RPCError{Code: CodeInternalError, Message: "failed to encode result", Data: err.Error()}
			}
		}
	}

	err := c.send(response)
	if err != nil {
		c.logger.Error("failed-to-respond", err, lager.Data{"method": request.Method})
	}
}

func (c *Conn) disconnect(reason error) {
	c.doneOnce.Do(func() {
		c.pendingL.Lock()
		c.reason = reason
		close(c.done)
		c.pendingL.Unlock()
	})
}

func decodeResponse(response Envelope, result interface{}) error {
	if response.Error != nil {
		return response.Error
	}

	if result == nil || len(response.Body) == 0 {
		return nil
	}

	return Unmarshal(response.Body, result)
}

func asRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var coded Coded
	if errors.As(err, &coded) {
		return coded.AsRPCError()
	}

	return &RPCError{Code: CodeInternalError, Message: err.Error()}
}
