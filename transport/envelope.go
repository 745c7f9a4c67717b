package transport

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

type Kind uint8

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeProcessNotFound answers a request naming a process key the host
	// does not track. Data carries the key.
	CodeProcessNotFound = -32001
)

// Envelope is the unit carried in each frame. Requests and responses share
// an ID; events carry their topic in Method.
type Envelope struct {
	Kind   Kind            `cbor:"1,keyasint"`
	ID     string          `cbor:"2,keyasint,omitempty"`
	Method string          `cbor:"3,keyasint,omitempty"`
	Body   cbor.RawMessage `cbor:"4,keyasint,omitempty"`
	Error  *RPCError       `cbor:"5,keyasint,omitempty"`
}

// Coded errors choose the RPCError a handler failure is sent as. Any other
// error is sent as CodeInternalError.
type Coded interface {
	AsRPCError() *RPCError
}

type RPCError struct {
	Code    int    `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Data    string `cbor:"3,keyasint,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.Code, e.Data)
	}

	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}

func WriteEnvelope(writer io.Writer, envelope Envelope) error {
	payload, err := Marshal(envelope)
	if err != nil {
		return err
	}

	return WriteFrame(writer, payload)
}

func ReadEnvelope(reader io.Reader) (Envelope, error) {
	var envelope Envelope

	payload, err := ReadFrame(reader)
	if err != nil {
		return envelope, err
	}

	err = Unmarshal(payload, &envelope)
	if err != nil {
		return envelope, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}

	return envelope, nil
}
