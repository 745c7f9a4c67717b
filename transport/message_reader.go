package transport

import (
	"errors"
	"fmt"
	"io"
)

const MaxFrameSize = 64 * 1024 * 1024

var ErrMalformedFrame = errors.New("malformed frame")

// ReadFrame reads one <decimal length>\r\n<payload>\r\n frame. A reader that
// ends cleanly before the first byte of a frame returns io.EOF.
func ReadFrame(reader io.Reader) ([]byte, error) {
	length, err := readHeader(reader)
	if err != nil {
		return nil, err
	}

	payload, err := readNBytes(length+2, reader)
	if err != nil {
		return nil, err
	}

	if payload[length] != '\r' || payload[length+1] != '\n' {
		return nil, fmt.Errorf("%w: missing trailing CRLF", ErrMalformedFrame)
	}

	return payload[:length], nil
}

func readHeader(reader io.Reader) (int, error) {
	chr := make([]byte, 1)

	length := 0
	digits := 0
	for {
		_, err := io.ReadFull(reader, chr)
		if err != nil {
			if err == io.EOF && digits > 0 {
				return 0, io.ErrUnexpectedEOF
			}

			return 0, err
		}

		if chr[0] == '\r' {
			break
		}

		if chr[0] < '0' || chr[0] > '9' {
			return 0, fmt.Errorf("%w: unexpected %q in length", ErrMalformedFrame, chr[0])
		}

		length *= 10
		length += int(chr[0] - '0')
		digits++

		if length > MaxFrameSize {
			return 0, fmt.Errorf("%w: frame larger than %d bytes", ErrMalformedFrame, MaxFrameSize)
		}
	}

	_, err := io.ReadFull(reader, chr)
	if err != nil {
		return 0, io.ErrUnexpectedEOF
	}

	if chr[0] != '\n' || digits == 0 {
		return 0, fmt.Errorf("%w: bad length line", ErrMalformedFrame)
	}

	return length, nil
}

func readNBytes(payloadLen int, reader io.Reader) ([]byte, error) {
	payload := make([]byte, payloadLen)

	_, err := io.ReadFull(reader, payload)
	if err == io.EOF {
		return nil, io.ErrUnexpectedEOF
	}

	if err != nil {
		return nil, err
	}

	return payload, nil
}
