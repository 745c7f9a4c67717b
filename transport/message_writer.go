package transport

import (
	"io"
	"strconv"
)

// WriteFrame writes payload as a single <decimal length>\r\n<payload>\r\n
// frame with one call to Write.
func WriteFrame(writer io.Writer, payload []byte) error {
	frame := make([]byte, 0, len(payload)+24)
	frame = strconv.AppendInt(frame, int64(len(payload)), 10)
	frame = append(frame, '\r', '\n')
	frame = append(frame, payload...)
	frame = append(frame, '\r', '\n')

	_, err := writer.Write(frame)
	return err
}
