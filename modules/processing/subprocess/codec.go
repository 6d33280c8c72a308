package subprocess

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrMessageTooLarge is returned when a length prefix exceeds the limit.
var ErrMessageTooLarge = errors.New("subprocess: message too large")

// Request is sent to the external program for every frame.
type Request struct {
	Seq     uint64 `msgpack:"seq"`
	TraceID string `msgpack:"trace_id"`
	Width   int    `msgpack:"width"`
	Height  int    `msgpack:"height"`
	Data    []byte `msgpack:"frame_data"`
}

// Response is read back for every Request. A non-empty Error rejects the frame.
type Response struct {
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Data   []byte `msgpack:"frame_data"`
	Error  string `msgpack:"error,omitempty"`
}

// WriteMessage writes v as a 4-byte big-endian length prefix followed by its
// msgpack encoding.
func WriteMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("subprocess: marshal: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("subprocess: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("subprocess: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed msgpack message into v. Messages
// larger than maxSize bytes are rejected before allocation.
func ReadMessage(r io.Reader, v any, maxSize uint32) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("subprocess: read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if maxSize > 0 && n > maxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, n, maxSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("subprocess: read payload (%d bytes): %w", n, err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("subprocess: unmarshal: %w", err)
	}
	return nil
}
