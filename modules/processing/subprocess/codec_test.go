package subprocess

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Seq: 3, TraceID: "abc", Width: 2, Height: 1, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	require.NoError(t, WriteMessage(&buf, req))

	n := binary.BigEndian.Uint32(buf.Bytes()[:4])
	assert.Equal(t, int(n), buf.Len()-4)

	var got Request
	require.NoError(t, ReadMessage(&buf, &got, 0))
	assert.Equal(t, req, got)
}

func TestReadMessage_RejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Response{Data: make([]byte, 1024)}))

	var resp Response
	err := ReadMessage(&buf, &resp, 100)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestReadMessage_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Response{Width: 1}))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])

	var resp Response
	err := ReadMessage(truncated, &resp, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	err = ReadMessage(bytes.NewReader(nil), &resp, 0)
	assert.ErrorIs(t, err, io.EOF)
}
