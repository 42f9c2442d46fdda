package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaddht/protocol"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	m := protocol.Message{Type: protocol.TypeFindNode, Key: []byte("/target")}

	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, m))

	got, err := readMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.Key, got.Key)
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	header[0] = 0xff // absurd length, well past maxMessageSize
	buf.Write(header[:])

	_, err := readMessage(&buf)
	assert.Error(t, err)
}

func TestReadMessageRejectsTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	m := protocol.Message{Type: protocol.TypePing}
	require.NoError(t, writeMessage(&buf, m))

	truncated := buf.Bytes()[:buf.Len()-1]
	_, err := readMessage(bytes.NewReader(truncated))
	assert.Error(t, err)
}
