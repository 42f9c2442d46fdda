package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"kaddht/protocol"
)

// maxMessageSize bounds the length prefix so a corrupt or hostile peer
// can't make readMessage allocate an unbounded buffer. A find-node reply
// carrying a full bucket's worth of closer peers with several addresses
// each still sits comfortably under this.
const maxMessageSize = 4 << 20

// writeMessage frames m as [4B big-endian length][protocol.Marshal(m)] and
// writes it in one call. One frame per stream: each RPC opens a stream,
// writes exactly one frame, and the peer replies with exactly one frame
// before either side closes it, generalizing frame/frame.go's
// [Type][Length][Payload] layout to a 4-byte length (a closer-peers list
// can run well past frame.go's original uint16 cap) and dropping the Type
// byte since protocol.Message already self-describes its Type.
func writeMessage(w io.Writer, m protocol.Message) error {
	body := protocol.Marshal(m)
	if len(body) > maxMessageSize {
		return fmt.Errorf("transport: message too large (%d bytes)", len(body))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("transport: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("transport: write body: %w", err)
	}
	return nil
}

// readMessage is writeMessage's inverse.
func readMessage(r io.Reader) (protocol.Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return protocol.Message{}, fmt.Errorf("transport: read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > maxMessageSize {
		return protocol.Message{}, fmt.Errorf("transport: message too large (%d bytes)", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return protocol.Message{}, fmt.Errorf("transport: read body: %w", err)
	}

	m, err := protocol.Unmarshal(body)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("transport: decode message: %w", err)
	}
	return m, nil
}
