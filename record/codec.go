package record

import (
	"encoding/binary"
	"fmt"
	"time"

	"kaddht/peer"
)

// Marshal encodes r as a length-prefixed byte string, the same manual
// big-endian framing style the wire protocol uses: every variable-length
// field is preceded by its own length so Unmarshal never has to guess.
//
//	[2B KeyLen][Key][4B ValueLen][Value][2B TimeLen][RFC3339Nano time]
//	[1B HasAuthor][32B Author (if HasAuthor)][2B SigLen][Signature]
func Marshal(r Record) []byte {
	timeStr := []byte(r.TimeReceived.UTC().Format(time.RFC3339Nano))

	size := 2 + len(r.Key) + 4 + len(r.Value) + 2 + len(timeStr) + 1
	if r.HasAuthor() {
		size += peer.PeerIDLength
	}
	size += 2 + len(r.Signature)

	out := make([]byte, size)
	pos := 0

	binary.BigEndian.PutUint16(out[pos:], uint16(len(r.Key)))
	pos += 2
	pos += copy(out[pos:], r.Key)

	binary.BigEndian.PutUint32(out[pos:], uint32(len(r.Value)))
	pos += 4
	pos += copy(out[pos:], r.Value)

	binary.BigEndian.PutUint16(out[pos:], uint16(len(timeStr)))
	pos += 2
	pos += copy(out[pos:], timeStr)

	if r.HasAuthor() {
		out[pos] = 1
		pos++
		pos += copy(out[pos:], r.Author[:])
	} else {
		out[pos] = 0
		pos++
	}

	binary.BigEndian.PutUint16(out[pos:], uint16(len(r.Signature)))
	pos += 2
	copy(out[pos:], r.Signature)

	return out
}

// Unmarshal is Marshal's inverse.
func Unmarshal(b []byte) (Record, error) {
	var r Record
	pos := 0

	keyLen, pos2, err := readU16Len(b, pos)
	if err != nil {
		return r, err
	}
	pos = pos2
	if pos+int(keyLen) > len(b) {
		return r, fmt.Errorf("record: truncated key")
	}
	r.Key = append([]byte(nil), b[pos:pos+int(keyLen)]...)
	pos += int(keyLen)

	if pos+4 > len(b) {
		return r, fmt.Errorf("record: truncated value length")
	}
	valueLen := binary.BigEndian.Uint32(b[pos:])
	pos += 4
	if pos+int(valueLen) > len(b) {
		return r, fmt.Errorf("record: truncated value")
	}
	r.Value = append([]byte(nil), b[pos:pos+int(valueLen)]...)
	pos += int(valueLen)

	timeLen, pos2, err := readU16Len(b, pos)
	if err != nil {
		return r, err
	}
	pos = pos2
	if pos+int(timeLen) > len(b) {
		return r, fmt.Errorf("record: truncated time")
	}
	t, err := time.Parse(time.RFC3339Nano, string(b[pos:pos+int(timeLen)]))
	if err != nil {
		return r, fmt.Errorf("record: bad timestamp: %w", err)
	}
	r.TimeReceived = t
	pos += int(timeLen)

	if pos+1 > len(b) {
		return r, fmt.Errorf("record: truncated author flag")
	}
	hasAuthor := b[pos] != 0
	pos++
	if hasAuthor {
		if pos+peer.PeerIDLength > len(b) {
			return r, fmt.Errorf("record: truncated author")
		}
		copy(r.Author[:], b[pos:pos+peer.PeerIDLength])
		pos += peer.PeerIDLength
	}

	sigLen, pos2, err := readU16Len(b, pos)
	if err != nil {
		return r, err
	}
	pos = pos2
	if pos+int(sigLen) > len(b) {
		return r, fmt.Errorf("record: truncated signature")
	}
	r.Signature = append([]byte(nil), b[pos:pos+int(sigLen)]...)

	return r, nil
}

func readU16Len(b []byte, pos int) (uint16, int, error) {
	if pos+2 > len(b) {
		return 0, 0, fmt.Errorf("record: truncated length prefix")
	}
	return binary.BigEndian.Uint16(b[pos:]), pos + 2, nil
}

// SignaturePayload is the byte string a KeyPair signs/verifies over: the
// key and value concatenated behind their own length prefix so a record
// for key "ab"+value "c" can never collide with key "a"+value "bc".
func SignaturePayload(key, value []byte) []byte {
	buf := make([]byte, 4+len(key)+len(value))
	binary.BigEndian.PutUint32(buf, uint32(len(key)))
	copy(buf[4:], key)
	copy(buf[4+len(key):], value)
	return buf
}
