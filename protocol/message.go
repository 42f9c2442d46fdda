// Package protocol defines the request/response message exchanged over a
// transport stream and its wire codec: a fixed header followed by
// length-prefixed variable sections, hand-rolled with encoding/binary the
// way envelop/envelop.go and frame/frame.go do it rather than through
// protobuf or any codegen.
package protocol

import (
	"encoding/binary"
	"fmt"

	"kaddht/peer"
	"kaddht/record"
)

// Type identifies the kind of request/response carried by a Message.
type Type uint8

const (
	TypePutValue Type = iota
	TypeGetValue
	TypeAddProvider
	TypeGetProviders
	TypeFindNode
	TypePing
)

func (t Type) String() string {
	switch t {
	case TypePutValue:
		return "PUT_VALUE"
	case TypeGetValue:
		return "GET_VALUE"
	case TypeAddProvider:
		return "ADD_PROVIDER"
	case TypeGetProviders:
		return "GET_PROVIDERS"
	case TypeFindNode:
		return "FIND_NODE"
	case TypePing:
		return "PING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Connectedness describes whether the local node currently holds a live
// connection to a peer mentioned in a closer/provider peer list.
type Connectedness uint8

const (
	NotConnected Connectedness = iota
	Connected
	CanConnect
	CannotConnect
)

// MaxClusterLevel is the legacy clusterLevel field's clamp: Marshal
// writes values above this as MaxClusterLevel instead of carrying them
// through.
const MaxClusterLevel = 10

// PeerInfo is a peer identity plus its known addresses and connection
// state, as carried in a Message's closerPeers/providerPeers lists.
type PeerInfo struct {
	ID            peer.PeerID
	Addrs         [][]byte
	Connectedness Connectedness
}

// Message is the single request or response exchanged over one stream:
// one request message, then one response message, then the stream closes.
// Sender carries the requester's identity on the wire, the same role
// envelop.Envelope's ReturnPeerID plays, since a QUIC stream alone proves
// nothing about who opened it.
type Message struct {
	Type          Type
	ClusterLevel  uint8
	Sender        peer.PeerID
	Key           []byte
	Record        *record.Record
	CloserPeers   []PeerInfo
	ProviderPeers []PeerInfo
}

// clampClusterLevel enforces the [0,10] legacy range.
func clampClusterLevel(level uint8) uint8 {
	if level > MaxClusterLevel {
		return MaxClusterLevel
	}
	return level
}

// Marshal encodes m as:
//
//	[1B Type][1B ClusterLevel][32B Sender][2B KeyLen][Key]
//	[1B HasRecord][4B RecordLen][RecordBytes]  (length/bytes omitted if !HasRecord)
//	[2B CloserPeersCount][CloserPeers...]
//	[2B ProviderPeersCount][ProviderPeers...]
func Marshal(m Message) []byte {
	var buf []byte
	buf = append(buf, byte(m.Type), clampClusterLevel(m.ClusterLevel))
	buf = append(buf, m.Sender[:]...)
	buf = appendU16Bytes(buf, m.Key)

	if m.Record != nil {
		recBytes := record.Marshal(*m.Record)
		buf = append(buf, 1)
		buf = appendU32Bytes(buf, recBytes)
	} else {
		buf = append(buf, 0)
	}

	buf = appendPeerInfos(buf, m.CloserPeers)
	buf = appendPeerInfos(buf, m.ProviderPeers)
	return buf
}

func appendU16Bytes(buf, b []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func appendU32Bytes(buf, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func appendPeerInfos(buf []byte, infos []PeerInfo) []byte {
	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(infos)))
	buf = append(buf, countBuf[:]...)
	for _, pi := range infos {
		buf = append(buf, pi.ID[:]...)
		buf = append(buf, byte(len(pi.Addrs)))
		for _, a := range pi.Addrs {
			buf = appendU16Bytes(buf, a)
		}
		buf = append(buf, byte(pi.Connectedness))
	}
	return buf
}

// Unmarshal is Marshal's inverse.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	r := &reader{buf: b}

	typeByte, err := r.byte_()
	if err != nil {
		return m, err
	}
	m.Type = Type(typeByte)

	clusterLevel, err := r.byte_()
	if err != nil {
		return m, err
	}
	m.ClusterLevel = clusterLevel

	if r.pos+peer.PeerIDLength > len(r.buf) {
		return m, fmt.Errorf("protocol: truncated sender")
	}
	copy(m.Sender[:], r.buf[r.pos:r.pos+peer.PeerIDLength])
	r.pos += peer.PeerIDLength

	key, err := r.u16Bytes()
	if err != nil {
		return m, err
	}
	m.Key = key

	hasRecord, err := r.byte_()
	if err != nil {
		return m, err
	}
	if hasRecord != 0 {
		recBytes, err := r.u32Bytes()
		if err != nil {
			return m, err
		}
		rec, err := record.Unmarshal(recBytes)
		if err != nil {
			return m, fmt.Errorf("protocol: bad record: %w", err)
		}
		m.Record = &rec
	}

	m.CloserPeers, err = r.peerInfos()
	if err != nil {
		return m, fmt.Errorf("protocol: bad closer peers: %w", err)
	}
	m.ProviderPeers, err = r.peerInfos()
	if err != nil {
		return m, fmt.Errorf("protocol: bad provider peers: %w", err)
	}

	return m, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) byte_() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, fmt.Errorf("protocol: truncated message")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u16Bytes() ([]byte, error) {
	if r.pos+2 > len(r.buf) {
		return nil, fmt.Errorf("protocol: truncated length prefix")
	}
	n := int(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("protocol: truncated field")
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return out, nil
}

func (r *reader) u32Bytes() ([]byte, error) {
	if r.pos+4 > len(r.buf) {
		return nil, fmt.Errorf("protocol: truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("protocol: truncated field")
	}
	out := append([]byte(nil), r.buf[r.pos:r.pos+n]...)
	r.pos += n
	return out, nil
}

func (r *reader) peerInfos() ([]PeerInfo, error) {
	if r.pos+2 > len(r.buf) {
		return nil, fmt.Errorf("protocol: truncated peer-info count")
	}
	count := int(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2

	out := make([]PeerInfo, 0, count)
	for i := 0; i < count; i++ {
		if r.pos+peer.PeerIDLength > len(r.buf) {
			return nil, fmt.Errorf("protocol: truncated peer id")
		}
		var pi PeerInfo
		copy(pi.ID[:], r.buf[r.pos:r.pos+peer.PeerIDLength])
		r.pos += peer.PeerIDLength

		addrCount, err := r.byte_()
		if err != nil {
			return nil, err
		}
		pi.Addrs = make([][]byte, 0, addrCount)
		for j := 0; j < int(addrCount); j++ {
			a, err := r.u16Bytes()
			if err != nil {
				return nil, err
			}
			pi.Addrs = append(pi.Addrs, a)
		}

		conn, err := r.byte_()
		if err != nil {
			return nil, err
		}
		pi.Connectedness = Connectedness(conn)

		out = append(out, pi)
	}
	return out, nil
}
