// Package addrbook is the peer store: an opaque forward/reverse mapping
// from peer ID to known network addresses, plus the public keys the local
// node has learned for peers it has handshaked with. Generalized from
// netquic/relayregistry.go's RelayRegistry (forward addrBook, reverse
// revBook keyed by remote address) to also carry public keys, since the
// GET_VALUE "/pk/" handler needs a peer store to answer from, which the
// original registry never tracked.
package addrbook

import (
	"crypto/ed25519"
	"sync"

	"kaddht/internal/kadlog"
	"kaddht/peer"
)

var log = kadlog.Named("addrbook")

// Book is an in-memory address book. The backing store for addresses is
// intentionally never persistent: addresses and connectivity are
// per-session facts, unlike the records/providers that recstore/provstore
// persist.
type Book struct {
	mu      sync.RWMutex
	addrs   map[peer.PeerID][]string
	byAddr  map[string]peer.PeerID
	pubKeys map[peer.PeerID]ed25519.PublicKey
}

// New returns an empty address book.
func New() *Book {
	return &Book{
		addrs:   make(map[peer.PeerID][]string),
		byAddr:  make(map[string]peer.PeerID),
		pubKeys: make(map[peer.PeerID]ed25519.PublicKey),
	}
}

// AddAddr records addr as reachable for id, appending it if not already
// present, and always refreshes the reverse lookup (an address may migrate
// to a different peer across a NAT rebind).
func (b *Book) AddAddr(id peer.PeerID, addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, a := range b.addrs[id] {
		if a == addr {
			b.byAddr[addr] = id
			return
		}
	}
	b.addrs[id] = append(b.addrs[id], addr)
	b.byAddr[addr] = id
	log.Debugw("registered address", "peer", peer.EncodeToString(id), "addr", addr)
}

// Addrs returns a copy of the known addresses for id, in the order they
// were learned (dial fallback order).
func (b *Book) Addrs(id peer.PeerID) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	addrs := b.addrs[id]
	cp := make([]string, len(addrs))
	copy(cp, addrs)
	return cp
}

// PeerByAddr resolves a remote address back to the peer ID that last
// registered it. The transport does not call it: inbound requests are
// attributed through the Sender field they carry.
func (b *Book) PeerByAddr(addr string) (peer.PeerID, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byAddr[addr]
	return id, ok
}

// SetPublicKey records id's public key, learned from a completed
// handshake or a successful "/pk/" lookup.
func (b *Book) SetPublicKey(id peer.PeerID, pub ed25519.PublicKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubKeys[id] = pub
}

// PublicKeyFor implements protocol.LocalKeys.
func (b *Book) PublicKeyFor(id peer.PeerID) (ed25519.PublicKey, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pub, ok := b.pubKeys[id]
	return pub, ok
}
