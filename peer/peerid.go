// Package peer defines the node identity type shared across the DHT:
// PeerID, its ed25519 key pair, and the human-readable encodings used for
// logging and the ".kad" domain-style name.
//
// Adapted from envelop's peer/peerid.go and peer/keypair.go (SHA-256(pubkey)
// identity, ed25519 keys); generalized to expose Sign/Verify so record
// validators and the /pk/ record handler can check a value against the
// public key it claims to come from.
package peer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
)

// PeerIDLength is the fixed length of a PeerID: the SHA-256 digest of the
// node's public key.
const PeerIDLength = 32

// PeerID identifies a node. Every XOR-distance computation elsewhere in the
// module operates on kadid.KeyFor(id[:]), not on PeerID directly.
type PeerID [PeerIDLength]byte

// NewPeerIDFromPubKey derives a PeerID from a public key.
func NewPeerIDFromPubKey(pubkey []byte) PeerID {
	sum := sha256.Sum256(pubkey)
	var id PeerID
	copy(id[:], sum[:PeerIDLength])
	return id
}

// IsZero reports whether p is the unset zero value.
func (p PeerID) IsZero() bool {
	return p == PeerID{}
}

// Equals reports whether p and other identify the same node.
func (p PeerID) Equals(other PeerID) bool {
	return p == other
}

// ValidatePeerID checks that b has the length a PeerID requires.
func ValidatePeerID(b []byte) error {
	if len(b) != PeerIDLength {
		return errors.New("peer: peer id must be exactly 32 bytes")
	}
	return nil
}

// KeyPair is a node's ed25519 identity: the private key signs outgoing
// records, the public key (and its derived PeerID) is what the rest of the
// network verifies against.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	PeerID     PeerID
}

// NewKeyPair generates a fresh ed25519 identity.
//
// Ed25519 is a deliberate choice: fast signing, a 32-byte
// public key, well suited to a high-fanout P2P node.
func NewKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		PublicKey:  pub,
		PrivateKey: priv,
		PeerID:     NewPeerIDFromPubKey(pub),
	}, nil
}

// Sign signs msg with the node's private key.
func (kp *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.PrivateKey, msg)
}

// VerifyWithKey checks sig over msg against an arbitrary public key,
// independent of any particular KeyPair instance. Record validators use
// this against a claimed public key rather than a local identity.
func VerifyWithKey(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}
