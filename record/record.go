// Package record defines the signed key/value record type stored by
// recstore, and the validator/selector plugin interfaces the record store
// delegates to: a validator accepts or rejects a value for a given key
// prefix, a selector picks the best among several validated values for the
// same key. Grounded on the envelope/signing conventions in peer, since
// records need the same ed25519 machinery the transport layer's identity
// package already provides.
package record

import (
	"time"

	"kaddht/peer"
)

// PublicKeyPrefix is the reserved key namespace for peer public-key
// records: a record whose key starts with this prefix stores a peer's
// public key rather than application data.
const PublicKeyPrefix = "/pk/"

// Record is one signed key/value entry.
type Record struct {
	Key          []byte
	Value        []byte
	TimeReceived time.Time
	// Author is the peer that produced the record, when known. Zero value
	// means unauthenticated (accepted only if the registered validator for
	// the key's prefix allows it).
	Author peer.PeerID
	// Signature is Author's ed25519 signature over SignaturePayload(Key,
	// Value), present whenever Author is non-zero.
	Signature []byte
}

// HasAuthor reports whether r carries an attributed, signed author.
func (r Record) HasAuthor() bool {
	return !r.Author.IsZero()
}

// Validator decides whether a value is acceptable to store under key. The
// record store looks one up by key prefix before accepting a Put.
type Validator interface {
	Validate(key, value []byte) error
}

// Selector picks the index of the best record among several validated
// candidates for the same key, e.g. highest sequence number or latest
// timestamp. It must be deterministic: the same set of values, regardless
// of input order, always yields the same choice.
type Selector interface {
	Select(key []byte, values [][]byte) (int, error)
}

// ValidatorFunc adapts a plain function to Validator.
type ValidatorFunc func(key, value []byte) error

func (f ValidatorFunc) Validate(key, value []byte) error { return f(key, value) }

// SelectorFunc adapts a plain function to Selector.
type SelectorFunc func(key []byte, values [][]byte) (int, error)

func (f SelectorFunc) Select(key []byte, values [][]byte) (int, error) { return f(key, values) }
