package dht

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"kaddht/kaderr"
	"kaddht/peer"
	"kaddht/record"
)

// GetPublicKey resolves id's public key via the "/pk/<id>" record
// namespace, checked by address book and self short-circuits first. Every
// path re-verifies the key hashes to id before returning it: a cached or
// locally-known key is never trusted on the strength of where it came
// from, only on the strength of NewPeerIDFromPubKey matching id.
func (d *DHT) GetPublicKey(ctx context.Context, id peer.PeerID) (ed25519.PublicKey, error) {
	if id.Equals(d.self) {
		if err := verifyPublicKey(id, d.key.PublicKey); err != nil {
			return nil, err
		}
		return d.key.PublicKey, nil
	}

	if pub, ok := d.addrs.PublicKeyFor(id); ok {
		if err := verifyPublicKey(id, pub); err != nil {
			return nil, err
		}
		return pub, nil
	}

	key := []byte(record.PublicKeyPrefix + string(id[:]))
	rec, err := d.GetValue(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("dht: get_public_key: %w", err)
	}

	pub := ed25519.PublicKey(rec.Value)
	if err := verifyPublicKey(id, pub); err != nil {
		return nil, err
	}

	d.addrs.SetPublicKey(id, pub)
	return pub, nil
}

func verifyPublicKey(id peer.PeerID, pub ed25519.PublicKey) error {
	if peer.NewPeerIDFromPubKey(pub) != id {
		return kaderr.ErrInvalidPublicKey
	}
	return nil
}
