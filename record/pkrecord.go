package record

import (
	"fmt"

	"kaddht/peer"
)

// PublicKeyValidator checks that a "/pk/<peerid-bytes>" record's value is a
// public key whose SHA-256 digest equals the peer ID embedded in the key,
// the public-key integrity invariant. Grounded on peer.NewPeerIDFromPubKey
// and peer.ValidatePeerID.
type PublicKeyValidator struct{}

func (PublicKeyValidator) Validate(key, value []byte) error {
	id, err := peerIDFromKey(key)
	if err != nil {
		return err
	}
	if peer.NewPeerIDFromPubKey(value) != id {
		return fmt.Errorf("record: public key does not hash to %x", id)
	}
	return nil
}

func peerIDFromKey(key []byte) (peer.PeerID, error) {
	var id peer.PeerID
	raw := key[len(PublicKeyPrefix):]
	if err := peer.ValidatePeerID(raw); err != nil {
		return id, fmt.Errorf("record: malformed /pk/ key: %w", err)
	}
	copy(id[:], raw)
	return id, nil
}

// PublicKeySelector always picks the first validated candidate: for the
// "/pk/" namespace at most one value can ever pass PublicKeyValidator, so
// selection is a formality rather than a real comparison.
type PublicKeySelector struct{}

func (PublicKeySelector) Select(key []byte, values [][]byte) (int, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("record: no candidate values")
	}
	return 0, nil
}
