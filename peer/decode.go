package peer

import (
	"errors"
	"strings"
)

// domainSuffix marks the human-readable rendezvous-name form of a PeerID,
// the same role ".onion" plays for Tor: a DNS-safe label callers can pass
// through any string-shaped channel (CLI args, SRV records, bootstrap
// lists) that round-trips back to the 32-byte identity.
const domainSuffix = ".kad"

// PeerIDToDomain renders id as "<base32>.kad", using the same alphabet as
// EncodeToString so the two stay interchangeable.
func PeerIDToDomain(id PeerID) string {
	return EncodeToString(id) + domainSuffix
}

// DomainToPeerID parses the ".kad" form back into a PeerID. Decoding always
// uses stringEncoding, the same table EncodeToString/PeerIDToDomain encode
// with — a mismatched table is the one way this kind of round-trip silently
// breaks.
func DomainToPeerID(domain string) (PeerID, error) {
	var id PeerID

	if !strings.HasSuffix(domain, domainSuffix) {
		return id, errors.New("peer: domain must end with " + domainSuffix)
	}

	prefix := strings.TrimSuffix(domain, domainSuffix)
	decoded, err := stringEncoding.DecodeString(strings.ToUpper(prefix))
	if err != nil {
		return id, errors.New("peer: base32 decode failed: " + err.Error())
	}
	if len(decoded) != PeerIDLength {
		return id, errors.New("peer: decoded peer id must be exactly 32 bytes")
	}

	copy(id[:], decoded)
	return id, nil
}
