package peer

import (
	"encoding/base32"
	"strings"
)

// stringEncoding is RFC4648 base32 without padding: alphanumeric, DNS-safe,
// and the same alphabet libp2p/IPFS-style systems use for human-readable
// peer identifiers.
var stringEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// EncodeToString renders a PeerID as a lowercase base32 string, suitable
// for logs. The "/pk/<peerid-bytes>" record keys carry the raw ID bytes,
// not this form.
func EncodeToString(id PeerID) string {
	return strings.ToLower(stringEncoding.EncodeToString(id[:]))
}
