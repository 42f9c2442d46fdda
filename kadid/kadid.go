// Package kadid implements the XOR-metric identifier space shared by every
// other component of the DHT: the routing table, the record and provider
// stores, and the query engine all agree on this mapping and this distance
// function.
//
// Grounded on envelop's router/Kademlia.go (xorDistance/bucketIndex/
// candidate.less), generalized from a fixed 256-element bucket array into a
// standalone, side-effect-free package that rtable and query build on top of.
package kadid

import (
	"crypto/sha256"
	"sort"
)

// Size is the length in bytes of an ID: SHA-256 produces 32 bytes, which
// gives a 256-bit ID space.
const Size = 32

// ID is a point in the 256-bit Kademlia ID space. Peer IDs and arbitrary
// record/content keys are both mapped into this space by SHA-256.
type ID [Size]byte

// KeyFor maps an opaque byte string (a PeerID, a record key, a CID) into the
// ID space.
func KeyFor(b []byte) ID {
	return ID(sha256.Sum256(b))
}

// IsZero reports whether id is the all-zero ID (the zero value; never a
// real SHA-256 digest in practice, so it doubles as a "no ID" sentinel).
func (id ID) IsZero() bool {
	return id == ID{}
}

// Distance returns the XOR metric between a and b, interpreted as a
// 256-bit unsigned integer.
func Distance(a, b ID) ID {
	var out ID
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Compare returns -1, 0 or +1 by unsigned big-endian (most-significant-byte
// first) comparison.
func Compare(x, y ID) int {
	for i := 0; i < Size; i++ {
		if x[i] < y[i] {
			return -1
		}
		if x[i] > y[i] {
			return 1
		}
	}
	return 0
}

// CommonPrefixLen returns the number of leading bits a and b share, in
// [0, 256]. This is the bucket index used by rtable: the bucket covering
// CPL k holds contacts whose ID diverges from self at bit k.
func CommonPrefixLen(a, b ID) int {
	d := Distance(a, b)
	for i, byt := range d {
		if byt == 0 {
			continue
		}
		return i*8 + leadingZeros8(byt)
	}
	return Size * 8
}

func leadingZeros8(b byte) int {
	n := 0
	for mask := byte(0x80); mask != 0; mask >>= 1 {
		if b&mask != 0 {
			break
		}
		n++
	}
	return n
}

// Less reports whether a is strictly closer to target than b, with ties
// broken by raw byte comparison of a and b themselves (XOR distances are
// unique per distinct ID pair against a fixed target, but callers may still
// need a stable order for identical distances from degenerate inputs).
func Less(a, b, target ID) bool {
	da, db := Distance(a, target), Distance(b, target)
	if c := Compare(da, db); c != 0 {
		return c < 0
	}
	return Compare(a, b) < 0
}

// SortByDistance sorts ids in place by increasing XOR distance to target.
func SortByDistance(ids []ID, target ID) {
	sort.Slice(ids, func(i, j int) bool {
		return Less(ids[i], ids[j], target)
	})
}
