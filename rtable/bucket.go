package rtable

import (
	"time"

	"kaddht/kadid"
	"kaddht/peer"
)

// entry is one contact inside a bucket: its identity plus the bookkeeping
// the eviction policy needs.
type entry struct {
	id               peer.PeerID
	kid              kadid.ID
	addedAt          time.Time
	lastSuccessQuery time.Time
	hasSuccessQuery  bool
}

// bucket holds up to size contacts. Entries are kept in least-recently-seen
// to most-recently-seen order (index 0 is the eviction candidate), matching
// the LRU-touch-on-use discipline diogo464-go-libp2p-kbucket's table.go
// applies to every bucket except the one currently being split.
type bucket struct {
	entries []*entry
}

func newBucket() *bucket {
	return &bucket{}
}

func (b *bucket) len() int {
	return len(b.entries)
}

func (b *bucket) find(id peer.PeerID) *entry {
	for _, e := range b.entries {
		if e.id.Equals(id) {
			return e
		}
	}
	return nil
}

// moveToBack marks e as most-recently-seen.
func (b *bucket) moveToBack(e *entry) {
	for i, cur := range b.entries {
		if cur == e {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			b.entries = append(b.entries, e)
			return
		}
	}
}

func (b *bucket) pushBack(e *entry) {
	b.entries = append(b.entries, e)
}

func (b *bucket) remove(id peer.PeerID) bool {
	for i, e := range b.entries {
		if e.id.Equals(id) {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// oldest returns the least-recently-seen entry, the eviction candidate when
// the bucket is full.
func (b *bucket) oldest() *entry {
	if len(b.entries) == 0 {
		return nil
	}
	return b.entries[0]
}

// split partitions entries by whether they share more than cpl bits with
// local than the bucket itself does: those go to the new bucket, the rest
// stay. This is the slice-based analogue of go-libp2p-kbucket's
// bucket.split, generalized from a fixed-array table which
// never split at all.
func (b *bucket) split(cpl int, local kadid.ID) *bucket {
	nb := newBucket()
	var kept []*entry
	for _, e := range b.entries {
		if kadid.CommonPrefixLen(e.kid, local) > cpl {
			nb.entries = append(nb.entries, e)
		} else {
			kept = append(kept, e)
		}
	}
	b.entries = kept
	return nb
}
