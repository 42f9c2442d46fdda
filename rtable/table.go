// Package rtable implements the k-bucket routing table: a dynamically
// splitting tree of buckets keyed by common-prefix-length to a local ID,
// generalized from router/Kademlia.go's fixed 256-bucket array into the
// split-on-overflow design diogo464-go-libp2p-kbucket's table.go uses, so
// that only the bucket covering self's own prefix ever splits and every
// other bucket applies LRU touch-on-use with liveness-ping eviction.
package rtable

import (
	"context"
	"sync"
	"time"

	"kaddht/internal/kadlog"
	"kaddht/kadid"
	"kaddht/peer"
)

var log = kadlog.Named("rtable")

// PingFunc checks whether a contact is still reachable. Used to decide
// whether to evict the bucket's oldest entry in favor of a new one.
type PingFunc func(ctx context.Context, id peer.PeerID) error

// Config parameterizes a Table.
type Config struct {
	// BucketSize is k, the maximum number of contacts per bucket.
	BucketSize int
	// PingTimeout bounds how long a liveness check may take.
	PingTimeout time.Duration
	// Ping checks liveness before evicting an incumbent for a new contact.
	// If nil, Add always prefers the incumbent (never evicts on overflow).
	Ping PingFunc
}

// DefaultConfig returns the k=20 bucket size Kademlia's routing table
// section names as the default.
func DefaultConfig() Config {
	return Config{
		BucketSize:  20,
		PingTimeout: 10 * time.Second,
	}
}

// Table is a k-bucket routing table keyed by XOR distance to a local ID.
// It starts as a single bucket spanning the whole ID space; the last
// bucket splits whenever it overflows, which is always the bucket that
// would otherwise hold contacts sharing a longer prefix with local — so
// the structure deepens fastest closest to self.
type Table struct {
	selfID peer.PeerID
	local  kadid.ID
	cfg    Config
	mu     sync.RWMutex
	bucket []*bucket

	// Added/Removed are invoked (outside the lock) whenever a contact
	// enters or leaves the table. Both default to no-ops; New installs
	// nothing else.
	Added   func(peer.PeerID)
	Removed func(peer.PeerID)
}

// New builds an empty table centered on local.
func New(local peer.PeerID, cfg Config) *Table {
	if cfg.BucketSize <= 0 {
		cfg.BucketSize = DefaultConfig().BucketSize
	}
	return &Table{
		selfID:  local,
		local:   kadid.KeyFor(local[:]),
		cfg:     cfg,
		bucket:  []*bucket{newBucket()},
		Added:   func(peer.PeerID) {},
		Removed: func(peer.PeerID) {},
	}
}

func (t *Table) bucketIndexLocked(kid kadid.ID) int {
	cpl := kadid.CommonPrefixLen(kid, t.local)
	if cpl >= len(t.bucket) {
		cpl = len(t.bucket) - 1
	}
	return cpl
}

// Add inserts id into the table. It never fails from the caller's point of
// view: if the target bucket is full and isn't eligible to split, and no
// stale incumbent can be evicted, the call is simply a no-op, matching the
// "add never fails" failure semantics.
func (t *Table) Add(ctx context.Context, id peer.PeerID, queryPeer bool) bool {
	if id.Equals(t.selfID) {
		return false
	}
	kid := kadid.KeyFor(id[:])

	t.mu.Lock()
	idx := t.bucketIndexLocked(kid)
	b := t.bucket[idx]

	if e := b.find(id); e != nil {
		if queryPeer {
			e.lastSuccessQuery = time.Now()
			e.hasSuccessQuery = true
		}
		b.moveToBack(e)
		t.mu.Unlock()
		return false
	}

	newEntry := &entry{id: id, kid: kid, addedAt: time.Now()}
	if queryPeer {
		newEntry.lastSuccessQuery = newEntry.addedAt
		newEntry.hasSuccessQuery = true
	}

	if b.len() < t.cfg.BucketSize {
		b.pushBack(newEntry)
		t.mu.Unlock()
		t.Added(id)
		return true
	}

	if idx == len(t.bucket)-1 {
		t.splitLastBucketLocked()
		idx = t.bucketIndexLocked(kid)
		b = t.bucket[idx]
		if b.len() < t.cfg.BucketSize {
			b.pushBack(newEntry)
			t.mu.Unlock()
			t.Added(id)
			return true
		}
	}

	oldest := b.oldest()
	t.mu.Unlock()
	if oldest == nil || t.cfg.Ping == nil {
		return false
	}

	pingCtx, cancel := context.WithTimeout(ctx, t.cfg.PingTimeout)
	err := t.cfg.Ping(pingCtx, oldest.id)
	cancel()
	if err == nil {
		// Incumbent is still live; reject the newcomer.
		return false
	}

	t.mu.Lock()
	evicted := b.remove(oldest.id)
	if evicted {
		b.pushBack(newEntry)
	}
	t.mu.Unlock()

	if !evicted {
		return false
	}
	t.Removed(oldest.id)
	t.Added(id)
	return true
}

// splitLastBucketLocked unfolds the last bucket into two, repeating while
// the newly produced last bucket is itself still overflowing (this mirrors
// a sparsely populated table having been folded several levels deep).
// Caller holds t.mu.
func (t *Table) splitLastBucketLocked() {
	last := t.bucket[len(t.bucket)-1]
	cpl := len(t.bucket) - 1
	next := last.split(cpl, t.local)
	t.bucket = append(t.bucket, next)
	if next.len() >= t.cfg.BucketSize {
		t.splitLastBucketLocked()
	}
}

// Remove evicts id unconditionally, e.g. after a transport failure
// threshold is crossed.
func (t *Table) Remove(id peer.PeerID) {
	t.mu.Lock()
	idx := t.bucketIndexLocked(kadid.KeyFor(id[:]))
	removed := t.bucket[idx].remove(id)
	t.mu.Unlock()
	if removed {
		t.Removed(id)
	}
}

// MarkLive touches id's last-successful-query time without altering bucket
// placement, called by the transport after every successful RPC.
func (t *Table) MarkLive(id peer.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.bucketIndexLocked(kadid.KeyFor(id[:]))
	b := t.bucket[idx]
	if e := b.find(id); e != nil {
		e.lastSuccessQuery = time.Now()
		e.hasSuccessQuery = true
		b.moveToBack(e)
	}
}

// Find reports whether id is currently held in the table.
func (t *Table) Find(id peer.PeerID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.bucketIndexLocked(kadid.KeyFor(id[:]))
	return t.bucket[idx].find(id) != nil
}

type peerDistance struct {
	id   peer.PeerID
	dist kadid.ID
}

// ClosestPeers returns up to count contacts ordered by increasing XOR
// distance to target. It collects the bucket sharing target's prefix and
// every deeper bucket (all closer to target than any shallower bucket, but
// not ordered among themselves), then shallower buckets from the deepest
// down until count candidates have been collected.
func (t *Table) ClosestPeers(target kadid.ID, count int) []peer.PeerID {
	t.mu.RLock()
	cpl := kadid.CommonPrefixLen(target, t.local)
	if cpl >= len(t.bucket) {
		cpl = len(t.bucket) - 1
	}

	var pds []peerDistance
	collect := func(idx int) {
		for _, e := range t.bucket[idx].entries {
			pds = append(pds, peerDistance{id: e.id, dist: kadid.Distance(e.kid, target)})
		}
	}

	collect(cpl)
	for i := cpl + 1; i < len(t.bucket); i++ {
		collect(i)
	}
	for i := cpl - 1; i >= 0 && len(pds) < count; i-- {
		collect(i)
	}
	t.mu.RUnlock()

	for i := 1; i < len(pds); i++ {
		for j := i; j > 0 && kadid.Compare(pds[j].dist, pds[j-1].dist) < 0; j-- {
			pds[j], pds[j-1] = pds[j-1], pds[j]
		}
	}

	if len(pds) > count {
		pds = pds[:count]
	}
	out := make([]peer.PeerID, len(pds))
	for i, pd := range pds {
		out[i] = pd.id
	}
	return out
}

// Size returns the total number of contacts across all buckets.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.bucket {
		n += b.len()
	}
	return n
}

// ListPeers returns every contact currently held.
func (t *Table) ListPeers() []peer.PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []peer.PeerID
	for _, b := range t.bucket {
		for _, e := range b.entries {
			out = append(out, e.id)
		}
	}
	return out
}

// BucketCount returns how many buckets the table currently holds, used by
// the maintenance loop to decide which CPLs need a refresh lookup.
func (t *Table) BucketCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bucket)
}
