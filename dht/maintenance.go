package dht

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/multiformats/go-multihash"

	"kaddht/kadid"
)

// startMaintenance launches every background loop bound to d.ctx; each
// stops on Close() via d.cancel, matching the "no hidden singletons, loops
// bind to instance lifetime" rule the global-state design note sets out.
func (d *DHT) startMaintenance() {
	d.wg.Add(4)
	go d.bucketRefreshLoop()
	go d.recordRepublishLoop()
	go d.providerRepublishLoop()
	go d.cleanupLoop()
}

func (d *DHT) bucketRefreshLoop() {
	defer d.wg.Done()
	t := time.NewTicker(d.cfg.BucketRefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-t.C:
			d.refreshBuckets()
		}
	}
}

// refreshBuckets runs one closest-peers lookup per bucket toward a random ID
// in that bucket's prefix, the standard Kademlia technique for keeping
// sparsely populated buckets from going stale. The target only ever exists
// in hashed ID space (there is no byte string that hashes back to an
// arbitrary chosen ID), so this drives lookupClosestPeers directly with the
// generated kadid.ID instead of going through FindPeer, which would hash its
// peer.PeerID argument a second time and defeat the chosen common-prefix
// length entirely.
func (d *DHT) refreshBuckets() {
	n := d.table.BucketCount()
	self := kadid.KeyFor(d.self[:])
	for cpl := 0; cpl < n; cpl++ {
		target := randomIDWithCPL(self, cpl)
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.QueryTimeout)
		if _, err := d.lookupClosestPeers(ctx, target, target[:]); err != nil {
			log.Debugw("bucket refresh", "cpl", cpl, "error", err)
		}
		cancel()
	}
}

func (d *DHT) recordRepublishLoop() {
	defer d.wg.Done()
	t := time.NewTicker(d.cfg.RecordRepublishInterval)
	defer t.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-t.C:
			d.republishRecords()
		}
	}
}

func (d *DHT) republishRecords() {
	d.authoredMu.Lock()
	snapshot := make(map[string][]byte, len(d.authored))
	for k, r := range d.authored {
		snapshot[k] = r.Value
	}
	d.authoredMu.Unlock()

	for key, value := range snapshot {
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.QueryTimeout)
		if err := d.PutValue(ctx, []byte(key), value); err != nil {
			log.Debugw("record republish failed", "key", key, "error", err)
		}
		cancel()
	}
}

func (d *DHT) providerRepublishLoop() {
	defer d.wg.Done()
	t := time.NewTicker(d.cfg.ProviderRepublishInterval)
	defer t.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-t.C:
			d.republishProviders()
		}
	}
}

func (d *DHT) republishProviders() {
	d.authoredMu.Lock()
	snapshot := make([]multihash.Multihash, 0, len(d.provided))
	for _, cid := range d.provided {
		snapshot = append(snapshot, cid)
	}
	d.authoredMu.Unlock()

	for _, cid := range snapshot {
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.QueryTimeout)
		if err := d.Provide(ctx, cid); err != nil {
			log.Debugw("provider republish failed", "error", err)
		}
		cancel()
	}
}

func (d *DHT) cleanupLoop() {
	defer d.wg.Done()
	t := time.NewTicker(d.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-t.C:
			d.cleanup()
		}
	}
}

// cleanup runs provider-store GC for every CID this node itself tracks.
// recstore expires records lazily on read (filterTTL), so it needs no
// equivalent sweep here; provstore's GC instead deletes expired entries
// from the backing store outright, which is worth doing proactively for
// entries this node is responsible for announcing.
func (d *DHT) cleanup() {
	d.authoredMu.Lock()
	snapshot := make([]multihash.Multihash, 0, len(d.provided))
	for _, cid := range d.provided {
		snapshot = append(snapshot, cid)
	}
	d.authoredMu.Unlock()

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.RequestTimeout)
	defer cancel()
	for _, cid := range snapshot {
		if err := d.providers.GC(ctx, cid); err != nil {
			log.Debugw("provider gc failed", "error", err)
		}
	}
}

// randomIDWithCPL returns a random ID sharing exactly cpl leading bits
// with self: the bit at position cpl is flipped and everything after it is
// randomized, everything before it is copied from self unchanged.
func randomIDWithCPL(self kadid.ID, cpl int) kadid.ID {
	var out kadid.ID
	copy(out[:], self[:])
	if cpl >= kadid.Size*8 {
		return out
	}

	byteIdx := cpl / 8
	bitIdx := 7 - (cpl % 8)
	out[byteIdx] ^= 1 << uint(bitIdx)

	if byteIdx+1 < kadid.Size {
		rand.Read(out[byteIdx+1:])
	}

	mask := byte((1 << uint(bitIdx)) - 1)
	var tail [1]byte
	rand.Read(tail[:])
	out[byteIdx] = (out[byteIdx] &^ mask) | (tail[0] & mask)

	return out
}
