// Package provstore is the local provider store: a mapping from content ID
// to the set of peers that announced they hold it, each entry carrying its
// own expiry, fronted by a read-through LRU cache. Grounded on the
// provider-abstraction design oascigil-go-libp2p-kad-dht's routing.go
// documents (AddProvider/GetProviders/gc), generalized since the original
// had no content-routing concept of its own.
package provstore

import (
	"context"
	"encoding/base32"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/multiformats/go-multihash"

	"kaddht/internal/kadlog"
	"kaddht/peer"
)

var log = kadlog.Named("provstore")

// DefaultTTL is the provider record lifetime.
const DefaultTTL = 24 * time.Hour

const cacheSize = 1024

var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Store is the local provider store.
type Store struct {
	ds    Datastore
	ttl   time.Duration
	cache *lru.Cache[string, []Entry]
	mu    sync.Mutex
}

// Entry is one provider record as returned to callers.
type Entry struct {
	Peer   peer.PeerID
	Expiry time.Time
}

// New builds a Store. If ttl is zero, DefaultTTL applies.
func New(ds Datastore, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, _ := lru.New[string, []Entry](cacheSize)
	return &Store{ds: ds, ttl: ttl, cache: c}
}

func cacheKey(cid multihash.Multihash) string {
	return strings.ToLower(keyEncoding.EncodeToString(cid))
}

// AddProvider records that p holds the content identified by cid, resetting
// the expiry if the entry already exists.
func (s *Store) AddProvider(ctx context.Context, cid multihash.Multihash, p peer.PeerID) error {
	expiry := time.Now().Add(s.ttl)
	if err := s.ds.AddEntry(ctx, cacheKey(cid), p[:], expiry.Unix()); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache.Remove(cacheKey(cid))
	s.mu.Unlock()
	return nil
}

// GetProviders returns the non-expired providers for cid.
func (s *Store) GetProviders(ctx context.Context, cid multihash.Multihash) ([]peer.PeerID, error) {
	key := cacheKey(cid)

	s.mu.Lock()
	cached, ok := s.cache.Get(key)
	s.mu.Unlock()

	var entries []Entry
	if ok {
		entries = cached
	} else {
		stored, err := s.ds.ListEntries(ctx, key)
		if err != nil {
			return nil, err
		}
		entries = make([]Entry, 0, len(stored))
		for _, se := range stored {
			var id peer.PeerID
			copy(id[:], se.PeerIDBytes)
			entries = append(entries, Entry{Peer: id, Expiry: time.Unix(se.Expiry, 0)})
		}
		s.mu.Lock()
		s.cache.Add(key, entries)
		s.mu.Unlock()
	}

	now := time.Now()
	out := make([]peer.PeerID, 0, len(entries))
	for _, e := range entries {
		if e.Expiry.After(now) {
			out = append(out, e.Peer)
		}
	}
	return out, nil
}

// GC removes expired entries for cid from the backing store. It is
// idempotent: running it twice in a row with no intervening AddProvider
// calls is a no-op the second time.
func (s *Store) GC(ctx context.Context, cid multihash.Multihash) error {
	key := cacheKey(cid)
	stored, err := s.ds.ListEntries(ctx, key)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, se := range stored {
		if time.Unix(se.Expiry, 0).Before(now) {
			if err := s.ds.DeleteEntry(ctx, key, se.PeerIDBytes); err != nil {
				log.Warnw("gc: failed to delete expired provider", "error", err)
				continue
			}
		}
	}

	s.mu.Lock()
	s.cache.Remove(key)
	s.mu.Unlock()
	return nil
}
