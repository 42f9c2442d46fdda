// Package recstore is the local record store: validation and selection on
// write/read, a TTL sweep on read, and a read-through LRU cache in front of
// a Datastore backing store. Generalized from the absence of any
// persistence layer (envelop never stored application data) using the
// dynamic-registry design go-libp2p's record package documents and the
// read-through-cache idiom the rest of the reference pack uses golang-lru
// for.
package recstore

import (
	"context"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"kaddht/internal/kadlog"
	"kaddht/kaderr"
	"kaddht/record"
)

var log = kadlog.Named("recstore")

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// DefaultTTL is the maximum record age kept around: records older than
// this are discarded on read rather than returned.
const DefaultTTL = 36 * time.Hour

const cacheSize = 1024

// Store is the local record store.
type Store struct {
	ds       Datastore
	registry *record.Registry
	ttl      time.Duration
	cache    *lru.Cache[string, []record.Record]
	cacheMu  sync.Mutex
}

// New builds a Store. registry supplies the validator/selector used for
// each key prefix; if ttl is zero, DefaultTTL applies.
func New(ds Datastore, registry *record.Registry, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, _ := lru.New[string, []record.Record](cacheSize)
	return &Store{ds: ds, registry: registry, ttl: ttl, cache: c}
}

func cacheKey(key []byte) string {
	return string(key)
}

// Put validates value against the registered validator for key's prefix,
// and on success appends it to the backing store as a new revision.
// Writes are synchronous: Put does not return until ds.Put completes, so
// there is never a window where a Put has "succeeded" locally but isn't
// durable yet.
func (s *Store) Put(ctx context.Context, r record.Record) error {
	if v, ok := s.registry.Validator(r.Key); ok {
		if err := v.Validate(r.Key, r.Value); err != nil {
			return fmt.Errorf("%w: %s", kaderr.ErrInvalidRecord, err)
		}
	}

	existing, err := s.ds.List(ctx, recordKeyPrefix(r.Key))
	if err != nil {
		if mapped := kaderr.FromContextErr(ctx.Err()); mapped != nil {
			return mapped
		}
		return fmt.Errorf("%w: %s", kaderr.ErrTransportFailure, err)
	}

	revisions := append(existing, record.Marshal(r))
	for i, rev := range revisions {
		if err := s.ds.Put(ctx, revisionKey(r.Key, i), rev); err != nil {
			if mapped := kaderr.FromContextErr(ctx.Err()); mapped != nil {
				return mapped
			}
			return fmt.Errorf("recstore: put failed: %w", err)
		}
	}

	s.cacheMu.Lock()
	s.cache.Remove(cacheKey(r.Key))
	s.cacheMu.Unlock()
	return nil
}

// recordKeyPrefix is the datastore namespace every revision of key is
// stored under: bufferToKey(key) per the backing store's "/<base32>"
// key layout, shared so List and Put agree on what a "revision of key"
// looks like on disk.
func recordKeyPrefix(key []byte) string {
	return bufferToKey(key)
}

func revisionKey(key []byte, i int) string {
	return fmt.Sprintf("%s\x00%d", recordKeyPrefix(key), i)
}

// Get returns the selected record for key, after discarding TTL-expired
// revisions and running the registered selector over what remains.
func (s *Store) Get(ctx context.Context, key []byte) (record.Record, error) {
	records, err := s.validRecords(ctx, key)
	if err != nil {
		return record.Record{}, err
	}
	if len(records) == 0 {
		return record.Record{}, kaderr.ErrNotFound
	}

	idx, err := s.selectBest(key, records)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %s", kaderr.ErrInvalidRecord, err)
	}
	return records[idx], nil
}

// GetMany returns up to n non-expired, validated records for key, most
// recent first.
func (s *Store) GetMany(ctx context.Context, key []byte, n int) ([]record.Record, error) {
	records, err := s.validRecords(ctx, key)
	if err != nil {
		return nil, err
	}
	sortByRecency(records)
	if len(records) > n {
		records = records[:n]
	}
	return records, nil
}

func (s *Store) selectBest(key []byte, records []record.Record) (int, error) {
	if sel, ok := s.registry.Selector(key); ok {
		values := make([][]byte, len(records))
		for i, r := range records {
			values[i] = r.Value
		}
		return sel.Select(key, values)
	}
	return 0, nil
}

// validRecords loads every revision for key from the cache or the backing
// store, drops anything past the TTL, and re-runs the validator (a
// validator registered after a record was written should still apply).
func (s *Store) validRecords(ctx context.Context, key []byte) ([]record.Record, error) {
	s.cacheMu.Lock()
	if cached, ok := s.cache.Get(cacheKey(key)); ok {
		s.cacheMu.Unlock()
		return filterTTL(cached, s.ttl), nil
	}
	s.cacheMu.Unlock()

	raw, err := s.ds.List(ctx, recordKeyPrefix(key))
	if err != nil {
		if mapped := kaderr.FromContextErr(ctx.Err()); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("%w: %s", kaderr.ErrTransportFailure, err)
	}

	var records []record.Record
	validator, hasValidator := s.registry.Validator(key)
	for _, b := range raw {
		r, err := record.Unmarshal(b)
		if err != nil {
			log.Warnw("dropping unparseable record", "key", string(key), "error", err)
			continue
		}
		if hasValidator {
			if err := validator.Validate(r.Key, r.Value); err != nil {
				continue
			}
		}
		records = append(records, r)
	}

	s.cacheMu.Lock()
	s.cache.Add(cacheKey(key), records)
	s.cacheMu.Unlock()

	return filterTTL(records, s.ttl), nil
}

func filterTTL(records []record.Record, ttl time.Duration) []record.Record {
	cutoff := time.Now().Add(-ttl)
	out := records[:0:0]
	for _, r := range records {
		if r.TimeReceived.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func sortByRecency(records []record.Record) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].TimeReceived.After(records[j-1].TimeReceived); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

// bufferToKey renders a raw byte buffer as a datastore key:
// "/<base32(buf)>", lowercase RFC4648, no padding. recordKeyPrefix uses
// it to name the datastore entries of every record key.
func bufferToKey(buf []byte) string {
	return "/" + strings.ToLower(base32NoPad.EncodeToString(buf))
}
