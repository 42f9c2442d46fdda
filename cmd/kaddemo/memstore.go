package main

import (
	"context"
	"sort"
	"strings"
	"sync"

	"kaddht/provstore"
	"kaddht/recstore"
)

// memRecordStore is a process-local recstore.Datastore. kaddemo runs two
// nodes in one binary with no durability requirement, so there's nothing
// for a real embedded store to buy here; a production deployment supplies
// its own Datastore against the same port.
type memRecordStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{data: make(map[string][]byte)}
}

func (m *memRecordStore) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memRecordStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, recstore.ErrNotFound
	}
	return v, nil
}

func (m *memRecordStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memRecordStore) List(ctx context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := key + "\x00"
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.data[k])
	}
	return out, nil
}

// memProviderStore is a process-local provstore.Datastore, the provider
// analogue of memRecordStore above.
type memProviderStore struct {
	mu      sync.Mutex
	entries map[string][]provstore.StoredEntry
}

func newMemProviderStore() *memProviderStore {
	return &memProviderStore{entries: make(map[string][]provstore.StoredEntry)}
}

func (m *memProviderStore) AddEntry(ctx context.Context, key string, peerIDBytes []byte, expiry int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries[key] {
		if string(e.PeerIDBytes) == string(peerIDBytes) {
			m.entries[key][i].Expiry = expiry
			return nil
		}
	}
	m.entries[key] = append(m.entries[key], provstore.StoredEntry{
		PeerIDBytes: append([]byte(nil), peerIDBytes...),
		Expiry:      expiry,
	})
	return nil
}

func (m *memProviderStore) ListEntries(ctx context.Context, key string) ([]provstore.StoredEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provstore.StoredEntry(nil), m.entries[key]...), nil
}

func (m *memProviderStore) DeleteEntry(ctx context.Context, key string, peerIDBytes []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.entries[key]
	for i, e := range list {
		if string(e.PeerIDBytes) == string(peerIDBytes) {
			m.entries[key] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}
