package recstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memDatastore is an in-memory Datastore used only by this package's
// tests; recstore never assumes anything about the real backing store
// beyond the Datastore interface.
type memDatastore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemDatastore() *memDatastore {
	return &memDatastore{data: make(map[string][]byte)}
}

func (m *memDatastore) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memDatastore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *memDatastore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memDatastore) List(ctx context.Context, key string) ([][]byte, error) {
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
