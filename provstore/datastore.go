package provstore

import "context"

// Datastore is the persistent backing store for provider records, an
// external collaborator like recstore's: this package only ever reads and
// writes through the interface, never assumes a concrete engine.
type Datastore interface {
	AddEntry(ctx context.Context, key string, peerIDBytes []byte, expiry int64) error
	ListEntries(ctx context.Context, key string) ([]StoredEntry, error)
	DeleteEntry(ctx context.Context, key string, peerIDBytes []byte) error
}

// StoredEntry is one (provider, expiry) pair as the backing store persists it.
type StoredEntry struct {
	PeerIDBytes []byte
	Expiry      int64 // unix seconds
}
