package protocol

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaddht/kadid"
	"kaddht/peer"
	"kaddht/record"
)

type fakeRouter struct{ peers []peer.PeerID }

func (f fakeRouter) ClosestPeers(target kadid.ID, count int) []peer.PeerID {
	if len(f.peers) > count {
		return f.peers[:count]
	}
	return f.peers
}

type fakeRecordStore struct {
	stored map[string]record.Record
	putErr error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{stored: make(map[string]record.Record)}
}

func (f *fakeRecordStore) Put(ctx context.Context, r record.Record) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.stored[string(r.Key)] = r
	return nil
}

func (f *fakeRecordStore) Get(ctx context.Context, key []byte) (record.Record, error) {
	r, ok := f.stored[string(key)]
	if !ok {
		return record.Record{}, assert.AnError
	}
	return r, nil
}

type fakeProviderStore struct {
	provs map[string][]peer.PeerID
}

func newFakeProviderStore() *fakeProviderStore {
	return &fakeProviderStore{provs: make(map[string][]peer.PeerID)}
}

func (f *fakeProviderStore) AddProvider(ctx context.Context, cid multihash.Multihash, p peer.PeerID) error {
	f.provs[string(cid)] = append(f.provs[string(cid)], p)
	return nil
}

func (f *fakeProviderStore) GetProviders(ctx context.Context, cid multihash.Multihash) ([]peer.PeerID, error) {
	return f.provs[string(cid)], nil
}

type fakeLocalKeys struct {
	keys map[peer.PeerID]ed25519.PublicKey
}

func (f fakeLocalKeys) PublicKeyFor(id peer.PeerID) (ed25519.PublicKey, bool) {
	k, ok := f.keys[id]
	return k, ok
}

func testCID(t *testing.T) multihash.Multihash {
	t.Helper()
	mh, err := multihash.Sum([]byte("content"), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return mh
}

func TestHandlePing(t *testing.T) {
	h := &Handler{}
	resp := h.Handle(context.Background(), peer.PeerID{}, Message{Type: TypePing})
	assert.Equal(t, TypePing, resp.Type)
}

func TestHandleFindNode(t *testing.T) {
	other, err := peer.NewKeyPair()
	require.NoError(t, err)
	h := &Handler{Router: fakeRouter{peers: []peer.PeerID{other.PeerID}}}

	resp := h.Handle(context.Background(), peer.PeerID{}, Message{Type: TypeFindNode, Key: []byte("target")})
	require.Len(t, resp.CloserPeers, 1)
	assert.Equal(t, other.PeerID, resp.CloserPeers[0].ID)
}

func TestHandlePutThenGetValue(t *testing.T) {
	records := newFakeRecordStore()
	h := &Handler{Router: fakeRouter{}, Records: records}

	rec := record.Record{Key: []byte("/k"), Value: []byte("v"), TimeReceived: time.Now()}
	putResp := h.Handle(context.Background(), peer.PeerID{}, Message{Type: TypePutValue, Key: rec.Key, Record: &rec})
	require.NotNil(t, putResp.Record)

	getResp := h.Handle(context.Background(), peer.PeerID{}, Message{Type: TypeGetValue, Key: rec.Key})
	require.NotNil(t, getResp.Record)
	assert.Equal(t, "v", string(getResp.Record.Value))
}

func TestHandleGetValuePublicKey(t *testing.T) {
	kp, err := peer.NewKeyPair()
	require.NoError(t, err)

	h := &Handler{
		Router: fakeRouter{},
		Keys:   fakeLocalKeys{keys: map[peer.PeerID]ed25519.PublicKey{kp.PeerID: kp.PublicKey}},
	}

	key := append([]byte(record.PublicKeyPrefix), kp.PeerID[:]...)
	resp := h.Handle(context.Background(), peer.PeerID{}, Message{Type: TypeGetValue, Key: key})
	require.NotNil(t, resp.Record)
	assert.Equal(t, []byte(kp.PublicKey), resp.Record.Value)
}

func TestHandleAddProviderRequiresSenderMatch(t *testing.T) {
	providers := newFakeProviderStore()
	h := &Handler{Router: fakeRouter{}, Providers: providers}

	sender, err := peer.NewKeyPair()
	require.NoError(t, err)
	other, err := peer.NewKeyPair()
	require.NoError(t, err)

	cid := testCID(t)

	// Sender ID doesn't match any listed provider: silently dropped.
	h.Handle(context.Background(), sender.PeerID, Message{
		Type:          TypeAddProvider,
		Key:           []byte(cid),
		ProviderPeers: []PeerInfo{{ID: other.PeerID}},
	})
	got, _ := providers.GetProviders(context.Background(), cid)
	assert.Empty(t, got)

	// Sender matches: accepted.
	h.Handle(context.Background(), sender.PeerID, Message{
		Type:          TypeAddProvider,
		Key:           []byte(cid),
		ProviderPeers: []PeerInfo{{ID: sender.PeerID}},
	})
	got, _ = providers.GetProviders(context.Background(), cid)
	require.Len(t, got, 1)
	assert.Equal(t, sender.PeerID, got[0])
}

func TestHandleGetProviders(t *testing.T) {
	providers := newFakeProviderStore()
	h := &Handler{Router: fakeRouter{}, Providers: providers}

	kp, err := peer.NewKeyPair()
	require.NoError(t, err)
	cid := testCID(t)
	require.NoError(t, providers.AddProvider(context.Background(), cid, kp.PeerID))

	resp := h.Handle(context.Background(), peer.PeerID{}, Message{Type: TypeGetProviders, Key: []byte(cid)})
	require.Len(t, resp.ProviderPeers, 1)
	assert.Equal(t, kp.PeerID, resp.ProviderPeers[0].ID)
}
