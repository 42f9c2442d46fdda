package recstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaddht/kaderr"
	"kaddht/record"
)

func newTestStore() *Store {
	reg := record.NewRegistry()
	reg.Register("", nil, record.BytewiseSelector{})
	return New(newMemDatastore(), reg, 0)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	r := record.Record{Key: []byte("/k"), Value: []byte("v1"), TimeReceived: time.Now()}
	require.NoError(t, s.Put(ctx, r))

	got, err := s.Get(ctx, r.Key)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got.Value))
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.Get(context.Background(), []byte("/missing"))
	assert.ErrorIs(t, err, kaderr.ErrNotFound)
}

func TestPutRejectsInvalidRecord(t *testing.T) {
	reg := record.NewRegistry()
	reg.Register("", record.ValidatorFunc(func(key, value []byte) error {
		return assert.AnError
	}), record.BytewiseSelector{})
	s := New(newMemDatastore(), reg, 0)

	err := s.Put(context.Background(), record.Record{Key: []byte("/k"), Value: []byte("v"), TimeReceived: time.Now()})
	assert.Error(t, err)
}

func TestSelectorPicksDeterministically(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, record.Record{Key: []byte("/k"), Value: []byte("aaa"), TimeReceived: time.Now()}))
	require.NoError(t, s.Put(ctx, record.Record{Key: []byte("/k"), Value: []byte("zzz"), TimeReceived: time.Now()}))

	got, err := s.Get(ctx, []byte("/k"))
	require.NoError(t, err)
	assert.Equal(t, "zzz", string(got.Value))
}

func TestExpiredRecordsAreDiscardedOnRead(t *testing.T) {
	reg := record.NewRegistry()
	reg.Register("", nil, record.BytewiseSelector{})
	s := New(newMemDatastore(), reg, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, record.Record{
		Key:          []byte("/k"),
		Value:        []byte("v"),
		TimeReceived: time.Now().Add(-time.Hour),
	}))

	_, err := s.Get(ctx, []byte("/k"))
	assert.Error(t, err)
}

func TestGetManyReturnsMostRecentFirst(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, record.Record{Key: []byte("/k"), Value: []byte("old"), TimeReceived: now.Add(-time.Hour)}))
	require.NoError(t, s.Put(ctx, record.Record{Key: []byte("/k"), Value: []byte("new"), TimeReceived: now}))

	recs, err := s.GetMany(ctx, []byte("/k"), 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "new", string(recs[0].Value))
}
