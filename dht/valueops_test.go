package dht

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaddht/kaderr"
)

func TestPutValueThenGetValueAcrossNetwork(t *testing.T) {
	board := newSwitchboard()
	cfg := testConfig()
	a := newTestNode("a", board, cfg)
	b := newTestNode("b", board, cfg)
	c := newTestNode("c", board, cfg)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	connect(a, b)
	connect(b, c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, a.PutValue(ctx, []byte("/demo/key"), []byte("value-from-a")))

	rec, err := c.GetValue(ctx, []byte("/demo/key"))
	require.NoError(t, err)
	assert.Equal(t, "value-from-a", string(rec.Value))
	assert.Equal(t, a.self, rec.Author)
}

func TestGetValueReturnsNotFoundForMissingKey(t *testing.T) {
	board := newSwitchboard()
	cfg := testConfig()
	a := newTestNode("a", board, cfg)
	b := newTestNode("b", board, cfg)
	defer a.Close()
	defer b.Close()

	connect(a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := a.GetValue(ctx, []byte("/never/put"))
	assert.ErrorIs(t, err, kaderr.ErrNotFound)
}

func TestGetManyValuesGathersUpToN(t *testing.T) {
	board := newSwitchboard()
	cfg := testConfig()
	a := newTestNode("a", board, cfg)
	b := newTestNode("b", board, cfg)
	c := newTestNode("c", board, cfg)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	connect(a, b)
	connect(b, c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, a.PutValue(ctx, []byte("/demo/multi"), []byte("value-1")))

	recs, err := c.GetManyValues(ctx, []byte("/demo/multi"), 2)
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
	for _, r := range recs {
		assert.Equal(t, "value-1", string(r.Value))
	}
}

func TestPublicKeyRoundTripValidatesHash(t *testing.T) {
	board := newSwitchboard()
	cfg := testConfig()
	a := newTestNode("a", board, cfg)
	b := newTestNode("b", board, cfg)
	defer a.Close()
	defer b.Close()

	connect(a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pub, err := b.GetPublicKey(ctx, a.self)
	require.NoError(t, err)
	assert.Equal(t, a.key.PublicKey, pub)
}
