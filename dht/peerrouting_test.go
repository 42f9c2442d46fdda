package dht

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaddht/kaderr"
	"kaddht/kadid"
)

func TestFindPeerResolvesThroughIntermediateHop(t *testing.T) {
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

	info, err := a.FindPeer(ctx, c.self)
	require.NoError(t, err)
	assert.Equal(t, c.self, info.ID)
	assert.NotEmpty(t, info.Addrs)
}

func TestFindPeerReturnsNotFoundForUnreachablePeer(t *testing.T) {
	board := newSwitchboard()
	cfg := testConfig()
	a := newTestNode("a", board, cfg)
	b := newTestNode("b", board, cfg)
	ghost := newTestNode("ghost", board, cfg)
	defer a.Close()
	defer b.Close()
	defer ghost.Close()

	connect(a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := a.FindPeer(ctx, ghost.self)
	assert.ErrorIs(t, err, kaderr.ErrNotFound)
}

func TestGetClosestPeersOrdersByDistance(t *testing.T) {
	board := newSwitchboard()
	cfg := testConfig()
	a := newTestNode("a", board, cfg)
	b := newTestNode("b", board, cfg)
	c := newTestNode("c", board, cfg)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	connect(a, b)
	connect(a, c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	peers, err := a.GetClosestPeers(ctx, []byte("some-key"))
	require.NoError(t, err)
	assert.NotEmpty(t, peers)

	target := kadid.KeyFor([]byte("some-key"))
	for i := 1; i < len(peers); i++ {
		prev := kadid.Distance(kadid.KeyFor(peers[i-1][:]), target)
		cur := kadid.Distance(kadid.KeyFor(peers[i][:]), target)
		assert.LessOrEqual(t, kadid.Compare(prev, cur), 0)
	}
}
