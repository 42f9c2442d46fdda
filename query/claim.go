package query

import (
	"sync"

	"kaddht/peer"
)

// claimTable enforces path disjointness: a peer discovered by more than
// one path's closerPeers response is awarded to whichever path claims it
// first, so the same candidate is never queried down two paths at once.
type claimTable struct {
	mu      sync.Mutex
	claimed map[peer.PeerID]int
}

func newClaimTable() *claimTable {
	return &claimTable{claimed: make(map[peer.PeerID]int)}
}

// tryClaim reports whether pathIndex now owns id: true if it was unclaimed
// (and is now claimed by pathIndex) or already claimed by pathIndex,
// false if another path got there first.
func (c *claimTable) tryClaim(id peer.PeerID, pathIndex int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.claimed[id]
	if !ok {
		c.claimed[id] = pathIndex
		return true
	}
	return owner == pathIndex
}
