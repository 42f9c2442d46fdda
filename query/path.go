package query

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"kaddht/kadid"
	"kaddht/peer"
)

// path runs one disjoint lookup path: a private heap of unqueried
// candidates plus a bounded top-k window used for the "no-closer" stall
// check, guarded by its own mutex so paths never block each other.
type path struct {
	index     int
	target    kadid.ID
	k         int
	queryPeer QueryPeerFunc
	claim     *claimTable
	abort     context.CancelFunc // cancels the shared query context on queryComplete

	mu       sync.Mutex
	cond     *sync.Cond
	heap     candHeap
	seen     map[peer.PeerID]*candState
	topK     []*candState // sorted ascending by distance, len <= k
	inFlight int
	terminal bool // set on queryComplete, pathComplete, or ctx cancellation

	winner  *peer.PeerID
	success bool
}

func newPath(index int, target kadid.ID, k int, queryPeer QueryPeerFunc, claim *claimTable) *path {
	p := &path{
		index:     index,
		target:    target,
		k:         k,
		queryPeer: queryPeer,
		claim:     claim,
		seen:      make(map[peer.PeerID]*candState),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// seed adds ids that this path has already claimed (the caller partitions
// and claims the initial seed set before any path starts running).
func (p *path) seed(ids []peer.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.addLocked(id)
	}
}

// addLocked inserts id into this path's heap and top-k window if it hasn't
// already been seen by this path. Callers must hold p.mu.
func (p *path) addLocked(id peer.PeerID) {
	if _, ok := p.seen[id]; ok {
		return
	}
	kid := kadid.KeyFor(id[:])
	c := &candState{id: id, dist: kadid.Distance(kid, p.target)}
	p.seen[id] = c
	pushCandidate(&p.heap, c)
	p.insertTopK(c)
}

// insertTopK keeps topK sorted ascending by distance and capped at k
// entries, used only to evaluate the stall condition below.
func (p *path) insertTopK(c *candState) {
	i := len(p.topK)
	p.topK = append(p.topK, c)
	for i > 0 && kadid.Compare(p.topK[i-1].dist, p.topK[i].dist) > 0 {
		p.topK[i-1], p.topK[i] = p.topK[i], p.topK[i-1]
		i--
	}
	if len(p.topK) > p.k {
		p.topK = p.topK[:p.k]
	}
}

// stalledLocked reports the "no-closer" termination condition: the k
// closest candidates this path has ever discovered have all been queried,
// so continuing can't possibly improve the result. Callers must hold p.mu.
func (p *path) stalledLocked() bool {
	if len(p.topK) == 0 {
		return false
	}
	for _, c := range p.topK {
		if !c.queried {
			return false
		}
	}
	return true
}

// run drives up to beta workers pulling the closest unqueried candidate
// off this path's heap until the heap is exhausted, the path stalls, a
// sibling or this path signals global completion, or ctx is cancelled.
func (p *path) run(ctx context.Context, beta int) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < beta; i++ {
		g.Go(func() error {
			p.worker(gctx)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *path) worker(ctx context.Context) {
	for {
		p.mu.Lock()
		for !p.terminal && p.heap.Len() == 0 && p.inFlight > 0 && ctx.Err() == nil {
			p.cond.Wait()
		}
		if ctx.Err() != nil {
			p.terminal = true
			p.mu.Unlock()
			return
		}
		if p.terminal || p.stalledLocked() || (p.heap.Len() == 0 && p.inFlight == 0) {
			p.terminal = true
			p.cond.Broadcast()
			p.mu.Unlock()
			return
		}

		cand := popClosest(&p.heap)
		p.inFlight++
		p.mu.Unlock()

		step := p.queryPeer(ctx, cand.id)

		p.mu.Lock()
		p.inFlight--
		cand.queried = true

		foundWinner := false
		switch {
		case step.Err != nil:
			// Failed; already marked queried, never added back to the heap.
		case step.QueryComplete:
			cand.success = true
			winner := cand.id
			if step.Peer != (peer.PeerID{}) {
				winner = step.Peer
			}
			p.winner = &winner
			p.success = true
			p.terminal = true
			foundWinner = true
		case step.PathComplete:
			cand.success = true
			p.mergeCloserLocked(step.CloserPeers)
			p.terminal = true
		default:
			cand.success = true
			p.mergeCloserLocked(step.CloserPeers)
		}

		p.cond.Broadcast()
		p.mu.Unlock()

		if foundWinner && p.abort != nil {
			p.abort()
		}
	}
}

// mergeCloserLocked claims and merges newly discovered peers into this
// path, skipping self and anything already claimed by another path.
func (p *path) mergeCloserLocked(newPeers []peer.PeerID) {
	for _, id := range newPeers {
		if _, ok := p.seen[id]; ok {
			continue
		}
		if !p.claim.tryClaim(id, p.index) {
			continue
		}
		p.addLocked(id)
	}
}

// queriedSuccessPeers returns every peer this path successfully queried,
// contributing to the engine-wide final set.
func (p *path) queriedSuccessPeers() []peer.PeerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []peer.PeerID
	for id, c := range p.seen {
		if c.queried && c.success {
			out = append(out, id)
		}
	}
	return out
}
