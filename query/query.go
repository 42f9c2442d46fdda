// Package query implements the disjoint-path iterative lookup every
// higher-level DHT operation (FindPeer, GetClosestPeers, Provide,
// FindProviders, PutValue, GetValue) drives: α independently-seeded paths,
// each walking its own min-heap of candidates best-first with up to β
// concurrent workers, arbitrating newly-discovered peers between paths by
// first claim.
//
// Grounded on storj-storj's pkg/kademlia/workers.go (xor-sort "working
// set" of uncontacted/in-progress/completed nodes, a per-worker lookup
// loop pulling from that set), generalized from one shared working set per
// lookup into one disjoint heap per path, since the original never
// enforced disjointness across concurrent lookup paths.
package query

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"kaddht/kadid"
	"kaddht/peer"
)

// DefaultAlpha is the number of disjoint paths run per query.
const DefaultAlpha = 3

// DefaultK is the result-width / bucket-size constant shared with rtable.
const DefaultK = 20

// DefaultTimeout bounds an entire query if the caller supplies none.
const DefaultTimeout = 60 * time.Second

// PathStep is the outcome of querying one peer along one path.
type PathStep struct {
	CloserPeers   []peer.PeerID
	Peer          peer.PeerID // set alongside QueryComplete when it differs from the queried peer
	QueryComplete bool
	PathComplete  bool
	Err           error
}

// QueryPeerFunc queries one peer and reports what happened.
type QueryPeerFunc func(ctx context.Context, p peer.PeerID) PathStep

// PathQueryFactory builds one QueryPeerFunc per path. Every path gets its
// own so a caller can close over per-path state (e.g. a GET_VALUE
// accumulator) without the paths racing each other.
type PathQueryFactory func() QueryPeerFunc

// Config tunes one Run call.
type Config struct {
	Alpha   int // disjoint paths
	K       int // result width / stall-check window
	Beta    int // per-path worker concurrency; 0 means Alpha
	Timeout time.Duration
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{Alpha: DefaultAlpha, K: DefaultK, Beta: DefaultAlpha, Timeout: DefaultTimeout}
}

// Candidate is one peer in the engine's final result set.
type Candidate struct {
	Peer     peer.PeerID
	Distance kadid.ID
}

// PathResult summarizes one path's outcome.
type PathResult struct {
	Success bool
	Peer    *peer.PeerID // the winning peer, if this path reached QueryComplete
	Queried []peer.PeerID
}

// Result is the outcome of a full Run.
type Result struct {
	Paths    []PathResult
	FinalSet []Candidate
}

// Run executes the disjoint-path lookup for target, seeded from seeds,
// using makePathQuery to build each path's query function. It returns once
// every path has terminated, the overall timeout elapses, or ctx is
// cancelled.
func Run(ctx context.Context, target kadid.ID, seeds []peer.PeerID, makePathQuery PathQueryFactory, cfg Config) (Result, error) {
	if cfg.Alpha <= 0 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.Beta <= 0 {
		cfg.Beta = cfg.Alpha
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	runCtx, abort := context.WithCancel(timeoutCtx)
	defer cancel()
	defer abort()

	sorted := dedupeAndSort(seeds, target)
	claims := newClaimTable()
	partitions := partitionRoundRobin(sorted, cfg.Alpha)

	paths := make([]*path, cfg.Alpha)
	for i := 0; i < cfg.Alpha; i++ {
		for _, id := range partitions[i] {
			claims.tryClaim(id, i)
		}
		p := newPath(i, target, cfg.K, makePathQuery(), claims)
		p.abort = abort
		p.seed(partitions[i])
		paths[i] = p
	}

	g, gctx := errgroup.WithContext(runCtx)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			p.run(gctx, cfg.Beta)
			return nil
		})
	}
	_ = g.Wait()

	res := assembleResult(paths)

	// abort() also cancels runCtx when a path reports QueryComplete; that's
	// the normal early-stop shortcut, not a failure, so only a cancellation
	// or deadline reaching the *caller's* ctx (or the timeout this Run
	// applied on top of it) is reported as an error.
	switch {
	case ctx.Err() != nil:
		return res, ctx.Err()
	case timeoutCtx.Err() != nil:
		return res, timeoutCtx.Err()
	default:
		return res, nil
	}
}

func dedupeAndSort(seeds []peer.PeerID, target kadid.ID) []peer.PeerID {
	seen := make(map[peer.PeerID]bool, len(seeds))
	out := make([]peer.PeerID, 0, len(seeds))
	for _, s := range seeds {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sortPeersByDistance(out, target)
	return out
}

func sortPeersByDistance(ids []peer.PeerID, target kadid.ID) {
	less := func(i, j int) bool {
		di := kadid.Distance(kadid.KeyFor(ids[i][:]), target)
		dj := kadid.Distance(kadid.KeyFor(ids[j][:]), target)
		return kadid.Compare(di, dj) < 0
	}
	// insertion sort: seed lists are small (bucket-sized), no need for sort.Slice's overhead.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// partitionRoundRobin splits sorted seeds across alpha paths: path i gets
// seeds at positions i, i+alpha, i+2*alpha, ...
func partitionRoundRobin(sorted []peer.PeerID, alpha int) [][]peer.PeerID {
	out := make([][]peer.PeerID, alpha)
	for i, id := range sorted {
		out[i%alpha] = append(out[i%alpha], id)
	}
	return out
}

func assembleResult(paths []*path) Result {
	var res Result
	final := make(map[peer.PeerID]kadid.ID)

	for _, p := range paths {
		queried := p.queriedSuccessPeers()
		res.Paths = append(res.Paths, PathResult{
			Success: p.success,
			Peer:    p.winner,
			Queried: queried,
		})
		for _, id := range queried {
			if _, ok := final[id]; !ok {
				final[id] = kadid.Distance(kadid.KeyFor(id[:]), p.target)
			}
		}
	}

	res.FinalSet = make([]Candidate, 0, len(final))
	for id, dist := range final {
		res.FinalSet = append(res.FinalSet, Candidate{Peer: id, Distance: dist})
	}
	sortCandidates(res.FinalSet)
	return res
}

func sortCandidates(cands []Candidate) {
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && kadid.Compare(cands[j].Distance, cands[j-1].Distance) < 0; j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
}
