package dht

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/multiformats/go-multihash"
	"golang.org/x/sync/errgroup"

	"kaddht/kaderr"
	"kaddht/kadid"
	"kaddht/peer"
	"kaddht/protocol"
	"kaddht/query"
)

// Provide announces to the network that this node holds cid: it finds the
// k closest peers to cid, sends each an ADD_PROVIDER in parallel, and
// records the same fact locally.
func (d *DHT) Provide(ctx context.Context, cid multihash.Multihash) error {
	qid := uuid.New().String()
	log.Debugw("provide start", "query_id", qid, "cid", fmt.Sprintf("%x", []byte(cid)))

	if err := d.providers.AddProvider(ctx, cid, d.self); err != nil {
		return fmt.Errorf("dht: provide: local record: %w", err)
	}

	d.authoredMu.Lock()
	d.provided[string(cid)] = cid
	d.authoredMu.Unlock()

	closest, err := d.GetClosestPeers(ctx, []byte(cid))
	if err != nil {
		return fmt.Errorf("dht: provide: %w", err)
	}

	selfInfo := protocol.PeerInfo{ID: d.self}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range closest {
		p := p
		g.Go(func() error {
			_, err := d.client.SendRequest(gctx, p, protocol.Message{
				Type:          protocol.TypeAddProvider,
				Key:           []byte(cid),
				ProviderPeers: []protocol.PeerInfo{selfInfo},
			})
			if err != nil {
				log.Debugw("add_provider failed", "query_id", qid, "peer", peer.EncodeToString(p), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// FindProviders seeds from the local provider store, then runs a
// GET_PROVIDERS query, merging and deduplicating results until count
// providers are found, the query exhausts, or timeout elapses.
func (d *DHT) FindProviders(ctx context.Context, cid multihash.Multihash, count int) ([]PeerAddrInfo, error) {
	qid := uuid.New().String()
	log.Debugw("find_providers start", "query_id", qid, "cid", fmt.Sprintf("%x", []byte(cid)))

	found := make(map[peer.PeerID]PeerAddrInfo)
	var mu sync.Mutex
	addFound := func(p peer.PeerID, addrs []string) {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := found[p]; !ok {
			found[p] = PeerAddrInfo{ID: p, Addrs: addrs}
		}
	}

	local, err := d.providers.GetProviders(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("dht: find_providers: local lookup: %w", err)
	}
	for _, p := range local {
		addFound(p, d.addrs.Addrs(p))
	}

	target := kadid.KeyFor([]byte(cid))
	seeds := d.table.ClosestPeers(target, d.cfg.K)
	if len(seeds) == 0 && len(found) == 0 {
		return nil, kaderr.ErrLookupFailed
	}
	if len(seeds) == 0 {
		return mapValues(found), nil
	}

	factory := func() query.QueryPeerFunc {
		return func(ctx context.Context, p peer.PeerID) query.PathStep {
			resp, err := d.client.SendRequest(ctx, p, protocol.Message{
				Type: protocol.TypeGetProviders,
				Key:  []byte(cid),
			})
			if err != nil {
				return query.PathStep{Err: err}
			}
			d.table.Add(ctx, p, true)

			for _, pi := range resp.ProviderPeers {
				addrs := make([]string, 0, len(pi.Addrs))
				for _, a := range pi.Addrs {
					addrs = append(addrs, string(a))
					d.addrs.AddAddr(pi.ID, string(a))
				}
				addFound(pi.ID, addrs)
			}

			mu.Lock()
			n := len(found)
			mu.Unlock()
			if count > 0 && n >= count {
				// Enough providers found across every path combined: end the
				// whole query now rather than letting the other paths keep
				// querying for a result nobody needs anymore.
				return query.PathStep{QueryComplete: true, Peer: p}
			}
			return query.PathStep{CloserPeers: d.ensureAlive(ctx, resp.CloserPeers)}
		}
	}

	_, err = query.Run(ctx, target, seeds, factory, d.cfg.queryConfig())
	if err != nil {
		if mapped := kaderr.FromContextErr(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("dht: find_providers: %w", err)
	}

	out := mapValues(found)
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func mapValues(m map[peer.PeerID]PeerAddrInfo) []PeerAddrInfo {
	out := make([]PeerAddrInfo, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
