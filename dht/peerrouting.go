package dht

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"kaddht/kaderr"
	"kaddht/kadid"
	"kaddht/peer"
	"kaddht/protocol"
	"kaddht/query"
)

// PeerAddrInfo is a resolved peer identity plus its known dial addresses.
type PeerAddrInfo struct {
	ID    peer.PeerID
	Addrs []string
}

// FindPeer resolves target to its known network addresses: immediately if
// the address book and routing table already have it, otherwise by
// running a FIND_NODE query and returning as soon as a path reports the
// exact target.
func (d *DHT) FindPeer(ctx context.Context, target peer.PeerID) (PeerAddrInfo, error) {
	qid := uuid.New().String()
	log.Debugw("find_peer start", "query_id", qid, "target", peer.EncodeToString(target))

	if d.table.Find(target) {
		if addrs := d.addrs.Addrs(target); len(addrs) > 0 {
			return PeerAddrInfo{ID: target, Addrs: addrs}, nil
		}
	}

	targetKad := kadid.KeyFor(target[:])
	seeds := d.table.ClosestPeers(targetKad, d.cfg.K)
	if len(seeds) == 0 {
		return PeerAddrInfo{}, kaderr.ErrLookupFailed
	}

	factory := func() query.QueryPeerFunc {
		return func(ctx context.Context, p peer.PeerID) query.PathStep {
			resp, err := d.client.SendRequest(ctx, p, protocol.Message{
				Type: protocol.TypeFindNode,
				Key:  target[:],
			})
			if err != nil {
				return query.PathStep{Err: err}
			}
			d.table.Add(ctx, p, true)

			for _, pi := range resp.CloserPeers {
				if pi.ID.Equals(target) {
					d.ensureAlive(ctx, resp.CloserPeers)
					return query.PathStep{QueryComplete: true, Peer: pi.ID}
				}
			}
			closer := d.ensureAlive(ctx, resp.CloserPeers)
			return query.PathStep{CloserPeers: closer}
		}
	}

	res, err := query.Run(ctx, targetKad, seeds, factory, d.cfg.queryConfig())
	if mapped := kaderr.FromContextErr(err); mapped != nil {
		return PeerAddrInfo{}, mapped
	} else if err != nil {
		return PeerAddrInfo{}, fmt.Errorf("dht: find_peer: %w", err)
	}

	for _, pr := range res.Paths {
		if pr.Success && pr.Peer != nil && pr.Peer.Equals(target) {
			log.Debugw("find_peer succeeded", "query_id", qid)
			return PeerAddrInfo{ID: target, Addrs: d.addrs.Addrs(target)}, nil
		}
	}

	return PeerAddrInfo{}, kaderr.ErrNotFound
}

// GetClosestPeers runs a FIND_NODE query toward key with no winning
// condition and returns the k peers closest to it by XOR distance,
// regardless of whether they were previously known.
func (d *DHT) GetClosestPeers(ctx context.Context, key []byte) ([]peer.PeerID, error) {
	qid := uuid.New().String()
	log.Debugw("get_closest_peers start", "query_id", qid, "key", string(key))
	return d.lookupClosestPeers(ctx, kadid.KeyFor(key), key)
}

// lookupClosestPeers runs a FIND_NODE query directly toward a point in the
// hashed ID space, rather than hashing a caller-supplied byte string or
// peer ID first. GetClosestPeers wraps it for the common "closest to
// KeyFor(key)" case; the bucket-refresh maintenance loop calls it directly
// with a random ID it has already generated in-space, since there is no
// byte string that hashes back to an arbitrary chosen ID.
func (d *DHT) lookupClosestPeers(ctx context.Context, target kadid.ID, wireKey []byte) ([]peer.PeerID, error) {
	seeds := d.table.ClosestPeers(target, d.cfg.K)
	if len(seeds) == 0 {
		return nil, kaderr.ErrLookupFailed
	}

	factory := func() query.QueryPeerFunc {
		return func(ctx context.Context, p peer.PeerID) query.PathStep {
			resp, err := d.client.SendRequest(ctx, p, protocol.Message{
				Type: protocol.TypeFindNode,
				Key:  wireKey,
			})
			if err != nil {
				return query.PathStep{Err: err}
			}
			d.table.Add(ctx, p, true)
			return query.PathStep{CloserPeers: d.ensureAlive(ctx, resp.CloserPeers)}
		}
	}

	res, err := query.Run(ctx, target, seeds, factory, d.cfg.queryConfig())
	if mapped := kaderr.FromContextErr(err); mapped != nil {
		return nil, mapped
	} else if err != nil {
		return nil, fmt.Errorf("dht: get_closest_peers: %w", err)
	}

	out := make([]peer.PeerID, 0, d.cfg.K)
	for i, c := range res.FinalSet {
		if i >= d.cfg.K {
			break
		}
		out = append(out, c.Peer)
	}
	return out, nil
}
