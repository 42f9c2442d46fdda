package dht

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kaddht/kaderr"
	"kaddht/kadid"
	"kaddht/peer"
	"kaddht/protocol"
	"kaddht/query"
	"kaddht/record"
)

// minRecordsForGet is how many independent records GetValue tries to
// gather from the network before running the selector over them, the "N"
// the value-ops section refers to.
const minRecordsForGet = 4

// PutValue validates and stores value under key locally, signed by this
// node's identity, then pushes it to the k closest peers in parallel. A
// put succeeds once the local write is stored: PutValue waits for every
// replication attempt to finish, logs the ones that fail, and returns nil
// whether or not any remote peer acknowledged the record.
func (d *DHT) PutValue(ctx context.Context, key, value []byte) error {
	qid := uuid.New().String()
	log.Debugw("put_value start", "query_id", qid, "key", string(key))

	rec := record.Record{
		Key:          key,
		Value:        value,
		TimeReceived: time.Now(),
		Author:       d.self,
		Signature:    d.key.Sign(record.SignaturePayload(key, value)),
	}
	if err := d.records.Put(ctx, rec); err != nil {
		return fmt.Errorf("dht: put_value: %w", err)
	}

	d.authoredMu.Lock()
	d.authored[string(key)] = rec
	d.authoredMu.Unlock()

	closest, err := d.GetClosestPeers(ctx, key)
	if err != nil {
		log.Debugw("put_value: no peers to replicate to, local write stands", "query_id", qid, "error", err)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range closest {
		p := p
		g.Go(func() error {
			_, err := d.client.SendRequest(gctx, p, protocol.Message{
				Type:   protocol.TypePutValue,
				Key:    key,
				Record: &rec,
			})
			if err != nil {
				log.Debugw("put_value replication failed", "query_id", qid, "peer", peer.EncodeToString(p), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// GetValue resolves key to its best validated record: /pk/ keys trust a
// present local record outright (its validator already checked the hash
// match), anything else is cross-checked against the network by gathering
// minRecordsForGet independent responses and running the registered
// selector. Responders whose record loses the selection receive an
// opportunistic correcting PUT_VALUE.
func (d *DHT) GetValue(ctx context.Context, key []byte) (record.Record, error) {
	qid := uuid.New().String()
	log.Debugw("get_value start", "query_id", qid, "key", string(key))

	local, localErr := d.records.Get(ctx, key)
	if localErr == nil && strings.HasPrefix(string(key), record.PublicKeyPrefix) {
		return local, nil
	}

	candidates := make(map[string]record.Record)
	responders := make(map[peer.PeerID]record.Record)
	var mu sync.Mutex
	if localErr == nil {
		candidates[string(local.Value)] = local
	}

	target := kadid.KeyFor(key)
	seeds := d.table.ClosestPeers(target, d.cfg.K)
	if len(seeds) == 0 {
		if localErr == nil {
			return local, nil
		}
		return record.Record{}, kaderr.ErrLookupFailed
	}

	factory := func() query.QueryPeerFunc {
		return func(ctx context.Context, p peer.PeerID) query.PathStep {
			resp, err := d.client.SendRequest(ctx, p, protocol.Message{Type: protocol.TypeGetValue, Key: key})
			if err != nil {
				return query.PathStep{Err: err}
			}
			d.table.Add(ctx, p, true)

			if resp.Record != nil {
				if err := d.validateRemoteRecord(key, *resp.Record); err == nil {
					mu.Lock()
					candidates[string(resp.Record.Value)] = *resp.Record
					responders[p] = *resp.Record
					n := len(responders)
					mu.Unlock()
					if n >= minRecordsForGet {
						return query.PathStep{QueryComplete: true, Peer: p}
					}
				}
			}
			return query.PathStep{CloserPeers: d.ensureAlive(ctx, resp.CloserPeers)}
		}
	}

	if _, err := query.Run(ctx, target, seeds, factory, d.cfg.queryConfig()); err != nil {
		if mapped := kaderr.FromContextErr(err); mapped != nil {
			return record.Record{}, mapped
		}
		return record.Record{}, fmt.Errorf("dht: get_value: %w", err)
	}

	if len(candidates) == 0 {
		return record.Record{}, kaderr.ErrNotFound
	}

	values := make([][]byte, 0, len(candidates))
	records := make([]record.Record, 0, len(candidates))
	for _, r := range candidates {
		values = append(values, r.Value)
		records = append(records, r)
	}

	idx := 0
	if sel, ok := d.registry.Selector(key); ok {
		i, err := sel.Select(key, values)
		if err != nil {
			return record.Record{}, fmt.Errorf("%w: %s", kaderr.ErrInvalidRecord, err)
		}
		idx = i
	}
	best := records[idx]

	d.correctStaleResponders(key, best, responders)
	return best, nil
}

// GetManyValues gathers up to n independent valid records for key without
// running the selector, letting the caller apply its own policy.
func (d *DHT) GetManyValues(ctx context.Context, key []byte, n int) ([]record.Record, error) {
	qid := uuid.New().String()
	log.Debugw("get_many_values start", "query_id", qid, "key", string(key))

	seen := make(map[string]record.Record)
	var mu sync.Mutex

	if local, err := d.records.Get(ctx, key); err == nil {
		seen[string(local.Value)] = local
	}

	target := kadid.KeyFor(key)
	seeds := d.table.ClosestPeers(target, d.cfg.K)
	if len(seeds) == 0 {
		return mapToSlice(seen, n), nil
	}

	factory := func() query.QueryPeerFunc {
		return func(ctx context.Context, p peer.PeerID) query.PathStep {
			resp, err := d.client.SendRequest(ctx, p, protocol.Message{Type: protocol.TypeGetValue, Key: key})
			if err != nil {
				return query.PathStep{Err: err}
			}
			d.table.Add(ctx, p, true)

			if resp.Record != nil && d.validateRemoteRecord(key, *resp.Record) == nil {
				mu.Lock()
				seen[string(resp.Record.Value)] = *resp.Record
				got := len(seen)
				mu.Unlock()
				if got >= n {
					return query.PathStep{QueryComplete: true, Peer: p}
				}
			}
			return query.PathStep{CloserPeers: d.ensureAlive(ctx, resp.CloserPeers)}
		}
	}

	if _, err := query.Run(ctx, target, seeds, factory, d.cfg.queryConfig()); err != nil {
		if mapped := kaderr.FromContextErr(err); mapped != nil {
			return nil, mapped
		}
		return nil, fmt.Errorf("dht: get_many_values: %w", err)
	}

	out := mapToSlice(seen, n)
	if len(out) == 0 {
		return nil, kaderr.ErrNotFound
	}
	return out, nil
}

func mapToSlice(m map[string]record.Record, n int) []record.Record {
	out := make([]record.Record, 0, len(m))
	for _, r := range m {
		out = append(out, r)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}

// validateRemoteRecord re-runs this node's own validator over a record
// returned by a peer: a responder could always lie, so acceptance can
// never rest on the responder having validated it first.
func (d *DHT) validateRemoteRecord(key []byte, r record.Record) error {
	if v, ok := d.registry.Validator(key); ok {
		return v.Validate(key, r.Value)
	}
	return nil
}

// correctStaleResponders opportunistically PUT_VALUEs best back to every
// responder whose own record differed from the selected one, the
// "correcting put" behavior: best-effort, fire-and-forget, never blocks
// the caller's GetValue return.
func (d *DHT) correctStaleResponders(key []byte, best record.Record, responders map[peer.PeerID]record.Record) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeout)
		defer cancel()
		for p, r := range responders {
			if bytes.Equal(r.Value, best.Value) {
				continue
			}
			if _, err := d.client.SendRequest(ctx, p, protocol.Message{
				Type:   protocol.TypePutValue,
				Key:    key,
				Record: &best,
			}); err != nil {
				log.Debugw("correcting put failed", "peer", peer.EncodeToString(p), "error", err)
			}
		}
	}()
}
