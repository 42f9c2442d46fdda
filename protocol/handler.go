package protocol

import (
	"context"
	"crypto/ed25519"
	"strings"

	"github.com/multiformats/go-multihash"

	"kaddht/internal/kadlog"
	"kaddht/kadid"
	"kaddht/peer"
	"kaddht/record"
)

var log = kadlog.Named("protocol")

// bucketSize is k, the maximum number of peers any single response
// carries, matching the routing table's own bucket size.
const bucketSize = 20

// Router is the subset of rtable.Table a Handler needs: closest-peer
// lookups for FIND_NODE/GET_VALUE/GET_PROVIDERS responses.
type Router interface {
	ClosestPeers(target kadid.ID, count int) []peer.PeerID
}

// RecordStore is the subset of recstore.Store a Handler needs.
type RecordStore interface {
	Put(ctx context.Context, r record.Record) error
	Get(ctx context.Context, key []byte) (record.Record, error)
}

// ProviderStore is the subset of provstore.Store a Handler needs.
type ProviderStore interface {
	AddProvider(ctx context.Context, cid multihash.Multihash, p peer.PeerID) error
	GetProviders(ctx context.Context, cid multihash.Multihash) ([]peer.PeerID, error)
}

// LocalKeys resolves a peer ID to its known public key, either because it
// is the local node's own identity or because the address book has it on
// file. A nil LocalKeys means /pk/ lookups are answered from the record
// store alone.
type LocalKeys interface {
	PublicKeyFor(id peer.PeerID) (ed25519.PublicKey, bool)
}

// AddressBook supplies the known dial addresses for a peer mentioned in a
// closerPeers response, so the asker can reach a peer it has never talked
// to before. A nil AddressBook means closer-peer entries carry IDs only.
type AddressBook interface {
	Addrs(id peer.PeerID) []string
}

// Handler answers incoming requests against the local routing table,
// record store, and provider store, implementing the per-type semantics
// the message protocol section specifies.
type Handler struct {
	Self      peer.PeerID
	Router    Router
	Records   RecordStore
	Providers ProviderStore
	Keys      LocalKeys
	Addrs     AddressBook
}

// Handle dispatches req and returns the single response message to write
// back before the stream closes.
func (h *Handler) Handle(ctx context.Context, sender peer.PeerID, req Message) Message {
	switch req.Type {
	case TypePing:
		return Message{Type: TypePing}

	case TypeFindNode:
		return Message{
			Type:        TypeFindNode,
			Key:         req.Key,
			CloserPeers: h.closerPeers(req.Key),
		}

	case TypeGetValue:
		return h.handleGetValue(ctx, req)

	case TypePutValue:
		return h.handlePutValue(ctx, req)

	case TypeAddProvider:
		return h.handleAddProvider(ctx, sender, req)

	case TypeGetProviders:
		return h.handleGetProviders(ctx, req)

	default:
		log.Warnw("unknown message type", "type", uint8(req.Type))
		return Message{Type: req.Type}
	}
}

func (h *Handler) closerPeers(key []byte) []PeerInfo {
	target := kadid.KeyFor(key)
	ids := h.Router.ClosestPeers(target, bucketSize)
	out := make([]PeerInfo, 0, len(ids))
	for _, id := range ids {
		pi := PeerInfo{ID: id, Connectedness: NotConnected}
		if h.Addrs != nil {
			for _, a := range h.Addrs.Addrs(id) {
				pi.Addrs = append(pi.Addrs, []byte(a))
			}
		}
		out = append(out, pi)
	}
	return out
}

func (h *Handler) handleGetValue(ctx context.Context, req Message) Message {
	resp := Message{Type: TypeGetValue, Key: req.Key, CloserPeers: h.closerPeers(req.Key)}

	if strings.HasPrefix(string(req.Key), record.PublicKeyPrefix) && h.Keys != nil {
		var id peer.PeerID
		raw := req.Key[len(record.PublicKeyPrefix):]
		if len(raw) == peer.PeerIDLength {
			copy(id[:], raw)
			if pub, ok := h.Keys.PublicKeyFor(id); ok {
				resp.Record = &record.Record{Key: req.Key, Value: pub}
				return resp
			}
		}
	}

	rec, err := h.Records.Get(ctx, req.Key)
	if err == nil {
		resp.Record = &rec
	}
	return resp
}

func (h *Handler) handlePutValue(ctx context.Context, req Message) Message {
	resp := Message{Type: TypePutValue, Key: req.Key}
	if req.Record == nil {
		return resp
	}
	if err := h.Records.Put(ctx, *req.Record); err != nil {
		log.Debugw("put_value rejected", "key", string(req.Key), "error", err)
		return resp
	}
	resp.Record = req.Record
	return resp
}

func (h *Handler) handleAddProvider(ctx context.Context, sender peer.PeerID, req Message) Message {
	resp := Message{Type: TypeAddProvider, Key: req.Key}
	mh := multihash.Multihash(req.Key)

	for _, pi := range req.ProviderPeers {
		if pi.ID.Equals(sender) {
			if err := h.Providers.AddProvider(ctx, mh, sender); err != nil {
				log.Debugw("add_provider failed", "error", err)
			}
			return resp
		}
	}
	// Silently drop: no provider entry in the request matched the
	// transport-authenticated sender.
	return resp
}

func (h *Handler) handleGetProviders(ctx context.Context, req Message) Message {
	resp := Message{Type: TypeGetProviders, Key: req.Key, CloserPeers: h.closerPeers(req.Key)}
	mh := multihash.Multihash(req.Key)

	provs, err := h.Providers.GetProviders(ctx, mh)
	if err != nil {
		return resp
	}
	resp.ProviderPeers = make([]PeerInfo, 0, len(provs))
	for _, p := range provs {
		pi := PeerInfo{ID: p, Connectedness: NotConnected}
		if h.Addrs != nil {
			for _, a := range h.Addrs.Addrs(p) {
				pi.Addrs = append(pi.Addrs, []byte(a))
			}
		}
		resp.ProviderPeers = append(resp.ProviderPeers, pi)
	}
	return resp
}
