// Package dht assembles the routing table, record/provider stores, wire
// protocol handler, and query engine into one running node, and implements
// the peer/content/value routing operations and maintenance loops on top.
//
// The Builder is modeled directly on host.Builder (host/host.go): a
// chained-setter struct that defers all wiring to a single Build() call,
// so a caller only ever configures a DHT through NewBuilder()...Build(),
// never by hand-assembling the component graph itself.
package dht

import (
	"context"
	"fmt"
	"sync"

	"github.com/multiformats/go-multihash"

	"kaddht/addrbook"
	"kaddht/internal/kadlog"
	"kaddht/peer"
	"kaddht/protocol"
	"kaddht/provstore"
	"kaddht/record"
	"kaddht/recstore"
	"kaddht/rtable"
	"kaddht/transport"
)

var log = kadlog.Named("dht")

// DHT is one running Kademlia node: its identity, routing table, local
// stores, and the network/query machinery built on top of them.
type DHT struct {
	self peer.PeerID
	key  *peer.KeyPair
	cfg  Config

	table     *rtable.Table
	records   *recstore.Store
	providers *provstore.Store
	registry  *record.Registry
	addrs     *addrbook.Book
	handler   *protocol.Handler
	transport *transport.QUICTransport
	client    *transport.Client

	listenAddr string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once

	// authoredMu guards the bookkeeping the republish loops use: every
	// key this node has PutValue'd and every CID it has Provide'd, so
	// maintenance can re-announce them without the caller tracking its
	// own history.
	authoredMu sync.Mutex
	authored   map[string]record.Record
	provided   map[string]multihash.Multihash
}

// Self returns the node's own identity.
func (d *DHT) Self() peer.PeerID { return d.self }

// Table exposes the routing table for inspection (tests, debugging
// tooling); operations on a DHT should go through its exported methods.
func (d *DHT) Table() *rtable.Table { return d.table }

// Addrs exposes the address book for inspection.
func (d *DHT) Addrs() *addrbook.Book { return d.addrs }

// Addr blocks until the transport has bound a listen address (resolving a
// ":0" port) or ctx is done. Client-mode instances never bind, so under
// ClientMode it returns an error immediately.
func (d *DHT) Addr(ctx context.Context) (string, error) {
	if d.cfg.ClientMode {
		return "", fmt.Errorf("dht: client-mode instance has no listen address")
	}
	addr, err := d.transport.Addr(ctx)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// Bootstrap seeds the routing table and address book with a known peer,
// the entry point for joining an existing network.
func (d *DHT) Bootstrap(id peer.PeerID, addr string) {
	d.addrs.AddAddr(id, addr)
	d.table.Add(d.ctx, id, false)
}

// Close stops every maintenance loop and releases the transport. It is
// safe to call more than once.
func (d *DHT) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.cancel()
		d.wg.Wait()
		err = d.transport.Close()
	})
	return err
}

// Builder configures a DHT, deferring all wiring to Build(), mirroring
// host.Builder's chained-setter-then-Build shape.
type Builder struct {
	listenAddr string
	key        *peer.KeyPair
	cfg        Config
	recordDS   recstore.Datastore
	providerDS provstore.Datastore
	registry   *record.Registry
	bootstrap  []bootstrapPeer
}

type bootstrapPeer struct {
	id   peer.PeerID
	addr string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// Listen sets the QUIC listen address, e.g. "0.0.0.0:9000" or "127.0.0.1:0".
func (b *Builder) Listen(addr string) *Builder {
	b.listenAddr = addr
	return b
}

// Key supplies a fixed identity; if never called, Build generates one.
func (b *Builder) Key(kp *peer.KeyPair) *Builder {
	b.key = kp
	return b
}

// Config overrides the default tunables.
func (b *Builder) Config(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// RecordDatastore supplies the backing store for recstore; required.
func (b *Builder) RecordDatastore(ds recstore.Datastore) *Builder {
	b.recordDS = ds
	return b
}

// ProviderDatastore supplies the backing store for provstore; required.
func (b *Builder) ProviderDatastore(ds provstore.Datastore) *Builder {
	b.providerDS = ds
	return b
}

// Registry overrides the validator/selector registry. If never called,
// Build installs "/pk/" → PublicKeyValidator/PublicKeySelector and a ""
// catch-all BytewiseSelector with no validator.
func (b *Builder) Registry(r *record.Registry) *Builder {
	b.registry = r
	return b
}

// Bootstrap queues a peer to seed the routing table and address book with
// at Build time, the entry point for joining an existing network.
func (b *Builder) Bootstrap(id peer.PeerID, addr string) *Builder {
	b.bootstrap = append(b.bootstrap, bootstrapPeer{id: id, addr: addr})
	return b
}

// Build assembles a running DHT instance: generates or adopts an identity,
// wires the routing table, stores, protocol handler, and transport
// together, starts the listener (unless ClientMode) and every maintenance
// loop, and returns the live instance.
func (b *Builder) Build() (*DHT, error) {
	if b.listenAddr == "" && !b.cfg.ClientMode {
		return nil, fmt.Errorf("dht: Listen address required (or set Config.ClientMode)")
	}
	if b.recordDS == nil {
		return nil, fmt.Errorf("dht: RecordDatastore required")
	}
	if b.providerDS == nil {
		return nil, fmt.Errorf("dht: ProviderDatastore required")
	}

	cfg := b.cfg.withDefaults()

	kp := b.key
	if kp == nil {
		var err error
		kp, err = peer.NewKeyPair()
		if err != nil {
			return nil, fmt.Errorf("dht: generate identity: %w", err)
		}
	}
	self := kp.PeerID

	registry := b.registry
	if registry == nil {
		registry = record.NewRegistry()
		registry.Register(record.PublicKeyPrefix, record.PublicKeyValidator{}, record.PublicKeySelector{})
		registry.Register("", nil, record.BytewiseSelector{})
	}

	addrs := addrbook.New()
	addrs.SetPublicKey(self, kp.PublicKey)

	// client is assigned after construction below; table's Ping callback
	// closes over this variable rather than a concrete *transport.Client,
	// since the table must exist before the client that pings through it.
	var client *transport.Client
	pingFn := func(ctx context.Context, id peer.PeerID) error {
		_, err := client.SendRequest(ctx, id, protocol.Message{Type: protocol.TypePing})
		return err
	}

	table := rtable.New(self, rtable.Config{
		BucketSize:  cfg.K,
		PingTimeout: cfg.RequestTimeout,
		Ping:        pingFn,
	})

	records := recstore.New(b.recordDS, registry, cfg.RecordTTL)
	providers := provstore.New(b.providerDS, cfg.ProviderTTL)

	handler := &protocol.Handler{
		Self:      self,
		Router:    table,
		Records:   records,
		Providers: providers,
		Keys:      addrs,
		Addrs:     addrs,
	}

	qt, err := transport.NewQUICTransport(0)
	if err != nil {
		return nil, fmt.Errorf("dht: init transport: %w", err)
	}
	client = transport.NewClient(qt, addrs, table, self)
	client.MaxInFlight = cfg.MaxInFlightPerPeer
	client.Timeout = cfg.RequestTimeout

	ctx, cancel := context.WithCancel(context.Background())

	d := &DHT{
		self:       self,
		key:        kp,
		cfg:        cfg,
		table:      table,
		records:    records,
		providers:  providers,
		registry:   registry,
		addrs:      addrs,
		handler:    handler,
		transport:  qt,
		client:     client,
		listenAddr: b.listenAddr,
		ctx:        ctx,
		cancel:     cancel,
		authored:   make(map[string]record.Record),
		provided:   make(map[string]multihash.Multihash),
	}

	if !cfg.ClientMode {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := qt.Listen(ctx, b.listenAddr, transport.Serve(handler, addrs)); err != nil && ctx.Err() == nil {
				log.Errorw("listener stopped", "error", err)
			}
		}()
	}

	for _, bp := range b.bootstrap {
		d.Bootstrap(bp.id, bp.addr)
	}

	d.startMaintenance()

	return d, nil
}

// ensureAlive adds a newly-learned peer's address and records it as a
// routing-table candidate, the step every closer-peers merge and every
// handler callback needs before that peer can be dialed or counted as a
// query result.
func (d *DHT) ensureAlive(ctx context.Context, infos []protocol.PeerInfo) []peer.PeerID {
	out := make([]peer.PeerID, 0, len(infos))
	for _, pi := range infos {
		if pi.ID.Equals(d.self) {
			continue
		}
		for _, a := range pi.Addrs {
			d.addrs.AddAddr(pi.ID, string(a))
		}
		d.table.Add(ctx, pi.ID, false)
		out = append(out, pi.ID)
	}
	return out
}
