package dht

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/multiformats/go-multihash"

	"kaddht/addrbook"
	"kaddht/peer"
	"kaddht/protocol"
	"kaddht/provstore"
	"kaddht/record"
	"kaddht/recstore"
	"kaddht/rtable"
	"kaddht/transport"
)

// memRecordDS and memProviderDS are in-memory Datastore implementations
// for tests, the same shape as recstore's and provstore's own internal
// test fakes (memstore_test.go / provstore_test.go), duplicated here since
// those are package-internal and unexported.
type memRecordDS struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemRecordDS() *memRecordDS { return &memRecordDS{data: make(map[string][]byte)} }

func (m *memRecordDS) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memRecordDS) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, recstore.ErrNotFound
	}
	return v, nil
}

func (m *memRecordDS) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memRecordDS) List(ctx context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := key + "\x00"
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.data[k])
	}
	return out, nil
}

type memProviderDS struct {
	mu      sync.Mutex
	entries map[string][]provstore.StoredEntry
}

func newMemProviderDS() *memProviderDS {
	return &memProviderDS{entries: make(map[string][]provstore.StoredEntry)}
}

func (m *memProviderDS) AddEntry(ctx context.Context, key string, peerIDBytes []byte, expiry int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.entries[key] {
		if string(e.PeerIDBytes) == string(peerIDBytes) {
			m.entries[key][i].Expiry = expiry
			return nil
		}
	}
	m.entries[key] = append(m.entries[key], provstore.StoredEntry{
		PeerIDBytes: append([]byte(nil), peerIDBytes...),
		Expiry:      expiry,
	})
	return nil
}

func (m *memProviderDS) ListEntries(ctx context.Context, key string) ([]provstore.StoredEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provstore.StoredEntry(nil), m.entries[key]...), nil
}

func (m *memProviderDS) DeleteEntry(ctx context.Context, key string, peerIDBytes []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.entries[key]
	for i, e := range list {
		if string(e.PeerIDBytes) == string(peerIDBytes) {
			m.entries[key] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

// switchboard is an in-process stand-in for the QUIC transport: it routes
// a Request by address straight to the receiving node's protocol.Handler,
// the same role transport.Serve plays over a real connection. This lets
// the dht package's operations be exercised across several nodes without
// any network I/O, mirroring transport's own fakeDialer pattern.
type switchboard struct {
	mu    sync.Mutex
	nodes map[string]*protocol.Handler
}

func newSwitchboard() *switchboard {
	return &switchboard{nodes: make(map[string]*protocol.Handler)}
}

func (s *switchboard) register(addr string, h *protocol.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[addr] = h
}

func (s *switchboard) Request(ctx context.Context, addr string, req protocol.Message) (protocol.Message, error) {
	s.mu.Lock()
	h, ok := s.nodes[addr]
	s.mu.Unlock()
	if !ok {
		return protocol.Message{}, context.DeadlineExceeded
	}
	return h.Handle(ctx, req.Sender, req), nil
}

// testNode is a DHT instance built without a real transport: its client
// dials through a shared switchboard instead of QUIC, and Close only
// needs to cancel its own context.
type testNode struct {
	*DHT
	addr string
}

func (n *testNode) Close() {
	n.cancel()
	n.wg.Wait()
}

// newTestNode builds a node and registers it on board under addr. Its
// address book starts with only its own public key; connect wires nodes
// into each other's address books so queries can dial them by PeerID.
func newTestNode(addr string, board *switchboard, cfg Config) *testNode {
	kp, err := peer.NewKeyPair()
	if err != nil {
		panic(err)
	}
	self := kp.PeerID

	registry := record.NewRegistry()
	registry.Register(record.PublicKeyPrefix, record.PublicKeyValidator{}, record.PublicKeySelector{})
	registry.Register("", nil, record.BytewiseSelector{})

	addrs := addrbook.New()
	addrs.SetPublicKey(self, kp.PublicKey)

	table := rtable.New(self, rtable.Config{
		BucketSize:  cfg.K,
		PingTimeout: cfg.RequestTimeout,
	})

	records := recstore.New(newMemRecordDS(), registry, cfg.RecordTTL)
	providers := provstore.New(newMemProviderDS(), cfg.ProviderTTL)

	handler := &protocol.Handler{
		Self:      self,
		Router:    table,
		Records:   records,
		Providers: providers,
		Keys:      addrs,
		Addrs:     addrs,
	}
	board.register(addr, handler)

	client := transport.NewClient(board, addrs, table, self)
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
		client:     client,
		listenAddr: addr,
		ctx:        ctx,
		cancel:     cancel,
		authored:   make(map[string]record.Record),
		provided:   make(map[string]multihash.Multihash),
	}

	return &testNode{DHT: d, addr: addr}
}

// connect wires a to b: a learns b's address and vice versa.
func connect(a, b *testNode) {
	a.addrs.AddAddr(b.self, b.addr)
	a.table.Add(a.ctx, b.self, false)
	b.addrs.AddAddr(a.self, a.addr)
	b.table.Add(b.ctx, a.self, false)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.K = 20
	cfg.Alpha = 3
	cfg.Beta = 2
	return cfg
}
