package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"kaddht/addrbook"
	"kaddht/peer"
	"kaddht/protocol"
	"kaddht/rtable"
)

// DefaultMaxInFlight caps concurrent outstanding RPCs per remote peer, the
// bidirectional-stream equivalent of netquic.PeerManager's implicit
// one-connection-per-address limit: without a cap a single misbehaving
// query path could open unbounded streams against one node.
const DefaultMaxInFlight = 4

// DefaultRequestTimeout bounds a single RPC round trip.
const DefaultRequestTimeout = 10 * time.Second

// maxConsecutiveFailures is how many back-to-back Request failures against
// a peer evict it from the routing table, rather than leaving a dead
// contact occupying a bucket slot indefinitely.
const maxConsecutiveFailures = 3

// Dialer resolves addresses and sends a single protocol.Message request,
// used to keep Client's sender type swappable in tests.
type Dialer interface {
	Request(ctx context.Context, addr string, req protocol.Message) (protocol.Message, error)
}

// Client sends RPCs to peers, resolving each peer's address from an
// address book, allowing at most MaxInFlight concurrent RPCs per peer, and
// feeding the outcome back into a routing table's liveness tracking.
type Client struct {
	transport Dialer
	addrs     *addrbook.Book
	table     *rtable.Table
	self      peer.PeerID

	MaxInFlight int64
	Timeout     time.Duration

	mu       sync.Mutex
	limiters map[peer.PeerID]*semaphore.Weighted
	failures map[peer.PeerID]int
}

// NewClient builds a Client sending self as the Sender on every outbound
// message, resolving destinations through addrs and reporting liveness
// into table.
func NewClient(transport Dialer, addrs *addrbook.Book, table *rtable.Table, self peer.PeerID) *Client {
	return &Client{
		transport:   transport,
		addrs:       addrs,
		table:       table,
		self:        self,
		MaxInFlight: DefaultMaxInFlight,
		Timeout:     DefaultRequestTimeout,
		limiters:    make(map[peer.PeerID]*semaphore.Weighted),
		failures:    make(map[peer.PeerID]int),
	}
}

func (c *Client) limiterFor(id peer.PeerID) *semaphore.Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[id]
	if !ok {
		l = semaphore.NewWeighted(c.MaxInFlight)
		c.limiters[id] = l
	}
	return l
}

// SendRequest dispatches req to id, trying each known address in book
// order until one succeeds. On success it resets the failure counter and
// marks id live in the routing table; on exhausting every address it bumps
// the counter and evicts id from the table past maxConsecutiveFailures.
func (c *Client) SendRequest(ctx context.Context, id peer.PeerID, req protocol.Message) (protocol.Message, error) {
	req.Sender = c.self

	addrs := c.addrs.Addrs(id)
	if len(addrs) == 0 {
		return protocol.Message{}, fmt.Errorf("transport: no known address for peer %s", peer.EncodeToString(id))
	}

	limiter := c.limiterFor(id)
	if err := limiter.Acquire(ctx, 1); err != nil {
		return protocol.Message{}, fmt.Errorf("transport: acquire in-flight slot: %w", err)
	}
	defer limiter.Release(1)

	reqCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var lastErr error
	for _, addr := range addrs {
		resp, err := c.transport.Request(reqCtx, addr, req)
		if err != nil {
			lastErr = err
			continue
		}

		c.recordSuccess(id)
		return resp, nil
	}

	c.recordFailure(id)
	return protocol.Message{}, fmt.Errorf("transport: all addresses failed for peer %s: %w", peer.EncodeToString(id), lastErr)
}

func (c *Client) recordSuccess(id peer.PeerID) {
	c.mu.Lock()
	delete(c.failures, id)
	c.mu.Unlock()

	if c.table != nil {
		c.table.MarkLive(id)
	}
}

func (c *Client) recordFailure(id peer.PeerID) {
	c.mu.Lock()
	c.failures[id]++
	n := c.failures[id]
	c.mu.Unlock()

	if n >= maxConsecutiveFailures && c.table != nil {
		c.table.Remove(id)
	}
}
