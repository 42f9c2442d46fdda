// Package transport carries protocol.Message request/response pairs over
// QUIC streams: one bidirectional stream per RPC, one framed request
// written, one framed response read, then the stream closes.
//
// Grounded on netquic/node.go (ListenAndServe/handleConn/generateTLSConfig)
// and netquic/peermanager.go (per-address connection pool, dial fallback
// across multiple candidate addresses), generalized from the teacher's
// fire-and-forget unidirectional streams to bidirectional request/response
// streams, since every RPC here expects a reply on the same stream.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"kaddht/internal/kadlog"
	"kaddht/protocol"
)

var log = kadlog.Named("transport")

// Handler answers one inbound request and returns the response to write
// back on the same stream.
type Handler func(ctx context.Context, req protocol.Message) protocol.Message

// QUICTransport listens for and dials QUIC connections, pooling one
// connection per remote address the way netquic.PeerManager does.
type QUICTransport struct {
	tlsConf  *tls.Config
	quicConf *quic.Config

	mu    sync.Mutex
	conns map[string]*quic.Conn

	listener  *quic.Listener
	listening chan struct{}
}

// NewQUICTransport builds a transport with a fresh self-signed identity.
// idleTimeout bounds how long an unused pooled connection is kept; zero
// picks a 3-minute default, matching the teacher's own quic.Config.
func NewQUICTransport(idleTimeout time.Duration) (*QUICTransport, error) {
	tlsConf, err := generateTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("transport: generate tls config: %w", err)
	}
	if idleTimeout == 0 {
		idleTimeout = 3 * time.Minute
	}

	return &QUICTransport{
		tlsConf: tlsConf,
		quicConf: &quic.Config{
			EnableDatagrams: true,
			MaxIdleTimeout:  idleTimeout,
		},
		conns:     make(map[string]*quic.Conn),
		listening: make(chan struct{}),
	}, nil
}

// Listen starts accepting connections on addr and dispatches every inbound
// stream to handler, replying with handler's returned message. It blocks
// until ctx is cancelled or accept fails permanently.
func (qt *QUICTransport) Listen(ctx context.Context, addr string, handler Handler) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: resolve listen addr: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("transport: listen udp: %w", err)
	}

	listener, err := quic.Listen(udpConn, qt.tlsConf, qt.quicConf)
	if err != nil {
		return fmt.Errorf("transport: quic listen: %w", err)
	}
	qt.listener = listener
	close(qt.listening)

	log.Infow("listening", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warnw("accept failed", "error", err)
			continue
		}
		go qt.handleConn(ctx, conn, handler)
	}
}

// Addr blocks until Listen has bound its socket, then returns its address.
// Mainly useful in tests that bind to ":0" and need the OS-assigned port.
func (qt *QUICTransport) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-qt.listening:
		return qt.listener.Addr(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new connections. Already-pooled outbound
// connections are left alone; they close on idle timeout.
func (qt *QUICTransport) Close() error {
	if qt.listener == nil {
		return nil
	}
	return qt.listener.Close()
}

func (qt *QUICTransport) handleConn(ctx context.Context, conn *quic.Conn, handler Handler) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go qt.handleStream(ctx, conn, stream, handler)
	}
}

// remoteAddrKey is the context key handleStream stashes the inbound
// connection's remote address under, so a Handler (or a wrapper like
// Serve) can learn "this Sender is reachable at this address" the way
// netquic/node.go's handleStream passes conn.RemoteAddr() to
// OnRegisterPeer directly.
type remoteAddrKey struct{}

// RemoteAddr returns the address a Listen-dispatched request arrived
// from, if any.
func RemoteAddr(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(remoteAddrKey{}).(string)
	return addr, ok
}

func (qt *QUICTransport) handleStream(ctx context.Context, conn *quic.Conn, stream *quic.Stream, handler Handler) {
	defer stream.Close()
	ctx = context.WithValue(ctx, remoteAddrKey{}, conn.RemoteAddr().String())

	req, err := readMessage(stream)
	if err != nil {
		log.Warnw("read request failed", "error", err)
		return
	}

	resp := handler(ctx, req)

	if err := writeMessage(stream, resp); err != nil {
		log.Warnw("write response failed", "error", err)
	}
}

// getConn returns a pooled connection to addr, dialing a fresh one if none
// is pooled or the pooled one has died, mirroring
// netquic.PeerManager.getConn's reuse-or-dial logic.
func (qt *QUICTransport) getConn(ctx context.Context, addr string) (*quic.Conn, error) {
	qt.mu.Lock()
	conn := qt.conns[addr]
	if conn != nil && conn.Context().Err() == nil {
		qt.mu.Unlock()
		return conn, nil
	}
	qt.mu.Unlock()

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve dial addr: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("transport: open local udp socket: %w", err)
	}

	newConn, err := quic.Dial(ctx, udpConn, udpAddr, qt.tlsConf, qt.quicConf)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	qt.mu.Lock()
	qt.conns[addr] = newConn
	qt.mu.Unlock()

	return newConn, nil
}

// Request opens a new bidirectional stream to addr, writes req, reads and
// returns the single response frame, then closes the stream.
func (qt *QUICTransport) Request(ctx context.Context, addr string, req protocol.Message) (protocol.Message, error) {
	conn, err := qt.getConn(ctx, addr)
	if err != nil {
		return protocol.Message{}, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("transport: open stream to %s: %w", addr, err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	if err := writeMessage(stream, req); err != nil {
		return protocol.Message{}, err
	}

	// No half-close needed before reading: the length prefix tells the
	// peer exactly how many response bytes to expect, unlike the
	// teacher's io.ReadAll(stream) which relies on the sender closing.
	resp, err := readMessage(stream)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("transport: read response from %s: %w", addr, err)
	}
	return resp, nil
}
