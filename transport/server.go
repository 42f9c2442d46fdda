package transport

import (
	"context"

	"kaddht/peer"
	"kaddht/protocol"
)

// addressRecorder is the one method Serve needs from an address book,
// kept as a narrow local interface so this package never imports
// addrbook concretely.
type addressRecorder interface {
	AddAddr(peer.PeerID, string)
}

// Serve wraps a protocol.Handler as a transport.Handler, additionally
// recording the requester's address against its claimed Sender ID in
// addrs, since the node answering req has just learned a live address
// for req.Sender the same way netquic/node.go's OnRegisterPeer learns
// one from an inbound REGISTER envelope.
func Serve(h *protocol.Handler, addrs addressRecorder) Handler {
	return func(ctx context.Context, req protocol.Message) protocol.Message {
		if addrs != nil {
			if addr, ok := RemoteAddr(ctx); ok {
				addrs.AddAddr(req.Sender, addr)
			}
		}
		return h.Handle(ctx, req.Sender, req)
	}
}
