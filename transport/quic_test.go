package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaddht/protocol"
)

func TestQUICTransportRequestResponseRoundTrip(t *testing.T) {
	server, err := NewQUICTransport(0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := func(_ context.Context, req protocol.Message) protocol.Message {
		return protocol.Message{Type: protocol.TypePing, Key: req.Key}
	}

	go func() {
		_ = server.Listen(ctx, "127.0.0.1:0", handler)
	}()
	defer server.Close()

	addrCtx, addrCancel := context.WithTimeout(ctx, 2*time.Second)
	defer addrCancel()
	addr, err := server.Addr(addrCtx)
	require.NoError(t, err)

	client, err := NewQUICTransport(0)
	require.NoError(t, err)

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()

	resp, err := client.Request(reqCtx, addr.String(), protocol.Message{Type: protocol.TypePing, Key: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePing, resp.Type)
	assert.Equal(t, []byte("hi"), resp.Key)
}

func TestRemoteAddrCarriedThroughContext(t *testing.T) {
	_, ok := RemoteAddr(context.Background())
	assert.False(t, ok)

	ctx := context.WithValue(context.Background(), remoteAddrKey{}, "1.2.3.4:5")
	addr, ok := RemoteAddr(ctx)
	require.True(t, ok)
	assert.Equal(t, "1.2.3.4:5", addr)
}
