package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaddht/peer"
	"kaddht/record"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	kp, err := peer.NewKeyPair()
	require.NoError(t, err)

	rec := record.Record{Key: []byte("/k"), Value: []byte("v"), TimeReceived: time.Now().Truncate(time.Second)}

	m := Message{
		Type:         TypeGetValue,
		ClusterLevel: 3,
		Sender:       kp.PeerID,
		Key:          []byte("/k"),
		Record:       &rec,
		CloserPeers: []PeerInfo{
			{ID: kp.PeerID, Addrs: [][]byte{[]byte("addr1"), []byte("addr2")}, Connectedness: Connected},
		},
		ProviderPeers: []PeerInfo{
			{ID: kp.PeerID, Connectedness: NotConnected},
		},
	}

	b := Marshal(m)
	got, err := Unmarshal(b)
	require.NoError(t, err)

	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.ClusterLevel, got.ClusterLevel)
	assert.Equal(t, m.Sender, got.Sender)
	assert.Equal(t, m.Key, got.Key)
	require.NotNil(t, got.Record)
	assert.Equal(t, rec.Value, got.Record.Value)
	require.Len(t, got.CloserPeers, 1)
	assert.Equal(t, kp.PeerID, got.CloserPeers[0].ID)
	assert.Equal(t, [][]byte{[]byte("addr1"), []byte("addr2")}, got.CloserPeers[0].Addrs)
	require.Len(t, got.ProviderPeers, 1)
}

func TestClusterLevelClamped(t *testing.T) {
	m := Message{Type: TypePing, ClusterLevel: 99}
	b := Marshal(m)
	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, uint8(MaxClusterLevel), got.ClusterLevel)
}

func TestMessageWithoutRecordRoundTrips(t *testing.T) {
	m := Message{Type: TypeFindNode, Key: []byte("/target")}
	got, err := Unmarshal(Marshal(m))
	require.NoError(t, err)
	assert.Nil(t, got.Record)
	assert.Empty(t, got.CloserPeers)
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	_, err := Unmarshal([]byte{0})
	assert.Error(t, err)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "PING", TypePing.String())
	assert.Equal(t, "FIND_NODE", TypeFindNode.String())
}
