package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaddht/peer"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	kp, err := peer.NewKeyPair()
	require.NoError(t, err)

	r := Record{
		Key:          []byte("/hello"),
		Value:        []byte("world"),
		TimeReceived: time.Now().Truncate(time.Millisecond),
		Author:       kp.PeerID,
	}
	r.Signature = kp.Sign(SignaturePayload(r.Key, r.Value))

	b := Marshal(r)
	got, err := Unmarshal(b)
	require.NoError(t, err)

	assert.Equal(t, r.Key, got.Key)
	assert.Equal(t, r.Value, got.Value)
	assert.True(t, r.TimeReceived.Equal(got.TimeReceived))
	assert.Equal(t, r.Author, got.Author)
	assert.Equal(t, r.Signature, got.Signature)
	assert.True(t, peer.VerifyWithKey(kp.PublicKey, SignaturePayload(got.Key, got.Value), got.Signature))
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	_, err := Unmarshal([]byte{0, 1})
	assert.Error(t, err)
}

func TestUnauthoredRecordRoundTrip(t *testing.T) {
	r := Record{Key: []byte("/x"), Value: []byte("y"), TimeReceived: time.Now().Truncate(time.Second)}
	got, err := Unmarshal(Marshal(r))
	require.NoError(t, err)
	assert.False(t, got.HasAuthor())
	assert.Equal(t, peer.PeerID{}, got.Author)
}
