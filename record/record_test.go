package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaddht/peer"
)

func TestRegistryLongestPrefixMatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register("", nil, BytewiseSelector{})
	reg.Register(PublicKeyPrefix, nil, PublicKeySelector{})

	_, ok := reg.Selector([]byte(PublicKeyPrefix + "whatever"))
	assert.True(t, ok)

	sel, ok := reg.Selector([]byte("/other/key"))
	require.True(t, ok)
	assert.IsType(t, BytewiseSelector{}, sel)
}

func TestPublicKeyValidatorAcceptsMatchingKey(t *testing.T) {
	kp, err := peer.NewKeyPair()
	require.NoError(t, err)

	key := append([]byte(PublicKeyPrefix), kp.PeerID[:]...)
	v := PublicKeyValidator{}
	assert.NoError(t, v.Validate(key, kp.PublicKey))
}

func TestPublicKeyValidatorRejectsMismatch(t *testing.T) {
	kp, err := peer.NewKeyPair()
	require.NoError(t, err)
	other, err := peer.NewKeyPair()
	require.NoError(t, err)

	key := append([]byte(PublicKeyPrefix), kp.PeerID[:]...)
	v := PublicKeyValidator{}
	assert.Error(t, v.Validate(key, other.PublicKey))
}

func TestBytewiseSelectorDeterministic(t *testing.T) {
	values := [][]byte{[]byte("aaa"), []byte("zzz"), []byte("mmm")}
	idx, err := BytewiseSelector{}.Select([]byte("/x"), values)
	require.NoError(t, err)
	assert.Equal(t, "zzz", string(values[idx]))

	reversed := [][]byte{[]byte("zzz"), []byte("mmm"), []byte("aaa")}
	idx2, err := BytewiseSelector{}.Select([]byte("/x"), reversed)
	require.NoError(t, err)
	assert.Equal(t, "zzz", string(reversed[idx2]))
}
