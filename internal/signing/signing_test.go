package signing

import (
	"testing"

	"arbor/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	s, err := GenerateKey()
	require.NoError(t, err)

	signed, err := s.Sign([]byte("revision-id: a\n"))
	require.NoError(t, err)

	plain, ok := Verify(s.PublicKey(), signed)
	require.True(t, ok)
	assert.Equal(t, "revision-id: a\n", string(plain))

	signed[len(signed)-1] ^= 0xff
	_, ok = Verify(s.PublicKey(), signed)
	assert.False(t, ok)

	other, err := GenerateKey()
	require.NoError(t, err)
	good, _ := s.Sign([]byte("x"))
	_, ok = Verify(other.PublicKey(), good)
	assert.False(t, ok)
}

func TestMarshalRoundTrip(t *testing.T) {
	s, err := GenerateKey()
	require.NoError(t, err)

	back, err := Unmarshal(s.Marshal())
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey(), back.PublicKey())

	_, err = Unmarshal([]byte("nonsense"))
	assert.Error(t, err)
}

func TestLoadOrCreate(t *testing.T) {
	tr := transport.NewMemory()

	first, err := LoadOrCreate(tr, "signing.key")
	require.NoError(t, err)
	second, err := LoadOrCreate(tr, "signing.key")
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey(), second.PublicKey())
}
