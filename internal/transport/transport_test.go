package transport

import (
	"os"
	"testing"

	"arbor/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transports(t *testing.T) map[string]Transport {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	return map[string]Transport{
		"local":  local,
		"memory": NewMemory(),
	}
}

func TestTransportRoundTrip(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, tr.Put("a/b/c.txt", []byte("hello")))

			data, err := tr.Get("a/b/c.txt")
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), data)

			ok, err := tr.Has("a/b")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, tr.Put("a/b/c.txt", []byte("replaced")))
			data, err = tr.Get("a/b/c.txt")
			require.NoError(t, err)
			assert.Equal(t, []byte("replaced"), data)

			names, err := tr.List("a/b")
			require.NoError(t, err)
			assert.Equal(t, []string{"c.txt"}, names)

			require.NoError(t, tr.Delete("a/b/c.txt"))
			_, err = tr.Get("a/b/c.txt")
			assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
		})
	}
}

func TestTransportMkdirIsExclusive(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, tr.Mkdir("lock"))
			err := tr.Mkdir("lock")
			require.Error(t, err)
			assert.ErrorIs(t, err, os.ErrExist)

			require.NoError(t, tr.Put("lock/info", []byte("x")))
			require.NoError(t, tr.Rmdir("lock"))
			ok, err := tr.Has("lock/info")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestTransportClone(t *testing.T) {
	for name, tr := range transports(t) {
		t.Run(name, func(t *testing.T) {
			sub := tr.Clone("repo")
			require.NoError(t, sub.Put("x", []byte("1")))

			data, err := tr.Get("repo/x")
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), data)
			assert.True(t, sub.Listable())
		})
	}
}

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("http://example.com/repo")
	require.NoError(t, err)
	assert.Equal(t, LocationURL, loc.Kind)

	loc, err = ParseLocation("file:///tmp/repo")
	require.NoError(t, err)
	assert.Equal(t, LocationPath, loc.Kind)
	assert.Equal(t, "/tmp/repo", loc.Path)

	_, err = ParseLocation("ftp://example.com")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = ParseLocation("")
	assert.Error(t, err)

	_, err = Open(Location{Kind: LocationURL})
	assert.Error(t, err)
}
