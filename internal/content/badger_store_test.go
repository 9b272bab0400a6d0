package content

import (
	"fmt"
	"testing"

	"arbor/internal/errors"
	"arbor/internal/safe"
	"arbor/internal/transport"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*badger.DB, *safe.Safe, func()) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable logging for tests

	db, err := badger.Open(opts)
	require.NoError(t, err)

	blobs, err := safe.New(transport.NewMemory(), db, safe.Options{CacheSize: 32})
	require.NoError(t, err)

	return db, blobs, func() { db.Close() }
}

func TestPutIsIdempotent(t *testing.T) {
	db, blobs, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewBadgerStore(Texts, db, blobs)
	key := TextKey("f1", "r1")

	sha, err := store.Put(key, nil, []byte("payload"))
	require.NoError(t, err)
	again, err := store.Put(key, nil, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, sha, again)

	got, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	_, err = store.Put(key, nil, []byte("other payload"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeDuplicateKey))
}

func TestGetMissing(t *testing.T) {
	db, blobs, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewBadgerStore(Revisions, db, blobs)

	_, err := store.Get(RevisionKey("nope"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestKeyValidation(t *testing.T) {
	db, blobs, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewBadgerStore(Texts, db, blobs).Put(RevisionKey("r1"), nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = NewBadgerStore(Inventories, db, blobs).Put(TextKey("f", "r1"), nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestHasAnyParentsAndKeys(t *testing.T) {
	db, blobs, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewBadgerStore(Texts, db, blobs)

	a := TextKey("f1", "a")
	b := TextKey("f1", "b")
	_, err := store.Put(a, nil, []byte("a"))
	require.NoError(t, err)
	_, err = store.Put(b, []Key{a}, []byte("b"))
	require.NoError(t, err)

	present, err := store.HasAny([]Key{a, b, TextKey("f2", "a")})
	require.NoError(t, err)
	assert.Equal(t, map[Key]bool{a: true, b: true, TextKey("f2", "a"): false}, present)

	parents, err := store.Parents([]Key{b, TextKey("zz", "q")})
	require.NoError(t, err)
	assert.Equal(t, map[Key][]Key{b: {a}}, parents)

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []Key{a, b}, keys)
}

func TestWriteGroupAbortLeavesStoreUnchanged(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		t.Run(fmt.Sprintf("%d writes", n), func(t *testing.T) {
			db, blobs, cleanup := setupTestDB(t)
			defer cleanup()
			texts := NewBadgerStore(Texts, db, blobs)
			revs := NewBadgerStore(Revisions, db, blobs)
			group := NewGroup(db, texts, revs)

			existing := TextKey("f0", "r0")
			_, err := texts.Put(existing, nil, []byte("before"))
			require.NoError(t, err)

			probe := []Key{existing}
			require.NoError(t, group.Start())
			for i := 0; i < n; i++ {
				k := TextKey(fmt.Sprintf("f%d", i+1), "r1")
				probe = append(probe, k)
				_, err := texts.Put(k, nil, []byte(fmt.Sprintf("text %d", i)))
				require.NoError(t, err)
			}
			_, err = revs.Put(RevisionKey("r1"), nil, []byte("rev"))
			require.NoError(t, err)

			staged, err := texts.HasAny(probe)
			require.NoError(t, err)
			for _, k := range probe {
				assert.True(t, staged[k], "staged writes are readable inside the group")
			}

			require.NoError(t, group.Abort())

			after, err := texts.HasAny(probe)
			require.NoError(t, err)
			assert.True(t, after[existing])
			for _, k := range probe[1:] {
				assert.False(t, after[k])
			}
			revPresent, err := revs.HasAny([]Key{RevisionKey("r1")})
			require.NoError(t, err)
			assert.False(t, revPresent[RevisionKey("r1")])
		})
	}
}

func TestWriteGroupCommitPublishes(t *testing.T) {
	db, blobs, cleanup := setupTestDB(t)
	defer cleanup()
	texts := NewBadgerStore(Texts, db, blobs)
	group := NewGroup(db, texts)

	require.NoError(t, group.Start())
	assert.True(t, errors.IsType(group.Start(), errors.ErrorTypeTransaction))

	_, err := texts.Put(TextKey("f1", "r1"), nil, []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, 1, texts.Pending())

	n, err := group.Commit()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, group.Active())

	// a second store object over the same database sees the commit
	other := NewBadgerStore(Texts, db, blobs)
	got, err := other.Get(TextKey("f1", "r1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	_, err = group.Commit()
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransaction))
	assert.True(t, errors.IsType(group.Abort(), errors.ErrorTypeTransaction))
}

func TestCopyMulti(t *testing.T) {
	db, blobs, cleanup := setupTestDB(t)
	defer cleanup()
	src := NewBadgerStore(Texts, db, blobs)

	db2, blobs2, cleanup2 := setupTestDB(t)
	defer cleanup2()
	dst := NewBadgerStore(Texts, db2, blobs2)

	a := TextKey("f1", "a")
	b := TextKey("f1", "b")
	missing := TextKey("f1", "gone")
	_, err := src.Put(a, nil, []byte("a"))
	require.NoError(t, err)
	_, err = src.Put(b, []Key{a}, []byte("b"))
	require.NoError(t, err)

	t.Run("strict fails on missing", func(t *testing.T) {
		n, failed, err := dst.CopyMulti(src, []Key{a, missing}, false)
		require.Error(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, []Key{missing}, failed)
	})

	t.Run("partial collects failures", func(t *testing.T) {
		n, failed, err := dst.CopyMulti(src, []Key{a, b, missing}, true)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []Key{missing}, failed)

		parents, err := dst.Parents([]Key{b})
		require.NoError(t, err)
		assert.Equal(t, []Key{a}, parents[b])
	})

	t.Run("kind mismatch", func(t *testing.T) {
		_, _, err := NewBadgerStore(Inventories, db2, blobs2).CopyMulti(src, []Key{a}, true)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}
