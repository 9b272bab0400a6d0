package branch

import (
	"context"
	"testing"

	"arbor/internal/commit"
	"arbor/internal/errors"
	"arbor/internal/inventory"
	"arbor/internal/repository"
	"arbor/internal/revision"
	"arbor/internal/transport"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := repository.New(transport.NewMemory(), db, repository.Options{})
	require.NoError(t, err)
	return repo
}

type rootOnly []string

func (r rootOnly) ParentIDs() []string { return r }
func (r rootOnly) Entries() ([]commit.Entry, error) {
	return []commit.Entry{{FileID: "root-id", Kind: inventory.KindDirectory}}, nil
}

func commitOn(t *testing.T, b *Branch, id string, extraParents ...string) {
	t.Helper()
	tip, err := b.Tip()
	require.NoError(t, err)
	parents := append([]string{tip}, extraParents...)
	_, err = commit.CommitSnapshot(context.Background(), b.Repository(), rootOnly(parents), commit.Request{
		Options:        commit.Options{RevisionID: id, Committer: "tester"},
		AllowUnchanged: true,
	})
	require.NoError(t, err)
	require.NoError(t, b.SetTip(id))
}

func TestTipDefaultsToNull(t *testing.T) {
	b := Open(setupTestRepo(t), "")
	assert.Equal(t, DefaultName, b.Name())

	tip, err := b.Tip()
	require.NoError(t, err)
	assert.Equal(t, revision.Null, tip)

	revno, err := b.Revno()
	require.NoError(t, err)
	assert.Equal(t, 0, revno)

	err = b.SetTip("absent")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNoSuchRevision))
}

func TestLeftHandHistoryAndRevno(t *testing.T) {
	repo := setupTestRepo(t)
	b := Open(repo, "")
	commitOn(t, b, "A")
	commitOn(t, b, "B")

	side := Open(repo, "side")
	require.NoError(t, side.SetTip("A"))
	commitOn(t, side, "S")

	commitOn(t, b, "M", "S")

	history, err := b.LeftHandHistory()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "M"}, history)

	revno, err := b.Revno()
	require.NoError(t, err)
	assert.Equal(t, 3, revno)

	id, ok, err := b.RevisionForRevno(2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "B", id)

	_, ok, err = b.RevisionForRevno(9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUncommit(t *testing.T) {
	b := Open(setupTestRepo(t), "")
	ctx := context.Background()
	commitOn(t, b, "A")
	commitOn(t, b, "B")
	commitOn(t, b, "C")

	tip, err := b.Uncommit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "B", tip)

	has, err := b.Repository().HasRevision("C")
	require.NoError(t, err)
	assert.True(t, has, "uncommit keeps stored revisions")

	tip, err = b.Uncommit(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, revision.Null, tip)

	_, err = b.Uncommit(ctx, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.False(t, b.Repository().IsLocked())
}

func TestMissing(t *testing.T) {
	local := Open(setupTestRepo(t), "")
	remote := Open(setupTestRepo(t), "")

	commitOn(t, local, "A")
	_, err := remote.Repository().Fetch(context.Background(), local.Repository(), "A")
	require.NoError(t, err)
	require.NoError(t, remote.SetTip("A"))

	commitOn(t, local, "L1")
	commitOn(t, remote, "R1")
	commitOn(t, remote, "R2")

	remoteTip, err := remote.Tip()
	require.NoError(t, err)
	localExtra, remoteExtra, err := local.Missing(remoteTip, remote.Repository())
	require.NoError(t, err)
	assert.Equal(t, []string{"L1"}, localExtra)
	assert.Equal(t, []string{"R1", "R2"}, remoteExtra)
}

func TestPull(t *testing.T) {
	ctx := context.Background()
	local := Open(setupTestRepo(t), "")
	upstream := Open(setupTestRepo(t), "")

	commitOn(t, upstream, "A")
	commitOn(t, upstream, "B")

	result, err := local.Pull(ctx, upstream.Repository(), "B")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Copied)
	tip, err := local.Tip()
	require.NoError(t, err)
	assert.Equal(t, "B", tip)

	result, err = local.Pull(ctx, upstream.Repository(), "A")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Copied)
	tip, err = local.Tip()
	require.NoError(t, err)
	assert.Equal(t, "B", tip, "pulling an ancestor leaves the tip alone")

	commitOn(t, local, "L")
	commitOn(t, upstream, "U")
	_, err = local.Pull(ctx, upstream.Repository(), "U")
	assert.True(t, errors.IsType(err, errors.ErrorTypeDivergedHistory))
	tip, err = local.Tip()
	require.NoError(t, err)
	assert.Equal(t, "L", tip)
}
