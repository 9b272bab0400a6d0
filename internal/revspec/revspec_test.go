package revspec

import (
	"context"
	"testing"

	"arbor/internal/branch"
	"arbor/internal/commit"
	"arbor/internal/errors"
	"arbor/internal/graph"
	"arbor/internal/inventory"
	"arbor/internal/repository"
	"arbor/internal/revision"
	"arbor/internal/transport"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rootOnly []string

func (r rootOnly) ParentIDs() []string { return r }
func (r rootOnly) Entries() ([]commit.Entry, error) {
	return []commit.Entry{{FileID: "root-id", Kind: inventory.KindDirectory}}, nil
}

// setupBranches builds trunk A-B-C and side A-S.
func setupBranches(t *testing.T) (*branch.Branch, *branch.Branch) {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo, err := repository.New(transport.NewMemory(), db, repository.Options{})
	require.NoError(t, err)

	trunk := branch.Open(repo, "")
	side := branch.Open(repo, "side")
	add := func(b *branch.Branch, id string) {
		tip, err := b.Tip()
		require.NoError(t, err)
		_, err = commit.CommitSnapshot(context.Background(), repo, rootOnly{tip}, commit.Request{
			Options:        commit.Options{RevisionID: id, Committer: "tester"},
			AllowUnchanged: true,
		})
		require.NoError(t, err)
		require.NoError(t, b.SetTip(id))
	}
	add(trunk, "A")
	add(trunk, "B")
	add(trunk, "C")
	require.NoError(t, side.SetTip("A"))
	add(side, "S")
	return trunk, side
}

func TestResolve(t *testing.T) {
	trunk, side := setupBranches(t)
	reg := New(func(name string) (string, graph.ParentsProvider, error) {
		require.Equal(t, "side", name)
		tip, err := side.Tip()
		return tip, side.Repository(), err
	})

	tests := []struct {
		spec string
		want string
		ok   bool
	}{
		{"revid:B", "B", true},
		{"revid:zzz", "", false},
		{"B", "B", true},
		{"revno:1", "A", true},
		{"revno:3", "C", true},
		{"revno:4", "", false},
		{"revno:-1", "C", true},
		{"2", "B", true},
		{"0", revision.Null, true},
		{"last:1", "C", true},
		{"last:3", "A", true},
		{"last:4", "", false},
		{"before:revid:B", "A", true},
		{"before:last:1", "B", true},
		{"before:revno:1", revision.Null, true},
		{"ancestor:side", "A", true},
		{"null:", revision.Null, true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			id, ok, err := reg.Resolve(trunk, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	trunk, _ := setupBranches(t)
	reg := New(nil)

	for _, spec := range []string{"", "tag:v1", "ancestor:side", "revno:x", "last:0", "revid:"} {
		t.Run(spec, func(t *testing.T) {
			_, _, err := reg.Resolve(trunk, spec)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "%v", err)
		})
	}

	_, err := reg.MustResolve(trunk, "revid:missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestCustomResolver(t *testing.T) {
	trunk, _ := setupBranches(t)
	reg := New(nil)
	reg.Register("tag:", func(_ *Registry, _ *branch.Branch, arg string) (string, bool, error) {
		if arg == "v1" {
			return "B", true, nil
		}
		return "", false, nil
	})
	assert.Contains(t, reg.Prefixes(), "tag:")

	id, ok, err := reg.Resolve(trunk, "tag:v1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "B", id)

	id, err = reg.MustResolve(trunk, "before:tag:v1")
	require.NoError(t, err)
	assert.Equal(t, "A", id)
}

func TestResolveRange(t *testing.T) {
	trunk, _ := setupBranches(t)
	reg := New(nil)

	from, to, err := reg.ResolveRange(trunk, "1..2")
	require.NoError(t, err)
	assert.Equal(t, "A", from)
	assert.Equal(t, "B", to)

	from, to, err = reg.ResolveRange(trunk, "revno:2..")
	require.NoError(t, err)
	assert.Equal(t, "B", from)
	assert.Equal(t, "C", to)

	from, to, err = reg.ResolveRange(trunk, "..revid:A")
	require.NoError(t, err)
	assert.Equal(t, revision.Null, from)
	assert.Equal(t, "A", to)

	from, to, err = reg.ResolveRange(trunk, "last:1")
	require.NoError(t, err)
	assert.Equal(t, "C", from)
	assert.Equal(t, "C", to)
}
