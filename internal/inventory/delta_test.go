package inventory

import (
	"testing"

	"arbor/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyDeltaRoundTrip(t *testing.T) {
	inv := sampleTree(t)

	delta := inv.MakeDelta(inv)
	assert.Empty(t, delta)

	out, err := inv.ApplyDelta(delta)
	require.NoError(t, err)
	assert.True(t, inv.Equal(out))
}

func TestMakeDeltaApplyRoundTrip(t *testing.T) {
	old := sampleTree(t)

	next := NewWithRoot("root", "rev-2")
	next.byID["root"].Revision = "rev-1"
	require.NoError(t, next.Add(dir("lib", "root", "lib")))
	// main.go moves into lib with new content; src and link go away.
	moved := file("main", "lib", "main.go", "ccc")
	moved.Revision = "rev-2"
	require.NoError(t, next.Add(moved))
	require.NoError(t, next.Add(file("readme", "root", "README", "aaa")))
	require.NoError(t, next.Add(file("new", "lib", "util.go", "ddd")))

	delta := old.MakeDelta(next)
	out, err := old.ApplyDelta(delta)
	require.NoError(t, err)
	assert.True(t, next.Equal(out))

	// The source inventory is untouched.
	p, err := old.IDToPath("main")
	require.NoError(t, err)
	assert.Equal(t, "src/main.go", p)

	back, err := out.ApplyDelta(out.MakeDelta(old))
	require.NoError(t, err)
	assert.True(t, old.Equal(back))
}

func TestApplyDeltaRenameDirectoryKeepsChildren(t *testing.T) {
	inv := sampleTree(t)

	renamed := dir("src", "root", "source")
	out, err := inv.ApplyDelta(Delta{Modification("src", "source", renamed)})
	require.NoError(t, err)

	p, err := out.IDToPath("main")
	require.NoError(t, err)
	assert.Equal(t, "source/main.go", p)
}

func TestApplyDeltaInconsistencies(t *testing.T) {
	tests := []struct {
		name  string
		delta Delta
	}{
		{
			name: "repeated file id",
			delta: Delta{
				Addition("a", file("x", "root", "a", "1")),
				Addition("b", file("x", "root", "b", "1")),
			},
		},
		{
			name: "repeated new path",
			delta: Delta{
				Addition("a", file("x", "root", "a", "1")),
				Addition("a", file("y", "root", "a", "1")),
			},
		},
		{
			name:  "wrong old path",
			delta: Delta{Modification("elsewhere", "README", file("readme", "root", "README", "z"))},
		},
		{
			name:  "missing parent",
			delta: Delta{Addition("nodir/a", file("x", "nodir", "a", "1"))},
		},
		{
			name:  "parent is not a directory",
			delta: Delta{Addition("README/a", file("x", "readme", "a", "1"))},
		},
		{
			name:  "removal of absent id",
			delta: Delta{Removal("ghost", "ghost")},
		},
		{
			name:  "addition of present id",
			delta: Delta{Addition("again", file("readme", "root", "again", "1"))},
		},
		{
			name:  "path collides with untouched entry",
			delta: Delta{Addition("README", file("x", "root", "README", "1"))},
		},
		{
			name:  "removing a directory that still has children",
			delta: Delta{Removal("src", "src")},
		},
		{
			name:  "entry lands somewhere other than its new path",
			delta: Delta{Addition("src/a", file("x", "root", "a", "1"))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := sampleTree(t)
			_, err := inv.ApplyDelta(tt.delta)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeInconsistentDelta), err.Error())
		})
	}
}
