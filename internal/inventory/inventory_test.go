package inventory

import (
	"testing"

	"arbor/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func file(id, parent, name, sha string) *Entry {
	e := NewFile(id, parent, name)
	e.TextSha1 = sha
	e.TextSize = int64(len(sha))
	e.Revision = "rev-1"
	return e
}

func dir(id, parent, name string) *Entry {
	e := NewDirectory(id, parent, name)
	e.Revision = "rev-1"
	return e
}

// sampleTree builds:
//
//	/            root
//	README       readme
//	src/         src
//	src/main.go  main
//	src/link@    link
func sampleTree(t *testing.T) *Inventory {
	t.Helper()
	inv := NewWithRoot("root", "rev-1")
	require.NoError(t, inv.Add(file("readme", "root", "README", "aaa")))
	require.NoError(t, inv.Add(dir("src", "root", "src")))
	require.NoError(t, inv.Add(file("main", "src", "main.go", "bbb")))
	require.NoError(t, inv.Add(NewSymlink("link", "src", "link", "main.go")))
	return inv
}

func TestPathResolution(t *testing.T) {
	inv := sampleTree(t)

	id, err := inv.PathToID("src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "main", id)

	id, err = inv.PathToID("")
	require.NoError(t, err)
	assert.Equal(t, "root", id)

	p, err := inv.IDToPath("link")
	require.NoError(t, err)
	assert.Equal(t, "src/link", p)

	_, err = inv.PathToID("nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNoSuchPath))

	_, err = inv.IDToPath("nope")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNoSuchID))

	_, ok := inv.LookupPath("src/missing")
	assert.False(t, ok)
}

func TestAddRejectsInvalidTrees(t *testing.T) {
	inv := sampleTree(t)

	assert.Error(t, inv.Add(file("readme", "root", "OTHER", "x")), "duplicate id")
	assert.Error(t, inv.Add(file("x", "root", "README", "x")), "duplicate path")
	assert.Error(t, inv.Add(file("y", "main", "child", "x")), "file parent")
	assert.Error(t, inv.Add(dir("root2", "", "")), "second root")

	err := inv.Add(file("z", "ghost", "f", "x"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeNoSuchID))
}

func TestIterEntriesIsSortedAndRestartable(t *testing.T) {
	inv := sampleTree(t)

	var paths []string
	for p := range inv.IterEntries() {
		paths = append(paths, p)
	}
	assert.Equal(t, []string{"", "README", "src", "src/link", "src/main.go"}, paths)

	var again []string
	for p := range inv.IterEntries() {
		again = append(again, p)
	}
	assert.Equal(t, paths, again)
}

func TestSerializeRoundTrip(t *testing.T) {
	inv := sampleTree(t)

	data, err := inv.Serialize()
	require.NoError(t, err)
	back, err := Deserialize(data)
	require.NoError(t, err)

	assert.True(t, inv.Equal(back))
	assert.Equal(t, "rev-1", back.RevisionID)

	again, err := back.Serialize()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	sha1, err := inv.Sha1()
	require.NoError(t, err)
	sha2, err := back.Sha1()
	require.NoError(t, err)
	assert.Equal(t, sha1, sha2)
}

func TestEqualIsStructural(t *testing.T) {
	a := sampleTree(t)

	b := NewWithRoot("root", "other-rev")
	require.NoError(t, b.Add(dir("src", "root", "src")))
	require.NoError(t, b.Add(NewSymlink("link", "src", "link", "main.go")))
	require.NoError(t, b.Add(file("main", "src", "main.go", "bbb")))
	require.NoError(t, b.Add(file("readme", "root", "README", "aaa")))
	b.byID["root"].Revision = "rev-1"

	assert.True(t, a.Equal(b))

	c := b.Copy()
	c.byID["main"].Executable = true
	assert.False(t, a.Equal(c))
	assert.True(t, a.Equal(b), "copy must not share entries")
}
