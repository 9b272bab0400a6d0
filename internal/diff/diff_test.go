package diff

import (
	"bytes"
	"testing"

	"arbor/internal/errors"
	"arbor/internal/inventory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffHunksAndStats(t *testing.T) {
	engine := NewEngine(1)
	oldText := []byte("a\nb\nc\nd\ne\nf\ng\n")
	newText := []byte("a\nb\nC\nd\ne\nf\ng\nh\n")

	result, err := engine.Diff(oldText, newText)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stats.Additions)
	assert.Equal(t, 1, result.Stats.Deletions)
	assert.Equal(t, 3, result.Stats.Changes)
	require.Len(t, result.Hunks, 2)

	assert.Equal(t, "@@ -2,3 +2,3 @@\n b\n-c\n+C\n d\n@@ -7 +7,2 @@\n g\n+h\n", result.Format())
}

func TestDiffIdentical(t *testing.T) {
	result, err := NewEngine(3).Diff([]byte("same\n"), []byte("same\n"))
	require.NoError(t, err)
	assert.Empty(t, result.Hunks)
	assert.Equal(t, "", result.Format())
}

func TestDiffFromEmpty(t *testing.T) {
	result, err := NewEngine(3).Diff(nil, []byte("one\ntwo"))
	require.NoError(t, err)
	assert.Equal(t, "@@ -0,0 +1,2 @@\n+one\n+two\n\\ No newline at end of file\n", result.Format())
}

func TestUnified(t *testing.T) {
	text, err := Unified("a/x", "b/x", []byte("1\n2\n"), []byte("1\n3\n"), 3)
	require.NoError(t, err)
	assert.Contains(t, text, "--- a/x")
	assert.Contains(t, text, "+++ b/x")
	assert.Contains(t, text, "-2\n+3\n")

	text, err = Unified("a", "b", []byte("x"), []byte("x"), 3)
	require.NoError(t, err)
	assert.Empty(t, text)
}

type memTree struct {
	inv   *inventory.Inventory
	texts map[string]string
}

func (m memTree) Inventory() *inventory.Inventory { return m.inv }

func (m memTree) FileText(fileID string) ([]byte, error) {
	s, ok := m.texts[fileID]
	if !ok {
		return nil, errors.NoSuchID(fileID)
	}
	return []byte(s), nil
}

func file(id, name, text string) *inventory.Entry {
	e := inventory.NewFile(id, "root", name)
	e.TextSha1 = text
	e.TextSize = int64(len(text))
	return e
}

func TestWriteTreeDiff(t *testing.T) {
	oldInv := inventory.NewWithRoot("root", "r1")
	require.NoError(t, oldInv.Add(file("f1", "hello.txt", "hello\n")))
	require.NoError(t, oldInv.Add(file("f2", "gone.txt", "bye\n")))
	require.NoError(t, oldInv.Add(file("f3", "old-name", "same\n")))

	newInv := inventory.NewWithRoot("root", "r2")
	require.NoError(t, newInv.Add(file("f1", "hello.txt", "hello world\n")))
	require.NoError(t, newInv.Add(file("f3", "new-name", "same\n")))
	require.NoError(t, newInv.Add(inventory.NewDirectory("d1", "root", "docs")))

	oldTree := memTree{oldInv, map[string]string{"f1": "hello\n", "f2": "bye\n", "f3": "same\n"}}
	newTree := memTree{newInv, map[string]string{"f1": "hello world\n", "f3": "same\n"}}

	var buf bytes.Buffer
	require.NoError(t, WriteTreeDiff(&buf, oldTree, newTree, TreeOptions{}))

	want := "=== removed file 'gone.txt'\n" +
		"--- old/gone.txt\n+++ new/gone.txt\n@@ -1 +0,0 @@\n-bye\n" +
		"=== added directory 'docs'\n" +
		"=== renamed file 'old-name' => 'new-name'\n" +
		"=== modified file 'hello.txt'\n" +
		"--- old/hello.txt\n+++ new/hello.txt\n@@ -1 +1 @@\n-hello\n+hello world\n"
	assert.Equal(t, want, buf.String())
}
