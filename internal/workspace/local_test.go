package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"arbor/internal/branch"
	"arbor/internal/commit"
	"arbor/internal/errors"
	"arbor/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestWorkspace(t *testing.T) *LocalWorkspace {
	t.Helper()
	root := t.TempDir()
	repo, err := repository.Init(root, repository.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	ws, err := NewLocalWorkspace(root, branch.Open(repo, ""), nil)
	require.NoError(t, err)
	return ws
}

func writeFile(t *testing.T, ws *LocalWorkspace, rel, body string) {
	t.Helper()
	p := filepath.Join(ws.Root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
}

func TestIgnored(t *testing.T) {
	tests := map[string]bool{
		"":                 false,
		"main.go":          false,
		"src/lib.go":       false,
		".arbor/db":        true,
		"src/.hidden":      true,
		"vendor/x/y.go":    true,
		"web/node_modules": true,
	}
	for p, want := range tests {
		assert.Equal(t, want, Ignored(p), p)
	}
}

func TestFindRoot(t *testing.T) {
	ws := setupTestWorkspace(t)
	sub := filepath.Join(ws.Root, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0755))

	root, err := FindRoot(sub)
	require.NoError(t, err)
	assert.Equal(t, ws.Root, root)

	_, err = FindRoot(t.TempDir())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestAddTracksParentsAndContents(t *testing.T) {
	ws := setupTestWorkspace(t)
	writeFile(t, ws, "src/pkg/a.go", "package pkg\n")
	writeFile(t, ws, "src/pkg/.swp", "junk")
	writeFile(t, ws, "top.txt", "top\n")

	added, err := ws.Add([]string{"src"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src", "src/pkg", "src/pkg/a.go"}, added)

	added, err = ws.Add(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"top.txt"}, added)

	tracked, err := ws.Tracked()
	require.NoError(t, err)
	assert.Contains(t, tracked, "")
	assert.NotContains(t, tracked, "src/pkg/.swp")
	assert.NotContains(t, tracked, ".arbor")

	_, err = ws.Add([]string{"nope.txt"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNoSuchPath))
}

func TestStatusCommitAndIdStability(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()
	writeFile(t, ws, "a.txt", "one\n")
	writeFile(t, ws, "loose.txt", "?\n")

	_, err := ws.Add([]string{"a.txt"})
	require.NoError(t, err)

	d, err := ws.Status(false)
	require.NoError(t, err)
	require.Len(t, d.Added, 1)
	assert.Equal(t, "a.txt", d.Added[0].Path)
	require.Len(t, d.Unversioned, 1)
	assert.Equal(t, "loose.txt", d.Unversioned[0].Path)

	first, err := ws.Commit(ctx, commit.Request{Options: commit.Options{Committer: "t <t@x.org>"}, Message: "first"})
	require.NoError(t, err)
	tip, err := ws.Branch.Tip()
	require.NoError(t, err)
	assert.Equal(t, first, tip)

	d, err = ws.Status(false)
	require.NoError(t, err)
	assert.False(t, d.HasChanged())

	tracked, err := ws.Tracked()
	require.NoError(t, err)
	id := tracked["a.txt"]

	require.NoError(t, ws.Rename("a.txt", "b.txt"))
	_, err = os.Stat(filepath.Join(ws.Root, "b.txt"))
	require.NoError(t, err)
	tracked, err = ws.Tracked()
	require.NoError(t, err)
	assert.Equal(t, id, tracked["b.txt"])

	d, err = ws.Status(false)
	require.NoError(t, err)
	require.Len(t, d.Renamed, 1)
	assert.Equal(t, "a.txt", d.Renamed[0].OldPath)
	assert.Equal(t, "b.txt", d.Renamed[0].NewPath)

	second, err := ws.Commit(ctx, commit.Request{Message: "rename"})
	require.NoError(t, err)
	inv, err := ws.Repo.GetInventory(second)
	require.NoError(t, err)
	got, err := inv.PathToID("b.txt")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestRemoveAndMissingFiles(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()
	writeFile(t, ws, "keep.txt", "k\n")
	writeFile(t, ws, "dir/gone.txt", "g\n")
	_, err := ws.Add(nil)
	require.NoError(t, err)
	_, err = ws.Commit(ctx, commit.Request{Message: "base"})
	require.NoError(t, err)

	removed, err := ws.Remove([]string{"dir"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dir", "dir/gone.txt"}, removed)
	_, err = os.Stat(filepath.Join(ws.Root, "dir", "gone.txt"))
	require.NoError(t, err, "remove leaves files on disk")

	require.NoError(t, os.Remove(filepath.Join(ws.Root, "keep.txt")))
	d, err := ws.Status(false)
	require.NoError(t, err)
	assert.Len(t, d.Removed, 3)

	_, err = ws.Remove([]string{"dir"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNoSuchPath))
	_, err = ws.Remove([]string{""})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestWorkingTreeFileText(t *testing.T) {
	ws := setupTestWorkspace(t)
	writeFile(t, ws, "a.txt", "hello\n")
	_, err := ws.Add(nil)
	require.NoError(t, err)

	tree, err := ws.WorkingTree()
	require.NoError(t, err)
	id, err := tree.Inventory().PathToID("a.txt")
	require.NoError(t, err)
	text, err := tree.FileText(id)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(text))

	_, err = tree.FileText("unknown")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNoSuchID))
}

func TestUpdateWritesTipToDisk(t *testing.T) {
	ws := setupTestWorkspace(t)
	ctx := context.Background()
	writeFile(t, ws, "a.txt", "v1\n")
	_, err := ws.Add(nil)
	require.NoError(t, err)
	first, err := ws.Commit(ctx, commit.Request{Message: "v1"})
	require.NoError(t, err)

	writeFile(t, ws, "a.txt", "v2\n")
	_, err = ws.Commit(ctx, commit.Request{Message: "v2"})
	require.NoError(t, err)

	_, err = ws.Branch.Uncommit(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, ws.Update())

	data, err := os.ReadFile(filepath.Join(ws.Root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1\n", string(data))
	tip, err := ws.Branch.Tip()
	require.NoError(t, err)
	assert.Equal(t, first, tip)
}
