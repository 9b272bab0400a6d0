// Package workspace mirrors a branch tip as a plain directory on disk and
// turns it back into commit snapshots.
package workspace

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"arbor/internal/branch"
	"arbor/internal/commit"
	"arbor/internal/content"
	"arbor/internal/delta"
	"arbor/internal/errors"
	"arbor/internal/inventory"
	"arbor/internal/logging"
	"arbor/internal/repository"
	"arbor/internal/revision"
	"arbor/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	trackedPrefix = "workspace"
	// rootKey stands in for the empty path of the tree root.
	rootKey = "."
)

var unsafeIDChars = regexp.MustCompile(`[^a-z0-9_.]+`)

// trackedPath binds a workspace path to a stable file id.
type trackedPath struct {
	Path    string    `json:"path"`
	FileID  string    `json:"file_id"`
	AddedAt time.Time `json:"added_at"`
}

func (t *trackedPath) GetID() string {
	if t.Path == "" {
		return rootKey
	}
	return t.Path
}

// FindRoot searches upwards from startDir for a directory holding a
// repository.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, repository.ControlDir)); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.NotFound(fmt.Sprintf("no %s directory above %s", repository.ControlDir, startDir))
}

// LocalWorkspace is a working tree rooted at Root following Branch.
type LocalWorkspace struct {
	Root   string
	Repo   *repository.Repository
	Branch *branch.Branch
	Mu     sync.RWMutex
	Logger *zap.Logger

	tracked *storage.BadgerStore[trackedPath]
}

// NewLocalWorkspace opens the working tree at root. A tree that has never
// been used gets a root file id, taken from the branch tip when there is
// one.
func NewLocalWorkspace(root string, br *branch.Branch, logger *zap.Logger) (*LocalWorkspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	repo := br.Repository()
	w := &LocalWorkspace{
		Root:    abs,
		Repo:    repo,
		Branch:  br,
		Logger:  logging.OrNop(logger),
		tracked: storage.NewBadgerStore(repo.DB(), trackedPrefix, (*trackedPath).GetID),
	}

	_, err = w.tracked.Get(rootKey)
	if err == nil {
		return w, nil
	}
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		return nil, err
	}

	rootID := "tree_root-" + uuid.NewString()
	basis, err := w.basisInventory()
	if err != nil {
		return nil, err
	}
	if r := basis.Root(); r != nil {
		rootID = r.FileID
	}
	err = w.tracked.Batch(func(tx *storage.Txn[trackedPath]) error {
		if err := trackInventory(tx, basis); err != nil {
			return err
		}
		return tx.Put(&trackedPath{Path: "", FileID: rootID, AddedAt: time.Now().UTC()})
	})
	if err != nil {
		return nil, fmt.Errorf("recording root id: %w", err)
	}
	return w, nil
}

// trackInventory records every path of inv under its file id.
func trackInventory(tx *storage.Txn[trackedPath], inv *inventory.Inventory) error {
	now := time.Now().UTC()
	for p, e := range inv.IterEntries() {
		if e.IsRoot() {
			continue
		}
		if err := tx.Put(&trackedPath{Path: p, FileID: e.FileID, AddedAt: now}); err != nil {
			return fmt.Errorf("tracking %s: %w", p, err)
		}
	}
	return nil
}

func (w *LocalWorkspace) basisInventory() (*inventory.Inventory, error) {
	tip, err := w.Branch.Tip()
	if err != nil {
		return nil, err
	}
	return w.Repo.GetInventory(tip)
}

// BasisTree is the committed tree the workspace was last in step with.
func (w *LocalWorkspace) BasisTree() (*repository.RevisionTree, error) {
	tip, err := w.Branch.Tip()
	if err != nil {
		return nil, err
	}
	return w.Repo.RevisionTree(tip)
}

// Ignored reports whether a slash-separated workspace path is never
// versioned.
func Ignored(rel string) bool {
	if rel == "" {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, ".") {
			return true
		}
		switch part {
		case "node_modules", "vendor", "dist", "build":
			return true
		}
	}
	return false
}

// relPath maps a path given relative to Root, or absolute, onto a
// slash-separated workspace path.
func (w *LocalWorkspace) relPath(p string) (string, error) {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.Root, p)
	}
	rel, err := filepath.Rel(w.Root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errors.ValidationError(fmt.Sprintf("%s is outside the workspace", p), nil)
	}
	return rel, nil
}

func (w *LocalWorkspace) abs(rel string) string {
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

// Tracked returns every versioned path mapped to its file id. The root is
// the empty path.
func (w *LocalWorkspace) Tracked() (map[string]string, error) {
	w.Mu.RLock()
	defer w.Mu.RUnlock()
	return w.loadTracked()
}

func (w *LocalWorkspace) loadTracked() (map[string]string, error) {
	recs, err := w.tracked.List()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(recs))
	for _, r := range recs {
		out[r.Path] = r.FileID
	}
	return out, nil
}

func generateFileID(name string) string {
	base := unsafeIDChars.ReplaceAllString(strings.ToLower(name), "_")
	if len(base) > 20 {
		base = base[:20]
	}
	if base == "" {
		base = "file"
	}
	return fmt.Sprintf("%s-%s", base, strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

// Add versions paths, their missing parent directories and, for
// directories, everything beneath them that is not ignored. With no paths
// the whole tree is added. It returns the newly versioned paths.
func (w *LocalWorkspace) Add(paths []string) ([]string, error) {
	w.Mu.Lock()
	defer w.Mu.Unlock()

	tracked, err := w.loadTracked()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		paths = []string{w.Root}
	}

	now := time.Now().UTC()
	var added []string
	err = w.tracked.Batch(func(tx *storage.Txn[trackedPath]) error {
		track := func(rel string) error {
			if _, ok := tracked[rel]; ok {
				return nil
			}
			id := generateFileID(path.Base(rel))
			if err := tx.Put(&trackedPath{Path: rel, FileID: id, AddedAt: now}); err != nil {
				return fmt.Errorf("tracking %s: %w", rel, err)
			}
			tracked[rel] = id
			added = append(added, rel)
			w.Logger.Debug("added", zap.String("path", rel), zap.String("file_id", id))
			return nil
		}

		for _, p := range paths {
			rel, err := w.relPath(p)
			if err != nil {
				return err
			}
			if Ignored(rel) {
				w.Logger.Warn("skipping ignored path", zap.String("path", rel))
				continue
			}
			info, err := os.Lstat(w.abs(rel))
			if os.IsNotExist(err) {
				return errors.NoSuchPath(rel)
			}
			if err != nil {
				return fmt.Errorf("checking %s: %w", rel, err)
			}

			if rel != "" {
				parts := strings.Split(rel, "/")
				for i := 1; i <= len(parts); i++ {
					if err := track(strings.Join(parts[:i], "/")); err != nil {
						return err
					}
				}
			}
			if !info.IsDir() {
				continue
			}

			err = filepath.WalkDir(w.abs(rel), func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				sub, err := w.relPath(p)
				if err != nil || sub == rel {
					return err
				}
				if Ignored(sub) {
					if d.IsDir() {
						return fs.SkipDir
					}
					return nil
				}
				return track(sub)
			})
			if err != nil {
				return fmt.Errorf("walking %s: %w", rel, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(added)
	return added, nil
}

// Remove stops versioning paths and everything beneath them. Files stay on
// disk.
func (w *LocalWorkspace) Remove(paths []string) ([]string, error) {
	w.Mu.Lock()
	defer w.Mu.Unlock()

	tracked, err := w.loadTracked()
	if err != nil {
		return nil, err
	}

	var removed []string
	err = w.tracked.Batch(func(tx *storage.Txn[trackedPath]) error {
		for _, p := range paths {
			rel, err := w.relPath(p)
			if err != nil {
				return err
			}
			if rel == "" {
				return errors.ValidationError("cannot remove the tree root", nil)
			}
			if _, ok := tracked[rel]; !ok {
				return errors.NoSuchPath(rel)
			}
			for t := range tracked {
				if t != rel && !strings.HasPrefix(t, rel+"/") {
					continue
				}
				if err := tx.Delete(t); err != nil {
					return fmt.Errorf("untracking %s: %w", t, err)
				}
				delete(tracked, t)
				removed = append(removed, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(removed)
	return removed, nil
}

// Rename moves a versioned path, keeping its file id and those of its
// children. The file is moved on disk unless it has already been moved.
func (w *LocalWorkspace) Rename(oldPath, newPath string) error {
	w.Mu.Lock()
	defer w.Mu.Unlock()

	from, err := w.relPath(oldPath)
	if err != nil {
		return err
	}
	to, err := w.relPath(newPath)
	if err != nil {
		return err
	}
	if from == "" || to == "" {
		return errors.ValidationError("cannot rename the tree root", nil)
	}
	if Ignored(to) {
		return errors.ValidationError(fmt.Sprintf("%s is an ignored path", to), nil)
	}

	tracked, err := w.loadTracked()
	if err != nil {
		return err
	}
	if _, ok := tracked[from]; !ok {
		return errors.NoSuchPath(from)
	}
	if _, ok := tracked[to]; ok {
		return errors.ValidationError(fmt.Sprintf("%s is already versioned", to), nil)
	}
	if parent := path.Dir(to); parent != "." {
		if _, ok := tracked[parent]; !ok {
			return errors.NoSuchPath(parent)
		}
	}

	_, fromErr := os.Lstat(w.abs(from))
	_, toErr := os.Lstat(w.abs(to))
	switch {
	case fromErr == nil && os.IsNotExist(toErr):
		if err := os.Rename(w.abs(from), w.abs(to)); err != nil {
			return fmt.Errorf("moving %s: %w", from, err)
		}
	case os.IsNotExist(fromErr) && toErr == nil:
		// already moved by the user
	default:
		return errors.ValidationError(fmt.Sprintf("cannot move %s to %s", from, to), nil)
	}

	now := time.Now().UTC()
	err = w.tracked.Batch(func(tx *storage.Txn[trackedPath]) error {
		for t, id := range tracked {
			if t != from && !strings.HasPrefix(t, from+"/") {
				continue
			}
			if err := tx.Delete(t); err != nil {
				return err
			}
			moved := to + strings.TrimPrefix(t, from)
			if err := tx.Put(&trackedPath{Path: moved, FileID: id, AddedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording rename of %s: %w", from, err)
	}
	w.Logger.Info("renamed", zap.String("from", from), zap.String("to", to))
	return nil
}

// Snapshot captures the workspace for a commit on top of the branch tip.
type Snapshot struct {
	parents []string
	entries []commit.Entry
}

func (s *Snapshot) ParentIDs() []string { return s.parents }

func (s *Snapshot) Entries() ([]commit.Entry, error) { return s.entries, nil }

// Snapshot lists every versioned path still present on disk. Versioned
// paths that have vanished are left out and so recorded as removed.
func (w *LocalWorkspace) Snapshot() (*Snapshot, error) {
	w.Mu.RLock()
	defer w.Mu.RUnlock()

	tip, err := w.Branch.Tip()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{}
	if !revision.IsNull(tip) {
		snap.parents = []string{tip}
	}
	snap.entries, err = w.entries()
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (w *LocalWorkspace) entries() ([]commit.Entry, error) {
	tracked, err := w.loadTracked()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(tracked))
	for p := range tracked {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	present := map[string]bool{}
	var out []commit.Entry
	for _, rel := range paths {
		if rel != "" {
			parent := path.Dir(rel)
			if parent == "." {
				parent = ""
			}
			if !present[parent] {
				continue
			}
		}
		abs := w.abs(rel)
		info, err := os.Lstat(abs)
		if os.IsNotExist(err) {
			w.Logger.Debug("versioned path missing", zap.String("path", rel))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", rel, err)
		}

		e := commit.Entry{Path: rel, FileID: tracked[rel]}
		switch {
		case info.IsDir():
			e.Kind = inventory.KindDirectory
			present[rel] = true
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(abs)
			if err != nil {
				return nil, fmt.Errorf("reading link %s: %w", rel, err)
			}
			e.Kind = inventory.KindSymlink
			e.SymlinkTarget = target
		case info.Mode().IsRegular():
			e.Kind = inventory.KindFile
			e.Executable = info.Mode()&0111 != 0
			e.Content = func() (io.ReadCloser, error) { return os.Open(abs) }
		default:
			w.Logger.Warn("skipping unsupported file type", zap.String("path", rel))
			continue
		}
		if rel == "" && e.Kind != inventory.KindDirectory {
			return nil, errors.ValidationError("workspace root is not a directory", nil)
		}
		out = append(out, e)
	}
	return out, nil
}

// Unknowns lists unversioned, unignored paths. An unversioned directory is
// reported once, without its contents.
func (w *LocalWorkspace) Unknowns() ([]delta.Unknown, error) {
	w.Mu.RLock()
	defer w.Mu.RUnlock()

	tracked, err := w.loadTracked()
	if err != nil {
		return nil, err
	}
	var out []delta.Unknown
	err = filepath.WalkDir(w.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := w.relPath(p)
		if err != nil || rel == "" {
			return err
		}
		if Ignored(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if _, ok := tracked[rel]; ok {
			return nil
		}
		kind := inventory.KindFile
		switch {
		case d.IsDir():
			kind = inventory.KindDirectory
		case d.Type()&fs.ModeSymlink != 0:
			kind = inventory.KindSymlink
		}
		out = append(out, delta.Unknown{Path: rel, Kind: kind})
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workspace: %w", err)
	}
	return out, nil
}

// WorkingTree is the on-disk state of a workspace as an inventory.
type WorkingTree struct {
	inv   *inventory.Inventory
	paths map[string]string
	root  string
}

func (t *WorkingTree) Inventory() *inventory.Inventory { return t.inv }

// FileText reads a versioned file from disk.
func (t *WorkingTree) FileText(fileID string) ([]byte, error) {
	rel, ok := t.paths[fileID]
	if !ok {
		return nil, errors.NoSuchID(fileID)
	}
	return os.ReadFile(filepath.Join(t.root, filepath.FromSlash(rel)))
}

// WorkingTree builds the inventory the next commit would record, without
// revision stamps.
func (w *LocalWorkspace) WorkingTree() (*WorkingTree, error) {
	w.Mu.RLock()
	defer w.Mu.RUnlock()

	entries, err := w.entries()
	if err != nil {
		return nil, err
	}
	t := &WorkingTree{inv: inventory.New(""), paths: make(map[string]string), root: w.Root}
	for _, se := range entries {
		e := &inventory.Entry{
			FileID:        se.FileID,
			Kind:          se.Kind,
			Executable:    se.Executable,
			SymlinkTarget: se.SymlinkTarget,
		}
		if se.Kind == inventory.KindFile {
			data, err := os.ReadFile(w.abs(se.Path))
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", se.Path, err)
			}
			e.TextSha1 = content.Sha1(data)
			e.TextSize = int64(len(data))
		}
		if se.Path == "" {
			err = t.inv.Add(e)
		} else {
			err = t.inv.AddPath(se.Path, e)
		}
		if err != nil {
			return nil, fmt.Errorf("building working inventory at %s: %w", se.Path, err)
		}
		t.paths[se.FileID] = se.Path
	}
	return t, nil
}

// Status compares the basis tree with the working tree.
func (w *LocalWorkspace) Status(includeUnchanged bool) (*delta.TreeDelta, error) {
	basis, err := w.basisInventory()
	if err != nil {
		return nil, err
	}
	working, err := w.WorkingTree()
	if err != nil {
		return nil, err
	}
	unknowns, err := w.Unknowns()
	if err != nil {
		return nil, err
	}
	return delta.Compare(basis, working.Inventory(), unknowns, includeUnchanged), nil
}

// Commit records the workspace as a new revision and moves the branch to
// it.
func (w *LocalWorkspace) Commit(ctx context.Context, req commit.Request) (string, error) {
	snap, err := w.Snapshot()
	if err != nil {
		return "", err
	}
	if req.Logger == nil {
		req.Logger = w.Logger
	}
	id, err := commit.CommitSnapshot(ctx, w.Repo, snap, req)
	if err != nil {
		return "", err
	}
	if err := w.Branch.SetTip(id); err != nil {
		return "", fmt.Errorf("advancing branch to %s: %w", id, err)
	}
	return id, nil
}

// Update rewrites the versioned paths to match the branch tip after a pull
// or uncommit. Files the tip does not contain are left on disk unversioned.
func (w *LocalWorkspace) Update() error {
	w.Mu.Lock()
	defer w.Mu.Unlock()

	tree, err := w.BasisTree()
	if err != nil {
		return err
	}
	inv := tree.Inventory()

	tracked, err := w.loadTracked()
	if err != nil {
		return err
	}
	err = w.tracked.Batch(func(tx *storage.Txn[trackedPath]) error {
		for p := range tracked {
			if p == "" {
				continue
			}
			if err := tx.Delete(p); err != nil {
				return err
			}
		}
		if err := trackInventory(tx, inv); err != nil {
			return err
		}
		if root := inv.Root(); root != nil {
			return tx.Put(&trackedPath{Path: "", FileID: root.FileID, AddedAt: time.Now().UTC()})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("retracking from %s: %w", tree.RevisionID(), err)
	}

	for p, e := range inv.IterEntries() {
		target := w.abs(p)
		switch e.Kind {
		case inventory.KindDirectory:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case inventory.KindFile:
			data, err := tree.FileText(e.FileID)
			if err != nil {
				return fmt.Errorf("reading %s from %s: %w", p, tree.RevisionID(), err)
			}
			mode := os.FileMode(0644)
			if e.Executable {
				mode = 0755
			}
			if err := os.WriteFile(target, data, mode); err != nil {
				return err
			}
			if err := os.Chmod(target, mode); err != nil {
				return err
			}
		case inventory.KindSymlink:
			os.Remove(target)
			if err := os.Symlink(e.SymlinkTarget, target); err != nil {
				return err
			}
		}
	}
	w.Logger.Info("workspace updated", zap.String("revision_id", tree.RevisionID()))
	return nil
}
