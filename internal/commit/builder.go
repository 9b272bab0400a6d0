// Package commit builds new revisions from working snapshots.
package commit

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"arbor/internal/content"
	"arbor/internal/errors"
	"arbor/internal/graph"
	"arbor/internal/inventory"
	"arbor/internal/logging"
	"arbor/internal/repository"
	"arbor/internal/revision"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options describes the revision being built. Zero values get defaults:
// a generated revision id, the current time and the local UTC offset.
type Options struct {
	RevisionID string
	Committer  string
	Timestamp  time.Time
	Timezone   *int
	Properties map[string]string
	// Compat lets FinishInventory invent a missing root, with a warning.
	Compat bool
	Logger *zap.Logger
}

// Builder records one new revision into a repository. It holds the
// repository's write group open from NewBuilder until Commit or Abort.
type Builder struct {
	repo       *repository.Repository
	graph      *graph.Graph
	parentIDs  []string
	parentInvs []*inventory.Inventory
	basis      *inventory.Inventory

	revisionID string
	committer  string
	timestamp  float64
	timezone   int
	properties map[string]string
	compat     bool
	logger     *zap.Logger

	inv        *inventory.Inventory
	changed    bool
	finished   bool
	done       bool
	textsAdded int
}

// NewBuilder starts a write group on repo, which must be write locked.
func NewBuilder(repo *repository.Repository, parentIDs []string, opts Options) (*Builder, error) {
	logger := logging.OrNop(opts.Logger)
	b := &Builder{
		repo:       repo,
		graph:      repo.Graph(),
		committer:  opts.Committer,
		properties: opts.Properties,
		compat:     opts.Compat,
		logger:     logger,
	}

	for _, p := range parentIDs {
		if !revision.IsNull(p) {
			b.parentIDs = append(b.parentIDs, p)
		}
	}

	at := opts.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	b.timestamp = revision.RoundTimestamp(at)
	if opts.Timezone != nil {
		b.timezone = *opts.Timezone
	} else {
		b.timezone = revision.LocalOffset(at)
	}

	if err := b.chooseRevisionID(opts.RevisionID, at); err != nil {
		return nil, err
	}

	for _, p := range b.parentIDs {
		inv, err := repo.GetInventory(p)
		if errors.IsType(err, errors.ErrorTypeNoSuchRevision) {
			logger.Debug("parent is a ghost", zap.String("revision_id", p))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading parent inventory %s: %w", p, err)
		}
		b.parentInvs = append(b.parentInvs, inv)
	}
	if len(b.parentIDs) > 0 && len(b.parentInvs) > 0 && b.parentInvs[0].RevisionID == b.parentIDs[0] {
		b.basis = b.parentInvs[0]
	} else {
		b.basis = inventory.New(revision.Null)
	}
	b.inv = inventory.New(b.revisionID)

	if err := repo.StartWriteGroup(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Builder) chooseRevisionID(requested string, at time.Time) error {
	if requested != "" {
		exists, err := b.repo.HasRevision(requested)
		if err != nil {
			return err
		}
		if exists {
			return errors.DuplicateKey("revision " + requested)
		}
		b.revisionID = requested
		return nil
	}

	id := revision.GenerateID(b.committer, at)
	exists, err := b.repo.HasRevision(id)
	if err != nil {
		return err
	}
	for _, p := range b.parentIDs {
		if p == id {
			exists = true
		}
	}
	if exists {
		return errors.Internal(fmt.Sprintf("generated revision id %s collides with existing history", id))
	}
	b.revisionID = id
	return nil
}

func (b *Builder) RevisionID() string { return b.revisionID }

// Inventory is the inventory being built.
func (b *Builder) Inventory() *inventory.Inventory { return b.inv }

// AnyChanges reports whether the new tree differs from the basis. Valid
// after FinishInventory.
func (b *Builder) AnyChanges() bool { return b.changed }

// Entry is one item of a working snapshot.
type Entry struct {
	Path          string
	FileID        string
	Kind          inventory.Kind
	Executable    bool
	SymlinkTarget string
	Reference     string
	// Content opens a file's bytes. Only called for files.
	Content func() (io.ReadCloser, error)
}

func (e Entry) read() ([]byte, error) {
	if e.Content == nil {
		return nil, errors.Internal(fmt.Sprintf("no content accessor for %s", e.Path))
	}
	rc, err := e.Content()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// headEntries returns the versions of fileID in the parent inventories that
// no other candidate version supersedes, ordered as the parents are.
func (b *Builder) headEntries(fileID string) ([]*inventory.Entry, error) {
	var candidates []*inventory.Entry
	byRevision := make(map[string]*inventory.Entry)
	for _, inv := range b.parentInvs {
		e, ok := inv.Get(fileID)
		if !ok {
			continue
		}
		if _, dup := byRevision[e.Revision]; dup {
			continue
		}
		byRevision[e.Revision] = e
		candidates = append(candidates, e)
	}
	if len(candidates) < 2 {
		return candidates, nil
	}

	revs := make([]string, len(candidates))
	for i, c := range candidates {
		revs[i] = c.Revision
	}
	heads, err := b.graph.Heads(revs)
	if err != nil {
		return nil, err
	}
	out := make([]*inventory.Entry, 0, len(heads))
	for _, c := range candidates {
		if heads[c.Revision] {
			out = append(out, c)
		}
	}
	return out, nil
}

// RecordEntryContents adds one snapshot entry to the new inventory, storing
// a new text only when the entry differs from its single unchanged head.
// Entries must be recorded parents first. It reports whether a new version
// was recorded.
func (b *Builder) RecordEntryContents(se Entry) (bool, error) {
	if b.finished {
		return false, errors.TransactionError("inventory is already finished")
	}
	if se.FileID == "" {
		return false, errors.ValidationError(fmt.Sprintf("%s has no file id", se.Path), nil)
	}

	ie := &inventory.Entry{FileID: se.FileID, Kind: se.Kind}
	if se.Path != "" {
		dir, name := path.Split(se.Path)
		parentID, err := b.inv.PathToID(path.Clean("/" + dir)[1:])
		if err != nil {
			return false, fmt.Errorf("recording %s: %w", se.Path, err)
		}
		ie.ParentID = parentID
		ie.Name = name
	}
	switch se.Kind {
	case inventory.KindFile:
		ie.Executable = se.Executable
	case inventory.KindSymlink:
		ie.SymlinkTarget = se.SymlinkTarget
	case inventory.KindTreeReference:
		if !b.repo.SupportsTreeReference() {
			return false, errors.ValidationError(fmt.Sprintf("%s format cannot record tree reference %s", b.repo.Format(), se.Path), nil)
		}
		ie.ReferenceRevision = se.Reference
	}

	if ie.IsRoot() && !b.repo.SupportsRichRoot() {
		// The root is not versioned: it is stamped with every commit and
		// has no text.
		ie.Revision = b.revisionID
		if err := b.inv.Add(ie); err != nil {
			return false, err
		}
		return false, nil
	}

	heads, err := b.headEntries(se.FileID)
	if err != nil {
		return false, err
	}

	var body []byte
	if se.Kind == inventory.KindFile {
		if body, err = se.read(); err != nil {
			return false, fmt.Errorf("reading %s: %w", se.Path, err)
		}
		ie.TextSha1 = content.Sha1(body)
		ie.TextSize = int64(len(body))
	}

	if len(heads) == 1 {
		h := heads[0]
		if h.Kind == ie.Kind && h.Name == ie.Name && h.ParentID == ie.ParentID &&
			h.Executable == ie.Executable && h.ContentEqual(ie) {
			ie.Revision = h.Revision
			if err := b.inv.Add(ie); err != nil {
				return false, err
			}
			return false, nil
		}
	}

	ie.Revision = b.revisionID
	parents := make([]content.Key, len(heads))
	for i, h := range heads {
		parents[i] = content.TextKey(se.FileID, h.Revision)
	}
	if _, err := b.repo.Store(content.Texts).Put(content.TextKey(se.FileID, b.revisionID), parents, body); err != nil {
		return false, fmt.Errorf("storing text for %s: %w", se.Path, err)
	}
	b.textsAdded++
	if err := b.inv.Add(ie); err != nil {
		return false, err
	}
	b.changed = true
	return true, nil
}

// FinishInventory completes the new inventory. A root must have been
// recorded unless the builder is in compat mode.
func (b *Builder) FinishInventory() error {
	if b.finished {
		return nil
	}
	if b.inv.Root() == nil {
		if !b.compat {
			return errors.ValidationError("no root entry was recorded", nil)
		}
		rootID := "tree_root-" + uuid.NewString()
		if root := b.basis.Root(); root != nil {
			rootID = root.FileID
		}
		b.logger.Warn("synthesizing missing root entry", zap.String("file_id", rootID))
		if _, err := b.RecordEntryContents(Entry{FileID: rootID, Kind: inventory.KindDirectory}); err != nil {
			return err
		}
	}

	for _, id := range b.basis.FileIDs() {
		if !b.inv.Has(id) {
			b.changed = true
			break
		}
	}
	if b.inv.Len() != b.basis.Len() {
		b.changed = true
	}
	b.finished = true
	return nil
}

// Commit stores the revision and commits the write group.
func (b *Builder) Commit(message string) (string, error) {
	if b.done {
		return "", errors.TransactionError("builder already committed or aborted")
	}
	if err := b.FinishInventory(); err != nil {
		return "", err
	}

	rev := &revision.Revision{
		ID:         b.revisionID,
		ParentIDs:  append([]string{}, b.parentIDs...),
		Committer:  b.committer,
		Message:    message,
		Timestamp:  b.timestamp,
		Timezone:   b.timezone,
		Properties: b.properties,
	}
	if err := b.repo.AddRevision(rev, b.inv); err != nil {
		return "", err
	}
	if err := b.repo.CommitWriteGroup(); err != nil {
		return "", err
	}
	b.done = true
	b.logger.Info("committed revision",
		zap.String("revision_id", b.revisionID),
		zap.Int("texts", b.textsAdded),
		zap.Strings("parents", b.parentIDs))
	return b.revisionID, nil
}

// Abort discards everything recorded.
func (b *Builder) Abort() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.repo.AbortWriteGroup()
}

// Snapshot is a working tree to commit: its entries, parents first, and the
// revisions it descends from.
type Snapshot interface {
	ParentIDs() []string
	Entries() ([]Entry, error)
}

// SortEntries orders entries so that every directory precedes its contents.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}

// Request carries what CommitSnapshot needs beyond the snapshot itself.
type Request struct {
	Options
	Message        string
	AllowUnchanged bool
}

// CommitSnapshot write-locks repo and records snap as a new revision.
func CommitSnapshot(ctx context.Context, repo *repository.Repository, snap Snapshot, req Request) (string, error) {
	if _, err := repo.LockWrite(ctx); err != nil {
		return "", err
	}
	defer repo.Unlock()

	entries, err := snap.Entries()
	if err != nil {
		return "", fmt.Errorf("reading snapshot: %w", err)
	}
	SortEntries(entries)

	parents := snap.ParentIDs()
	b, err := NewBuilder(repo, parents, req.Options)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if _, err := b.RecordEntryContents(e); err != nil {
			b.Abort()
			return "", err
		}
	}
	if err := b.FinishInventory(); err != nil {
		b.Abort()
		return "", err
	}
	if !b.AnyChanges() && len(parents) <= 1 && !req.AllowUnchanged {
		b.Abort()
		return "", errors.ValidationError("no changes to commit", nil)
	}
	id, err := b.Commit(req.Message)
	if err != nil {
		b.Abort()
		return "", err
	}
	return id, nil
}
