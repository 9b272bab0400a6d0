// Package fetch copies the missing closure of history from one repository
// into another.
package fetch

import (
	"context"
	"fmt"
	"sort"

	"arbor/internal/content"
	"arbor/internal/errors"
	"arbor/internal/graph"
	"arbor/internal/inventory"
	"arbor/internal/logging"
	"arbor/internal/revision"

	"go.uber.org/zap"
)

// Everything asks Run to copy every revision the source has.
const Everything = ""

// Source is the repository history is copied from.
type Source interface {
	Location() string
	SupportsRichRoot() bool
	LockRead() error
	Unlock() error
	HasRevision(id string) (bool, error)
	AllRevisionIDs() ([]string, error)
	ParentMap(ids []string) (map[string][]string, error)
	GetInventory(id string) (*inventory.Inventory, error)
	RecordSource(kind content.Kind) content.Source
}

// Target is the repository history is copied into.
type Target interface {
	Location() string
	SupportsRichRoot() bool
	LockWrite(ctx context.Context) (string, error)
	Unlock() error
	HasRevisions(ids []string) (map[string]bool, error)
	StartWriteGroup() error
	CommitWriteGroup() error
	AbortWriteGroup() error
	Store(kind content.Kind) content.Store
}

// Result reports what a fetch did. Copied counts revisions.
type Result struct {
	Copied  int
	Failed  []string
	Records map[content.Kind]int
}

type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option { return func(f *Fetcher) { f.logger = logger } }

// Fetcher copies history from source into target.
type Fetcher struct {
	source Source
	target Target
	logger *zap.Logger
}

func New(source Source, target Target, opts ...Option) *Fetcher {
	f := &Fetcher{source: source, target: target}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logging.OrNop(f.logger)
	return f
}

// Run makes target contain revisionID and its ancestry. Everything copies
// all of source; the null revision copies nothing.
func (f *Fetcher) Run(ctx context.Context, revisionID string) (*Result, error) {
	result := &Result{Records: make(map[content.Kind]int)}
	if revisionID != Everything && revision.IsNull(revisionID) {
		return result, nil
	}

	if f.source.Location() == f.target.Location() {
		if revisionID == Everything {
			return result, nil
		}
		has, err := f.target.HasRevisions([]string{revisionID})
		if err != nil {
			return nil, err
		}
		if !has[revisionID] {
			return nil, errors.NoSuchRevision(revisionID)
		}
		return result, nil
	}

	if f.source.SupportsRichRoot() && !f.target.SupportsRichRoot() {
		return nil, errors.ValidationError(
			"cannot fetch from a repository that versions the tree root into one that does not", nil)
	}

	if err := f.source.LockRead(); err != nil {
		return nil, err
	}
	defer f.source.Unlock()

	var tips []string
	if revisionID == Everything {
		all, err := f.source.AllRevisionIDs()
		if err != nil {
			return nil, fmt.Errorf("listing source revisions: %w", err)
		}
		tips = all
	} else {
		has, err := f.target.HasRevisions([]string{revisionID})
		if err != nil {
			return nil, err
		}
		if has[revisionID] {
			return result, nil
		}
		ok, err := f.source.HasRevision(revisionID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.NoSuchRevision(revisionID)
		}
		tips = []string{revisionID}
	}

	g := graph.New(f.source)
	missing, err := f.findMissing(g, tips)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return result, nil
	}
	order, err := g.TopoSort(missing)
	if err != nil {
		return nil, err
	}

	if _, err := f.target.LockWrite(ctx); err != nil {
		return nil, err
	}
	defer f.target.Unlock()
	if err := f.target.StartWriteGroup(); err != nil {
		return nil, err
	}

	if err := f.copyRevisions(g, order, revisionID, result); err != nil {
		return f.abort(result, err)
	}
	if err := f.target.CommitWriteGroup(); err != nil {
		return f.abort(result, err)
	}

	f.logger.Info("fetch complete",
		zap.String("source", f.source.Location()),
		zap.String("revision_id", revisionID),
		zap.Int("copied", result.Copied),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// abort discards the write group. The returned result keeps the failed
// revisions; nothing was copied.
func (f *Fetcher) abort(result *Result, err error) (*Result, error) {
	if abortErr := f.target.AbortWriteGroup(); abortErr != nil {
		f.logger.Error("aborting write group", zap.Error(abortErr))
	}
	result.Copied = 0
	result.Records = make(map[content.Kind]int)
	f.logger.Warn("fetch aborted",
		zap.String("source", f.source.Location()),
		zap.Int("failed", len(result.Failed)),
		zap.Error(err))
	return result, err
}

// findMissing walks source ancestry from tips, not descending past
// revisions the target already has. Ghosts in the source are skipped.
func (f *Fetcher) findMissing(g *graph.Graph, tips []string) ([]string, error) {
	seen := make(map[string]bool)
	var missing []string
	frontier := make([]string, 0, len(tips))
	for _, t := range tips {
		if !revision.IsNull(t) && !seen[t] {
			seen[t] = true
			frontier = append(frontier, t)
		}
	}

	for len(frontier) > 0 {
		have, err := f.target.HasRevisions(frontier)
		if err != nil {
			return nil, err
		}
		var todo []string
		for _, id := range frontier {
			if !have[id] {
				todo = append(todo, id)
			}
		}
		parents, err := g.ParentMap(todo)
		if err != nil {
			return nil, err
		}
		var next []string
		for _, id := range todo {
			ps, ok := parents[id]
			if !ok {
				f.logger.Debug("skipping ghost", zap.String("revision_id", id))
				continue
			}
			missing = append(missing, id)
			for _, p := range ps {
				if !seen[p] {
					seen[p] = true
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return missing, nil
}

// copyRevisions streams texts, inventories, signatures and revisions for
// order, in that sequence, into the open write group. A revision whose
// inventory is missing upstream fails, and so does every descendant of it
// in order. When requested is among the failures the fetch cannot make the
// target contain it and the cause is returned.
func (f *Fetcher) copyRevisions(g *graph.Graph, order []string, requested string, result *Result) error {
	parents, err := g.ParentMap(order)
	if err != nil {
		return err
	}
	var good []string
	inventories := make(map[string]*inventory.Inventory, len(order))
	var textKeys []content.Key
	// failed maps each failed revision to the error of the ancestor that
	// caused it.
	failed := make(map[string]error)
	for _, id := range order {
		if cause := failedParent(parents[id], failed); cause != nil {
			f.logger.Warn("ancestor missing upstream", zap.String("revision_id", id))
			failed[id] = cause
			result.Failed = append(result.Failed, id)
			continue
		}
		inv, err := f.source.GetInventory(id)
		if errors.IsType(err, errors.ErrorTypeNoSuchRevision) || errors.IsType(err, errors.ErrorTypeNotFound) {
			f.logger.Warn("inventory missing upstream", zap.String("revision_id", id))
			failed[id] = err
			result.Failed = append(result.Failed, id)
			continue
		}
		if err != nil {
			return fmt.Errorf("reading inventory %s: %w", id, err)
		}
		good = append(good, id)
		inventories[id] = inv
		for _, e := range inv.IterEntries() {
			if e.Revision != id {
				continue
			}
			if e.IsRoot() && !f.source.SupportsRichRoot() {
				continue
			}
			textKeys = append(textKeys, content.TextKey(e.FileID, id))
		}
	}
	if cause, ok := failed[requested]; ok {
		return fmt.Errorf("fetching %s: history is incomplete upstream: %w", requested, cause)
	}

	texts := f.target.Store(content.Texts)
	n, _, err := texts.CopyMulti(f.source.RecordSource(content.Texts), textKeys, true)
	if err != nil {
		return fmt.Errorf("copying texts: %w", err)
	}
	result.Records[content.Texts] += n

	if !f.source.SupportsRichRoot() && f.target.SupportsRichRoot() {
		n, err := f.synthesizeRootTexts(g, good, inventories)
		if err != nil {
			return err
		}
		result.Records[content.Texts] += n
	}

	if err := f.fillMissingTexts(good, inventories); err != nil {
		return err
	}

	keys := make([]content.Key, len(good))
	for i, id := range good {
		keys[i] = content.RevisionKey(id)
	}

	n, _, err = f.target.Store(content.Inventories).CopyMulti(f.source.RecordSource(content.Inventories), keys, false)
	if err != nil {
		return fmt.Errorf("copying inventories: %w", err)
	}
	result.Records[content.Inventories] += n

	n, _, err = f.target.Store(content.Signatures).CopyMulti(f.source.RecordSource(content.Signatures), keys, true)
	if err != nil {
		return fmt.Errorf("copying signatures: %w", err)
	}
	result.Records[content.Signatures] += n

	n, _, err = f.target.Store(content.Revisions).CopyMulti(f.source.RecordSource(content.Revisions), keys, false)
	if err != nil {
		return fmt.Errorf("copying revisions: %w", err)
	}
	result.Records[content.Revisions] += n
	result.Copied = n
	return nil
}

func failedParent(parents []string, failed map[string]error) error {
	for _, p := range parents {
		if cause, ok := failed[p]; ok {
			return cause
		}
	}
	return nil
}

// fillMissingTexts checks that every text the new inventories reference is
// in the target and fetches the absent ones once. Anything still absent
// after that is fatal.
func (f *Fetcher) fillMissingTexts(good []string, inventories map[string]*inventory.Inventory) error {
	texts := f.target.Store(content.Texts)
	needRoot := f.target.SupportsRichRoot()

	var wanted []content.Key
	seen := make(map[content.Key]bool)
	for _, id := range good {
		for _, e := range inventories[id].IterEntries() {
			if e.IsRoot() && !needRoot {
				continue
			}
			k := content.TextKey(e.FileID, e.Revision)
			if !seen[k] {
				seen[k] = true
				wanted = append(wanted, k)
			}
		}
	}

	absent, err := absentKeys(texts, wanted)
	if err != nil || len(absent) == 0 {
		return err
	}

	f.logger.Info("retrying missing texts", zap.Int("keys", len(absent)))
	if _, _, err := texts.CopyMulti(f.source.RecordSource(content.Texts), absent, true); err != nil {
		return fmt.Errorf("copying missing texts: %w", err)
	}
	still, err := absentKeys(texts, absent)
	if err != nil {
		return err
	}
	if len(still) > 0 {
		names := make([]string, len(still))
		for i, k := range still {
			names[i] = k.String()
		}
		return errors.FetchIncomplete(names)
	}
	return nil
}

func absentKeys(store content.Store, keys []content.Key) ([]content.Key, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	present, err := store.HasAny(keys)
	if err != nil {
		return nil, err
	}
	var out []content.Key
	for _, k := range keys {
		if !present[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

// synthesizeRootTexts gives every fetched revision an empty root text so a
// root-versioning target can trace the root's history. Texts are written
// grouped by root file id, each group in topological order.
func (f *Fetcher) synthesizeRootTexts(g *graph.Graph, good []string, inventories map[string]*inventory.Inventory) (int, error) {
	byRoot := make(map[string][]string)
	rootOf := make(map[string]string, len(good))
	for _, id := range good {
		root := inventories[id].Root()
		if root == nil {
			continue
		}
		rootOf[id] = root.FileID
		byRoot[root.FileID] = append(byRoot[root.FileID], id)
	}

	rootIDs := make([]string, 0, len(byRoot))
	for id := range byRoot {
		rootIDs = append(rootIDs, id)
	}
	sort.Strings(rootIDs)

	texts := f.target.Store(content.Texts)
	written := 0
	for _, rootID := range rootIDs {
		revs := byRoot[rootID]
		parents, err := g.ParentMap(revs)
		if err != nil {
			return written, err
		}
		for _, id := range revs {
			var parentKeys []content.Key
			for _, p := range parents[id] {
				if g.IsGhost(p) {
					continue
				}
				if r, ok := rootOf[p]; ok && r != rootID {
					continue
				}
				parentKeys = append(parentKeys, content.TextKey(rootID, p))
			}
			if _, err := texts.Put(content.TextKey(rootID, id), parentKeys, nil); err != nil {
				return written, fmt.Errorf("synthesizing root text for %s: %w", id, err)
			}
			written++
		}
	}
	return written, nil
}
