// Package branch keeps a named pointer to the tip of a line of history.
package branch

import (
	"context"
	"fmt"
	"time"

	"arbor/internal/errors"
	"arbor/internal/fetch"
	"arbor/internal/graph"
	"arbor/internal/logging"
	"arbor/internal/repository"
	"arbor/internal/revision"
	"arbor/internal/storage"

	"go.uber.org/zap"
)

const (
	tipPrefix = "branch"
	// DefaultName is the branch a repository's working tree follows.
	DefaultName = "trunk"
)

type tipRecord struct {
	Name       string    `json:"name"`
	RevisionID string    `json:"revision_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (t *tipRecord) GetID() string { return t.Name }

type Option func(*Branch)

func WithLogger(logger *zap.Logger) Option { return func(b *Branch) { b.logger = logger } }

// Branch is a tip pointer stored next to the repository it points into.
type Branch struct {
	repo   *repository.Repository
	name   string
	tips   *storage.BadgerStore[tipRecord]
	logger *zap.Logger
}

func Open(repo *repository.Repository, name string, opts ...Option) *Branch {
	if name == "" {
		name = DefaultName
	}
	b := &Branch{
		repo: repo,
		name: name,
		tips: storage.NewBadgerStore(repo.DB(), tipPrefix, (*tipRecord).GetID),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrNop(b.logger).With(zap.String("branch", name))
	return b
}

func (b *Branch) Name() string { return b.name }

func (b *Branch) Repository() *repository.Repository { return b.repo }

// Tip returns the branch's last revision, or the null revision for an empty
// branch.
func (b *Branch) Tip() (string, error) {
	rec, err := b.tips.Get(b.name)
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return revision.Null, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading tip of %s: %w", b.name, err)
	}
	if rec.RevisionID == "" {
		return revision.Null, nil
	}
	return rec.RevisionID, nil
}

// SetTip points the branch at id, which must be present in the repository.
func (b *Branch) SetTip(id string) error {
	if revision.IsNull(id) {
		id = revision.Null
	} else {
		ok, err := b.repo.HasRevision(id)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NoSuchRevision(id)
		}
	}
	rec := &tipRecord{Name: b.name, RevisionID: id, UpdatedAt: time.Now().UTC()}
	if err := b.tips.Put(rec); err != nil {
		return fmt.Errorf("writing tip of %s: %w", b.name, err)
	}
	b.logger.Debug("tip updated", zap.String("revision_id", id))
	return nil
}

// LeftHandHistory returns the first-parent chain ending at the tip, oldest
// first. The walk stops at a ghost.
func (b *Branch) LeftHandHistory() ([]string, error) {
	tip, err := b.Tip()
	if err != nil {
		return nil, err
	}
	return LeftHandHistory(b.repo, tip)
}

// LeftHandHistory walks first parents from tip through provider.
func LeftHandHistory(provider graph.ParentsProvider, tip string) ([]string, error) {
	var history []string
	for id := tip; !revision.IsNull(id); {
		parents, err := provider.ParentMap([]string{id})
		if err != nil {
			return nil, err
		}
		ps, ok := parents[id]
		if !ok {
			break
		}
		history = append(history, id)
		if len(ps) == 0 {
			break
		}
		id = ps[0]
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// Revno is the length of the left-hand history; zero for an empty branch.
func (b *Branch) Revno() (int, error) {
	history, err := b.LeftHandHistory()
	if err != nil {
		return 0, err
	}
	return len(history), nil
}

// RevisionForRevno maps a 1-based revision number onto the left-hand
// history. Zero is the null revision.
func (b *Branch) RevisionForRevno(n int) (string, bool, error) {
	if n == 0 {
		return revision.Null, true, nil
	}
	history, err := b.LeftHandHistory()
	if err != nil {
		return "", false, err
	}
	if n < 0 || n > len(history) {
		return "", false, nil
	}
	return history[n-1], true, nil
}

// Uncommit moves the tip back n revisions along first parents and returns
// the new tip. Stored revisions are left alone.
func (b *Branch) Uncommit(ctx context.Context, n int) (string, error) {
	if n < 1 {
		return "", errors.ValidationError("uncommit needs a positive count", map[string]interface{}{"count": n})
	}
	if _, err := b.repo.LockWrite(ctx); err != nil {
		return "", err
	}
	defer b.repo.Unlock()

	history, err := b.LeftHandHistory()
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", errors.ValidationError("nothing to uncommit", nil)
	}
	newTip := revision.Null
	if n < len(history) {
		newTip = history[len(history)-1-n]
	}
	if err := b.SetTip(newTip); err != nil {
		return "", err
	}
	b.logger.Info("uncommitted", zap.Int("count", n), zap.String("revision_id", newTip))
	return newTip, nil
}

// Missing compares this branch with another tip whose history other can
// describe. It returns the revisions only here and only there, each oldest
// first.
func (b *Branch) Missing(otherTip string, other graph.ParentsProvider) ([]string, []string, error) {
	tip, err := b.Tip()
	if err != nil {
		return nil, nil, err
	}
	g := graph.New(graph.Union{b.repo, other})
	localOnly, remoteOnly, err := g.FindDifference(tip, otherTip)
	if err != nil {
		return nil, nil, err
	}
	local, err := sortedKnown(g, localOnly)
	if err != nil {
		return nil, nil, err
	}
	remote, err := sortedKnown(g, remoteOnly)
	if err != nil {
		return nil, nil, err
	}
	return local, remote, nil
}

func sortedKnown(g *graph.Graph, set map[string]bool) ([]string, error) {
	ids := make([]string, 0, len(set))
	for id := range set {
		if !g.IsGhost(id) {
			ids = append(ids, id)
		}
	}
	return g.TopoSort(ids)
}

// Pull fetches tip from source and fast-forwards the branch to it. A
// branch whose tip is not an ancestor of tip has diverged.
func (b *Branch) Pull(ctx context.Context, source fetch.Source, tip string) (*fetch.Result, error) {
	result, err := b.repo.Fetch(ctx, source, tip)
	if err != nil {
		return nil, err
	}

	current, err := b.Tip()
	if err != nil {
		return nil, err
	}
	if current == tip {
		return result, nil
	}
	g := b.repo.Graph()
	ahead, err := g.IsAncestor(tip, current)
	if err != nil {
		return nil, err
	}
	if ahead {
		b.logger.Info("branch already contains pulled tip", zap.String("revision_id", tip))
		return result, nil
	}
	ff, err := g.IsAncestor(current, tip)
	if err != nil {
		return nil, err
	}
	if !ff {
		return nil, errors.DivergedHistory(current, tip)
	}
	if err := b.SetTip(tip); err != nil {
		return nil, err
	}
	b.logger.Info("pulled", zap.String("revision_id", tip), zap.Int("copied", result.Copied))
	return result, nil
}
