package repository

import (
	"context"
	"fmt"

	"arbor/internal/content"
	"arbor/internal/errors"
	"arbor/internal/fetch"
	"arbor/internal/graph"
	"arbor/internal/inventory"
	"arbor/internal/revision"

	"go.uber.org/zap"
)

// AddInventory stores inv for revisionID and returns the sha1 of its
// serialized form. Parents not present in the inventory store are dropped
// from the recorded provenance.
func (r *Repository) AddInventory(revisionID string, inv *inventory.Inventory, parentIDs []string) (string, error) {
	if err := r.requireWriteGroup("add inventory"); err != nil {
		return "", err
	}
	if revision.IsNull(revisionID) {
		return "", errors.ValidationError("cannot add an inventory for the null revision", nil)
	}
	if err := r.checkInventoryFormat(inv); err != nil {
		return "", err
	}

	stamped := inv
	if inv.RevisionID != revisionID {
		stamped = inv.Copy()
		stamped.RevisionID = revisionID
	}
	data, err := stamped.Serialize()
	if err != nil {
		return "", err
	}

	parents, err := r.presentKeys(r.backend.InventoryStore(), parentIDs)
	if err != nil {
		return "", err
	}
	sha, err := r.backend.InventoryStore().Put(content.RevisionKey(revisionID), parents, data)
	if err != nil {
		return "", fmt.Errorf("adding inventory %s: %w", revisionID, err)
	}
	return sha, nil
}

func (r *Repository) checkInventoryFormat(inv *inventory.Inventory) error {
	if inv.Root() == nil {
		return errors.ValidationError("inventory has no root", nil)
	}
	if r.SupportsTreeReference() {
		return nil
	}
	for p, e := range inv.IterEntries() {
		if e.Kind == inventory.KindTreeReference {
			return errors.ValidationError(fmt.Sprintf("%s format cannot store tree reference %q", r.Format(), p), nil)
		}
	}
	return nil
}

func (r *Repository) presentKeys(store content.Store, ids []string) ([]content.Key, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]content.Key, len(ids))
	for i, id := range ids {
		keys[i] = content.RevisionKey(id)
	}
	present, err := store.HasAny(keys)
	if err != nil {
		return nil, err
	}
	out := make([]content.Key, 0, len(keys))
	for _, k := range keys {
		if present[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

// AddRevision stores rev. Its inventory must already be stored or be given
// as inv. When a signer is configured the revision's canonical text is
// signed and stored alongside it.
func (r *Repository) AddRevision(rev *revision.Revision, inv *inventory.Inventory) error {
	if err := r.requireWriteGroup("add revision"); err != nil {
		return err
	}

	invKey := content.RevisionKey(rev.ID)
	if inv != nil {
		sha, err := r.AddInventory(rev.ID, inv, rev.ParentIDs)
		if err != nil {
			return err
		}
		if rev.InventorySha1 == "" {
			rev.InventorySha1 = sha
		}
	} else {
		rec, err := r.backend.InventoryStore().GetRecord(invKey)
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeNotFound) {
				return errors.NotFound(fmt.Sprintf("inventory for revision %s is not present", rev.ID))
			}
			return err
		}
		if rev.InventorySha1 == "" {
			rev.InventorySha1 = rec.Sha1
		}
	}

	if err := rev.Validate(); err != nil {
		return err
	}

	if r.signer != nil {
		sig, err := r.signer.Sign(rev.CanonicalText())
		if err != nil {
			return fmt.Errorf("signing revision %s: %w", rev.ID, err)
		}
		if _, err := r.backend.SignatureStore().Put(content.RevisionKey(rev.ID), nil, sig); err != nil {
			return fmt.Errorf("storing signature for %s: %w", rev.ID, err)
		}
	}

	data, err := rev.Serialize()
	if err != nil {
		return err
	}
	parents := make([]content.Key, len(rev.ParentIDs))
	for i, p := range rev.ParentIDs {
		parents[i] = content.RevisionKey(p)
	}
	if _, err := r.backend.RevisionStore().Put(content.RevisionKey(rev.ID), parents, data); err != nil {
		return fmt.Errorf("adding revision %s: %w", rev.ID, err)
	}
	r.logger.Debug("revision added", zap.String("revision_id", rev.ID), zap.Int("parents", len(rev.ParentIDs)))
	return nil
}

// LookupRevision returns the revision, or ok=false when it is absent.
func (r *Repository) LookupRevision(id string) (*revision.Revision, bool, error) {
	if revision.IsNull(id) {
		return nil, false, nil
	}
	data, err := r.backend.RevisionStore().Get(content.RevisionKey(id))
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rev, err := revision.Deserialize(data)
	if err != nil {
		return nil, false, err
	}
	return rev, true, nil
}

// GetRevision fails with NO_SUCH_REVISION when id is absent.
func (r *Repository) GetRevision(id string) (*revision.Revision, error) {
	rev, ok, err := r.LookupRevision(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NoSuchRevision(id)
	}
	return rev, nil
}

// GetRevisions returns revisions in the order of ids.
func (r *Repository) GetRevisions(ids []string) ([]*revision.Revision, error) {
	out := make([]*revision.Revision, 0, len(ids))
	for _, id := range ids {
		rev, err := r.GetRevision(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, nil
}

func (r *Repository) HasRevision(id string) (bool, error) {
	if revision.IsNull(id) {
		return true, nil
	}
	present, err := r.backend.RevisionStore().HasAny([]content.Key{content.RevisionKey(id)})
	if err != nil {
		return false, err
	}
	return present[content.RevisionKey(id)], nil
}

func (r *Repository) HasRevisions(ids []string) (map[string]bool, error) {
	keys := make([]content.Key, 0, len(ids))
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if revision.IsNull(id) {
			out[id] = true
			continue
		}
		keys = append(keys, content.RevisionKey(id))
	}
	present, err := r.backend.RevisionStore().HasAny(keys)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		out[k.RevisionID] = present[k]
	}
	return out, nil
}

// AllRevisionIDs lists every stored revision.
func (r *Repository) AllRevisionIDs() ([]string, error) {
	keys, err := r.backend.RevisionStore().Keys()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.RevisionID
	}
	return ids, nil
}

// GetInventory returns the inventory of revision id. The null revision has
// an empty inventory. Returned inventories are shared and must not be
// modified.
func (r *Repository) GetInventory(id string) (*inventory.Inventory, error) {
	if revision.IsNull(id) {
		return inventory.New(revision.Null), nil
	}
	if inv, ok := r.invCache.Get(id); ok {
		return inv, nil
	}
	data, err := r.backend.InventoryStore().Get(content.RevisionKey(id))
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return nil, errors.NoSuchRevision(id)
	}
	if err != nil {
		return nil, err
	}
	inv, err := inventory.Deserialize(data)
	if err != nil {
		return nil, err
	}
	r.invCache.Add(id, inv)
	return inv, nil
}

func (r *Repository) HasInventory(id string) (bool, error) {
	if revision.IsNull(id) {
		return true, nil
	}
	present, err := r.backend.InventoryStore().HasAny([]content.Key{content.RevisionKey(id)})
	if err != nil {
		return false, err
	}
	return present[content.RevisionKey(id)], nil
}

// GetInventorySha1 returns the recorded digest of a stored inventory.
func (r *Repository) GetInventorySha1(id string) (string, error) {
	rec, err := r.backend.InventoryStore().GetRecord(content.RevisionKey(id))
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return "", errors.NoSuchRevision(id)
	}
	if err != nil {
		return "", err
	}
	return rec.Sha1, nil
}

// GetText returns the text of fileID as of revisionID.
func (r *Repository) GetText(fileID, revisionID string) ([]byte, error) {
	return r.backend.TextStore().Get(content.TextKey(fileID, revisionID))
}

// GetSignature returns the stored signature for id, if any.
func (r *Repository) GetSignature(id string) ([]byte, bool, error) {
	data, err := r.backend.SignatureStore().Get(content.RevisionKey(id))
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// SignRevision signs an already stored revision with the configured signer.
// A revision that is only referenced, never stored, cannot be signed.
func (r *Repository) SignRevision(id string) error {
	if err := r.requireWriteGroup("sign revision"); err != nil {
		return err
	}
	if r.signer == nil {
		return errors.ValidationError("no signer configured", nil)
	}
	rev, ok, err := r.LookupRevision(id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.GhostRevision(id)
	}
	sig, err := r.signer.Sign(rev.CanonicalText())
	if err != nil {
		return fmt.Errorf("signing revision %s: %w", id, err)
	}
	if _, err := r.backend.SignatureStore().Put(content.RevisionKey(id), nil, sig); err != nil {
		return fmt.Errorf("storing signature for %s: %w", id, err)
	}
	return nil
}

// ParentMap returns the parents of every stored revision among ids. Ghosts
// and the null revision are absent from the result.
func (r *Repository) ParentMap(ids []string) (map[string][]string, error) {
	keys := make([]content.Key, 0, len(ids))
	for _, id := range ids {
		if !revision.IsNull(id) {
			keys = append(keys, content.RevisionKey(id))
		}
	}
	parents, err := r.backend.RevisionStore().Parents(keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(parents))
	for k, ps := range parents {
		ids := make([]string, len(ps))
		for i, p := range ps {
			ids[i] = p.RevisionID
		}
		out[k.RevisionID] = ids
	}
	return out, nil
}

// Graph returns a revision graph over this repository.
func (r *Repository) Graph() *graph.Graph {
	return graph.New(r)
}

// GetAncestry returns every ancestor of revisionID, parents before children,
// led by the null revision. Ghosts appear as leaves.
func (r *Repository) GetAncestry(revisionID string) ([]string, error) {
	if revision.IsNull(revisionID) {
		return []string{revision.Null}, nil
	}
	ok, err := r.HasRevision(revisionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NoSuchRevision(revisionID)
	}

	g := r.Graph()
	anc, err := g.Ancestors(revisionID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(anc))
	for id := range anc {
		ids = append(ids, id)
	}
	sorted, err := g.TopoSort(ids)
	if err != nil {
		return nil, err
	}
	return append([]string{revision.Null}, sorted...), nil
}

// RevisionTree returns the tree recorded by revision id.
func (r *Repository) RevisionTree(id string) (*RevisionTree, error) {
	inv, err := r.GetInventory(id)
	if err != nil {
		return nil, err
	}
	return &RevisionTree{repo: r, inv: inv, revisionID: id}, nil
}

// RevisionTree is a read-only view of one revision's tree.
type RevisionTree struct {
	repo       *Repository
	inv        *inventory.Inventory
	revisionID string
}

func (t *RevisionTree) RevisionID() string { return t.revisionID }

func (t *RevisionTree) Inventory() *inventory.Inventory { return t.inv }

// FileText returns the content of a file entry in this tree.
func (t *RevisionTree) FileText(fileID string) ([]byte, error) {
	e, ok := t.inv.Get(fileID)
	if !ok {
		return nil, errors.NoSuchID(fileID)
	}
	if e.Kind != inventory.KindFile {
		return nil, errors.ValidationError(fmt.Sprintf("%s is a %s, not a file", fileID, e.Kind), nil)
	}
	return t.repo.GetText(fileID, e.Revision)
}

// Fetch copies revisionID and everything it needs from source. If source is
// this repository it only checks that the revision is present.
func (r *Repository) Fetch(ctx context.Context, source fetch.Source, revisionID string) (*fetch.Result, error) {
	return fetch.New(source, r, fetch.WithLogger(r.logger)).Run(ctx, revisionID)
}
