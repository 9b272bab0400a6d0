package inventory

import (
	"fmt"
	"sort"
	"strings"

	"arbor/internal/errors"
)

// DeltaItem describes one entry's change between two inventories. A nil
// OldPath is an addition; a nil NewPath (with nil NewEntry) is a removal.
type DeltaItem struct {
	OldPath  *string `json:"old_path" msgpack:"o"`
	NewPath  *string `json:"new_path" msgpack:"n"`
	FileID   string  `json:"file_id" msgpack:"id"`
	NewEntry *Entry  `json:"entry,omitempty" msgpack:"e"`
}

// Delta is an unordered set of DeltaItems.
type Delta []DeltaItem

func Addition(newPath string, e *Entry) DeltaItem {
	return DeltaItem{NewPath: &newPath, FileID: e.FileID, NewEntry: e}
}

func Removal(oldPath, fileID string) DeltaItem {
	return DeltaItem{OldPath: &oldPath, FileID: fileID}
}

func Modification(oldPath, newPath string, e *Entry) DeltaItem {
	return DeltaItem{OldPath: &oldPath, NewPath: &newPath, FileID: e.FileID, NewEntry: e}
}

func (d DeltaItem) String() string {
	show := func(p *string) string {
		if p == nil {
			return "None"
		}
		return fmt.Sprintf("%q", *p)
	}
	return fmt.Sprintf("(%s, %s, %s)", show(d.OldPath), show(d.NewPath), d.FileID)
}

func (d DeltaItem) displayPath() string {
	if d.NewPath != nil {
		return *d.NewPath
	}
	if d.OldPath != nil {
		return *d.OldPath
	}
	return ""
}

// MakeDelta returns the delta that turns inv into other.
func (inv *Inventory) MakeDelta(other *Inventory) Delta {
	oldPaths := inv.Paths()
	newPaths := other.Paths()

	var delta Delta
	for id, oldPath := range oldPaths {
		if _, ok := newPaths[id]; !ok {
			delta = append(delta, Removal(oldPath, id))
		}
	}
	for id, newPath := range newPaths {
		newEntry := other.byID[id]
		oldPath, ok := oldPaths[id]
		if !ok {
			delta = append(delta, Addition(newPath, newEntry.Copy()))
			continue
		}
		if oldPath != newPath || !inv.byID[id].Equal(newEntry) {
			delta = append(delta, Modification(oldPath, newPath, newEntry.Copy()))
		}
	}
	sort.Slice(delta, func(i, j int) bool {
		if a, b := delta[i].displayPath(), delta[j].displayPath(); a != b {
			return a < b
		}
		return delta[i].FileID < delta[j].FileID
	})
	return delta
}

func pathDepth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// ApplyDelta returns a new inventory with delta applied; inv is unchanged.
// Any delta that cannot yield a valid tree fails with INCONSISTENT_DELTA.
func (inv *Inventory) ApplyDelta(delta Delta) (*Inventory, error) {
	seenIDs := make(map[string]bool, len(delta))
	seenPaths := make(map[string]bool, len(delta))
	for _, item := range delta {
		if item.FileID == "" {
			return nil, errors.InconsistentDelta(item.displayPath(), "", "delta item has no file id")
		}
		if seenIDs[item.FileID] {
			return nil, errors.InconsistentDelta(item.displayPath(), item.FileID, "repeated file id")
		}
		seenIDs[item.FileID] = true

		if (item.NewPath == nil) != (item.NewEntry == nil) {
			return nil, errors.InconsistentDelta(item.displayPath(), item.FileID, "new path and new entry must be given together")
		}
		if item.OldPath == nil && item.NewPath == nil {
			return nil, errors.InconsistentDelta("", item.FileID, "delta item has neither an old nor a new path")
		}
		if item.NewPath != nil {
			if seenPaths[*item.NewPath] {
				return nil, errors.InconsistentDelta(*item.NewPath, item.FileID, "repeated path")
			}
			seenPaths[*item.NewPath] = true
			if item.NewEntry.FileID != item.FileID {
				return nil, errors.InconsistentDelta(*item.NewPath, item.FileID, "entry file id does not match the delta")
			}
			if err := item.NewEntry.Validate(); err != nil {
				return nil, errors.InconsistentDelta(*item.NewPath, item.FileID, err.Error())
			}
		}
	}

	result := inv.Copy()

	// Detach everything that moves or goes away, checking recorded paths.
	for _, item := range delta {
		if item.OldPath == nil {
			if result.Has(item.FileID) {
				return nil, errors.InconsistentDelta(*item.NewPath, item.FileID, "file id is already present")
			}
			continue
		}
		current, err := inv.IDToPath(item.FileID)
		if err != nil {
			return nil, errors.InconsistentDelta(*item.OldPath, item.FileID, "removed file id is not present")
		}
		if current != *item.OldPath {
			return nil, errors.InconsistentDelta(*item.OldPath, item.FileID,
				fmt.Sprintf("entry was at %q, not the recorded old path", current))
		}
		result.detach(item.FileID)
	}

	// Attach new entries parents-first.
	additions := make([]DeltaItem, 0, len(delta))
	for _, item := range delta {
		if item.NewPath != nil {
			additions = append(additions, item)
		}
	}
	sort.Slice(additions, func(i, j int) bool {
		a, b := *additions[i].NewPath, *additions[j].NewPath
		if da, db := pathDepth(a), pathDepth(b); da != db {
			return da < db
		}
		return a < b
	})
	for _, item := range additions {
		e := item.NewEntry
		newPath := *item.NewPath
		if e.IsRoot() {
			if newPath != "" {
				return nil, errors.InconsistentDelta(newPath, e.FileID, "root entry must have the empty path")
			}
			if result.rootID != "" {
				return nil, errors.InconsistentDelta(newPath, e.FileID, "inventory already has a root")
			}
			result.attach(e.Copy())
			continue
		}
		parent, ok := result.byID[e.ParentID]
		if !ok {
			return nil, errors.InconsistentDelta(newPath, e.FileID, fmt.Sprintf("parent %s is missing", e.ParentID))
		}
		if parent.Kind != KindDirectory {
			return nil, errors.InconsistentDelta(newPath, e.FileID, fmt.Sprintf("parent %s is not a directory", e.ParentID))
		}
		if other, taken := result.children[e.ParentID][e.Name]; taken && result.Has(other) {
			return nil, errors.InconsistentDelta(newPath, e.FileID, fmt.Sprintf("path is already used by %s", other))
		}
		result.attach(e.Copy())
	}

	// Every entry must hang off a present parent, and every new entry must
	// land where the delta said it would.
	for id, e := range result.byID {
		if e.IsRoot() {
			continue
		}
		if _, ok := result.byID[e.ParentID]; !ok {
			p, _ := inv.IDToPath(id)
			return nil, errors.InconsistentDelta(p, id, fmt.Sprintf("parent %s was removed", e.ParentID))
		}
	}
	for _, item := range additions {
		got, err := result.IDToPath(item.FileID)
		if err != nil || got != *item.NewPath {
			return nil, errors.InconsistentDelta(*item.NewPath, item.FileID,
				fmt.Sprintf("entry resolves to %q", got))
		}
	}
	if result.rootID == "" && len(result.byID) > 0 {
		return nil, errors.InconsistentDelta("", "", "inventory has entries but no root")
	}
	return result, nil
}
