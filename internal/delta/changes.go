// Package delta classifies the differences between two trees and renders
// them as status reports.
package delta

import (
	"iter"
	"sort"

	"arbor/internal/inventory"
)

// Change compares one file id across an old and a new tree. Index 0 of each
// pair is the old side, index 1 the new side.
type Change struct {
	FileID         string
	Paths          [2]string
	ContentChanged bool
	Versioned      [2]bool
	ParentIDs      [2]string
	Names          [2]string
	Kinds          [2]inventory.Kind
	Executable     [2]bool
}

func (c Change) present(side int) bool {
	return c.Versioned[side] && c.Kinds[side] != inventory.KindNone
}

// Unknown is a path present on disk but not versioned.
type Unknown struct {
	Path string
	Kind inventory.Kind
}

// IterChanges yields a Change for every file id in either inventory, in
// path order, followed by one for each unknown path. The tree roots are
// not reported. Unchanged entries are yielded only if includeUnchanged.
func IterChanges(oldInv, newInv *inventory.Inventory, unknowns []Unknown, includeUnchanged bool) iter.Seq[Change] {
	return func(yield func(Change) bool) {
		oldPaths := map[string]string{}
		if oldInv != nil {
			oldPaths = oldInv.Paths()
		}
		newPaths := map[string]string{}
		if newInv != nil {
			newPaths = newInv.Paths()
		}

		ids := make([]string, 0, len(oldPaths)+len(newPaths))
		for id := range oldPaths {
			ids = append(ids, id)
		}
		for id := range newPaths {
			if _, ok := oldPaths[id]; !ok {
				ids = append(ids, id)
			}
		}
		sortKey := func(id string) string {
			if p, ok := newPaths[id]; ok {
				return p
			}
			return oldPaths[id]
		}
		sort.Slice(ids, func(i, j int) bool {
			if a, b := sortKey(ids[i]), sortKey(ids[j]); a != b {
				return a < b
			}
			return ids[i] < ids[j]
		})

		for _, id := range ids {
			c := Change{FileID: id}
			var entries [2]*inventory.Entry
			if p, ok := oldPaths[id]; ok {
				entries[0], _ = oldInv.Get(id)
				c.Paths[0] = p
			}
			if p, ok := newPaths[id]; ok {
				entries[1], _ = newInv.Get(id)
				c.Paths[1] = p
			}
			if (entries[0] != nil && entries[0].IsRoot()) || (entries[1] != nil && entries[1].IsRoot()) {
				continue
			}
			for side, e := range entries {
				if e == nil {
					continue
				}
				c.Versioned[side] = true
				c.ParentIDs[side] = e.ParentID
				c.Names[side] = e.Name
				c.Kinds[side] = e.Kind
				c.Executable[side] = e.Executable
			}
			switch {
			case entries[0] == nil || entries[1] == nil:
				c.ContentChanged = true
			default:
				c.ContentChanged = !entries[0].ContentEqual(entries[1])
			}
			if !includeUnchanged && entries[0] != nil && entries[1] != nil &&
				!c.ContentChanged && c.Paths[0] == c.Paths[1] &&
				c.ParentIDs[0] == c.ParentIDs[1] && c.Names[0] == c.Names[1] &&
				c.Executable[0] == c.Executable[1] {
				continue
			}
			if !yield(c) {
				return
			}
		}

		sorted := append([]Unknown(nil), unknowns...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
		for _, u := range sorted {
			c := Change{Paths: [2]string{"", u.Path}, Kinds: [2]inventory.Kind{inventory.KindNone, u.Kind}}
			if !yield(c) {
				return
			}
		}
	}
}
