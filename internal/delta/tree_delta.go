package delta

import (
	"iter"
	"sort"

	"arbor/internal/inventory"
)

// Item is one entry in a TreeDelta category.
type Item struct {
	Path         string
	FileID       string
	Kind         inventory.Kind
	TextModified bool
	MetaModified bool
}

// Rename records an entry whose name or parent changed.
type Rename struct {
	OldPath      string
	NewPath      string
	FileID       string
	Kind         inventory.Kind
	TextModified bool
	MetaModified bool
}

// KindChange records an entry whose kind changed in place.
type KindChange struct {
	Path    string
	FileID  string
	OldKind inventory.Kind
	NewKind inventory.Kind
}

// TreeDelta is a classified comparison of two trees. Every list is sorted
// by path.
type TreeDelta struct {
	Added       []Item
	Removed     []Item
	Renamed     []Rename
	KindChanged []KindChange
	Modified    []Item
	Unchanged   []Item
	Unversioned []Item
}

// HasChanged reports whether anything other than unchanged or unknown
// entries was found.
func (d *TreeDelta) HasChanged() bool {
	return len(d.Added)+len(d.Removed)+len(d.Renamed)+len(d.KindChanged)+len(d.Modified) > 0
}

// Touches reports whether fileID appears in any change category.
func (d *TreeDelta) Touches(fileID string) bool {
	for _, list := range [][]Item{d.Added, d.Removed, d.Modified} {
		for _, it := range list {
			if it.FileID == fileID {
				return true
			}
		}
	}
	for _, r := range d.Renamed {
		if r.FileID == fileID {
			return true
		}
	}
	for _, k := range d.KindChanged {
		if k.FileID == fileID {
			return true
		}
	}
	return false
}

// Classify sorts changes into a TreeDelta. The first matching rule wins:
// unversioned, added or removed, absent on both sides (dropped), renamed,
// kind changed, modified, unchanged.
func Classify(changes iter.Seq[Change], includeUnchanged bool) *TreeDelta {
	d := &TreeDelta{}
	for c := range changes {
		metaChanged := c.Executable[0] != c.Executable[1]
		switch {
		case !c.Versioned[0] && !c.Versioned[1]:
			d.Unversioned = append(d.Unversioned, Item{Path: c.Paths[1], Kind: c.Kinds[1]})
		case c.present(0) != c.present(1):
			if c.present(1) {
				d.Added = append(d.Added, Item{Path: c.Paths[1], FileID: c.FileID, Kind: c.Kinds[1]})
			} else {
				d.Removed = append(d.Removed, Item{Path: c.Paths[0], FileID: c.FileID, Kind: c.Kinds[0]})
			}
		case !c.present(0) && !c.present(1):
		case c.Names[0] != c.Names[1] || c.ParentIDs[0] != c.ParentIDs[1]:
			d.Renamed = append(d.Renamed, Rename{
				OldPath:      c.Paths[0],
				NewPath:      c.Paths[1],
				FileID:       c.FileID,
				Kind:         c.Kinds[1],
				TextModified: c.ContentChanged,
				MetaModified: metaChanged,
			})
		case c.Kinds[0] != c.Kinds[1]:
			d.KindChanged = append(d.KindChanged, KindChange{
				Path:    c.Paths[1],
				FileID:  c.FileID,
				OldKind: c.Kinds[0],
				NewKind: c.Kinds[1],
			})
		case c.ContentChanged || metaChanged:
			d.Modified = append(d.Modified, Item{
				Path:         c.Paths[1],
				FileID:       c.FileID,
				Kind:         c.Kinds[1],
				TextModified: c.ContentChanged,
				MetaModified: metaChanged,
			})
		case includeUnchanged:
			d.Unchanged = append(d.Unchanged, Item{Path: c.Paths[1], FileID: c.FileID, Kind: c.Kinds[1]})
		}
	}
	d.sort()
	return d
}

// Compare classifies the differences between two inventories.
func Compare(oldInv, newInv *inventory.Inventory, unknowns []Unknown, includeUnchanged bool) *TreeDelta {
	return Classify(IterChanges(oldInv, newInv, unknowns, includeUnchanged), includeUnchanged)
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Path < items[j].Path })
}

func (d *TreeDelta) sort() {
	sortItems(d.Added)
	sortItems(d.Removed)
	sortItems(d.Modified)
	sortItems(d.Unchanged)
	sortItems(d.Unversioned)
	sort.SliceStable(d.Renamed, func(i, j int) bool { return d.Renamed[i].NewPath < d.Renamed[j].NewPath })
	sort.SliceStable(d.KindChanged, func(i, j int) bool { return d.KindChanged[i].Path < d.KindChanged[j].Path })
}
