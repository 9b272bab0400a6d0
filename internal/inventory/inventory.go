package inventory

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"iter"
	"path"
	"sort"
	"strings"

	"arbor/internal/errors"

	"github.com/vmihailenco/msgpack"
)

// Inventory maps file ids to entries for one revision's tree.
type Inventory struct {
	RevisionID string

	rootID   string
	byID     map[string]*Entry
	children map[string]map[string]string
}

// New returns an empty inventory with no root.
func New(revisionID string) *Inventory {
	return &Inventory{
		RevisionID: revisionID,
		byID:       make(map[string]*Entry),
		children:   make(map[string]map[string]string),
	}
}

// NewWithRoot returns an inventory holding only a root directory.
func NewWithRoot(rootID, revisionID string) *Inventory {
	inv := New(revisionID)
	root := NewDirectory(rootID, "", "")
	root.Revision = revisionID
	inv.attach(root)
	return inv
}

func (inv *Inventory) Root() *Entry {
	if inv.rootID == "" {
		return nil
	}
	return inv.byID[inv.rootID]
}

func (inv *Inventory) RootID() string { return inv.rootID }

func (inv *Inventory) Len() int { return len(inv.byID) }

func (inv *Inventory) Has(fileID string) bool {
	_, ok := inv.byID[fileID]
	return ok
}

// Get returns the entry for fileID. Callers must not mutate it.
func (inv *Inventory) Get(fileID string) (*Entry, bool) {
	e, ok := inv.byID[fileID]
	return e, ok
}

// Add inserts e, checking that its parent is a present directory and its
// name is free there.
func (inv *Inventory) Add(e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if inv.Has(e.FileID) {
		return errors.ValidationError(fmt.Sprintf("file id %s is already in the inventory", e.FileID), nil)
	}
	if e.IsRoot() {
		if inv.rootID != "" {
			return errors.ValidationError("inventory already has a root", map[string]string{"root_id": inv.rootID})
		}
		inv.attach(e.Copy())
		return nil
	}
	parent, ok := inv.byID[e.ParentID]
	if !ok {
		return errors.NoSuchID(e.ParentID)
	}
	if parent.Kind != KindDirectory {
		return errors.ValidationError(fmt.Sprintf("parent %s of %s is not a directory", e.ParentID, e.FileID), nil)
	}
	if _, taken := inv.children[e.ParentID][e.Name]; taken {
		return errors.ValidationError(fmt.Sprintf("name %q is already used in %s", e.Name, e.ParentID), nil)
	}
	inv.attach(e.Copy())
	return nil
}

// AddPath adds e at the location named by p, resolving the parent by path.
func (inv *Inventory) AddPath(p string, e *Entry) error {
	p = strings.Trim(p, "/")
	dir, name := path.Split(p)
	parentID, err := inv.PathToID(strings.TrimSuffix(dir, "/"))
	if err != nil {
		return err
	}
	c := e.Copy()
	c.ParentID = parentID
	c.Name = name
	return inv.Add(c)
}

func (inv *Inventory) attach(e *Entry) {
	inv.byID[e.FileID] = e
	if e.IsRoot() {
		inv.rootID = e.FileID
		return
	}
	kids := inv.children[e.ParentID]
	if kids == nil {
		kids = make(map[string]string)
		inv.children[e.ParentID] = kids
	}
	kids[e.Name] = e.FileID
}

// detach removes e from the tree but leaves its children's links alone so
// a re-attached directory keeps its contents.
func (inv *Inventory) detach(fileID string) *Entry {
	e, ok := inv.byID[fileID]
	if !ok {
		return nil
	}
	delete(inv.byID, fileID)
	if e.IsRoot() {
		inv.rootID = ""
		return e
	}
	if kids := inv.children[e.ParentID]; kids[e.Name] == fileID {
		delete(kids, e.Name)
		if len(kids) == 0 {
			delete(inv.children, e.ParentID)
		}
	}
	return e
}

// Children returns the child entries of a directory, sorted by name.
func (inv *Inventory) Children(fileID string) []*Entry {
	kids := inv.children[fileID]
	names := make([]string, 0, len(kids))
	for name := range kids {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Entry, 0, len(names))
	for _, name := range names {
		if e, ok := inv.byID[kids[name]]; ok {
			out = append(out, e)
		}
	}
	return out
}

// IDToPath returns the slash-separated path of fileID; the root is "".
func (inv *Inventory) IDToPath(fileID string) (string, error) {
	var parts []string
	id := fileID
	for depth := 0; ; depth++ {
		e, ok := inv.byID[id]
		if !ok || depth > len(inv.byID) {
			return "", errors.NoSuchID(fileID)
		}
		if e.IsRoot() {
			break
		}
		parts = append(parts, e.Name)
		id = e.ParentID
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/"), nil
}

// PathToID resolves a slash-separated path; "" is the root.
func (inv *Inventory) PathToID(p string) (string, error) {
	if inv.rootID == "" {
		return "", errors.NoSuchPath(p)
	}
	id := inv.rootID
	p = strings.Trim(p, "/")
	if p == "" {
		return id, nil
	}
	for _, name := range strings.Split(p, "/") {
		next, ok := inv.children[id][name]
		if !ok {
			return "", errors.NoSuchPath(p)
		}
		if _, present := inv.byID[next]; !present {
			return "", errors.NoSuchPath(p)
		}
		id = next
	}
	return id, nil
}

// LookupPath is PathToID for callers that treat absence as a normal answer.
func (inv *Inventory) LookupPath(p string) (string, bool) {
	id, err := inv.PathToID(p)
	return id, err == nil
}

type pathEntry struct {
	path  string
	entry *Entry
}

func (inv *Inventory) sortedEntries() []pathEntry {
	out := make([]pathEntry, 0, len(inv.byID))
	var walk func(prefix, id string)
	walk = func(prefix, id string) {
		for _, child := range inv.Children(id) {
			p := child.Name
			if prefix != "" {
				p = prefix + "/" + child.Name
			}
			out = append(out, pathEntry{p, child})
			if child.Kind == KindDirectory {
				walk(p, child.FileID)
			}
		}
	}
	if root := inv.Root(); root != nil {
		out = append(out, pathEntry{"", root})
		walk("", root.FileID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// IterEntries yields (path, entry) pairs sorted lexically by path, root
// first. The sequence can be ranged over any number of times.
func (inv *Inventory) IterEntries() iter.Seq2[string, *Entry] {
	return func(yield func(string, *Entry) bool) {
		for _, pe := range inv.sortedEntries() {
			if !yield(pe.path, pe.entry) {
				return
			}
		}
	}
}

// Paths maps every file id to its path.
func (inv *Inventory) Paths() map[string]string {
	out := make(map[string]string, len(inv.byID))
	for p, e := range inv.IterEntries() {
		out[e.FileID] = p
	}
	return out
}

// FileIDs returns every file id, sorted.
func (inv *Inventory) FileIDs() []string {
	out := make([]string, 0, len(inv.byID))
	for id := range inv.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Equal is structural: the same entries with identical attributes.
func (inv *Inventory) Equal(o *Inventory) bool {
	if inv.rootID != o.rootID || len(inv.byID) != len(o.byID) {
		return false
	}
	for id, e := range inv.byID {
		if !e.Equal(o.byID[id]) {
			return false
		}
	}
	return true
}

func (inv *Inventory) Copy() *Inventory {
	c := New(inv.RevisionID)
	for _, e := range inv.byID {
		c.attach(e.Copy())
	}
	return c
}

type wireInventory struct {
	Format     int      `msgpack:"v"`
	RevisionID string   `msgpack:"r"`
	RootID     string   `msgpack:"root"`
	Entries    []*Entry `msgpack:"e"`
}

const wireFormat = 1

// Serialize encodes the inventory with entries in path order, so equal
// inventories always produce identical bytes.
func (inv *Inventory) Serialize() ([]byte, error) {
	w := wireInventory{Format: wireFormat, RevisionID: inv.RevisionID, RootID: inv.rootID}
	for _, pe := range inv.sortedEntries() {
		w.Entries = append(w.Entries, pe.entry)
	}
	data, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("serializing inventory %s: %w", inv.RevisionID, err)
	}
	return data, nil
}

func Deserialize(data []byte) (*Inventory, error) {
	var w wireInventory
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("deserializing inventory: %w", err)
	}
	if w.Format != wireFormat {
		return nil, errors.ValidationError(fmt.Sprintf("unsupported inventory format %d", w.Format), nil)
	}
	inv := New(w.RevisionID)
	for _, e := range w.Entries {
		if err := inv.Add(e); err != nil {
			return nil, fmt.Errorf("deserializing inventory %s: %w", w.RevisionID, err)
		}
	}
	if inv.rootID != w.RootID {
		return nil, errors.ValidationError("inventory root does not match its header", map[string]string{"root_id": w.RootID})
	}
	return inv, nil
}

// Sha1 is the digest of the serialized form; revisions record it.
func (inv *Inventory) Sha1() (string, error) {
	data, err := inv.Serialize()
	if err != nil {
		return "", err
	}
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:]), nil
}
