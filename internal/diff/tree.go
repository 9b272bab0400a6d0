package diff

import (
	"fmt"
	"io"

	"arbor/internal/delta"
	"arbor/internal/inventory"
)

// Tree is a versioned tree whose file texts can be read.
type Tree interface {
	Inventory() *inventory.Inventory
	FileText(fileID string) ([]byte, error)
}

// TreeOptions labels the two sides of a tree diff.
type TreeOptions struct {
	OldLabel     string
	NewLabel     string
	ContextLines int
}

func (o TreeOptions) withDefaults() TreeOptions {
	if o.OldLabel == "" {
		o.OldLabel = "old"
	}
	if o.NewLabel == "" {
		o.NewLabel = "new"
	}
	if o.ContextLines == 0 {
		o.ContextLines = 3
	}
	return o
}

// WriteTreeDiff writes a header per changed entry followed by the text
// hunks of any file whose content differs.
func WriteTreeDiff(w io.Writer, oldTree, newTree Tree, opts TreeOptions) error {
	opts = opts.withDefaults()
	d := delta.Compare(oldTree.Inventory(), newTree.Inventory(), nil, false)
	engine := NewEngine(opts.ContextLines)

	text := func(t Tree, fileID string, kind inventory.Kind) ([]byte, error) {
		if kind != inventory.KindFile {
			return nil, nil
		}
		return t.FileText(fileID)
	}

	emit := func(header, oldPath, newPath string, oldText, newText []byte) error {
		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}
		if oldText == nil && newText == nil {
			return nil
		}
		if IsBinary(oldText) || IsBinary(newText) {
			_, err := fmt.Fprintf(w, "Binary files %s/%s and %s/%s differ\n", opts.OldLabel, oldPath, opts.NewLabel, newPath)
			return err
		}
		result, err := engine.Diff(oldText, newText)
		if err != nil {
			return err
		}
		if len(result.Hunks) == 0 {
			return nil
		}
		if _, err := fmt.Fprintf(w, "--- %s/%s\n+++ %s/%s\n", opts.OldLabel, oldPath, opts.NewLabel, newPath); err != nil {
			return err
		}
		_, err = io.WriteString(w, result.Format())
		return err
	}

	for _, it := range d.Removed {
		old, err := text(oldTree, it.FileID, it.Kind)
		if err != nil {
			return fmt.Errorf("reading %s: %w", it.Path, err)
		}
		if err := emit(fmt.Sprintf("=== removed %s '%s'", kindName(it.Kind), it.Path), it.Path, it.Path, old, emptyIfFile(it.Kind)); err != nil {
			return err
		}
	}
	for _, it := range d.Added {
		cur, err := text(newTree, it.FileID, it.Kind)
		if err != nil {
			return fmt.Errorf("reading %s: %w", it.Path, err)
		}
		if err := emit(fmt.Sprintf("=== added %s '%s'", kindName(it.Kind), it.Path), it.Path, it.Path, emptyIfFile(it.Kind), cur); err != nil {
			return err
		}
	}
	for _, r := range d.Renamed {
		var old, cur []byte
		if r.TextModified && r.Kind == inventory.KindFile {
			var err error
			if old, err = oldTree.FileText(r.FileID); err != nil {
				return fmt.Errorf("reading %s: %w", r.OldPath, err)
			}
			if cur, err = newTree.FileText(r.FileID); err != nil {
				return fmt.Errorf("reading %s: %w", r.NewPath, err)
			}
		}
		if err := emit(fmt.Sprintf("=== renamed %s '%s' => '%s'", kindName(r.Kind), r.OldPath, r.NewPath), r.OldPath, r.NewPath, old, cur); err != nil {
			return err
		}
	}
	for _, k := range d.KindChanged {
		if _, err := fmt.Fprintf(w, "=== kind changed '%s' (%s => %s)\n", k.Path, kindName(k.OldKind), kindName(k.NewKind)); err != nil {
			return err
		}
	}
	for _, it := range d.Modified {
		var old, cur []byte
		if it.TextModified && it.Kind == inventory.KindFile {
			var err error
			if old, err = oldTree.FileText(it.FileID); err != nil {
				return fmt.Errorf("reading %s: %w", it.Path, err)
			}
			if cur, err = newTree.FileText(it.FileID); err != nil {
				return fmt.Errorf("reading %s: %w", it.Path, err)
			}
		}
		header := fmt.Sprintf("=== modified %s '%s'", kindName(it.Kind), it.Path)
		if it.MetaModified && !it.TextModified {
			header = fmt.Sprintf("=== modified %s '%s' (properties changed)", kindName(it.Kind), it.Path)
		}
		if err := emit(header, it.Path, it.Path, old, cur); err != nil {
			return err
		}
	}
	return nil
}

func emptyIfFile(kind inventory.Kind) []byte {
	if kind == inventory.KindFile {
		return []byte{}
	}
	return nil
}

func kindName(kind inventory.Kind) string {
	if kind == inventory.KindTreeReference {
		return "tree reference"
	}
	return string(kind)
}
