// Package inventory models the full tree snapshot recorded by one revision.
package inventory

import (
	"fmt"
	"strings"

	"arbor/internal/errors"
)

// Kind is the type of a versioned entry. The empty Kind means "absent".
type Kind string

const (
	KindNone          Kind = ""
	KindFile          Kind = "file"
	KindDirectory     Kind = "directory"
	KindSymlink       Kind = "symlink"
	KindTreeReference Kind = "tree-reference"
)

// Marker is the suffix used when displaying a path of this kind.
func (k Kind) Marker() string {
	switch k {
	case KindDirectory:
		return "/"
	case KindSymlink:
		return "@"
	case KindTreeReference:
		return "+"
	}
	return ""
}

func (k Kind) Valid() bool {
	switch k {
	case KindFile, KindDirectory, KindSymlink, KindTreeReference:
		return true
	}
	return false
}

// Entry is one file, directory, symlink or nested tree. FileID is its
// identity across renames; Revision is the last revision that changed it.
type Entry struct {
	FileID   string `json:"file_id" msgpack:"id"`
	Kind     Kind   `json:"kind" msgpack:"k"`
	ParentID string `json:"parent_id,omitempty" msgpack:"p"`
	Name     string `json:"name" msgpack:"n"`
	Revision string `json:"revision,omitempty" msgpack:"r"`

	TextSha1   string `json:"text_sha1,omitempty" msgpack:"sha,omitempty"`
	TextSize   int64  `json:"text_size,omitempty" msgpack:"size,omitempty"`
	Executable bool   `json:"executable,omitempty" msgpack:"x,omitempty"`

	SymlinkTarget     string `json:"symlink_target,omitempty" msgpack:"target,omitempty"`
	ReferenceRevision string `json:"reference_revision,omitempty" msgpack:"ref,omitempty"`
}

func NewFile(fileID, parentID, name string) *Entry {
	return &Entry{FileID: fileID, Kind: KindFile, ParentID: parentID, Name: name}
}

func NewDirectory(fileID, parentID, name string) *Entry {
	return &Entry{FileID: fileID, Kind: KindDirectory, ParentID: parentID, Name: name}
}

func NewSymlink(fileID, parentID, name, target string) *Entry {
	return &Entry{FileID: fileID, Kind: KindSymlink, ParentID: parentID, Name: name, SymlinkTarget: target}
}

func NewTreeReference(fileID, parentID, name, ref string) *Entry {
	return &Entry{FileID: fileID, Kind: KindTreeReference, ParentID: parentID, Name: name, ReferenceRevision: ref}
}

func (e *Entry) IsRoot() bool { return e.ParentID == "" }

func (e *Entry) Copy() *Entry {
	c := *e
	return &c
}

// Equal compares every attribute.
func (e *Entry) Equal(o *Entry) bool {
	if e == nil || o == nil {
		return e == o
	}
	return *e == *o
}

// ContentEqual reports whether e and o carry the same kind-specific
// content, ignoring location and revision stamp.
func (e *Entry) ContentEqual(o *Entry) bool {
	if e.Kind != o.Kind {
		return false
	}
	switch e.Kind {
	case KindFile:
		return e.TextSha1 == o.TextSha1 && e.TextSize == o.TextSize
	case KindSymlink:
		return e.SymlinkTarget == o.SymlinkTarget
	case KindTreeReference:
		return e.ReferenceRevision == o.ReferenceRevision
	}
	return true
}

func (e *Entry) Validate() error {
	if e.FileID == "" {
		return errors.ValidationError("entry has no file id", nil)
	}
	if !e.Kind.Valid() {
		return errors.ValidationError(fmt.Sprintf("entry %s has unknown kind %q", e.FileID, e.Kind), nil)
	}
	if e.IsRoot() {
		if e.Kind != KindDirectory {
			return errors.ValidationError(fmt.Sprintf("root entry %s must be a directory", e.FileID), nil)
		}
		if e.Name != "" {
			return errors.ValidationError(fmt.Sprintf("root entry %s must have an empty name", e.FileID), nil)
		}
		return nil
	}
	if e.Name == "" || e.Name == "." || e.Name == ".." || strings.ContainsAny(e.Name, "/\x00") {
		return errors.ValidationError(fmt.Sprintf("entry %s has invalid name %q", e.FileID, e.Name), nil)
	}
	return nil
}
