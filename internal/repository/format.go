package repository

import (
	"fmt"
	"strings"

	"arbor/internal/content"
	"arbor/internal/errors"
	"arbor/internal/safe"

	"github.com/dgraph-io/badger/v4"
)

// Format names an on-disk repository variant.
type Format string

const (
	// FormatRichRoot versions the tree root and supports nested trees.
	FormatRichRoot Format = "rich-root"
	// FormatLegacy stamps the root with every commit and stores no root texts.
	FormatLegacy Format = "legacy"
)

const formatMarkerPrefix = "arbor repository format "

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.TrimSpace(s)); f {
	case FormatRichRoot, FormatLegacy:
		return f, nil
	case "":
		return FormatRichRoot, nil
	default:
		return "", errors.ValidationError(fmt.Sprintf("unknown repository format %q", s), nil)
	}
}

func (f Format) marker() []byte {
	return []byte(formatMarkerPrefix + string(f) + "\n")
}

func parseMarker(data []byte) (Format, error) {
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, formatMarkerPrefix) {
		return "", errors.ValidationError("not an arbor repository format marker", line)
	}
	return ParseFormat(strings.TrimPrefix(line, formatMarkerPrefix))
}

// WriteGroup is the transactional boundary around store writes.
type WriteGroup interface {
	Start() error
	Commit() (int, error)
	Abort() error
	Active() bool
}

// Backend supplies a repository's stores and declares what its format can
// represent.
type Backend interface {
	Format() Format
	TextStore() content.Store
	InventoryStore() content.Store
	RevisionStore() content.Store
	SignatureStore() content.Store
	WriteGroup() WriteGroup
	SupportsRichRoot() bool
	SupportsTreeReference() bool
	// Pack compacts storage. Doing nothing is a valid implementation.
	Pack() error
}

type badgerBackend struct {
	format      Format
	db          *badger.DB
	texts       *content.BadgerStore
	inventories *content.BadgerStore
	revisions   *content.BadgerStore
	signatures  *content.BadgerStore
	group       *content.Group
}

// NewBackend returns the backend for format over db, with payloads kept in
// blobs.
func NewBackend(format Format, db *badger.DB, blobs *safe.Safe) (Backend, error) {
	switch format {
	case FormatRichRoot, FormatLegacy:
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown repository format %q", format), nil)
	}
	b := &badgerBackend{
		format:      format,
		db:          db,
		texts:       content.NewBadgerStore(content.Texts, db, blobs),
		inventories: content.NewBadgerStore(content.Inventories, db, blobs),
		revisions:   content.NewBadgerStore(content.Revisions, db, blobs),
		signatures:  content.NewBadgerStore(content.Signatures, db, blobs),
	}
	b.group = content.NewGroup(db, b.texts, b.inventories, b.signatures, b.revisions)
	return b, nil
}

func (b *badgerBackend) Format() Format { return b.format }
func (b *badgerBackend) TextStore() content.Store { return b.texts }
func (b *badgerBackend) InventoryStore() content.Store { return b.inventories }
func (b *badgerBackend) RevisionStore() content.Store { return b.revisions }
func (b *badgerBackend) SignatureStore() content.Store { return b.signatures }
func (b *badgerBackend) WriteGroup() WriteGroup { return b.group }
func (b *badgerBackend) SupportsRichRoot() bool { return b.format == FormatRichRoot }
func (b *badgerBackend) SupportsTreeReference() bool { return b.format == FormatRichRoot }

func (b *badgerBackend) Pack() error {
	if err := b.db.Flatten(1); err != nil {
		return fmt.Errorf("flattening index: %w", err)
	}
	for {
		err := b.db.RunValueLogGC(0.5)
		if err == nil {
			continue
		}
		if err == badger.ErrNoRewrite || err == badger.ErrGCInMemoryMode {
			return nil
		}
		return fmt.Errorf("collecting value log: %w", err)
	}
}
