// Package content holds the keyed, immutable record stores a repository is
// built from: file texts, inventories, revisions and signatures.
package content

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
)

// Kind names one of a repository's stores.
type Kind string

const (
	Texts       Kind = "texts"
	Inventories Kind = "inventories"
	Revisions   Kind = "revisions"
	Signatures  Kind = "signatures"
)

// Kinds in the order a fetch writes them.
var Kinds = []Kind{Texts, Inventories, Signatures, Revisions}

// Key addresses a record. Text keys carry a file id; every other kind is
// keyed by revision id alone.
type Key struct {
	FileID     string `json:"file_id,omitempty" msgpack:"f"`
	RevisionID string `json:"revision_id" msgpack:"r"`
}

func TextKey(fileID, revisionID string) Key {
	return Key{FileID: fileID, RevisionID: revisionID}
}

func RevisionKey(revisionID string) Key {
	return Key{RevisionID: revisionID}
}

func (k Key) String() string {
	if k.FileID == "" {
		return fmt.Sprintf("(%s,)", k.RevisionID)
	}
	return fmt.Sprintf("(%s, %s)", k.FileID, k.RevisionID)
}

// Less orders keys by file id, then revision id.
func (k Key) Less(o Key) bool {
	if k.FileID != o.FileID {
		return k.FileID < o.FileID
	}
	return k.RevisionID < o.RevisionID
}

func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Record is one stored entry with its declared parents.
type Record struct {
	Key     Key    `msgpack:"k"`
	Parents []Key  `msgpack:"p"`
	Sha1    string `msgpack:"s"`
	Content []byte `msgpack:"c"`
}

// Sha1 is the digest recorded for every stored payload.
func Sha1(content []byte) string {
	h := sha1.Sum(content)
	return hex.EncodeToString(h[:])
}

// Source is the read side of a store, enough to copy records out of it.
type Source interface {
	Kind() Kind
	// GetRecords returns the records present for keys and lists the absent ones.
	GetRecords(keys []Key) ([]*Record, []Key, error)
}

// Store is a key-addressed store of immutable byte payloads.
type Store interface {
	Source
	// Put stores content under key. Re-adding identical content is a no-op;
	// different content under an existing key is a DUPLICATE_KEY error.
	Put(key Key, parents []Key, content []byte) (string, error)
	Get(key Key) ([]byte, error)
	GetRecord(key Key) (*Record, error)
	HasAny(keys []Key) (map[Key]bool, error)
	// Parents returns declared parents for the present keys only.
	Parents(keys []Key) (map[Key][]Key, error)
	Keys() ([]Key, error)
	// CopyMulti copies keys from source, returning the count copied and the
	// keys that could not be found.
	CopyMulti(source Source, keys []Key, permitPartialFailure bool) (int, []Key, error)
}
