package content

import (
	"bytes"
	"fmt"
	"strings"

	"arbor/internal/errors"
	"arbor/internal/safe"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack"
)

// indexEntry is what Badger holds per key; payload bytes live in the Safe.
type indexEntry struct {
	Parents []Key  `msgpack:"p"`
	Sha1    string `msgpack:"s"`
	Blob    string `msgpack:"b"`
	Size    int64  `msgpack:"n"`
}

type pendingRecord struct {
	entry   indexEntry
	content []byte
}

// BadgerStore indexes records in Badger and keeps their bytes in a Safe.
// While a Group is active, writes are staged in memory and become visible
// to other readers of the database only when the group commits.
type BadgerStore struct {
	kind    Kind
	db      *badger.DB
	safe    *safe.Safe
	pending map[Key]*pendingRecord
	order   []Key
}

func NewBadgerStore(kind Kind, db *badger.DB, blobs *safe.Safe) *BadgerStore {
	return &BadgerStore{kind: kind, db: db, safe: blobs}
}

func (s *BadgerStore) Kind() Kind { return s.kind }

func (s *BadgerStore) prefix() []byte {
	return []byte(string(s.kind) + ":")
}

func (s *BadgerStore) makeKey(k Key) []byte {
	return []byte(string(s.kind) + ":" + k.FileID + "\x00" + k.RevisionID)
}

func (s *BadgerStore) parseKey(raw []byte) Key {
	rest := bytes.TrimPrefix(raw, s.prefix())
	fileID, revisionID, _ := strings.Cut(string(rest), "\x00")
	return Key{FileID: fileID, RevisionID: revisionID}
}

func (s *BadgerStore) validate(k Key) error {
	if k.RevisionID == "" {
		return errors.ValidationError(fmt.Sprintf("%s key has no revision id", s.kind), k)
	}
	if s.kind == Texts && k.FileID == "" {
		return errors.ValidationError("text keys need a file id", k)
	}
	if s.kind != Texts && k.FileID != "" {
		return errors.ValidationError(fmt.Sprintf("%s keys take a revision id only", s.kind), k)
	}
	if strings.Contains(k.FileID, "\x00") || strings.Contains(k.RevisionID, "\x00") {
		return errors.ValidationError("keys may not contain NUL", k)
	}
	return nil
}

// lookup finds the index entry for k, staged or committed.
func (s *BadgerStore) lookup(k Key) (*indexEntry, []byte, bool, error) {
	if p, ok := s.pending[k]; ok {
		return &p.entry, p.content, true, nil
	}
	var entry indexEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(k))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &entry)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("reading %s index: %w", s.kind, err)
	}
	return &entry, nil, true, nil
}

func (s *BadgerStore) Put(key Key, parents []Key, content []byte) (string, error) {
	if err := s.validate(key); err != nil {
		return "", err
	}
	if content == nil {
		content = []byte{}
	}
	sha := Sha1(content)

	existing, _, ok, err := s.lookup(key)
	if err != nil {
		return "", err
	}
	if ok {
		if existing.Sha1 == sha && existing.Size == int64(len(content)) {
			return sha, nil
		}
		return "", errors.DuplicateKey(string(s.kind) + key.String())
	}

	entry := indexEntry{
		Parents: append([]Key(nil), parents...),
		Sha1:    sha,
		Size:    int64(len(content)),
	}

	if s.pending != nil {
		buf := make([]byte, len(content))
		copy(buf, content)
		s.pending[key] = &pendingRecord{entry: entry, content: buf}
		s.order = append(s.order, key)
		return sha, nil
	}

	blob, err := s.safe.Store(content)
	if err != nil {
		return "", fmt.Errorf("storing %s payload: %w", key, err)
	}
	entry.Blob = blob
	err = s.db.Update(func(txn *badger.Txn) error {
		return s.writeIndex(txn, key, entry)
	})
	if err != nil {
		s.safe.Release(blob)
		return "", fmt.Errorf("indexing %s: %w", key, err)
	}
	return sha, nil
}

func (s *BadgerStore) writeIndex(txn *badger.Txn, key Key, entry indexEntry) error {
	data, err := msgpack.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("encoding index entry: %w", err)
	}
	return txn.Set(s.makeKey(key), data)
}

func (s *BadgerStore) GetRecord(key Key) (*Record, error) {
	entry, staged, ok, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("%s%s not found", s.kind, key))
	}
	body := staged
	if body == nil {
		body, err = s.safe.Get(entry.Blob)
		if err != nil {
			return nil, fmt.Errorf("reading %s payload: %w", key, err)
		}
	}
	return &Record{
		Key:     key,
		Parents: append([]Key(nil), entry.Parents...),
		Sha1:    entry.Sha1,
		Content: body,
	}, nil
}

func (s *BadgerStore) Get(key Key) ([]byte, error) {
	rec, err := s.GetRecord(key)
	if err != nil {
		return nil, err
	}
	return rec.Content, nil
}

func (s *BadgerStore) GetRecords(keys []Key) ([]*Record, []Key, error) {
	var records []*Record
	var missing []Key
	for _, k := range keys {
		rec, err := s.GetRecord(k)
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			missing = append(missing, k)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	return records, missing, nil
}

func (s *BadgerStore) HasAny(keys []Key) (map[Key]bool, error) {
	present := make(map[Key]bool, len(keys))
	for _, k := range keys {
		_, _, ok, err := s.lookup(k)
		if err != nil {
			return nil, err
		}
		present[k] = ok
	}
	return present, nil
}

func (s *BadgerStore) Parents(keys []Key) (map[Key][]Key, error) {
	out := make(map[Key][]Key, len(keys))
	for _, k := range keys {
		entry, _, ok, err := s.lookup(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = append([]Key(nil), entry.Parents...)
		}
	}
	return out, nil
}

// Keys lists every key, committed and staged, in key order.
func (s *BadgerStore) Keys() ([]Key, error) {
	seen := make(map[Key]bool)
	var keys []Key
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := s.prefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := s.parseKey(it.Item().KeyCopy(nil))
			seen[k] = true
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s keys: %w", s.kind, err)
	}
	for _, k := range s.order {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	SortKeys(keys)
	return keys, nil
}

func (s *BadgerStore) CopyMulti(source Source, keys []Key, permitPartialFailure bool) (int, []Key, error) {
	return copyMulti(s, source, keys, permitPartialFailure)
}

// Pending reports how many writes are staged.
func (s *BadgerStore) Pending() int { return len(s.order) }
