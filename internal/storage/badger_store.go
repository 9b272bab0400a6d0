// internal/storage/badger_store.go
package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"arbor/internal/errors"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps JSON records of one type under a key prefix. Records
// are addressed by the id that key derives from them.
type BadgerStore[E any] struct {
	db     *badger.DB
	prefix string
	key    func(*E) string
}

func NewBadgerStore[E any](db *badger.DB, prefix string, key func(*E) string) *BadgerStore[E] {
	return &BadgerStore[E]{
		db:     db,
		prefix: prefix,
		key:    key,
	}
}

func (s *BadgerStore[E]) makeKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", s.prefix, id))
}

func (s *BadgerStore[E]) stripPrefix(key []byte) string {
	return strings.TrimPrefix(string(key), s.prefix+":")
}

func (s *BadgerStore[E]) notFound(id string) error {
	return errors.NotFound(fmt.Sprintf("%s not found: %s", s.prefix, id))
}

// Txn is a set of reads and writes applied atomically by Batch.
type Txn[E any] struct {
	s   *BadgerStore[E]
	txn *badger.Txn
}

func (t *Txn[E]) Get(id string) (*E, error) {
	item, err := t.txn.Get(t.s.makeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, t.s.notFound(id)
	}
	if err != nil {
		return nil, err
	}
	e := new(E)
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, e) }); err != nil {
		return nil, fmt.Errorf("decoding %s %s: %w", t.s.prefix, id, err)
	}
	return e, nil
}

// Put creates or replaces e.
func (t *Txn[E]) Put(e *E) error {
	id := t.s.key(e)
	if id == "" {
		return errors.ValidationError("entity ID cannot be empty", nil)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}
	return t.txn.Set(t.s.makeKey(id), data)
}

// Create is Put for an id that must not exist yet.
func (t *Txn[E]) Create(e *E) error {
	id := t.s.key(e)
	_, err := t.txn.Get(t.s.makeKey(id))
	if err == nil {
		return errors.DuplicateKey(fmt.Sprintf("%s:%s", t.s.prefix, id))
	} else if err != badger.ErrKeyNotFound {
		return err
	}
	return t.Put(e)
}

func (t *Txn[E]) Delete(id string) error {
	key := t.s.makeKey(id)
	_, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return t.s.notFound(id)
	} else if err != nil {
		return err
	}
	return t.txn.Delete(key)
}

// Batch runs fn in one read-write transaction. Nothing is written if fn
// fails.
func (s *BadgerStore[E]) Batch(fn func(tx *Txn[E]) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&Txn[E]{s: s, txn: txn})
	})
}

func (s *BadgerStore[E]) Get(id string) (*E, error) {
	var e *E
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = (&Txn[E]{s: s, txn: txn}).Get(id)
		return err
	})
	return e, err
}

func (s *BadgerStore[E]) Put(e *E) error {
	return s.Batch(func(tx *Txn[E]) error { return tx.Put(e) })
}

func (s *BadgerStore[E]) Create(e *E) error {
	return s.Batch(func(tx *Txn[E]) error { return tx.Create(e) })
}

func (s *BadgerStore[E]) Delete(id string) error {
	return s.Batch(func(tx *Txn[E]) error { return tx.Delete(id) })
}

// IDs returns every stored id in key order.
func (s *BadgerStore[E]) IDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(s.prefix + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, s.stripPrefix(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return ids, err
}

// List returns every record in key order.
func (s *BadgerStore[E]) List() ([]*E, error) {
	var out []*E
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(s.prefix + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			e := new(E)
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, e) }); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.prefix, err)
	}
	return out, nil
}
