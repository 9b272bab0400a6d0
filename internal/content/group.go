package content

import (
	"fmt"

	"arbor/internal/errors"

	"github.com/dgraph-io/badger/v4"
)

// Group is a write group over several stores sharing one database. Writes
// made while it is active are all published by Commit in a single Badger
// transaction, or all dropped by Abort.
type Group struct {
	db     *badger.DB
	stores []*BadgerStore
	active bool
}

func NewGroup(db *badger.DB, stores ...*BadgerStore) *Group {
	return &Group{db: db, stores: stores}
}

func (g *Group) Active() bool { return g.active }

func (g *Group) Start() error {
	if g.active {
		return errors.TransactionError("a write group is already open")
	}
	for _, s := range g.stores {
		s.pending = make(map[Key]*pendingRecord)
		s.order = nil
	}
	g.active = true
	return nil
}

// Commit publishes every staged write. On failure the staged writes are
// kept so the caller can still Abort.
func (g *Group) Commit() (int, error) {
	if !g.active {
		return 0, errors.TransactionError("no write group is open")
	}

	var payloads [][]byte
	var staged []*pendingRecord
	for _, s := range g.stores {
		for _, k := range s.order {
			p := s.pending[k]
			payloads = append(payloads, p.content)
			staged = append(staged, p)
		}
	}
	if len(staged) == 0 {
		g.reset()
		return 0, nil
	}
	blobs := g.stores[0].safe
	hashes, err := blobs.StoreAll(payloads)
	if err != nil {
		return 0, fmt.Errorf("storing write group payloads: %w", err)
	}
	for i, p := range staged {
		p.entry.Blob = hashes[i]
	}

	written := 0
	err = g.db.Update(func(txn *badger.Txn) error {
		for _, s := range g.stores {
			for _, k := range s.order {
				if err := s.writeIndex(txn, k, s.pending[k].entry); err != nil {
					return err
				}
				written++
			}
		}
		return nil
	})
	if err != nil {
		blobs.Release(hashes...)
		return 0, fmt.Errorf("committing write group: %w", err)
	}

	g.reset()
	return written, nil
}

// Abort drops every staged write.
func (g *Group) Abort() error {
	if !g.active {
		return errors.TransactionError("no write group is open")
	}
	g.reset()
	return nil
}

func (g *Group) reset() {
	for _, s := range g.stores {
		s.pending = nil
		s.order = nil
	}
	g.active = false
}
