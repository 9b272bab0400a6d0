// Package repository stores revisions, inventories and file texts under a
// single lock with write-group transactions.
package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"arbor/internal/content"
	"arbor/internal/errors"
	"arbor/internal/fetch"
	"arbor/internal/inventory"
	"arbor/internal/lock"
	"arbor/internal/logging"
	"arbor/internal/safe"
	"arbor/internal/signing"
	"arbor/internal/transport"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	formatFile = "format"
	lockDir    = "lock"
	lockPath   = "lock/held"
	blobDir    = "blobs"
	dbDir      = "db"
	// ControlDir is the repository directory inside a working tree.
	ControlDir = ".arbor"
)

// Options configures a Repository.
type Options struct {
	Format      Format
	CacheSize   int
	Compression safe.CompressionOptions
	LockTimeout time.Duration
	LockPoll    time.Duration
	Signer      signing.Signer
	Logger      *zap.Logger
}

// Repository owns the content stores for one storage location. A
// Repository value is used by one goroutine at a time; other processes are
// excluded by the physical lock.
type Repository struct {
	t        transport.Transport
	db       *badger.DB
	ownsDB   bool
	backend  Backend
	lockDir  *lock.LockDir
	lock     *lock.Counted
	invCache *lru.Cache[string, *inventory.Inventory]
	signer   signing.Signer
	logger   *zap.Logger
}

// New builds a repository over an already opened database. t holds the
// format marker, the lock and the blobs. If no format marker exists one is
// written for opts.Format.
func New(t transport.Transport, db *badger.DB, opts Options) (*Repository, error) {
	format, err := readOrWriteFormat(t, opts.Format)
	if err != nil {
		return nil, err
	}

	blobs, err := safe.New(t.Clone(blobDir), db, safe.Options{
		CacheSize:   opts.CacheSize,
		Compression: opts.Compression,
	})
	if err != nil {
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	backend, err := NewBackend(format, db, blobs)
	if err != nil {
		return nil, err
	}

	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = 128
	}
	invCache, err := lru.New[string, *inventory.Inventory](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating inventory cache: %w", err)
	}

	logger := logging.OrNop(opts.Logger)
	var lockOpts []lock.Option
	if opts.LockTimeout > 0 {
		lockOpts = append(lockOpts, lock.WithTimeout(opts.LockTimeout))
	}
	if opts.LockPoll > 0 {
		lockOpts = append(lockOpts, lock.WithPoll(opts.LockPoll))
	}
	lockOpts = append(lockOpts, lock.WithLogger(logger))
	ld := lock.NewLockDir(t, lockPath, lockOpts...)

	return &Repository{
		t:        t,
		db:       db,
		backend:  backend,
		lockDir:  ld,
		lock:     lock.NewCounted(ld),
		invCache: invCache,
		signer:   opts.Signer,
		logger:   logger.With(zap.String("repository", t.Base())),
	}, nil
}

func readOrWriteFormat(t transport.Transport, want Format) (Format, error) {
	data, err := t.Get(formatFile)
	if err == nil {
		return parseMarker(data)
	}
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		return "", fmt.Errorf("reading format marker: %w", err)
	}
	if want == "" {
		want = FormatRichRoot
	}
	if _, err := ParseFormat(string(want)); err != nil {
		return "", err
	}
	if err := t.Put(formatFile, want.marker()); err != nil {
		return "", fmt.Errorf("writing format marker: %w", err)
	}
	if has, _ := t.Has(lockDir); !has {
		if err := t.Mkdir(lockDir); err != nil {
			return "", fmt.Errorf("creating lock directory: %w", err)
		}
	}
	return want, nil
}

func openDB(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(filepath.Join(dir, dbDir))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// Init creates a repository in the control directory under root.
func Init(root string, opts Options) (*Repository, error) {
	dir := filepath.Join(root, ControlDir)
	t, err := transport.NewLocal(dir)
	if err != nil {
		return nil, err
	}
	if has, _ := t.Has(formatFile); has {
		return nil, errors.ValidationError(fmt.Sprintf("%s already contains a repository", root), nil)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	return open(t, dir, opts)
}

// Open opens the repository whose control directory is under root.
func Open(root string, opts Options) (*Repository, error) {
	dir := filepath.Join(root, ControlDir)
	t, err := transport.NewLocal(dir)
	if err != nil {
		return nil, err
	}
	if has, _ := t.Has(formatFile); !has {
		return nil, errors.NotFound(fmt.Sprintf("no repository at %s", root))
	}
	return open(t, dir, opts)
}

func open(t transport.Transport, dir string, opts Options) (*Repository, error) {
	db, err := openDB(dir)
	if err != nil {
		return nil, err
	}
	r, err := New(t, db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	r.ownsDB = true
	return r, nil
}

// Close releases the database if the repository opened it.
func (r *Repository) Close() error {
	if r.backend.WriteGroup().Active() {
		return errors.TransactionError("cannot close a repository with an open write group")
	}
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) Location() string { return r.t.Base() }

// DB exposes the database for sibling components such as branch tips.
func (r *Repository) DB() *badger.DB { return r.db }

func (r *Repository) Transport() transport.Transport { return r.t }

func (r *Repository) Backend() Backend { return r.backend }

func (r *Repository) Format() Format { return r.backend.Format() }

func (r *Repository) SupportsRichRoot() bool { return r.backend.SupportsRichRoot() }

func (r *Repository) SupportsTreeReference() bool { return r.backend.SupportsTreeReference() }

func (r *Repository) Logger() *zap.Logger { return r.logger }

// SetSigner configures the signer used by AddRevision.
func (r *Repository) SetSigner(s signing.Signer) { r.signer = s }

// Store returns the store of the given kind.
func (r *Repository) Store(kind content.Kind) content.Store {
	switch kind {
	case content.Texts:
		return r.backend.TextStore()
	case content.Inventories:
		return r.backend.InventoryStore()
	case content.Revisions:
		return r.backend.RevisionStore()
	case content.Signatures:
		return r.backend.SignatureStore()
	}
	return nil
}

// RecordSource returns the store of the given kind for reading.
func (r *Repository) RecordSource(kind content.Kind) content.Source {
	return r.Store(kind)
}

// Locking

func (r *Repository) LockRead() error { return r.lock.LockRead() }

// LockWrite takes the write lock, blocking while another process holds it.
func (r *Repository) LockWrite(ctx context.Context) (string, error) {
	return r.lock.LockWrite(ctx)
}

// Unlock releases one level of locking. It refuses while a write group is
// open.
func (r *Repository) Unlock() error {
	if r.backend.WriteGroup().Active() && r.lock.Mode() == lock.WriteLocked {
		return errors.TransactionError("cannot unlock with a write group open")
	}
	return r.lock.Unlock()
}

func (r *Repository) IsLocked() bool { return r.lock.IsLocked() }

func (r *Repository) IsWriteLocked() bool { return r.lock.IsWriteLocked() }

// BreakLock removes the physical lock whoever holds it.
func (r *Repository) BreakLock() error {
	return r.lock.BreakLock()
}

// LockHolder describes the current lock holder, or nil if unlocked.
func (r *Repository) LockHolder() (*lock.HolderInfo, error) {
	return r.lockDir.Peek()
}

// Write groups

func (r *Repository) StartWriteGroup() error {
	if !r.lock.IsWriteLocked() {
		return errors.TransactionError("a write group needs the repository write locked")
	}
	return r.backend.WriteGroup().Start()
}

// CommitWriteGroup publishes every write made since StartWriteGroup. If it
// fails the group stays open and must be aborted.
func (r *Repository) CommitWriteGroup() error {
	n, err := r.backend.WriteGroup().Commit()
	if err != nil {
		return err
	}
	r.logger.Debug("write group committed", zap.Int("records", n))
	return nil
}

// AbortWriteGroup discards every write made since StartWriteGroup.
func (r *Repository) AbortWriteGroup() error {
	if err := r.backend.WriteGroup().Abort(); err != nil {
		return err
	}
	r.invCache.Purge()
	r.logger.Debug("write group aborted")
	return nil
}

func (r *Repository) IsInWriteGroup() bool { return r.backend.WriteGroup().Active() }

func (r *Repository) requireWriteGroup(op string) error {
	if !r.IsInWriteGroup() {
		return errors.TransactionError(op + " needs an open write group")
	}
	return nil
}

// Pack compacts storage under the write lock.
func (r *Repository) Pack(ctx context.Context) error {
	if _, err := r.LockWrite(ctx); err != nil {
		return err
	}
	defer r.Unlock()
	if r.IsInWriteGroup() {
		return errors.TransactionError("cannot pack with a write group open")
	}
	if err := r.backend.Pack(); err != nil {
		return err
	}
	r.logger.Info("repository packed")
	return nil
}

var (
	_ fetch.Source = (*Repository)(nil)
	_ fetch.Target = (*Repository)(nil)
)
