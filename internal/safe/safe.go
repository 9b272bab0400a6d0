// internal/safe/safe.go
package safe

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"arbor/internal/transport"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack"
)

var (
	ErrContentNotFound = errors.New("content not found")
	ErrInvalidHash     = errors.New("invalid content hash")
)

// blobMeta is the index entry kept for every stored blob.
type blobMeta struct {
	Size       int64     `msgpack:"n"`
	RefCount   uint32    `msgpack:"r"`
	Compressed bool      `msgpack:"z"`
	StoredAt   time.Time `msgpack:"t"`
}

// Safe is a reference-counted blob store addressed by sha256. Payloads live
// on a Transport, compressed when large; their reference counts live in
// Badger. Records that share a payload share one blob.
type Safe struct {
	t     transport.Transport
	db    *badger.DB
	cache *lru.Cache[string, []byte]
	codec *Codec
	mu    sync.Mutex
}

type Options struct {
	CacheSize   int // blobs held in the read cache
	Compression CompressionOptions
}

func New(t transport.Transport, db *badger.DB, opts Options) (*Safe, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.Compression == (CompressionOptions{}) {
		opts.Compression = DefaultCompressionOptions()
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	codec, err := NewCodec(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating codec: %w", err)
	}

	return &Safe{
		t:     t,
		db:    db,
		cache: cache,
		codec: codec,
	}, nil
}

// Codec exposes the compression codec.
func (s *Safe) Codec() *Codec { return s.codec }

// Store saves content and returns its hash.
func (s *Safe) Store(content []byte) (string, error) {
	hashes, err := s.StoreAll([][]byte{content})
	if err != nil {
		return "", err
	}
	return hashes[0], nil
}

// StoreAll saves every payload and takes one reference per payload. New
// bytes are written to the transport first; all reference counts then move
// in one transaction, so a failure leaves no count changed.
func (s *Safe) StoreAll(contents [][]byte) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes := make([]string, len(contents))
	refs := make(map[string]*blobMeta)
	var written []string
	cleanup := func() {
		for _, h := range written {
			s.t.Delete(contentPath(h))
		}
	}

	for i, content := range contents {
		if content == nil {
			content = []byte{}
		}
		hash := HashContent(content)
		hashes[i] = hash
		if meta, ok := refs[hash]; ok {
			meta.RefCount++
			continue
		}

		meta, err := s.getMeta(hash)
		if err == nil {
			meta.RefCount++
			refs[hash] = meta
			continue
		}
		if err != ErrContentNotFound {
			cleanup()
			return nil, fmt.Errorf("checking existence: %w", err)
		}

		payload, compressed, err := s.codec.Compress(content)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("compressing content: %w", err)
		}
		if err := s.t.Put(contentPath(hash), payload); err != nil {
			cleanup()
			return nil, fmt.Errorf("writing content file: %w", err)
		}
		written = append(written, hash)
		refs[hash] = &blobMeta{
			Size:       int64(len(content)),
			RefCount:   1,
			Compressed: compressed,
			StoredAt:   time.Now().UTC(),
		}
		s.cache.Add(hash, content)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for hash, meta := range refs {
			if err := putMeta(txn, hash, meta); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for _, h := range written {
			s.cache.Remove(h)
		}
		cleanup()
		return nil, fmt.Errorf("storing metadata: %w", err)
	}
	return hashes, nil
}

// Get retrieves content by hash and checks it against the hash.
func (s *Safe) Get(hash string) ([]byte, error) {
	if !isValidHash(hash) {
		return nil, ErrInvalidHash
	}
	if content, ok := s.cache.Get(hash); ok {
		return content, nil
	}

	meta, err := s.getMeta(hash)
	if err != nil {
		return nil, err
	}

	content, err := s.t.Get(contentPath(hash))
	if err != nil {
		return nil, fmt.Errorf("reading content %s: %w", hash, err)
	}
	if meta.Compressed {
		content, err = s.codec.Decompress(content)
		if err != nil {
			return nil, fmt.Errorf("decompressing content: %w", err)
		}
	}
	if HashContent(content) != hash {
		return nil, fmt.Errorf("content hash mismatch for %s", hash)
	}

	s.cache.Add(hash, content)
	return content, nil
}

// Release drops one reference per hash listed. A blob whose last reference
// goes is removed from the transport.
func (s *Safe) Release(hashes ...string) error {
	for _, h := range hashes {
		if !isValidHash(h) {
			return ErrInvalidHash
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var dead []string
	err := s.db.Update(func(txn *badger.Txn) error {
		drops := make(map[string]uint32)
		for _, h := range hashes {
			drops[h]++
		}
		for hash, n := range drops {
			meta, err := txnMeta(txn, hash)
			if err != nil {
				return fmt.Errorf("getting metadata for %s: %w", hash, err)
			}
			if meta.RefCount > n {
				meta.RefCount -= n
				if err := putMeta(txn, hash, meta); err != nil {
					return err
				}
				continue
			}
			if err := txn.Delete(metaKey(hash)); err != nil {
				return err
			}
			dead = append(dead, hash)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, hash := range dead {
		s.cache.Remove(hash)
		if err := s.t.Delete(contentPath(hash)); err != nil {
			return fmt.Errorf("removing content file: %w", err)
		}
	}
	return nil
}

func (s *Safe) Exists(hash string) (bool, error) {
	if !isValidHash(hash) {
		return false, ErrInvalidHash
	}
	if s.cache.Contains(hash) {
		return true, nil
	}
	_, err := s.getMeta(hash)
	if err == ErrContentNotFound {
		return false, nil
	}
	return err == nil, err
}

// Verify rereads a blob from the transport and checks its hash.
func (s *Safe) Verify(hash string) error {
	s.cache.Remove(hash)
	_, err := s.Get(hash)
	return err
}

// RefCount reports how many records reference hash.
func (s *Safe) RefCount(hash string) (uint32, error) {
	meta, err := s.getMeta(hash)
	if err != nil {
		return 0, err
	}
	return meta.RefCount, nil
}

// HashContent is the sha256 hex digest used to address blobs.
func HashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

func contentPath(hash string) string {
	return hash[:2] + "/" + hash[2:]
}

func metaKey(hash string) []byte {
	return []byte("blob:" + hash)
}

func isValidHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func putMeta(txn *badger.Txn, hash string, meta *blobMeta) error {
	data, err := msgpack.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding blob metadata: %w", err)
	}
	return txn.Set(metaKey(hash), data)
}

func txnMeta(txn *badger.Txn, hash string) (*blobMeta, error) {
	item, err := txn.Get(metaKey(hash))
	if err == badger.ErrKeyNotFound {
		return nil, ErrContentNotFound
	}
	if err != nil {
		return nil, err
	}
	var meta blobMeta
	err = item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, &meta)
	})
	return &meta, err
}

func (s *Safe) getMeta(hash string) (*blobMeta, error) {
	var meta *blobMeta
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = txnMeta(txn, hash)
		return err
	})
	return meta, err
}
