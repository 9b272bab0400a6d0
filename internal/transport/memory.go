package transport

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"arbor/internal/errors"

	"github.com/google/uuid"
)

type memoryFS struct {
	id    string
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// Memory is an in-process Transport. Clones share the same backing store,
// so two repositories opened on clones of one Memory see each other's writes.
type Memory struct {
	fs     *memoryFS
	prefix string
}

func NewMemory() *Memory {
	return &Memory{fs: &memoryFS{
		id:    uuid.NewString(),
		files: make(map[string][]byte),
		dirs:  map[string]bool{".": true},
	}}
}

func (t *Memory) key(p string) string {
	return path.Clean(path.Join(t.prefix, cleanRel(p)))
}

func (t *Memory) Base() string { return "memory://" + t.fs.id + "/" + t.prefix }

func (t *Memory) Get(p string) ([]byte, error) {
	t.fs.mu.RLock()
	defer t.fs.mu.RUnlock()
	data, ok := t.fs.files[t.key(p)]
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("%s: no such file", p))
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (t *Memory) Put(p string, data []byte) error {
	k := t.key(p)
	t.fs.mu.Lock()
	defer t.fs.mu.Unlock()
	for dir := path.Dir(k); dir != "." && dir != "/"; dir = path.Dir(dir) {
		t.fs.dirs[dir] = true
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.fs.files[k] = buf
	return nil
}

func (t *Memory) Has(p string) (bool, error) {
	k := t.key(p)
	t.fs.mu.RLock()
	defer t.fs.mu.RUnlock()
	_, isFile := t.fs.files[k]
	return isFile || t.fs.dirs[k], nil
}

func (t *Memory) Mkdir(p string) error {
	k := t.key(p)
	t.fs.mu.Lock()
	defer t.fs.mu.Unlock()
	if t.fs.dirs[k] {
		return fmt.Errorf("creating directory %s: %w", p, os.ErrExist)
	}
	if parent := path.Dir(k); parent != "." && !t.fs.dirs[parent] {
		return fmt.Errorf("creating directory %s: %w", p, os.ErrNotExist)
	}
	t.fs.dirs[k] = true
	return nil
}

func (t *Memory) Delete(p string) error {
	k := t.key(p)
	t.fs.mu.Lock()
	defer t.fs.mu.Unlock()
	if _, ok := t.fs.files[k]; !ok {
		return errors.NotFound(fmt.Sprintf("%s: no such file", p))
	}
	delete(t.fs.files, k)
	return nil
}

func (t *Memory) Rmdir(p string) error {
	k := t.key(p)
	t.fs.mu.Lock()
	defer t.fs.mu.Unlock()
	for f := range t.fs.files {
		if strings.HasPrefix(f, k+"/") {
			delete(t.fs.files, f)
		}
	}
	for d := range t.fs.dirs {
		if d == k || strings.HasPrefix(d, k+"/") {
			delete(t.fs.dirs, d)
		}
	}
	return nil
}

func (t *Memory) List(dir string) ([]string, error) {
	k := t.key(dir)
	t.fs.mu.RLock()
	defer t.fs.mu.RUnlock()
	if !t.fs.dirs[k] {
		return nil, errors.NotFound(fmt.Sprintf("%s: no such directory", dir))
	}
	seen := make(map[string]bool)
	collect := func(p string) {
		if path.Dir(p) == k {
			seen[path.Base(p)] = true
		}
	}
	for f := range t.fs.files {
		collect(f)
	}
	for d := range t.fs.dirs {
		if d != k {
			collect(d)
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (t *Memory) Clone(sub string) Transport {
	k := t.key(sub)
	t.fs.mu.Lock()
	for dir := k; dir != "." && dir != "/"; dir = path.Dir(dir) {
		t.fs.dirs[dir] = true
	}
	t.fs.mu.Unlock()
	return &Memory{fs: t.fs, prefix: k}
}

func (t *Memory) Listable() bool { return true }
