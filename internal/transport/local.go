package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"arbor/internal/errors"

	"github.com/google/renameio"
)

// Local is a Transport over the local filesystem.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	return &Local{root: abs}, nil
}

func (t *Local) abs(p string) string {
	return filepath.Join(t.root, filepath.FromSlash(cleanRel(p)))
}

func (t *Local) Base() string { return t.root }

func (t *Local) Get(p string) ([]byte, error) {
	data, err := os.ReadFile(t.abs(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(fmt.Sprintf("%s: no such file", p))
		}
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

func (t *Local) Put(p string, data []byte) error {
	target := t.abs(p)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", p, err)
	}
	if err := renameio.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	return nil
}

func (t *Local) Has(p string) (bool, error) {
	_, err := os.Stat(t.abs(p))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (t *Local) Mkdir(p string) error {
	if err := os.Mkdir(t.abs(p), 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", p, err)
	}
	return nil
}

func (t *Local) Delete(p string) error {
	if err := os.Remove(t.abs(p)); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound(fmt.Sprintf("%s: no such file", p))
		}
		return fmt.Errorf("deleting %s: %w", p, err)
	}
	return nil
}

func (t *Local) Rmdir(p string) error {
	return os.RemoveAll(t.abs(p))
}

func (t *Local) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(t.abs(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(fmt.Sprintf("%s: no such directory", dir))
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (t *Local) Clone(sub string) Transport {
	return &Local{root: t.abs(sub)}
}

func (t *Local) Listable() bool { return true }
