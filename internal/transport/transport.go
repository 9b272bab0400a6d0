// Package transport provides byte-oriented access to a storage location.
package transport

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"arbor/internal/errors"
)

// Transport is rooted at one location; all paths are relative to it and use
// forward slashes.
type Transport interface {
	// Base names the root, for messages and lock holder info.
	Base() string
	Get(path string) ([]byte, error)
	// Put atomically replaces path, creating parent directories.
	Put(path string, data []byte) error
	Has(path string) (bool, error)
	// Mkdir creates exactly one directory and fails if it exists.
	Mkdir(path string) error
	Delete(path string) error
	// Rmdir removes a directory and everything below it.
	Rmdir(path string) error
	List(dir string) ([]string, error)
	Clone(sub string) Transport
	// Listable reports whether List is supported.
	Listable() bool
}

type LocationKind int

const (
	LocationPath LocationKind = iota
	LocationURL
)

// Location is either a local path or a remote URL, resolved once at the edge.
type Location struct {
	Kind LocationKind
	Path string
	URL  *url.URL
}

// ParseLocation classifies s. file:// URLs become paths.
func ParseLocation(s string) (Location, error) {
	if s == "" {
		return Location{}, errors.ValidationError("empty location", nil)
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Location{}, errors.ValidationError(fmt.Sprintf("invalid location %q", s), err.Error())
		}
		switch u.Scheme {
		case "file":
			return Location{Kind: LocationPath, Path: filepath.Clean(u.Path)}, nil
		case "http", "https":
			return Location{Kind: LocationURL, URL: u}, nil
		default:
			return Location{}, errors.ValidationError(fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
		}
	}
	abs, err := filepath.Abs(s)
	if err != nil {
		return Location{}, fmt.Errorf("resolving %s: %w", s, err)
	}
	return Location{Kind: LocationPath, Path: abs}, nil
}

func (l Location) String() string {
	if l.Kind == LocationURL {
		return l.URL.String()
	}
	return l.Path
}

// Open returns a transport for a path location. URL locations are served by
// the client package, not by a Transport.
func Open(loc Location) (Transport, error) {
	if loc.Kind != LocationPath {
		return nil, errors.ValidationError(fmt.Sprintf("no byte transport for %s", loc), nil)
	}
	return NewLocal(loc.Path)
}

func cleanRel(p string) string {
	p = strings.TrimPrefix(filepath.ToSlash(p), "/")
	if p == "" {
		return "."
	}
	return p
}
