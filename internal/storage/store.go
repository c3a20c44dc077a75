// Package storage provides the key-value persistence behind the engagement
// bus: an in-memory map, a directory of JSON files, or a SQLite table.
//
// Values are opaque bytes. The envelope helpers in this package wrap them in
// a versioned record and run the migration chain once at load time.
package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("storage: key not found")

// Store is a flat key-value store. Implementations are safe for concurrent use.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	Path    string
	// Driver is the database/sql driver for the sqlite backend: "sqlite3"
	// (mattn, cgo) or "sqlite" (modernc, pure Go).
	Driver string
}

// Open constructs the backend named in opts.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		return OpenFile(opts.Path)
	case BackendSQLite:
		return OpenSQLite(opts.Path, opts.Driver)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
