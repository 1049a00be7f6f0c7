// Package storage defines the durable key-value boundary used for session state.
package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key has never been set or was deleted.
var ErrNotFound = errors.New("storage: key not found")

// Provider is the interface for durable key-value persistence.
type Provider interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys returns every stored key in lexical order.
	Keys() ([]string, error)
	// Close releases the underlying resources.
	Close() error
}

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// SQLiteFile is the database file name used by the sqlite driver inside the session directory.
const SQLiteFile = "session.db"

// Open returns the provider for driver rooted at dir, creating dir if needed.
func Open(driver, dir string) (Provider, error) {
	switch driver {
	case DriverFile, "":
		fs, err := NewFS(dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case DriverSQLite:
		db, err := OpenSQLite(dir)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
