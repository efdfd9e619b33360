// Package store defines the persistent key-value storage the settings
// provider and translation cache are built on.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by KV.Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// Storage areas. Settings live in the synchronized area, the translation
// cache in the local one.
const (
	AreaSync  = "sync"
	AreaLocal = "local"
)

// KV is a durable key-value store scoped to one area.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Backend owns the connection to a storage system and hands out areas.
type Backend interface {
	Area(name string) KV
	Close() error
}
