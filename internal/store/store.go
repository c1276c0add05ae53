// Package store provides the local cache of synced collections and its
// durable backends.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/senja-sync/internal/model"
)

var (
	// ErrNotFound is returned by Get when no record has the requested key.
	ErrNotFound = errors.New("record not found")

	// ErrSingleton is returned when deleting from the settings collection.
	ErrSingleton = errors.New("settings cannot be deleted")

	// ErrUnknownCollection is returned for a collection the cache does not hold.
	ErrUnknownCollection = errors.New("unknown collection")
)

// Store is the local record cache. Every method is synchronous and never
// touches the network.
type Store interface {
	// GetAll returns the records of c in stored order.
	GetAll(ctx context.Context, c model.Collection) ([]model.Record, error)

	// Get returns the record of c with the given key, or ErrNotFound.
	Get(ctx context.Context, c model.Collection, key string) (model.Record, error)

	// Replace swaps the whole content of c.
	Replace(ctx context.Context, c model.Collection, records []model.Record) error

	// Upsert inserts r or replaces the record with the same key. A record
	// without a key gets a generated one; the stored record is returned.
	Upsert(ctx context.Context, r model.Record) (model.Record, error)

	// Delete removes the record of c with the given key. It reports whether
	// a record was removed; an unknown key is not an error.
	Delete(ctx context.Context, c model.Collection, key string) (bool, error)

	// Close releases the durable backend.
	Close() error
}

// Backend persists opaque blobs by key.
type Backend interface {
	// Load returns the blob stored under key, or ErrNoBlob.
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, blob []byte) error
	Close() error
}

// ErrNoBlob is returned by Backend.Load for a key that was never saved.
var ErrNoBlob = errors.New("blob not found")
