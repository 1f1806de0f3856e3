// Package storage persists cache entries, committed records and exports.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("not found")

// Collections used by doclens.
const (
	CollectionDocuments = "documents"
	CollectionRecords   = "records"
)

// Store is a JSON document store partitioned into collections.
// Client, FileStore and RedisStore implement it.
type Store interface {
	Put(ctx context.Context, collection, key string, v any) error
	Get(ctx context.Context, collection, key string, v any) error
	Delete(ctx context.Context, collection, key string) error
	Keys(ctx context.Context, collection string) ([]string, error)
	DeleteAll(ctx context.Context, collection string) error
}
