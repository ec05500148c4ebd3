package localstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("record was modified concurrently")
)

// Record is one persisted value. Version starts at 1 and grows with every
// successful Save.
type Record struct {
	Key       string
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

// Backend is the device-local key-value storage. Save is a compare-and-swap:
// it succeeds only when the stored version equals expectedVersion (0 for a
// record that does not exist yet).
type Backend interface {
	Load(ctx context.Context, key string) (Record, error)
	Save(ctx context.Context, key string, data []byte, expectedVersion int64) (int64, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
