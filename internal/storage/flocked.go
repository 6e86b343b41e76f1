package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
)

const lockRetryInterval = 50 * time.Millisecond

// Flocked wraps a Store with an advisory cross-process file lock, held
// only around the CAS-sensitive Update path, so two processes sharing one
// client store don't race a read-modify-write.
type Flocked struct {
	Store
	lock *flock.Flock
}

// NewFlocked returns s wrapped with an advisory lock file at lockPath.
func NewFlocked(s Store, lockPath string) *Flocked {
	return &Flocked{Store: s, lock: flock.New(lockPath)}
}

// Update acquires the advisory lock for the duration of the read-modify-
// write cycle, then delegates to the wrapped Store.
func (f *Flocked) Update(ctx context.Context, key string, fn func(current json.RawMessage, present bool) (json.RawMessage, error)) error {
	locked, err := f.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return errors.Wrap(err, "storage: acquire advisory lock")
	}
	if !locked {
		return errors.New("storage: advisory lock held by another process")
	}
	defer f.lock.Unlock()

	return f.Store.Update(ctx, key, fn)
}
