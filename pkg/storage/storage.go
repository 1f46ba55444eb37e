// Package storage defines the object store holding uploaded image renditions.
package storage

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

// ErrNotExist is returned (wrapped) by Delete when the object is absent.
var ErrNotExist = fs.ErrNotExist

// Object describes a stored file returned by List.
type Object struct {
	Name      string
	UpdatedAt time.Time
}

// Store is implemented by the local filesystem and GCS backends. Names are
// slash-separated and relative to the backend root.
type Store interface {
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]Object, error)
}

// IsNotExist reports whether err means the object was already gone.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}
