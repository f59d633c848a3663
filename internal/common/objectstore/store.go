// Package objectstore provides the whole-object storage abstraction the queue
// and result components are built on: byte blobs addressed by slash-separated
// keys, with no partial reads or writes. Queue documents are always written
// whole, so the abstraction deliberately offers nothing finer-grained.
package objectstore

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the minimal object-storage surface used by this repository.
// Get fails with mixerrors.ErrNotFound when the key is absent.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Updater is implemented by stores that can run a read-modify-write of a
// single key atomically with respect to other Update calls from the same
// process. Remote object stores do not implement it; callers then fall back
// to get-then-put and rely on the document generation check to detect the
// races that slip through the window.
type Updater interface {
	Update(ctx context.Context, key string, mutate func(current []byte, exists bool) ([]byte, error)) error
}

// Update applies mutate to the object at key, atomically when s implements
// Updater and via get-then-put otherwise. mutate receives the current object
// bytes (nil if absent) and returns the bytes to store; returning an error
// aborts the update and surfaces that error unchanged.
func Update(ctx context.Context, s Store, key string, mutate func(current []byte, exists bool) ([]byte, error)) error {
	if updater, ok := s.(Updater); ok {
		return updater.Update(ctx, key, mutate)
	}

	current, err := s.Get(ctx, key)
	exists := true
	if err != nil {
		var notFound *mixerrors.ErrNotFound
		if !errors.As(err, &notFound) {
			return err
		}
		current = nil
		exists = false
	}
	next, err := mutate(current, exists)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, next)
}

// FromURL constructs a store from a URL of one of the supported forms:
//
//	mem://
//	file:///var/lib/mixbench
//	s3://bucket?endpoint=minio:9000&region=us-east-1&insecure=true
//
// S3 credentials are resolved through the usual environment/IAM chain.
func FromURL(storeUrl string) (Store, error) {
	u, err := url.Parse(storeUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid store url %q", storeUrl)
	}
	switch u.Scheme {
	case "mem":
		return NewMemoryStore(), nil
	case "file":
		return NewFilesystemStore(u.Path)
	case "s3":
		return NewMinioStoreFromURL(u)
	default:
		return nil, errors.Errorf("unsupported store url scheme %q", u.Scheme)
	}
}
