// Package repository persists queue documents in object storage. The whole
// document is read, mutated and written back on every change; a generation
// counter embedded in the document detects concurrent writers. That
// compare-and-swap on the generation is the only serialisation point between
// dispatchers, which may run on different machines with no shared lock.
package repository

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
	"github.com/mixbenchproject/mixbench/internal/common/objectstore"
)

const (
	queueKeyDir       = "queues"
	queueObjectSuffix = ".json"

	DefaultUpdateAttempts = 3
	DefaultCasBackoff     = 100 * time.Millisecond
)

type QueueRepository interface {
	// Load returns the document for queue together with its current
	// generation (inside the document). Fails with mixerrors.ErrNotFound if
	// the queue has never been written.
	Load(ctx context.Context, queue string) (*QueueDocument, error)
	// Save commits doc if and only if the stored generation still equals
	// expectedGeneration, writing the document back with the generation
	// incremented, and returns the new generation. A queue that does not
	// exist yet counts as generation zero. Losing the race fails with
	// mixerrors.ErrConcurrencyConflict; the caller must reload and retry.
	Save(ctx context.Context, queue string, doc *QueueDocument, expectedGeneration int64) (int64, error)
	// Enqueue appends entries, preserving their order, retrying lost
	// generation races a bounded number of times before giving up with
	// mixerrors.ErrQueueBusy. A missing queue is created.
	Enqueue(ctx context.Context, queue string, entries []JobEntry) error
	// SetRunning pauses or resumes dispatch without touching the entries.
	// Each call commits one document mutation, so the generation advances by
	// exactly one per call even when the flag does not change.
	SetRunning(ctx context.Context, queue string, running bool) error
	// Update runs a full read-modify-write of the document with the same
	// bounded retry behaviour as Enqueue. A missing queue starts from a fresh
	// running document.
	Update(ctx context.Context, queue string, mutate func(doc *QueueDocument) error) error
}

// StoreQueueRepository keeps each queue as one JSON object under
// <prefix>/queues/<name>.json.
type StoreQueueRepository struct {
	store    objectstore.Store
	prefix   string
	attempts uint
	backoff  time.Duration
}

func NewStoreQueueRepository(store objectstore.Store, prefix string, attempts int, backoff time.Duration) *StoreQueueRepository {
	if attempts < 1 {
		attempts = DefaultUpdateAttempts
	}
	if backoff <= 0 {
		backoff = DefaultCasBackoff
	}
	return &StoreQueueRepository{
		store:    store,
		prefix:   prefix,
		attempts: uint(attempts),
		backoff:  backoff,
	}
}

func (repo *StoreQueueRepository) key(queue string) string {
	return path.Join(repo.prefix, queueKeyDir, queue+queueObjectSuffix)
}

func (repo *StoreQueueRepository) Load(ctx context.Context, queue string) (*QueueDocument, error) {
	data, err := repo.store.Get(ctx, repo.key(queue))
	if err != nil {
		var notFound *mixerrors.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, errors.WithStack(&mixerrors.ErrNotFound{Type: "queue", Value: queue})
		}
		return nil, err
	}
	doc := &QueueDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.Wrapf(err, "corrupt document for queue %q", queue)
	}
	return doc, nil
}

func (repo *StoreQueueRepository) Save(ctx context.Context, queue string, doc *QueueDocument, expectedGeneration int64) (int64, error) {
	next := *doc
	next.Generation = expectedGeneration + 1
	data, err := json.Marshal(&next)
	if err != nil {
		return 0, errors.Wrapf(err, "marshalling document for queue %q", queue)
	}

	// The generation check and the write run inside the store's Update so
	// that writers sharing a store instance are serialised, which makes the
	// check a true compare-and-swap. Remote stores perform an honest
	// read-then-write instead; a race slipping through that window is caught
	// by the same check on the next writer, which is the acknowledged
	// consistency model of this system.
	err = objectstore.Update(ctx, repo.store, repo.key(queue), func(current []byte, exists bool) ([]byte, error) {
		var storedGeneration int64
		if exists {
			stored := &QueueDocument{}
			if err := json.Unmarshal(current, stored); err != nil {
				return nil, errors.Wrapf(err, "corrupt document for queue %q", queue)
			}
			storedGeneration = stored.Generation
		}
		if storedGeneration != expectedGeneration {
			return nil, errors.WithStack(&mixerrors.ErrConcurrencyConflict{
				Queue:              queue,
				ExpectedGeneration: expectedGeneration,
				StoredGeneration:   storedGeneration,
			})
		}
		return data, nil
	})
	if err != nil {
		return 0, err
	}
	doc.Generation = next.Generation
	return next.Generation, nil
}

func (repo *StoreQueueRepository) Enqueue(ctx context.Context, queue string, entries []JobEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return repo.Update(ctx, queue, func(doc *QueueDocument) error {
		doc.Entries = append(doc.Entries, entries...)
		return nil
	})
}

func (repo *StoreQueueRepository) SetRunning(ctx context.Context, queue string, running bool) error {
	return repo.Update(ctx, queue, func(doc *QueueDocument) error {
		doc.Running = running
		return nil
	})
}

func (repo *StoreQueueRepository) Update(ctx context.Context, queue string, mutate func(doc *QueueDocument) error) error {
	err := retry.Do(
		func() error {
			doc, err := repo.Load(ctx, queue)
			if err != nil {
				var notFound *mixerrors.ErrNotFound
				if !errors.As(err, &notFound) {
					return err
				}
				doc = NewQueueDocument()
			}
			expectedGeneration := doc.Generation
			if err := mutate(doc); err != nil {
				return err
			}
			_, err = repo.Save(ctx, queue, doc, expectedGeneration)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(repo.attempts),
		retry.Delay(repo.backoff),
		retry.MaxJitter(repo.backoff),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(IsConcurrencyConflict),
		retry.LastErrorOnly(true),
	)
	if IsConcurrencyConflict(err) {
		return errors.WithStack(&mixerrors.ErrQueueBusy{Queue: queue, Attempts: int(repo.attempts)})
	}
	return err
}

// IsConcurrencyConflict reports whether err is a lost generation race,
// looking through any wrapping.
func IsConcurrencyConflict(err error) bool {
	var conflict *mixerrors.ErrConcurrencyConflict
	return errors.As(err, &conflict)
}
