// Package dispatch implements the tick: the single unit of dispatch work
// invoked by the periodic trigger, the event trigger or a manual call. Any
// number of ticks may race against the same queue from different machines;
// the document generation compare-and-swap decides which one leases an entry.
// A tick keeps no state of its own, so every invocation is restart safe.
package dispatch

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
	"github.com/mixbenchproject/mixbench/internal/mixbench/configuration"
	"github.com/mixbenchproject/mixbench/internal/mixbench/launcher"
	"github.com/mixbenchproject/mixbench/internal/mixbench/metrics"
	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
)

const (
	DefaultSafeLag       = 10 * time.Second
	DefaultLeaseAttempts = 3
)

type OutcomeKind string

const (
	// OutcomeNoOp: the queue is paused, missing, or has no PENDING entry.
	OutcomeNoOp OutcomeKind = "noop"
	// OutcomeDispatched: an entry was leased and its launch succeeded.
	OutcomeDispatched OutcomeKind = "dispatched"
	// OutcomeLeaseLost: every lease attempt lost the generation race. Safe to
	// ignore; no job was launched twice, at worst this tick was wasted.
	OutcomeLeaseLost OutcomeKind = "lease_lost"
	// OutcomeLauncherFailed: an entry was leased but the platform rejected or
	// failed the launch. The entry is marked FAILED and is not retried.
	OutcomeLauncherFailed OutcomeKind = "launcher_failed"
)

// TickOutcome describes what a single tick did.
type TickOutcome struct {
	Kind         OutcomeKind `json:"kind"`
	JobId        string      `json:"jobId,omitempty"`
	ExecutionRef string      `json:"executionRef,omitempty"`
	// Why the tick was a no-op, when it was one.
	Reason string `json:"reason,omitempty"`
	// The launch failure for OutcomeLauncherFailed, or a finalisation problem
	// left behind for reconciliation to repair.
	Err error `json:"-"`
}

type Dispatcher struct {
	repo          repository.QueueRepository
	launcher      launcher.Launcher
	prober        launcher.StatusProber
	clock         clock.PassiveClock
	safeLag       time.Duration
	leaseAttempts uint
	backoff       time.Duration
	metrics       *metrics.Metrics
	log           *log.Entry
}

func NewDispatcher(repo repository.QueueRepository, launch launcher.Launcher, config configuration.DispatchConfig) *Dispatcher {
	safeLag := config.SafeLag
	if safeLag <= 0 {
		safeLag = DefaultSafeLag
	}
	leaseAttempts := config.LeaseAttempts
	if leaseAttempts < 1 {
		leaseAttempts = DefaultLeaseAttempts
	}
	return &Dispatcher{
		repo:          repo,
		launcher:      launch,
		clock:         clock.RealClock{},
		safeLag:       safeLag,
		leaseAttempts: uint(leaseAttempts),
		backoff:       repository.DefaultCasBackoff,
		log:           log.WithField("service", "Dispatcher"),
	}
}

// WithProber enables reconciliation of RUNNING entries the platform lost.
func (d *Dispatcher) WithProber(prober launcher.StatusProber) *Dispatcher {
	d.prober = prober
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

func (d *Dispatcher) WithClock(c clock.PassiveClock) *Dispatcher {
	d.clock = c
	return d
}

// lease is the entry a tick exclusively owns after winning the CAS.
type lease struct {
	id     string
	params map[string]interface{}
}

// Tick runs one round of dispatch against queue: select the first PENDING
// entry, lease it through a compare-and-swap on the document generation, and
// launch it. At most one entry is dispatched per tick to bound the blast
// radius against compute quota; callers wanting to drain a queue tick
// repeatedly. The returned error is reserved for storage failures; lost races
// and launch failures are ordinary outcomes.
func (d *Dispatcher) Tick(ctx context.Context, queue string) (*TickOutcome, error) {
	logger := d.log.WithField("queue", queue)

	var leased *lease
	var noop *TickOutcome
	err := retry.Do(
		func() error {
			var err error
			leased, noop, err = d.tryLease(ctx, queue, logger)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(d.leaseAttempts),
		retry.Delay(d.backoff),
		retry.MaxJitter(d.backoff),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(repository.IsConcurrencyConflict),
		retry.LastErrorOnly(true),
	)
	if repository.IsConcurrencyConflict(err) {
		// Another dispatcher kept winning the generation race. No job was
		// launched twice; the next trigger will try again.
		logger.WithField("attempts", d.leaseAttempts).Info("lease lost to concurrent dispatchers")
		return d.record(&TickOutcome{Kind: OutcomeLeaseLost}), nil
	}
	if err != nil {
		return nil, err
	}
	if noop != nil {
		return d.record(noop), nil
	}

	// The CAS succeeded: this tick now exclusively owns the leased entry.
	executionRef, launchErr := d.launcher.Launch(ctx, leased.params)
	if launchErr != nil {
		if d.metrics != nil {
			d.metrics.RecordLaunch(metrics.LaunchResultFailure)
		}
		logger.WithError(launchErr).WithField("jobId", leased.id).Warn("launch failed, marking entry FAILED")
		outcome := &TickOutcome{Kind: OutcomeLauncherFailed, JobId: leased.id, Err: launchErr}
		d.finalize(ctx, queue, leased.id, logger, func(entry *repository.JobEntry) {
			entry.Status = repository.JobFailed
			entry.Error = launchErr.Error()
		})
		return d.record(outcome), nil
	}

	if d.metrics != nil {
		d.metrics.RecordLaunch(metrics.LaunchResultSuccess)
	}
	outcome := &TickOutcome{Kind: OutcomeDispatched, JobId: leased.id, ExecutionRef: executionRef}
	outcome.Err = d.finalize(ctx, queue, leased.id, logger, func(entry *repository.JobEntry) {
		entry.Status = repository.JobRunning
		entry.ExecutionRef = executionRef
		launchedAt := d.clock.Now()
		entry.LeasedAt = &launchedAt
	})
	logger.WithField("jobId", leased.id).WithField("executionRef", executionRef).Info("dispatched")
	return d.record(outcome), nil
}

// tryLease performs one load-reconcile-select-save round. It returns the
// acquired lease, or a no-op outcome, or an error; a concurrency conflict
// error tells the caller to reload and try the whole round again.
func (d *Dispatcher) tryLease(ctx context.Context, queue string, logger *log.Entry) (*lease, *TickOutcome, error) {
	doc, err := d.repo.Load(ctx, queue)
	if err != nil {
		var notFound *mixerrors.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, &TickOutcome{Kind: OutcomeNoOp, Reason: "queue does not exist"}, nil
		}
		return nil, nil, err
	}
	if d.metrics != nil {
		d.metrics.RecordPendingEntries(queue, doc.CountsByStatus()[repository.JobPending])
	}

	if !doc.Running {
		return nil, &TickOutcome{Kind: OutcomeNoOp, Reason: "queue is paused"}, nil
	}

	expectedGeneration := doc.Generation
	repaired := d.reconcile(ctx, doc, logger)

	index := doc.NextPendingIndex()
	if index < 0 {
		if repaired {
			// Nothing to dispatch, but persist the repairs. A lost race here
			// just means another dispatcher got there first.
			if _, err := d.repo.Save(ctx, queue, doc, expectedGeneration); err != nil {
				if repository.IsConcurrencyConflict(err) {
					d.recordConflict()
				}
				return nil, nil, err
			}
		}
		return nil, &TickOutcome{Kind: OutcomeNoOp, Reason: "no pending entries"}, nil
	}

	entry := &doc.Entries[index]
	entry.Status = repository.JobLeasing
	entry.LeaseAttempts++
	leasedAt := d.clock.Now()
	entry.LeasedAt = &leasedAt

	if _, err := d.repo.Save(ctx, queue, doc, expectedGeneration); err != nil {
		if repository.IsConcurrencyConflict(err) {
			d.recordConflict()
		}
		return nil, nil, err
	}
	return &lease{id: entry.Id, params: entry.Params}, nil, nil
}

// reconcile repairs entries abandoned mid-dispatch. A LEASING entry older
// than the safe-lag window was stranded by a dispatcher that crashed between
// lease and finalisation; it goes back to PENDING, keeping its lease attempt
// count. A RUNNING entry older than the window whose execution the platform
// does not recognise is marked FAILED, but only when a prober is configured.
// Entries inside the window are never touched: the platform's status
// reporting is eventually consistent and a just-launched run may not be
// visible yet.
func (d *Dispatcher) reconcile(ctx context.Context, doc *repository.QueueDocument, logger *log.Entry) bool {
	repaired := false
	for i := range doc.Entries {
		entry := &doc.Entries[i]
		if entry.LeasedAt == nil || d.clock.Since(*entry.LeasedAt) <= d.safeLag {
			continue
		}
		switch entry.Status {
		case repository.JobLeasing:
			logger.WithField("jobId", entry.Id).Warn("repairing entry stranded in LEASING")
			entry.Status = repository.JobPending
			repaired = true
		case repository.JobRunning:
			if d.prober == nil {
				continue
			}
			state, err := d.prober.Probe(ctx, entry.ExecutionRef)
			if err != nil {
				logger.WithError(err).WithField("jobId", entry.Id).Warn("status probe failed")
				continue
			}
			if state == launcher.RunStateUnknown {
				logger.WithField("jobId", entry.Id).WithField("executionRef", entry.ExecutionRef).
					Warn("platform does not recognise execution, marking entry FAILED")
				entry.Status = repository.JobFailed
				entry.Error = "execution not recognised by the compute platform"
				repaired = true
			}
		}
	}
	return repaired
}

// finalize records the result of a launch on the leased entry. Other
// dispatchers cannot touch an owned entry, but they can bump the document
// generation, so this retries through the repository's bounded update. If
// even that loses every race the entry stays LEASING and reconciliation
// repairs it after the safe-lag window.
func (d *Dispatcher) finalize(ctx context.Context, queue string, jobId string, logger *log.Entry, mutate func(entry *repository.JobEntry)) error {
	err := d.repo.Update(ctx, queue, func(doc *repository.QueueDocument) error {
		index := doc.EntryIndex(jobId)
		if index < 0 {
			return errors.Errorf("entry %s disappeared from queue %s before finalisation", jobId, queue)
		}
		mutate(&doc.Entries[index])
		return nil
	})
	if err != nil {
		logger.WithError(err).WithField("jobId", jobId).
			Error("could not finalise dispatched entry, leaving it for reconciliation")
	}
	return err
}

func (d *Dispatcher) record(outcome *TickOutcome) *TickOutcome {
	if d.metrics != nil {
		d.metrics.RecordTickOutcome(string(outcome.Kind))
	}
	return outcome
}

func (d *Dispatcher) recordConflict() {
	if d.metrics != nil {
		d.metrics.RecordCasConflict("lease")
	}
}
