// Package trigger drives the dispatcher without an operator in the loop.
//
// Two sources are provided: a periodic ticker for deployments that poll, and
// a NATS subscription for deployments where the training side publishes an
// event whenever capacity frees up. Both funnel into Dispatcher.Tick and race
// freely with manual HTTP ticks; the queue document's generation check keeps
// that safe.
package trigger

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mixbenchproject/mixbench/internal/mixbench/dispatch"
)

// Ticker is the dispatch surface the triggers drive.
type Ticker interface {
	Tick(ctx context.Context, queue string) (*dispatch.TickOutcome, error)
}

// PeriodicTicker ticks one queue on a fixed interval.
type PeriodicTicker struct {
	ticker   Ticker
	queue    string
	interval time.Duration
	clock    clock.WithTicker
	log      *log.Entry
}

func NewPeriodicTicker(ticker Ticker, queue string, interval time.Duration) *PeriodicTicker {
	return &PeriodicTicker{
		ticker:   ticker,
		queue:    queue,
		interval: interval,
		clock:    clock.RealClock{},
		log:      log.WithField("service", "PeriodicTicker"),
	}
}

// WithClock replaces the wall clock, for tests.
func (t *PeriodicTicker) WithClock(c clock.WithTicker) *PeriodicTicker {
	t.clock = c
	return t
}

// Run ticks the queue every interval until the context is cancelled. Tick
// failures are logged and the loop carries on; the next interval retries
// naturally.
func (t *PeriodicTicker) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.interval)
	t.log.Infof("will tick queue %s every %s", t.queue, t.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			outcome, err := t.ticker.Tick(ctx, t.queue)
			if err != nil {
				t.log.WithError(err).Warnf("periodic tick of queue %s failed", t.queue)
				continue
			}
			logOutcome(t.log, t.queue, outcome)
		}
	}
}

func logOutcome(logger *log.Entry, queue string, outcome *dispatch.TickOutcome) {
	switch outcome.Kind {
	case dispatch.OutcomeDispatched:
		logger.Infof("dispatched %s from queue %s as %s", outcome.JobId, queue, outcome.ExecutionRef)
	case dispatch.OutcomeLauncherFailed:
		logger.WithError(outcome.Err).Warnf("launch of %s from queue %s failed", outcome.JobId, queue)
	case dispatch.OutcomeLeaseLost:
		logger.Infof("lost the lease race on queue %s", queue)
	default:
		logger.Debugf("nothing to do on queue %s: %s", queue, outcome.Reason)
	}
}
