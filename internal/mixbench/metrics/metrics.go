package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MixbenchMetricsPrefix = "mixbench_"

type LaunchResult string

const (
	LaunchResultSuccess LaunchResult = "success"
	LaunchResultFailure LaunchResult = "failure"
)

// Metrics collects the dispatch-side counters for one process. Construct it
// once per process; the collectors register themselves with the default
// prometheus registry.
type Metrics struct {
	tickOutcomes    *prometheus.CounterVec
	casConflicts    *prometheus.CounterVec
	enqueuedEntries prometheus.Counter
	launches        *prometheus.CounterVec
	pendingEntries  *prometheus.GaugeVec
}

func NewMetrics(prefix string) *Metrics {
	tickOutcomesOpts := prometheus.CounterOpts{
		Name: prefix + "tick_outcomes",
		Help: "Number of dispatch ticks grouped by outcome",
	}
	casConflictsOpts := prometheus.CounterOpts{
		Name: prefix + "cas_conflicts",
		Help: "Number of lost generation races grouped by operation",
	}
	enqueuedEntriesOpts := prometheus.CounterOpts{
		Name: prefix + "enqueued_entries",
		Help: "Number of job entries enqueued",
	}
	launchesOpts := prometheus.CounterOpts{
		Name: prefix + "launches",
		Help: "Number of launch calls grouped by result",
	}
	pendingEntriesOpts := prometheus.GaugeOpts{
		Name: prefix + "pending_entries",
		Help: "Number of PENDING entries per queue as of the last tick",
	}
	return &Metrics{
		tickOutcomes:    promauto.NewCounterVec(tickOutcomesOpts, []string{"outcome"}),
		casConflicts:    promauto.NewCounterVec(casConflictsOpts, []string{"operation"}),
		enqueuedEntries: promauto.NewCounter(enqueuedEntriesOpts),
		launches:        promauto.NewCounterVec(launchesOpts, []string{"result"}),
		pendingEntries:  promauto.NewGaugeVec(pendingEntriesOpts, []string{"queue"}),
	}
}

func (m *Metrics) RecordTickOutcome(outcome string) {
	m.tickOutcomes.With(map[string]string{"outcome": outcome}).Inc()
}

func (m *Metrics) RecordCasConflict(operation string) {
	m.casConflicts.With(map[string]string{"operation": operation}).Inc()
}

func (m *Metrics) RecordEnqueued(count int) {
	m.enqueuedEntries.Add(float64(count))
}

func (m *Metrics) RecordLaunch(result LaunchResult) {
	m.launches.With(map[string]string{"result": string(result)}).Inc()
}

func (m *Metrics) RecordPendingEntries(queue string, count int) {
	m.pendingEntries.With(map[string]string{"queue": queue}).Set(float64(count))
}
