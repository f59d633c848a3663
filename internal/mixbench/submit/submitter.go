// Package submit turns a validated benchmark spec into queued job entries:
// expand the spec into variants, stamp each with the benchmark run identity,
// and append them to the queue in one atomic enqueue.
package submit

import (
	"context"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mixbenchproject/mixbench/internal/common/util"
	"github.com/mixbenchproject/mixbench/internal/mixbench/benchmark"
	"github.com/mixbenchproject/mixbench/internal/mixbench/metrics"
	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
)

type Options struct {
	Queue string
	// DryRun expands and reports without touching the queue.
	DryRun bool
	// TestRun submits only the first variant, for cheap end-to-end checks
	// before committing to a full benchmark.
	TestRun bool
}

// Receipt reports what a submission did. With DryRun set, EntryIds is empty
// and Variants describes what would have been enqueued.
type Receipt struct {
	BenchmarkId string              `json:"benchmarkId"`
	Queue       string              `json:"queue"`
	Variants    []benchmark.Variant `json:"variants"`
	EntryIds    []string            `json:"entryIds,omitempty"`
	// Size of the raw expansion before capping and test-run limiting.
	GeneratedTotal int  `json:"generatedTotal"`
	Truncated      bool `json:"truncated"`
	DryRun         bool `json:"dryRun"`
}

type Submitter struct {
	repo    repository.QueueRepository
	clock   clock.PassiveClock
	metrics *metrics.Metrics
	log     *log.Entry
}

func NewSubmitter(repo repository.QueueRepository) *Submitter {
	return &Submitter{
		repo:  repo,
		clock: clock.RealClock{},
		log:   log.WithField("service", "Submitter"),
	}
}

func (s *Submitter) WithClock(clk clock.PassiveClock) *Submitter {
	s.clock = clk
	return s
}

func (s *Submitter) WithMetrics(m *metrics.Metrics) *Submitter {
	s.metrics = m
	return s
}

// Submit expands spec and enqueues one PENDING entry per variant, all stamped
// with a fresh benchmark id. Entries carry the variant's merged training
// parameters plus the identity parameters result collection matches on.
// Spec problems fail before the queue is touched; a queue that stays
// contended through every retry fails with ErrQueueBusy and enqueues
// nothing.
func (s *Submitter) Submit(ctx context.Context, spec *benchmark.BenchmarkSpec, opts Options) (*Receipt, error) {
	variants, report, err := benchmark.Generate(spec)
	if err != nil {
		return nil, err
	}
	if opts.TestRun && len(variants) > 1 {
		variants = variants[:1]
	}

	now := s.clock.Now()
	benchmarkId := benchmark.NewBenchmarkId(now)
	receipt := &Receipt{
		BenchmarkId:    benchmarkId,
		Queue:          opts.Queue,
		Variants:       variants,
		GeneratedTotal: report.GeneratedTotal,
		Truncated:      report.Truncated(),
		DryRun:         opts.DryRun,
	}
	if opts.DryRun {
		return receipt, nil
	}

	entries := make([]repository.JobEntry, 0, len(variants))
	for _, variant := range variants {
		entries = append(entries, repository.NewJobEntry(entryParams(spec, variant, benchmarkId), now))
	}
	if err := s.repo.Enqueue(ctx, opts.Queue, entries); err != nil {
		return nil, err
	}

	receipt.EntryIds = make([]string, 0, len(entries))
	for _, entry := range entries {
		receipt.EntryIds = append(receipt.EntryIds, entry.Id)
	}
	if s.metrics != nil {
		s.metrics.RecordEnqueued(len(entries))
	}
	s.log.WithField("benchmarkId", benchmarkId).WithField("queue", opts.Queue).
		Infof("enqueued %d entries", len(entries))
	return receipt, nil
}

// entryParams assembles the parameter payload handed to the compute job: the
// variant's merged training parameters, the spec's run budget, and the
// identity keys collection matches results on. Budget keys already set by an
// overlay win, so a spec can make iterations itself a test dimension.
func entryParams(spec *benchmark.BenchmarkSpec, variant benchmark.Variant, benchmarkId string) map[string]interface{} {
	params := util.MergeParams(variant.Params, nil)
	if _, ok := params["iterations"]; !ok {
		params["iterations"] = spec.Iterations
	}
	if _, ok := params["trials"]; !ok {
		params["trials"] = spec.Trials
	}
	params[repository.ParamBenchmarkId] = benchmarkId
	params[repository.ParamVariantName] = variant.Name
	params[repository.ParamTestType] = variant.TestType
	return params
}
