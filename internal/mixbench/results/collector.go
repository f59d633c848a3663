package results

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
	"github.com/mixbenchproject/mixbench/internal/common/objectstore"
	"github.com/mixbenchproject/mixbench/internal/mixbench/configuration"
	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
)

const (
	DefaultWindowSlack = time.Hour
	DefaultCacheTtl    = 10 * time.Minute

	// How many summaries are fetched and parsed at once.
	fetchParallelism = 8
)

// Collision records two or more summaries competing for the same expected
// result slot, ordered oldest first. The slot stays unfilled; the operator
// decides which run to trust.
type Collision struct {
	VariantName string   `json:"variantName"`
	TestType    string   `json:"testType"`
	Paths       []string `json:"paths"`
}

// Collection is the outcome of collecting one benchmark's results.
type Collection struct {
	BenchmarkId string         `json:"benchmarkId"`
	Records     []ResultRecord `json:"records"`
	Collisions  []Collision    `json:"collisions,omitempty"`
	// The padded submission window result timestamps were matched against.
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	// Soft failures: entries with no matching summary and summaries that
	// could not be read or parsed. Collection continues past all of them.
	Problems error `json:"-"`
}

// Collector matches summaries under the result root to the entries of a
// benchmark run. Parsed summaries are memoised between collections because
// operators typically re-collect while waiting for stragglers.
type Collector struct {
	store objectstore.Store
	repo  repository.QueueRepository
	root  string
	slack time.Duration
	cache *cache.Cache
	clock clock.PassiveClock
	log   *log.Entry
}

func NewCollector(store objectstore.Store, repo repository.QueueRepository, config configuration.ResultsConfig) *Collector {
	slack := config.WindowSlack
	if slack <= 0 {
		slack = DefaultWindowSlack
	}
	ttl := config.CacheTtl
	if ttl <= 0 {
		ttl = DefaultCacheTtl
	}
	return &Collector{
		store: store,
		repo:  repo,
		root:  config.Root,
		slack: slack,
		cache: cache.New(ttl, ttl),
		clock: clock.RealClock{},
		log:   log.WithField("service", "ResultCollector"),
	}
}

func (c *Collector) WithClock(clk clock.PassiveClock) *Collector {
	c.clock = clk
	return c
}

// Collect associates stored summaries with the entries of benchmarkId in
// queue. Summaries qualify when their path timestamp falls inside the
// benchmark's padded submission window; qualifying summaries are then matched
// to entries by variant name and test type. Matched entries still RUNNING are
// marked SUCCEEDED with their result path. Missing and ambiguous results are
// reported in the returned collection, not raised; the returned error is
// reserved for not being able to collect at all.
func (c *Collector) Collect(ctx context.Context, queue string, benchmarkId string) (*Collection, error) {
	started := c.clock.Now()
	logger := c.log.WithField("benchmarkId", benchmarkId)

	entries, err := c.benchmarkEntries(ctx, queue, benchmarkId)
	if err != nil {
		return nil, err
	}
	windowStart, windowEnd := c.submissionWindow(entries)

	candidates, err := c.listCandidates(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	logger.WithField("candidates", len(candidates)).Debug("summaries inside submission window")

	var problems *multierror.Error
	summaries := make([]*modelSummary, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallelism)
	for i := range candidates {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			summary, err := c.loadSummary(gctx, candidates[i].Key)
			if err != nil {
				// Already logged; reported as a problem after the batch.
				return nil
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type matchKey struct{ variant, test string }
	byKey := map[matchKey][]int{}
	for i, summary := range summaries {
		if summary == nil {
			problems = multierror.Append(problems, errors.Errorf("unreadable summary at %s", candidates[i].Key))
			continue
		}
		key := matchKey{variant: summary.VariantName, test: summary.TestType}
		byKey[key] = append(byKey[key], i)
	}

	collection := &Collection{
		BenchmarkId: benchmarkId,
		Records:     []ResultRecord{},
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}
	missing := 0
	matched := map[string]string{}
	for _, entry := range entries {
		key := matchKey{variant: entry.VariantName(), test: entry.TestType()}
		indices := byKey[key]
		switch len(indices) {
		case 0:
			missing++
			problems = multierror.Append(problems, &mixerrors.ErrResultNotFound{
				BenchmarkId: benchmarkId,
				VariantName: key.variant,
				TestType:    key.test,
			})
		case 1:
			i := indices[0]
			collection.Records = append(collection.Records, newResultRecord(benchmarkId, summaries[i], candidates[i]))
			matched[entry.Id] = candidates[i].Key
		default:
			paths := make([]string, 0, len(indices))
			for _, i := range indices {
				paths = append(paths, candidates[i].Key)
			}
			logger.WithField("variant", key.variant).WithField("paths", paths).
				Warn("multiple summaries match one expected result, leaving it unresolved")
			collection.Collisions = append(collection.Collisions, Collision{
				VariantName: key.variant,
				TestType:    key.test,
				Paths:       paths,
			})
		}
	}

	if err := c.markCollected(ctx, queue, matched); err != nil {
		// The report itself is complete; the status update can be repeated by
		// the next collection.
		logger.WithError(err).Warn("could not mark collected entries SUCCEEDED")
		problems = multierror.Append(problems, err)
	}

	logger.WithField("records", len(collection.Records)).
		WithField("missing", missing).
		WithField("elapsed", c.clock.Since(started)).
		Info("collection finished")
	collection.Problems = problems.ErrorOrNil()
	return collection, nil
}

func (c *Collector) benchmarkEntries(ctx context.Context, queue string, benchmarkId string) ([]repository.JobEntry, error) {
	doc, err := c.repo.Load(ctx, queue)
	if err != nil {
		var notFound *mixerrors.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, errors.WithStack(&mixerrors.ErrNotFound{Type: "benchmark", Value: benchmarkId})
		}
		return nil, err
	}
	entries := []repository.JobEntry{}
	for _, entry := range doc.Entries {
		if entry.BenchmarkId() == benchmarkId {
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return nil, errors.WithStack(&mixerrors.ErrNotFound{Type: "benchmark", Value: benchmarkId})
	}
	return entries, nil
}

// submissionWindow derives the interval trainer-side run timestamps are
// expected to fall into. It opens at the earliest enqueue and closes at the
// last known dispatch activity once every entry is terminal, or at the
// present while any entry is still in flight, padded by the configured slack
// on both sides to absorb platform queueing delay.
func (c *Collector) submissionWindow(entries []repository.JobEntry) (time.Time, time.Time) {
	start := entries[0].CreatedAt
	end := entries[0].CreatedAt
	allTerminal := true
	for _, entry := range entries {
		if entry.CreatedAt.Before(start) {
			start = entry.CreatedAt
		}
		last := entry.CreatedAt
		if entry.LeasedAt != nil {
			last = *entry.LeasedAt
		}
		if last.After(end) {
			end = last
		}
		if !entry.Status.Terminal() {
			allTerminal = false
		}
	}
	if !allTerminal {
		end = c.clock.Now()
	}
	return start.Add(-c.slack), end.Add(c.slack)
}

func (c *Collector) listCandidates(ctx context.Context, windowStart, windowEnd time.Time) ([]summaryLocation, error) {
	infos, err := c.store.List(ctx, c.root)
	if err != nil {
		return nil, errors.Wrapf(err, "listing results under %q", c.root)
	}
	candidates := []summaryLocation{}
	for _, info := range infos {
		location, ok := parseSummaryKey(c.root, info.Key)
		if !ok {
			continue
		}
		if location.Timestamp.Before(windowStart) || location.Timestamp.After(windowEnd) {
			continue
		}
		candidates = append(candidates, location)
	}
	return candidates, nil
}

// loadSummary fetches and parses one summary, memoised by key. Failures are
// soft: the candidate is skipped and reported, the rest of the batch goes on.
func (c *Collector) loadSummary(ctx context.Context, key string) (*modelSummary, error) {
	if cached, found := c.cache.Get(key); found {
		return cached.(*modelSummary), nil
	}
	data, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("could not read summary")
		return nil, err
	}
	summary, err := parseSummary(data)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("could not parse summary")
		return nil, err
	}
	c.cache.Set(key, summary, cache.DefaultExpiration)
	return summary, nil
}

// markCollected moves matched RUNNING entries to SUCCEEDED and records where
// their result was found. Entries already SUCCEEDED just get a missing result
// path backfilled, so re-collection is idempotent.
func (c *Collector) markCollected(ctx context.Context, queue string, matched map[string]string) error {
	if len(matched) == 0 {
		return nil
	}
	return c.repo.Update(ctx, queue, func(doc *repository.QueueDocument) error {
		for id, resultPath := range matched {
			index := doc.EntryIndex(id)
			if index < 0 {
				continue
			}
			entry := &doc.Entries[index]
			if entry.Status == repository.JobRunning {
				entry.Status = repository.JobSucceeded
			}
			if entry.Status == repository.JobSucceeded && entry.ResultPath == "" {
				entry.ResultPath = resultPath
			}
		}
		return nil
	})
}
