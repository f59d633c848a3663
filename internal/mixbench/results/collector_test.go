package results

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
	"github.com/mixbenchproject/mixbench/internal/common/objectstore"
	"github.com/mixbenchproject/mixbench/internal/mixbench/configuration"
	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
)

const (
	testQueue     = "default"
	testBenchmark = "bench-001"
	testRoot      = "results"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// countingStore counts reads per key so tests can observe memoisation.
type countingStore struct {
	objectstore.Store
	mu   sync.Mutex
	gets map[string]int
}

func newCountingStore() *countingStore {
	return &countingStore{Store: objectstore.NewMemoryStore(), gets: map[string]int{}}
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.gets[key]++
	s.mu.Unlock()
	return s.Store.Get(ctx, key)
}

type collectorFixture struct {
	collector *Collector
	repo      *repository.StoreQueueRepository
	store     *countingStore
	clock     *clocktesting.FakePassiveClock
}

func newCollectorFixture(t *testing.T, entries ...repository.JobEntry) *collectorFixture {
	repo := repository.NewStoreQueueRepository(objectstore.NewMemoryStore(), "mixbench", 3, time.Millisecond)
	if len(entries) > 0 {
		require.NoError(t, repo.Enqueue(context.Background(), testQueue, entries))
	}
	store := newCountingStore()
	fakeClock := clocktesting.NewFakePassiveClock(baseTime.Add(2 * time.Hour))
	collector := NewCollector(store, repo, configuration.ResultsConfig{
		Root:        testRoot,
		WindowSlack: 30 * time.Minute,
		CacheTtl:    5 * time.Minute,
	}).WithClock(fakeClock)
	return &collectorFixture{collector: collector, repo: repo, store: store, clock: fakeClock}
}

func benchmarkEntry(variant, test string, status repository.JobStatus) repository.JobEntry {
	entry := repository.NewJobEntry(map[string]interface{}{
		repository.ParamBenchmarkId: testBenchmark,
		repository.ParamVariantName: variant,
		repository.ParamTestType:    test,
		"n_layers":                  4,
	}, baseTime)
	entry.Status = status
	if status != repository.JobPending {
		leasedAt := baseTime.Add(time.Minute)
		entry.LeasedAt = &leasedAt
	}
	return entry
}

func (f *collectorFixture) putSummary(t *testing.T, timestamp time.Time, variant, test string) string {
	key := fmt.Sprintf("%s/v3.11/de/%s/%s", testRoot, timestamp.UTC().Format("20060102_150405"), SummaryObjectName)
	body := fmt.Sprintf(`{
		"run_id": "run-%s",
		"variant_name": %q,
		"test_type": %q,
		"metrics": {
			"rsq_train": 0.93, "rsq_test": 0.88, "nrmse": 0.041,
			"decomp_rssd": 0.12, "mape": 0.07,
			"total_spend": 120000, "total_response": 340000, "roi": 2.83
		},
		"execution": {"duration_seconds": 5400.5, "iterations": 2000, "trials": 5}
	}`, variant, variant, test)
	require.NoError(t, f.store.Put(context.Background(), key, []byte(body)))
	return key
}

func (f *collectorFixture) loadEntries(t *testing.T) []repository.JobEntry {
	doc, err := f.repo.Load(context.Background(), testQueue)
	require.NoError(t, err)
	return doc.Entries
}

func TestCollectMatchesSummariesToEntries(t *testing.T) {
	f := newCollectorFixture(t,
		benchmarkEntry("layers-4", "train", repository.JobRunning),
		benchmarkEntry("layers-8", "train", repository.JobRunning),
	)
	keyA := f.putSummary(t, baseTime.Add(10*time.Minute), "layers-4", "train")
	f.putSummary(t, baseTime.Add(20*time.Minute), "layers-8", "train")

	collection, err := f.collector.Collect(context.Background(), testQueue, testBenchmark)

	require.NoError(t, err)
	require.NoError(t, collection.Problems)
	require.Len(t, collection.Records, 2)
	assert.Empty(t, collection.Collisions)

	first := collection.Records[0]
	assert.Equal(t, testBenchmark, first.BenchmarkId)
	assert.Equal(t, "layers-4", first.VariantName)
	assert.Equal(t, "train", first.TestType)
	assert.Equal(t, 0.93, first.RSquaredTrain)
	assert.Equal(t, 0.88, first.RSquaredTest)
	assert.Equal(t, 2.83, first.ROI)
	assert.Equal(t, 2000, first.Iterations)
	assert.Equal(t, "v3.11", first.Revision)
	assert.Equal(t, "de", first.Country)
	assert.Equal(t, keyA, first.SourcePath)
	assert.Equal(t, baseTime.Add(10*time.Minute), first.ResultTime)

	// Collection doubles as completion bookkeeping.
	for _, entry := range f.loadEntries(t) {
		assert.Equal(t, repository.JobSucceeded, entry.Status)
		assert.NotEmpty(t, entry.ResultPath)
	}
}

func TestCollectReportsMissingResults(t *testing.T) {
	f := newCollectorFixture(t,
		benchmarkEntry("layers-4", "train", repository.JobRunning),
		benchmarkEntry("layers-8", "train", repository.JobRunning),
	)
	f.putSummary(t, baseTime.Add(10*time.Minute), "layers-4", "train")

	collection, err := f.collector.Collect(context.Background(), testQueue, testBenchmark)

	require.NoError(t, err)
	require.Len(t, collection.Records, 1)

	require.Error(t, collection.Problems)
	var notFound *mixerrors.ErrResultNotFound
	require.ErrorAs(t, collection.Problems, &notFound)
	assert.Equal(t, "layers-8", notFound.VariantName)

	entries := f.loadEntries(t)
	assert.Equal(t, repository.JobSucceeded, entries[0].Status)
	assert.Equal(t, repository.JobRunning, entries[1].Status)
}

func TestCollectReportsCollisionsUnresolved(t *testing.T) {
	f := newCollectorFixture(t, benchmarkEntry("layers-4", "train", repository.JobRunning))
	keyA := f.putSummary(t, baseTime.Add(10*time.Minute), "layers-4", "train")
	keyB := f.putSummary(t, baseTime.Add(25*time.Minute), "layers-4", "train")

	collection, err := f.collector.Collect(context.Background(), testQueue, testBenchmark)

	require.NoError(t, err)
	assert.Empty(t, collection.Records)
	require.Len(t, collection.Collisions, 1)
	assert.Equal(t, "layers-4", collection.Collisions[0].VariantName)
	assert.ElementsMatch(t, []string{keyA, keyB}, collection.Collisions[0].Paths)

	// An ambiguous result never completes the entry.
	assert.Equal(t, repository.JobRunning, f.loadEntries(t)[0].Status)
}

func TestCollectIgnoresSummariesOutsideWindow(t *testing.T) {
	entry := benchmarkEntry("layers-4", "train", repository.JobSucceeded)
	f := newCollectorFixture(t, entry)
	// All entries are terminal, so the window closes half an hour of slack
	// after the last lease. A summary from a later, unrelated run must not
	// be pulled in.
	f.putSummary(t, baseTime.Add(3*time.Hour), "layers-4", "train")

	collection, err := f.collector.Collect(context.Background(), testQueue, testBenchmark)

	require.NoError(t, err)
	assert.Empty(t, collection.Records)
	var notFound *mixerrors.ErrResultNotFound
	assert.ErrorAs(t, collection.Problems, &notFound)
}

func TestCollectUnknownBenchmark(t *testing.T) {
	f := newCollectorFixture(t, benchmarkEntry("layers-4", "train", repository.JobRunning))

	_, err := f.collector.Collect(context.Background(), testQueue, "no-such-benchmark")

	var notFound *mixerrors.ErrNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "benchmark", notFound.Type)
}

func TestCollectSkipsMalformedSummary(t *testing.T) {
	f := newCollectorFixture(t,
		benchmarkEntry("layers-4", "train", repository.JobRunning),
		benchmarkEntry("layers-8", "train", repository.JobRunning),
	)
	f.putSummary(t, baseTime.Add(10*time.Minute), "layers-4", "train")
	badKey := fmt.Sprintf("%s/v3.11/de/%s/%s", testRoot, baseTime.Add(20*time.Minute).Format("20060102_150405"), SummaryObjectName)
	require.NoError(t, f.store.Put(context.Background(), badKey, []byte("not json")))

	collection, err := f.collector.Collect(context.Background(), testQueue, testBenchmark)

	require.NoError(t, err)
	require.Len(t, collection.Records, 1)
	assert.Equal(t, "layers-4", collection.Records[0].VariantName)
	assert.ErrorContains(t, collection.Problems, badKey)
}

func TestCollectMemoisesParsedSummaries(t *testing.T) {
	f := newCollectorFixture(t, benchmarkEntry("layers-4", "train", repository.JobRunning))
	key := f.putSummary(t, baseTime.Add(10*time.Minute), "layers-4", "train")

	_, err := f.collector.Collect(context.Background(), testQueue, testBenchmark)
	require.NoError(t, err)
	_, err = f.collector.Collect(context.Background(), testQueue, testBenchmark)
	require.NoError(t, err)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Equal(t, 1, f.store.gets[key])
}

func TestCollectIsIdempotent(t *testing.T) {
	f := newCollectorFixture(t, benchmarkEntry("layers-4", "train", repository.JobRunning))
	key := f.putSummary(t, baseTime.Add(10*time.Minute), "layers-4", "train")

	first, err := f.collector.Collect(context.Background(), testQueue, testBenchmark)
	require.NoError(t, err)
	second, err := f.collector.Collect(context.Background(), testQueue, testBenchmark)
	require.NoError(t, err)

	assert.Equal(t, first.Records, second.Records)
	entry := f.loadEntries(t)[0]
	assert.Equal(t, repository.JobSucceeded, entry.Status)
	assert.Equal(t, key, entry.ResultPath)
}
