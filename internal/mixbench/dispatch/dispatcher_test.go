package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
	"github.com/mixbenchproject/mixbench/internal/common/objectstore"
	"github.com/mixbenchproject/mixbench/internal/mixbench/configuration"
	"github.com/mixbenchproject/mixbench/internal/mixbench/launcher"
	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
)

const testQueue = "default"

var testTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	dispatcher *Dispatcher
	repo       *repository.StoreQueueRepository
	launcher   *launcher.FakeLauncher
	clock      *clocktesting.FakePassiveClock
}

func newFixture(responses ...launcher.FakeResponse) *fixture {
	repo := repository.NewStoreQueueRepository(objectstore.NewMemoryStore(), "mixbench", 3, time.Millisecond)
	fake := launcher.NewFakeLauncher(responses...)
	fakeClock := clocktesting.NewFakePassiveClock(testTime)
	dispatcher := NewDispatcher(repo, fake, configuration.DispatchConfig{
		SafeLag:       10 * time.Second,
		LeaseAttempts: 3,
	}).WithProber(fake).WithClock(fakeClock)
	dispatcher.backoff = time.Millisecond
	return &fixture{dispatcher: dispatcher, repo: repo, launcher: fake, clock: fakeClock}
}

func (f *fixture) enqueue(t *testing.T, params ...map[string]interface{}) []repository.JobEntry {
	entries := make([]repository.JobEntry, 0, len(params))
	for _, p := range params {
		entries = append(entries, repository.NewJobEntry(p, f.clock.Now()))
	}
	require.NoError(t, f.repo.Enqueue(context.Background(), testQueue, entries))
	return entries
}

func (f *fixture) load(t *testing.T) *repository.QueueDocument {
	doc, err := f.repo.Load(context.Background(), testQueue)
	require.NoError(t, err)
	return doc
}

func TestTickMissingQueueIsNoOp(t *testing.T) {
	f := newFixture()

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome.Kind)
	assert.Equal(t, "queue does not exist", outcome.Reason)
	assert.Equal(t, 0, f.launcher.CallCount())
}

func TestTickPausedQueueIsNoOp(t *testing.T) {
	f := newFixture()
	f.enqueue(t, map[string]interface{}{"n_layers": 4})
	require.NoError(t, f.repo.SetRunning(context.Background(), testQueue, false))

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome.Kind)
	assert.Equal(t, "queue is paused", outcome.Reason)
	assert.Equal(t, 0, f.launcher.CallCount())
	assert.Equal(t, repository.JobPending, f.load(t).Entries[0].Status)
}

func TestTickEmptyQueueIsNoOp(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.repo.SetRunning(context.Background(), testQueue, true))
	generation := f.load(t).Generation

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome.Kind)
	assert.Equal(t, "no pending entries", outcome.Reason)
	// Nothing to lease and nothing to repair means nothing was written.
	assert.Equal(t, generation, f.load(t).Generation)
}

func TestTickDispatchesFirstPendingEntry(t *testing.T) {
	f := newFixture()
	entries := f.enqueue(t,
		map[string]interface{}{"n_layers": 4},
		map[string]interface{}{"n_layers": 8},
	)

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, outcome.Kind)
	assert.Equal(t, entries[0].Id, outcome.JobId)
	assert.Equal(t, "exec-1", outcome.ExecutionRef)

	doc := f.load(t)
	first := doc.Entries[0]
	assert.Equal(t, repository.JobRunning, first.Status)
	assert.Equal(t, "exec-1", first.ExecutionRef)
	assert.Equal(t, 1, first.LeaseAttempts)
	require.NotNil(t, first.LeasedAt)
	assert.Empty(t, first.ResultPath)
	assert.Equal(t, repository.JobPending, doc.Entries[1].Status)

	require.Equal(t, 1, f.launcher.CallCount())
	assert.EqualValues(t, 4, f.launcher.Calls()[0]["n_layers"])
}

func TestTickMarksEntryFailedWhenLaunchFails(t *testing.T) {
	launchErr := &mixerrors.ErrLauncherFailed{Diagnostic: "403: invalid token"}
	f := newFixture(launcher.FakeResponse{Err: launchErr})
	entries := f.enqueue(t,
		map[string]interface{}{"n_layers": 4},
		map[string]interface{}{"n_layers": 8},
	)

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	require.NoError(t, err)
	assert.Equal(t, OutcomeLauncherFailed, outcome.Kind)
	assert.Equal(t, entries[0].Id, outcome.JobId)
	assert.ErrorContains(t, outcome.Err, "invalid token")

	doc := f.load(t)
	assert.Equal(t, repository.JobFailed, doc.Entries[0].Status)
	assert.Contains(t, doc.Entries[0].Error, "invalid token")

	// A failed entry is out of the rotation; the next tick moves on.
	next, err := f.dispatcher.Tick(context.Background(), testQueue)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, next.Kind)
	assert.Equal(t, entries[1].Id, next.JobId)
	assert.Equal(t, repository.JobFailed, f.load(t).Entries[0].Status)
}

// flakyRepo fails the lease commit with a fabricated lost race a fixed number
// of times before letting it through, as if other dispatchers kept winning.
type flakyRepo struct {
	repository.QueueRepository
	mu       sync.Mutex
	failures int
}

func (r *flakyRepo) Save(ctx context.Context, queue string, doc *repository.QueueDocument, expectedGeneration int64) (int64, error) {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return 0, &mixerrors.ErrConcurrencyConflict{
			Queue:              queue,
			ExpectedGeneration: expectedGeneration,
			StoredGeneration:   expectedGeneration + 1,
		}
	}
	r.mu.Unlock()
	return r.QueueRepository.Save(ctx, queue, doc, expectedGeneration)
}

func TestTickRetriesLostLeaseRaces(t *testing.T) {
	f := newFixture()
	entries := f.enqueue(t, map[string]interface{}{"n_layers": 4})
	f.dispatcher.repo = &flakyRepo{QueueRepository: f.repo, failures: 2}

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, outcome.Kind)
	assert.Equal(t, entries[0].Id, outcome.JobId)

	// The losing rounds never reached the store, so only the winning lease
	// attempt is recorded on the entry.
	doc := f.load(t)
	assert.Equal(t, repository.JobRunning, doc.Entries[0].Status)
	assert.Equal(t, 1, doc.Entries[0].LeaseAttempts)
}

func TestTickGivesUpLeaseAfterExhaustedRetries(t *testing.T) {
	f := newFixture()
	f.enqueue(t, map[string]interface{}{"n_layers": 4})
	f.dispatcher.repo = &flakyRepo{QueueRepository: f.repo, failures: 100}

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	require.NoError(t, err)
	assert.Equal(t, OutcomeLeaseLost, outcome.Kind)
	assert.Equal(t, 0, f.launcher.CallCount())
	assert.Equal(t, repository.JobPending, f.load(t).Entries[0].Status)
}

func TestConcurrentTicksLeaseExclusively(t *testing.T) {
	f := newFixture()
	f.enqueue(t, map[string]interface{}{"n_layers": 4})

	outcomes := make([]*TickOutcome, 8)
	errs := make([]error, len(outcomes))
	wg := sync.WaitGroup{}
	for i := 0; i < len(outcomes); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.dispatcher.Tick(context.Background(), testQueue)
		}(i)
	}
	wg.Wait()

	dispatched := 0
	for i, outcome := range outcomes {
		require.NoError(t, errs[i])
		switch outcome.Kind {
		case OutcomeDispatched:
			dispatched++
		case OutcomeNoOp, OutcomeLeaseLost:
		default:
			t.Fatalf("unexpected outcome %q", outcome.Kind)
		}
	}
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, 1, f.launcher.CallCount())
	assert.Equal(t, repository.JobRunning, f.load(t).Entries[0].Status)
}

func TestTickRepairsEntryStrandedInLeasing(t *testing.T) {
	f := newFixture()
	stranded := repository.NewJobEntry(map[string]interface{}{"n_layers": 4}, testTime.Add(-time.Hour))
	stranded.Status = repository.JobLeasing
	stranded.LeaseAttempts = 1
	leasedAt := testTime.Add(-30 * time.Second)
	stranded.LeasedAt = &leasedAt
	doc := repository.NewQueueDocument()
	doc.Entries = []repository.JobEntry{stranded}
	_, err := f.repo.Save(context.Background(), testQueue, doc, 0)
	require.NoError(t, err)

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	// The repaired entry is immediately eligible and dispatched by the same
	// tick, carrying both lease attempts on its record.
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, outcome.Kind)
	assert.Equal(t, stranded.Id, outcome.JobId)
	entry := f.load(t).Entries[0]
	assert.Equal(t, repository.JobRunning, entry.Status)
	assert.Equal(t, 2, entry.LeaseAttempts)
}

func TestTickLeavesRecentLeaseAlone(t *testing.T) {
	f := newFixture()
	leasing := repository.NewJobEntry(map[string]interface{}{"n_layers": 4}, testTime.Add(-time.Minute))
	leasing.Status = repository.JobLeasing
	leasing.LeaseAttempts = 1
	leasedAt := testTime.Add(-time.Second)
	leasing.LeasedAt = &leasedAt
	doc := repository.NewQueueDocument()
	doc.Entries = []repository.JobEntry{leasing}
	_, err := f.repo.Save(context.Background(), testQueue, doc, 0)
	require.NoError(t, err)

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	// Inside the safe-lag window the leasing dispatcher may still be alive,
	// so the entry is not touched and nothing is dispatched over it.
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome.Kind)
	assert.Equal(t, 0, f.launcher.CallCount())
	reloaded := f.load(t)
	assert.Equal(t, repository.JobLeasing, reloaded.Entries[0].Status)
	assert.Equal(t, int64(1), reloaded.Generation)
}

func TestTickFailsRunningEntryThePlatformLost(t *testing.T) {
	f := newFixture()
	leasedAt := testTime.Add(-time.Minute)
	lost := repository.NewJobEntry(map[string]interface{}{"n_layers": 4}, testTime.Add(-time.Hour))
	lost.Status = repository.JobRunning
	lost.ExecutionRef = "exec-lost"
	lost.LeasedAt = &leasedAt
	alive := repository.NewJobEntry(map[string]interface{}{"n_layers": 8}, testTime.Add(-time.Hour))
	alive.Status = repository.JobRunning
	alive.ExecutionRef = "exec-alive"
	alive.LeasedAt = &leasedAt
	doc := repository.NewQueueDocument()
	doc.Entries = []repository.JobEntry{lost, alive}
	_, err := f.repo.Save(context.Background(), testQueue, doc, 0)
	require.NoError(t, err)
	f.launcher.SetState("exec-alive", launcher.RunStateRegistered)

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome.Kind)
	reloaded := f.load(t)
	assert.Equal(t, repository.JobFailed, reloaded.Entries[0].Status)
	assert.Contains(t, reloaded.Entries[0].Error, "not recognised")
	assert.Equal(t, repository.JobRunning, reloaded.Entries[1].Status)
	// The repair was persisted even though nothing was dispatched.
	assert.Equal(t, int64(2), reloaded.Generation)
}

func TestTickKeepsRunningEntryOnProbeError(t *testing.T) {
	f := newFixture()
	leasedAt := testTime.Add(-time.Minute)
	running := repository.NewJobEntry(map[string]interface{}{"n_layers": 4}, testTime.Add(-time.Hour))
	running.Status = repository.JobRunning
	running.ExecutionRef = "exec-1"
	running.LeasedAt = &leasedAt
	doc := repository.NewQueueDocument()
	doc.Entries = []repository.JobEntry{running}
	_, err := f.repo.Save(context.Background(), testQueue, doc, 0)
	require.NoError(t, err)
	f.launcher.SetProbeError(assert.AnError)

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome.Kind)
	assert.Equal(t, repository.JobRunning, f.load(t).Entries[0].Status)
}

func TestTickWithoutProberLeavesRunningEntries(t *testing.T) {
	f := newFixture()
	f.dispatcher.prober = nil
	leasedAt := testTime.Add(-time.Minute)
	running := repository.NewJobEntry(map[string]interface{}{"n_layers": 4}, testTime.Add(-time.Hour))
	running.Status = repository.JobRunning
	running.ExecutionRef = "exec-1"
	running.LeasedAt = &leasedAt
	doc := repository.NewQueueDocument()
	doc.Entries = []repository.JobEntry{running}
	_, err := f.repo.Save(context.Background(), testQueue, doc, 0)
	require.NoError(t, err)

	outcome, err := f.dispatcher.Tick(context.Background(), testQueue)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome.Kind)
	assert.Equal(t, repository.JobRunning, f.load(t).Entries[0].Status)
}
