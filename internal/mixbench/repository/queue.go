package repository

import (
	"time"

	"github.com/mixbenchproject/mixbench/internal/common/util"
)

// JobStatus is the lifecycle state of a queue entry. The normal path is
// PENDING -> LEASING -> RUNNING -> {SUCCEEDED, FAILED}. LEASING rolls back to
// PENDING when the lease commit loses the generation race, and moves to FAILED
// when the launch call itself fails. FAILED entries are never re-queued
// automatically; the operator re-submits.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobLeasing   JobStatus = "LEASING"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

var validTransitions = map[JobStatus][]JobStatus{
	JobPending: {JobLeasing},
	JobLeasing: {JobRunning, JobPending, JobFailed},
	JobRunning: {JobSucceeded, JobFailed},
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Parameter keys the submitter adds to every entry so that dispatch outcomes
// and collected results can be traced back to the benchmark run they belong
// to. They live alongside the variant's own training parameters.
const (
	ParamBenchmarkId = "benchmark_id"
	ParamVariantName = "variant_name"
	ParamTestType    = "test_type"
)

// JobEntry is one queued compute job. Entries are owned by the queue document
// and are only ever mutated through CAS-guarded document updates.
type JobEntry struct {
	Id     string                 `json:"id"`
	Status JobStatus              `json:"status"`
	Params map[string]interface{} `json:"params"`
	// When the entry was enqueued.
	CreatedAt time.Time `json:"created_at"`
	// When the entry was last leased by a dispatcher. Unset until first leased.
	LeasedAt *time.Time `json:"leased_at,omitempty"`
	// How many times a dispatcher claimed this entry, including claims whose
	// lease commit subsequently lost the generation race.
	LeaseAttempts int `json:"lease_attempts"`
	// Identifier returned by the compute platform for the launched run.
	ExecutionRef string `json:"execution_ref,omitempty"`
	// Where the entry's result artifact was found, filled on completion.
	ResultPath string `json:"result_path,omitempty"`
	// Diagnostic recorded when the entry failed.
	Error string `json:"error,omitempty"`
}

// NewJobEntry returns a PENDING entry with a fresh ULID. ULIDs sort by
// creation time, so entry ids follow enqueue order within a queue.
func NewJobEntry(params map[string]interface{}, createdAt time.Time) JobEntry {
	return JobEntry{
		Id:        util.NewULID(),
		Status:    JobPending,
		Params:    params,
		CreatedAt: createdAt,
	}
}

func (entry *JobEntry) BenchmarkId() string { return stringParam(entry.Params, ParamBenchmarkId) }
func (entry *JobEntry) VariantName() string { return stringParam(entry.Params, ParamVariantName) }
func (entry *JobEntry) TestType() string    { return stringParam(entry.Params, ParamTestType) }

func stringParam(params map[string]interface{}, key string) string {
	if value, ok := params[key].(string); ok {
		return value
	}
	return ""
}

// QueueDocument is the single JSON document holding the whole state of one
// queue. Generation increases by exactly one with every committed mutation and
// is the sole serialisation point between concurrent dispatchers; Running
// gates dispatch without affecting already-launched entries.
type QueueDocument struct {
	Entries    []JobEntry `json:"entries"`
	Generation int64      `json:"generation"`
	Running    bool       `json:"running"`
}

// NewQueueDocument returns the document a queue starts from: no entries,
// generation zero, dispatch enabled.
func NewQueueDocument() *QueueDocument {
	return &QueueDocument{
		Entries:    []JobEntry{},
		Generation: 0,
		Running:    true,
	}
}

// NextPendingIndex returns the index of the first PENDING entry in stored
// order, or -1 if there is none. Dispatch is strictly FIFO.
func (doc *QueueDocument) NextPendingIndex() int {
	for i := range doc.Entries {
		if doc.Entries[i].Status == JobPending {
			return i
		}
	}
	return -1
}

// EntryIndex returns the index of the entry with the given id, or -1.
func (doc *QueueDocument) EntryIndex(id string) int {
	for i := range doc.Entries {
		if doc.Entries[i].Id == id {
			return i
		}
	}
	return -1
}

// CountsByStatus returns how many entries are in each status.
func (doc *QueueDocument) CountsByStatus() map[JobStatus]int {
	counts := map[JobStatus]int{}
	for i := range doc.Entries {
		counts[doc.Entries[i].Status]++
	}
	return counts
}

// PruneTerminal removes SUCCEEDED and FAILED entries, preserving the order of
// the rest, and returns how many were removed. Used by queue cleanup; the
// document itself is never deleted, so generation stays monotonic.
func (doc *QueueDocument) PruneTerminal() int {
	kept := doc.Entries[:0]
	removed := 0
	for _, entry := range doc.Entries {
		if entry.Status.Terminal() {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	doc.Entries = kept
	return removed
}
