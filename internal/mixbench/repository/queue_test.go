package repository

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := map[string]struct {
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		"pending can be leased":         {JobPending, JobLeasing, true},
		"leasing can start running":     {JobLeasing, JobRunning, true},
		"leasing rolls back to pending": {JobLeasing, JobPending, true},
		"leasing can fail":              {JobLeasing, JobFailed, true},
		"running can succeed":           {JobRunning, JobSucceeded, true},
		"running can fail":              {JobRunning, JobFailed, true},
		"pending cannot run directly":   {JobPending, JobRunning, false},
		"failed is terminal":            {JobFailed, JobPending, false},
		"succeeded is terminal":         {JobSucceeded, JobPending, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to))
		})
	}

	assert.True(t, JobSucceeded.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobLeasing.Terminal())
}

func TestNextPendingIndexIsFifo(t *testing.T) {
	doc := NewQueueDocument()
	assert.Equal(t, -1, doc.NextPendingIndex())

	now := time.Now()
	doc.Entries = []JobEntry{
		{Id: "a", Status: JobSucceeded, CreatedAt: now},
		{Id: "b", Status: JobPending, CreatedAt: now},
		{Id: "c", Status: JobPending, CreatedAt: now},
	}
	assert.Equal(t, 1, doc.NextPendingIndex())

	doc.Entries[1].Status = JobRunning
	assert.Equal(t, 2, doc.NextPendingIndex())
}

func TestPruneTerminal(t *testing.T) {
	doc := NewQueueDocument()
	doc.Entries = []JobEntry{
		{Id: "a", Status: JobSucceeded},
		{Id: "b", Status: JobPending},
		{Id: "c", Status: JobFailed},
		{Id: "d", Status: JobRunning},
	}

	removed := doc.PruneTerminal()

	assert.Equal(t, 2, removed)
	require.Len(t, doc.Entries, 2)
	assert.Equal(t, "b", doc.Entries[0].Id)
	assert.Equal(t, "d", doc.Entries[1].Id)
	assert.Equal(t, 0, doc.PruneTerminal())
}

func TestCountsByStatus(t *testing.T) {
	doc := NewQueueDocument()
	doc.Entries = []JobEntry{
		{Id: "a", Status: JobPending},
		{Id: "b", Status: JobPending},
		{Id: "c", Status: JobFailed},
	}
	counts := doc.CountsByStatus()
	assert.Equal(t, 2, counts[JobPending])
	assert.Equal(t, 1, counts[JobFailed])
	assert.Equal(t, 0, counts[JobRunning])
}

func TestEntryMetadataHelpers(t *testing.T) {
	entry := NewJobEntry(map[string]interface{}{
		ParamBenchmarkId: "bench-20240601-120000-abcd1234",
		ParamVariantName: "adstock:geometric",
		ParamTestType:    "adstock",
		"iterations":     2000,
	}, time.Now())

	assert.NotEmpty(t, entry.Id)
	assert.Equal(t, JobPending, entry.Status)
	assert.Equal(t, "bench-20240601-120000-abcd1234", entry.BenchmarkId())
	assert.Equal(t, "adstock:geometric", entry.VariantName())
	assert.Equal(t, "adstock", entry.TestType())

	bare := JobEntry{Params: map[string]interface{}{}}
	assert.Equal(t, "", bare.BenchmarkId())
}

// The document layout is an external interface: other tooling reads the
// stored JSON directly.
func TestDocumentWireFormat(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	doc := NewQueueDocument()
	doc.Entries = append(doc.Entries, JobEntry{
		Id:        "01hzexample",
		Status:    JobPending,
		Params:    map[string]interface{}{"country": "US"},
		CreatedAt: created,
	})
	doc.Generation = 3
	doc.Running = true

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	parsed := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, float64(3), parsed["generation"])
	assert.Equal(t, true, parsed["running"])

	entries, ok := parsed["entries"].([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]interface{})
	assert.Equal(t, "01hzexample", entry["id"])
	assert.Equal(t, "PENDING", entry["status"])
	assert.Equal(t, "2024-06-01T12:00:00Z", entry["created_at"])
	assert.Equal(t, float64(0), entry["lease_attempts"])
	// Unset optional fields stay off the wire.
	assert.NotContains(t, entry, "leased_at")
	assert.NotContains(t, entry, "result_path")
}
