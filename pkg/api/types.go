// Package api defines the JSON wire types of the mixbench HTTP API. The
// server and pkg/client both build against these; external schedulers can
// too.
package api

// TickResponse reports what one dispatch round did.
type TickResponse struct {
	// One of "noop", "dispatched", "lease_lost", "launcher_failed".
	Kind         string `json:"kind"`
	JobId        string `json:"jobId,omitempty"`
	ExecutionRef string `json:"executionRef,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SubmitResponse acknowledges a benchmark submission. The request body is the
// benchmark spec itself, in YAML or JSON; queue, dryRun and testRun arrive as
// query parameters.
type SubmitResponse struct {
	BenchmarkId    string   `json:"benchmarkId"`
	Queue          string   `json:"queue"`
	VariantNames   []string `json:"variantNames"`
	EntryIds       []string `json:"entryIds,omitempty"`
	GeneratedTotal int      `json:"generatedTotal"`
	Truncated      bool     `json:"truncated"`
	DryRun         bool     `json:"dryRun"`
}

type SetRunningRequest struct {
	Running bool `json:"running"`
}

// EntryStatus is the wire view of one queue entry. Training parameters are
// elided; identity and lifecycle fields are enough for operational displays.
type EntryStatus struct {
	Id            string `json:"id"`
	Status        string `json:"status"`
	BenchmarkId   string `json:"benchmarkId,omitempty"`
	VariantName   string `json:"variantName,omitempty"`
	TestType      string `json:"testType,omitempty"`
	LeaseAttempts int    `json:"leaseAttempts"`
	ExecutionRef  string `json:"executionRef,omitempty"`
	ResultPath    string `json:"resultPath,omitempty"`
	Error         string `json:"error,omitempty"`
}

type QueueStatus struct {
	Queue      string         `json:"queue"`
	Generation int64          `json:"generation"`
	Running    bool           `json:"running"`
	Counts     map[string]int `json:"counts"`
	Entries    []EntryStatus  `json:"entries"`
}

type ErrorResponse struct {
	Error       string `json:"error"`
	Remediation string `json:"remediation,omitempty"`
}
