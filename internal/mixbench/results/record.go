// Package results associates training outputs in object storage with the
// benchmark entries that requested them and renders them as tabular reports.
// The training collaborator does not embed the originating benchmark id in
// its output, so association is a best-effort timestamp heuristic; ambiguous
// matches are reported, never silently resolved.
package results

import (
	"encoding/json"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SummaryObjectName is the file the trainer writes at the end of each run,
// inside a directory named after the run's start timestamp.
const SummaryObjectName = "model_summary.json"

// summaryTimestampLayout is the directory-name timestamp format chosen by the
// training collaborator. Timestamps are in UTC.
const summaryTimestampLayout = "20060102_150405"

// ResultRecord is one row of the collected report: the identity of the
// benchmark entry it was matched to, the trainer's fit and business metrics,
// and where the summary came from.
type ResultRecord struct {
	BenchmarkId string `json:"benchmarkId"`
	VariantName string `json:"variantName"`
	TestType    string `json:"testType"`

	RSquaredTrain float64 `json:"rSquaredTrain"`
	RSquaredTest  float64 `json:"rSquaredTest"`
	NRMSE         float64 `json:"nrmse"`
	DecompRSSD    float64 `json:"decompRssd"`
	MAPE          float64 `json:"mape"`

	TotalSpend    float64 `json:"totalSpend"`
	TotalResponse float64 `json:"totalResponse"`
	ROI           float64 `json:"roi"`

	RunId           string  `json:"runId"`
	DurationSeconds float64 `json:"durationSeconds"`
	Iterations      int     `json:"iterations"`
	Trials          int     `json:"trials"`

	Revision   string    `json:"revision"`
	Country    string    `json:"country"`
	SourcePath string    `json:"sourcePath"`
	ResultTime time.Time `json:"resultTime"`
}

// modelSummary mirrors the summary document the trainer writes. Only the
// fields this system consumes are declared; the trainer adds more.
type modelSummary struct {
	RunId       string `json:"run_id"`
	VariantName string `json:"variant_name"`
	TestType    string `json:"test_type"`
	Metrics     struct {
		RSquaredTrain float64 `json:"rsq_train"`
		RSquaredTest  float64 `json:"rsq_test"`
		NRMSE         float64 `json:"nrmse"`
		DecompRSSD    float64 `json:"decomp_rssd"`
		MAPE          float64 `json:"mape"`
		TotalSpend    float64 `json:"total_spend"`
		TotalResponse float64 `json:"total_response"`
		ROI           float64 `json:"roi"`
	} `json:"metrics"`
	Execution struct {
		DurationSeconds float64 `json:"duration_seconds"`
		Iterations      int     `json:"iterations"`
		Trials          int     `json:"trials"`
	} `json:"execution"`
}

func parseSummary(data []byte) (*modelSummary, error) {
	summary := &modelSummary{}
	if err := json.Unmarshal(data, summary); err != nil {
		return nil, errors.Wrap(err, "malformed model summary")
	}
	if summary.VariantName == "" {
		return nil, errors.New("model summary has no variant_name")
	}
	return summary, nil
}

// summaryLocation is the part of a summary's identity encoded in its storage
// key rather than its content.
type summaryLocation struct {
	Revision  string
	Country   string
	Timestamp time.Time
	Key       string
}

// Dir returns the run directory holding the summary and its sibling
// artifacts.
func (l summaryLocation) Dir() string {
	return path.Dir(l.Key)
}

// parseSummaryKey interprets key as
// <root>/<revision>/<country>/<YYYYMMDD_HHMMSS>/model_summary.json.
// Keys of any other shape, including sibling artifacts in the same run
// directory, return false.
func parseSummaryKey(root, key string) (summaryLocation, bool) {
	relative := strings.TrimPrefix(strings.TrimPrefix(key, root), "/")
	parts := strings.Split(relative, "/")
	if len(parts) != 4 || parts[3] != SummaryObjectName {
		return summaryLocation{}, false
	}
	timestamp, err := time.ParseInLocation(summaryTimestampLayout, parts[2], time.UTC)
	if err != nil {
		return summaryLocation{}, false
	}
	return summaryLocation{
		Revision:  parts[0],
		Country:   parts[1],
		Timestamp: timestamp,
		Key:       key,
	}, true
}

func newResultRecord(benchmarkId string, summary *modelSummary, location summaryLocation) ResultRecord {
	return ResultRecord{
		BenchmarkId:     benchmarkId,
		VariantName:     summary.VariantName,
		TestType:        summary.TestType,
		RSquaredTrain:   summary.Metrics.RSquaredTrain,
		RSquaredTest:    summary.Metrics.RSquaredTest,
		NRMSE:           summary.Metrics.NRMSE,
		DecompRSSD:      summary.Metrics.DecompRSSD,
		MAPE:            summary.Metrics.MAPE,
		TotalSpend:      summary.Metrics.TotalSpend,
		TotalResponse:   summary.Metrics.TotalResponse,
		ROI:             summary.Metrics.ROI,
		RunId:           summary.RunId,
		DurationSeconds: summary.Execution.DurationSeconds,
		Iterations:      summary.Execution.Iterations,
		Trials:          summary.Execution.Trials,
		Revision:        location.Revision,
		Country:         location.Country,
		SourcePath:      location.Key,
		ResultTime:      location.Timestamp,
	}
}

// Locations returns the distinct run directories the records came from, in
// lexical order. Powers the CLI's results location command.
func Locations(records []ResultRecord) []string {
	seen := map[string]bool{}
	dirs := make([]string, 0, len(records))
	for _, record := range records {
		dir := path.Dir(record.SourcePath)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs
}
