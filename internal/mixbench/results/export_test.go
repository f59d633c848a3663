package results

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
)

func sampleRecord() ResultRecord {
	return ResultRecord{
		BenchmarkId:     "bench-001",
		VariantName:     "layers-4",
		TestType:        "train",
		RSquaredTrain:   0.93,
		RSquaredTest:    0.88,
		NRMSE:           0.041,
		DecompRSSD:      0.12,
		MAPE:            0.07,
		TotalSpend:      120000,
		TotalResponse:   340000,
		ROI:             2.83,
		RunId:           "run-layers-4",
		DurationSeconds: 5400.5,
		Iterations:      2000,
		Trials:          5,
		Revision:        "v3.11",
		Country:         "de",
		SourcePath:      "results/v3.11/de/20240601_121000/model_summary.json",
		ResultTime:      time.Date(2024, 6, 1, 12, 10, 0, 0, time.UTC),
	}
}

func TestParseExportFormat(t *testing.T) {
	tests := map[string]struct {
		input string
		want  ExportFormat
		valid bool
	}{
		"csv":     {input: "csv", want: FormatCSV, valid: true},
		"parquet": {input: "parquet", want: FormatParquet, valid: true},
		"unknown": {input: "xlsx", valid: false},
		"empty":   {input: "", valid: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			format, err := ParseExportFormat(tc.input)
			if !tc.valid {
				var invalid *mixerrors.ErrInvalidConfig
				require.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, format)
		})
	}
}

func TestWriteCSV(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteCSV(buf, []ResultRecord{sampleRecord()}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(csvHeader, ","), lines[0])
	assert.Contains(t, lines[1], "bench-001")
	assert.Contains(t, lines[1], "layers-4")
	assert.Contains(t, lines[1], "0.93")
	assert.Contains(t, lines[1], "2024-06-01T12:10:00Z")
}

func TestWriteParquetWritesFramedFile(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteParquet(buf, []ResultRecord{sampleRecord()}))
	// PAR1 magic frames every parquet file.
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("PAR1")))
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("PAR1")))
}

func TestWriteTableListsVariants(t *testing.T) {
	buf := &bytes.Buffer{}
	WriteTable(buf, []ResultRecord{sampleRecord()})
	assert.Contains(t, buf.String(), "layers-4")
	assert.Contains(t, buf.String(), "0.9300")
	assert.Contains(t, buf.String(), "run-layers-4")
}
