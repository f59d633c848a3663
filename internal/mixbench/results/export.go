package results

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	parquetWriter "github.com/xitongsys/parquet-go/writer"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
)

type ExportFormat string

const (
	FormatCSV     ExportFormat = "csv"
	FormatParquet ExportFormat = "parquet"
)

// ParseExportFormat validates a user-supplied format name.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", errors.WithStack(&mixerrors.ErrInvalidConfig{
			Field:   "export-format",
			Value:   s,
			Message: `must be "csv" or "parquet"`,
		})
	}
}

// Export writes records to w in the given format.
func Export(w io.Writer, format ExportFormat, records []ResultRecord) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatParquet:
		return WriteParquet(w, records)
	default:
		return errors.Errorf("unknown export format %q", format)
	}
}

var csvHeader = []string{
	"benchmark_id", "variant_name", "test_type",
	"rsq_train", "rsq_test", "nrmse", "decomp_rssd", "mape",
	"total_spend", "total_response", "roi",
	"run_id", "duration_seconds", "iterations", "trials",
	"revision", "country", "source_path", "result_time",
}

func WriteCSV(w io.Writer, records []ResultRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, record := range records {
		row := []string{
			record.BenchmarkId, record.VariantName, record.TestType,
			formatFloat(record.RSquaredTrain), formatFloat(record.RSquaredTest),
			formatFloat(record.NRMSE), formatFloat(record.DecompRSSD), formatFloat(record.MAPE),
			formatFloat(record.TotalSpend), formatFloat(record.TotalResponse), formatFloat(record.ROI),
			record.RunId, formatFloat(record.DurationSeconds),
			strconv.Itoa(record.Iterations), strconv.Itoa(record.Trials),
			record.Revision, record.Country, record.SourcePath,
			record.ResultTime.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if err := writer.Write(row); err != nil {
			return errors.Wrap(err, "writing csv row")
		}
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "flushing csv")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type resultRow struct {
	BenchmarkId     string  `parquet:"name=benchmark_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	VariantName     string  `parquet:"name=variant_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	TestType        string  `parquet:"name=test_type, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	RSquaredTrain   float64 `parquet:"name=rsq_train, type=DOUBLE"`
	RSquaredTest    float64 `parquet:"name=rsq_test, type=DOUBLE"`
	NRMSE           float64 `parquet:"name=nrmse, type=DOUBLE"`
	DecompRSSD      float64 `parquet:"name=decomp_rssd, type=DOUBLE"`
	MAPE            float64 `parquet:"name=mape, type=DOUBLE"`
	TotalSpend      float64 `parquet:"name=total_spend, type=DOUBLE"`
	TotalResponse   float64 `parquet:"name=total_response, type=DOUBLE"`
	ROI             float64 `parquet:"name=roi, type=DOUBLE"`
	RunId           string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	DurationSeconds float64 `parquet:"name=duration_seconds, type=DOUBLE"`
	Iterations      int     `parquet:"name=iterations, type=INT32"`
	Trials          int     `parquet:"name=trials, type=INT32"`
	Revision        string  `parquet:"name=revision, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Country         string  `parquet:"name=country, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SourcePath      string  `parquet:"name=source_path, type=BYTE_ARRAY, convertedtype=UTF8"`
	ResultTs        int64   `parquet:"name=result_ts, type=INT64"`
}

func WriteParquet(w io.Writer, records []ResultRecord) error {
	pw, err := parquetWriter.NewParquetWriterFromWriter(w, new(resultRow), 1)
	if err != nil {
		return errors.Wrap(err, "creating parquet writer")
	}
	for _, record := range records {
		row := resultRow{
			BenchmarkId:     record.BenchmarkId,
			VariantName:     record.VariantName,
			TestType:        record.TestType,
			RSquaredTrain:   record.RSquaredTrain,
			RSquaredTest:    record.RSquaredTest,
			NRMSE:           record.NRMSE,
			DecompRSSD:      record.DecompRSSD,
			MAPE:            record.MAPE,
			TotalSpend:      record.TotalSpend,
			TotalResponse:   record.TotalResponse,
			ROI:             record.ROI,
			RunId:           record.RunId,
			DurationSeconds: record.DurationSeconds,
			Iterations:      record.Iterations,
			Trials:          record.Trials,
			Revision:        record.Revision,
			Country:         record.Country,
			SourcePath:      record.SourcePath,
			ResultTs:        record.ResultTime.Unix(),
		}
		if err := pw.Write(row); err != nil {
			return errors.Wrap(err, "writing parquet row")
		}
	}
	return errors.Wrap(pw.WriteStop(), "closing parquet writer")
}

// WriteTable renders records as the aligned listing printed by the CLI.
func WriteTable(w io.Writer, records []ResultRecord) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Variant", "Test", "Rsq Train", "Rsq Test", "NRMSE", "MAPE", "ROI", "Run Id", "Result Time"})
	for _, record := range records {
		table.Append([]string{
			record.VariantName,
			record.TestType,
			strconv.FormatFloat(record.RSquaredTrain, 'f', 4, 64),
			strconv.FormatFloat(record.RSquaredTest, 'f', 4, 64),
			strconv.FormatFloat(record.NRMSE, 'f', 4, 64),
			strconv.FormatFloat(record.MAPE, 'f', 4, 64),
			strconv.FormatFloat(record.ROI, 'f', 2, 64),
			record.RunId,
			record.ResultTime.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
}
