package mixbenchctl

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mixbenchproject/mixbench/internal/mixbench/results"
)

// CollectResults matches stored summaries to the entries of benchmarkId,
// marks completed entries and prints the collected metric records. With a
// format set the records are also exported to outPath.
func (a *App) CollectResults(ctx context.Context, queue string, benchmarkId string, format string, outPath string) error {
	var exportFormat results.ExportFormat
	if format != "" {
		parsed, err := results.ParseExportFormat(format)
		if err != nil {
			return err
		}
		exportFormat = parsed
	}

	collection, err := a.collect(ctx, queue, benchmarkId)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "Collected %d results for benchmark %s\n", len(collection.Records), collection.BenchmarkId)
	fmt.Fprintf(a.Out, "Window %s to %s\n",
		collection.WindowStart.UTC().Format(time.RFC3339), collection.WindowEnd.UTC().Format(time.RFC3339))
	results.WriteTable(a.Out, collection.Records)
	for _, collision := range collection.Collisions {
		fmt.Fprintf(a.Out, "Collision on %s/%s, left unresolved: %s\n",
			collision.VariantName, collision.TestType, strings.Join(collision.Paths, ", "))
	}
	if collection.Problems != nil {
		fmt.Fprintf(a.Out, "Problems:\n%s\n", collection.Problems)
	}

	if format == "" {
		return nil
	}
	if outPath == "" {
		outPath = fmt.Sprintf("%s.%s", benchmarkId, exportFormat)
	}
	file, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "creating %s", outPath)
	}
	if err := results.Export(file, exportFormat, collection.Records); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", outPath)
	}
	fmt.Fprintf(a.Out, "Wrote %d records to %s\n", len(collection.Records), outPath)
	return nil
}

// ListResults prints the collection state of benchmarkId straight from the
// queue document, without scanning the result store: which entries have a
// result path recorded and which are still outstanding.
func (a *App) ListResults(ctx context.Context, queue string, benchmarkId string) error {
	queue = a.queueName(queue)
	repo, err := a.queueRepository()
	if err != nil {
		return err
	}
	doc, err := repo.Load(ctx, queue)
	if err != nil {
		return err
	}

	collected, outstanding := 0, 0
	for _, entry := range doc.Entries {
		if entry.BenchmarkId() != benchmarkId {
			continue
		}
		if entry.ResultPath != "" {
			collected++
		} else {
			outstanding++
		}
	}
	fmt.Fprintf(a.Out, "Benchmark %s: %d collected, %d outstanding\n", benchmarkId, collected, outstanding)
	for _, entry := range doc.Entries {
		if entry.BenchmarkId() != benchmarkId {
			continue
		}
		location := entry.ResultPath
		if location == "" {
			location = "-"
		}
		fmt.Fprintf(a.Out, "  %-10s %s/%s: %s\n", entry.Status, entry.VariantName(), entry.TestType(), location)
	}
	return nil
}

// ResultLocations prints the distinct run directories holding benchmarkId's
// collected results, one per line, for feeding into downstream tooling.
func (a *App) ResultLocations(ctx context.Context, queue string, benchmarkId string) error {
	collection, err := a.collect(ctx, queue, benchmarkId)
	if err != nil {
		return err
	}
	for _, location := range results.Locations(collection.Records) {
		fmt.Fprintln(a.Out, location)
	}
	return nil
}

// collect always runs against the store directly. Collection mutates the
// queue document, so it needs store access either way, and it is cheap to
// repeat thanks to the summary cache.
func (a *App) collect(ctx context.Context, queue string, benchmarkId string) (*results.Collection, error) {
	queue = a.queueName(queue)
	collector, err := a.resultCollector()
	if err != nil {
		return nil, err
	}
	return collector.Collect(ctx, queue, benchmarkId)
}
