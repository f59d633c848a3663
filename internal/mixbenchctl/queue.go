package mixbenchctl

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
	"github.com/mixbenchproject/mixbench/pkg/api"
)

// PauseQueue stops dispatch from queue. Entries keep accumulating and
// launched jobs run to completion; only new launches stop.
func (a *App) PauseQueue(ctx context.Context, queue string) error {
	queue = a.queueName(queue)
	if err := a.setRunning(ctx, queue, false); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Paused queue %s\n", queue)
	return nil
}

// ResumeQueue lets dispatch pick entries from queue again.
func (a *App) ResumeQueue(ctx context.Context, queue string) error {
	queue = a.queueName(queue)
	if err := a.setRunning(ctx, queue, true); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Resumed queue %s\n", queue)
	return nil
}

func (a *App) setRunning(ctx context.Context, queue string, running bool) error {
	if a.serverMode() {
		_, err := a.apiClient().SetRunning(ctx, queue, running)
		return err
	}
	repo, err := a.queueRepository()
	if err != nil {
		return err
	}
	return repo.SetRunning(ctx, queue, running)
}

// Status prints the state of queue: the dispatch flag, per-status counts and
// one row per entry in queue order.
func (a *App) Status(ctx context.Context, queue string) error {
	queue = a.queueName(queue)
	status, err := a.queueStatus(ctx, queue)
	if err != nil {
		return err
	}

	flag := "running"
	if !status.Running {
		flag = "paused"
	}
	fmt.Fprintf(a.Out, "Queue %s (%s), generation %d, %d entries\n",
		status.Queue, flag, status.Generation, len(status.Entries))
	fmt.Fprintf(a.Out, "%s\n", formatCounts(status.Counts))

	table := tablewriter.NewWriter(a.Out)
	table.SetHeader([]string{"Id", "Status", "Benchmark", "Variant", "Test", "Attempts", "Execution", "Error"})
	for _, entry := range status.Entries {
		table.Append([]string{
			entry.Id,
			entry.Status,
			entry.BenchmarkId,
			entry.VariantName,
			entry.TestType,
			strconv.Itoa(entry.LeaseAttempts),
			entry.ExecutionRef,
			entry.Error,
		})
	}
	table.Render()
	return nil
}

func (a *App) queueStatus(ctx context.Context, queue string) (*api.QueueStatus, error) {
	if a.serverMode() {
		return a.apiClient().Status(ctx, queue)
	}
	repo, err := a.queueRepository()
	if err != nil {
		return nil, err
	}
	doc, err := repo.Load(ctx, queue)
	if err != nil {
		return nil, err
	}
	return statusView(queue, doc), nil
}

// statusView renders a queue document in the same shape the dispatch server
// returns, so the printed status is identical in both modes.
func statusView(queue string, doc *repository.QueueDocument) *api.QueueStatus {
	counts := map[string]int{}
	for status, count := range doc.CountsByStatus() {
		counts[string(status)] = count
	}
	entries := make([]api.EntryStatus, 0, len(doc.Entries))
	for _, entry := range doc.Entries {
		entries = append(entries, api.EntryStatus{
			Id:            entry.Id,
			Status:        string(entry.Status),
			BenchmarkId:   entry.BenchmarkId(),
			VariantName:   entry.VariantName(),
			TestType:      entry.TestType(),
			LeaseAttempts: entry.LeaseAttempts,
			ExecutionRef:  entry.ExecutionRef,
			ResultPath:    entry.ResultPath,
			Error:         entry.Error,
		})
	}
	return &api.QueueStatus{
		Queue:      queue,
		Generation: doc.Generation,
		Running:    doc.Running,
		Counts:     counts,
		Entries:    entries,
	}
}

var statusOrder = []repository.JobStatus{
	repository.JobPending,
	repository.JobLeasing,
	repository.JobRunning,
	repository.JobSucceeded,
	repository.JobFailed,
}

func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(statusOrder))
	for _, status := range statusOrder {
		parts = append(parts, fmt.Sprintf("%s=%d", status, counts[string(status)]))
	}
	return strings.Join(parts, " ")
}
