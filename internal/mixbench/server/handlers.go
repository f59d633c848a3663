// Package server exposes the dispatch surface over HTTP: manual ticks,
// benchmark submission, pause/resume and queue status. Every mutating
// endpoint goes through the same CAS-guarded repository operations as the
// periodic and event triggers, so concurrent callers are safe by
// construction.
package server

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
	"github.com/mixbenchproject/mixbench/internal/mixbench/benchmark"
	"github.com/mixbenchproject/mixbench/internal/mixbench/dispatch"
	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
	"github.com/mixbenchproject/mixbench/internal/mixbench/submit"
	"github.com/mixbenchproject/mixbench/pkg/api"
)

// Ticker runs one dispatch round against a queue.
type Ticker interface {
	Tick(ctx context.Context, queue string) (*dispatch.TickOutcome, error)
}

// BenchmarkSubmitter expands a spec and enqueues its variants.
type BenchmarkSubmitter interface {
	Submit(ctx context.Context, spec *benchmark.BenchmarkSpec, opts submit.Options) (*submit.Receipt, error)
}

func TickHandler(dispatcher Ticker) echo.HandlerFunc {
	return func(c echo.Context) error {
		outcome, err := dispatcher.Tick(c.Request().Context(), c.Param("queue"))
		if err != nil {
			return renderError(c, err)
		}
		response := api.TickResponse{
			Kind:         string(outcome.Kind),
			JobId:        outcome.JobId,
			ExecutionRef: outcome.ExecutionRef,
			Reason:       outcome.Reason,
		}
		if outcome.Err != nil {
			response.Error = outcome.Err.Error()
		}
		return c.JSON(http.StatusOK, response)
	}
}

// SubmitHandler accepts the benchmark spec itself as the request body, in
// YAML or JSON. Queue and mode switches arrive as query parameters so the
// body stays exactly the file an operator would pass to the CLI.
func SubmitHandler(submitter BenchmarkSubmitter, defaultQueue string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return renderError(c, errors.Wrap(err, "reading request body"))
		}
		spec, err := benchmark.ParseSpec(body)
		if err != nil {
			return renderError(c, err)
		}

		queue := c.QueryParam("queue")
		if queue == "" {
			queue = defaultQueue
		}
		dryRun, err := boolParam(c, "dryRun")
		if err != nil {
			return renderError(c, err)
		}
		testRun, err := boolParam(c, "testRun")
		if err != nil {
			return renderError(c, err)
		}

		receipt, err := submitter.Submit(c.Request().Context(), spec, submit.Options{
			Queue:   queue,
			DryRun:  dryRun,
			TestRun: testRun,
		})
		if err != nil {
			return renderError(c, err)
		}

		names := make([]string, 0, len(receipt.Variants))
		for _, variant := range receipt.Variants {
			names = append(names, variant.Name)
		}
		return c.JSON(http.StatusCreated, api.SubmitResponse{
			BenchmarkId:    receipt.BenchmarkId,
			Queue:          receipt.Queue,
			VariantNames:   names,
			EntryIds:       receipt.EntryIds,
			GeneratedTotal: receipt.GeneratedTotal,
			Truncated:      receipt.Truncated,
			DryRun:         receipt.DryRun,
		})
	}
}

func SetRunningHandler(repo repository.QueueRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		request := &api.SetRunningRequest{}
		if err := c.Bind(request); err != nil {
			return err
		}
		queue := c.Param("queue")
		ctx := c.Request().Context()
		if err := repo.SetRunning(ctx, queue, request.Running); err != nil {
			return renderError(c, err)
		}
		return queueStatus(c, repo, queue)
	}
}

func StatusHandler(repo repository.QueueRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		return queueStatus(c, repo, c.Param("queue"))
	}
}

func queueStatus(c echo.Context, repo repository.QueueRepository, queue string) error {
	doc, err := repo.Load(c.Request().Context(), queue)
	if err != nil {
		return renderError(c, err)
	}

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
	return c.JSON(http.StatusOK, api.QueueStatus{
		Queue:      queue,
		Generation: doc.Generation,
		Running:    doc.Running,
		Counts:     counts,
		Entries:    entries,
	})
}

func boolParam(c echo.Context, name string) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.WithStack(&mixerrors.ErrInvalidConfig{
			Field: name, Value: raw, Message: "must be a boolean",
		})
	}
	return value, nil
}

// renderError maps taxonomy errors onto HTTP statuses and a JSON body that
// includes the remediation hint when one is known.
func renderError(c echo.Context, err error) error {
	response := api.ErrorResponse{Error: errors.Cause(err).Error()}
	var remediator mixerrors.Remediator
	if errors.As(err, &remediator) {
		response.Remediation = remediator.Remediation()
	}
	return c.JSON(httpStatus(err), response)
}

func httpStatus(err error) int {
	{
		var e *mixerrors.ErrNotFound
		if errors.As(err, &e) {
			return http.StatusNotFound
		}
	}
	{
		var e *mixerrors.ErrInvalidConfig
		if errors.As(err, &e) {
			return http.StatusBadRequest
		}
	}
	{
		var e *mixerrors.ErrQueueBusy
		if errors.As(err, &e) {
			return http.StatusConflict
		}
	}
	{
		var e *mixerrors.ErrLauncherFailed
		if errors.As(err, &e) {
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}
