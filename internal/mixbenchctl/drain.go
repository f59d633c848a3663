package mixbenchctl

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
	"github.com/mixbenchproject/mixbench/internal/mixbench/dispatch"
	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
)

const DefaultDrainInterval = 2 * time.Second

// Drain ticks queue until a tick reports there is nothing left to do, then
// optionally prunes terminal entries. With once set, exactly one tick runs.
// Every outcome is printed as it happens so the operator can watch the queue
// empty out.
func (a *App) Drain(ctx context.Context, queue string, once bool, cleanup bool) error {
	queue = a.queueName(queue)
	interval := a.Params.Config.DrainInterval
	if interval <= 0 {
		interval = DefaultDrainInterval
	}

	for {
		kind, line, err := a.tick(ctx, queue)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.Out, line)
		if once || kind == dispatch.OutcomeNoOp {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	if cleanup {
		return a.cleanupQueue(ctx, queue)
	}
	return nil
}

// tick runs one dispatch round against queue, through the server or locally,
// and renders the outcome as one line.
func (a *App) tick(ctx context.Context, queue string) (dispatch.OutcomeKind, string, error) {
	if a.serverMode() {
		response, err := a.apiClient().Tick(ctx, queue)
		if err != nil {
			return "", "", err
		}
		kind := dispatch.OutcomeKind(response.Kind)
		return kind, tickLine(queue, kind, response.JobId, response.ExecutionRef, response.Reason, response.Error), nil
	}

	dispatcher, err := a.dispatcher()
	if err != nil {
		return "", "", err
	}
	outcome, err := dispatcher.Tick(ctx, queue)
	if err != nil {
		return "", "", err
	}
	errText := ""
	if outcome.Err != nil {
		errText = outcome.Err.Error()
	}
	return outcome.Kind, tickLine(queue, outcome.Kind, outcome.JobId, outcome.ExecutionRef, outcome.Reason, errText), nil
}

func tickLine(queue string, kind dispatch.OutcomeKind, jobId string, executionRef string, reason string, errText string) string {
	switch kind {
	case dispatch.OutcomeDispatched:
		return fmt.Sprintf("dispatched %s as execution %s", jobId, executionRef)
	case dispatch.OutcomeLauncherFailed:
		return fmt.Sprintf("launch of %s failed: %s", jobId, errText)
	case dispatch.OutcomeLeaseLost:
		return fmt.Sprintf("lost the lease race on queue %s", queue)
	default:
		return fmt.Sprintf("nothing to dispatch on queue %s: %s", queue, reason)
	}
}

// cleanupQueue removes SUCCEEDED and FAILED entries from the queue document.
// Only available with direct store access; the dispatch server does not
// expose destructive operations.
func (a *App) cleanupQueue(ctx context.Context, queue string) error {
	if a.serverMode() {
		return errors.WithStack(&mixerrors.ErrInvalidConfig{
			Field:   "cleanup",
			Message: "cleanup rewrites the queue document and needs direct store access; unset serverUrl",
		})
	}
	repo, err := a.queueRepository()
	if err != nil {
		return err
	}
	if _, err := repo.Load(ctx, queue); err != nil {
		var notFound *mixerrors.ErrNotFound
		if errors.As(err, &notFound) {
			fmt.Fprintf(a.Out, "Queue %s does not exist; nothing to clean\n", queue)
			return nil
		}
		return err
	}
	removed := 0
	err = repo.Update(ctx, queue, func(doc *repository.QueueDocument) error {
		removed = doc.PruneTerminal()
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Removed %d terminal entries from queue %s\n", removed, queue)
	return nil
}
