package mixbenchctl

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/mixbenchproject/mixbench/internal/mixbench/benchmark"
	"github.com/mixbenchproject/mixbench/internal/mixbench/submit"
	"github.com/mixbenchproject/mixbench/pkg/api"
	"github.com/mixbenchproject/mixbench/pkg/client"
)

// Submit expands the benchmark spec in specFile and enqueues the resulting
// variants. In server mode the raw file is posted as-is and the server does
// the expanding, so client and server cannot disagree about generation rules.
func (a *App) Submit(ctx context.Context, specFile string, opts submit.Options) error {
	opts.Queue = a.queueName(opts.Queue)

	if a.serverMode() {
		raw, err := os.ReadFile(specFile)
		if err != nil {
			return errors.Wrapf(err, "reading spec file %s", specFile)
		}
		receipt, err := a.apiClient().Submit(ctx, raw, client.SubmitOptions{
			Queue:   opts.Queue,
			DryRun:  opts.DryRun,
			TestRun: opts.TestRun,
		})
		if err != nil {
			return err
		}
		a.printReceipt(receipt)
		return nil
	}

	spec, err := benchmark.LoadSpec(specFile)
	if err != nil {
		return err
	}
	repo, err := a.queueRepository()
	if err != nil {
		return err
	}
	receipt, err := submit.NewSubmitter(repo).Submit(ctx, spec, opts)
	if err != nil {
		return err
	}
	names := make([]string, len(receipt.Variants))
	for i, variant := range receipt.Variants {
		names[i] = variant.Name
	}
	a.printReceipt(&api.SubmitResponse{
		BenchmarkId:    receipt.BenchmarkId,
		Queue:          receipt.Queue,
		VariantNames:   names,
		EntryIds:       receipt.EntryIds,
		GeneratedTotal: receipt.GeneratedTotal,
		Truncated:      receipt.Truncated,
		DryRun:         receipt.DryRun,
	})
	return nil
}

func (a *App) printReceipt(receipt *api.SubmitResponse) {
	if receipt.DryRun {
		fmt.Fprintf(a.Out, "Dry run: benchmark %s would enqueue %d variants to queue %s:\n",
			receipt.BenchmarkId, len(receipt.VariantNames), receipt.Queue)
		for _, name := range receipt.VariantNames {
			fmt.Fprintf(a.Out, "  %s\n", name)
		}
	} else {
		fmt.Fprintf(a.Out, "Enqueued benchmark %s with %d entries to queue %s\n",
			receipt.BenchmarkId, len(receipt.EntryIds), receipt.Queue)
	}
	if receipt.Truncated {
		fmt.Fprintf(a.Out, "Expansion was capped: %d variants generated, %d kept\n",
			receipt.GeneratedTotal, len(receipt.VariantNames))
	}
}
