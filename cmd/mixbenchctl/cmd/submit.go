package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mixbenchproject/mixbench/internal/mixbench/submit"
	"github.com/mixbenchproject/mixbench/internal/mixbenchctl"
)

func submitCmd(a *mixbenchctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit ./path/to/benchmark.yaml",
		Short: "Submit a benchmark spec to the queue",
		Long: `Submit expands the benchmark spec into concrete variants and enqueues one
training job per variant.

Example benchmark.yaml:

  name: adstock-comparison
  base_config:
    iterations: 2000
  variants:
    adstock:
      - name: geometric
        params:
          adstock: geometric
      - name: weibull_cdf
        params:
          adstock: weibull_cdf
`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := queueFlag(cmd)
			if err != nil {
				return err
			}
			dryRun, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return err
			}
			testRun, err := cmd.Flags().GetBool("test-run")
			if err != nil {
				return err
			}
			return a.Submit(cmd.Context(), args[0], submit.Options{
				Queue:   queue,
				DryRun:  dryRun,
				TestRun: testRun,
			})
		},
	}
	cmd.Flags().Bool("dry-run", false, "Expand and report the variants without enqueueing anything")
	cmd.Flags().Bool("test-run", false, "Enqueue only the first variant as a cheap end-to-end check")
	return cmd
}
