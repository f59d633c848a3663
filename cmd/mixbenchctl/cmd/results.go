package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mixbenchproject/mixbench/internal/mixbenchctl"
)

func resultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Collect and inspect benchmark results",
	}
	a := mixbenchctl.New()
	cmd.AddCommand(
		resultsCollectCmd(a),
		resultsListCmd(a),
		resultsLocationCmd(a),
	)
	return cmd
}

func resultsCollectCmd(a *mixbenchctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect benchmark-id",
		Short: "Match stored summaries to a benchmark's entries",
		Long: `Collect scans the result store for trainer summaries written inside the
benchmark's submission window, matches them to queue entries by variant name
and test type, marks completed entries SUCCEEDED and prints the collected
metrics. Safe to repeat while waiting for stragglers.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := queueFlag(cmd)
			if err != nil {
				return err
			}
			format, err := cmd.Flags().GetString("export-format")
			if err != nil {
				return err
			}
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}
			return a.CollectResults(cmd.Context(), queue, args[0], format, out)
		},
	}
	cmd.Flags().String("export-format", "", `Also export the collected records: "csv" or "parquet"`)
	cmd.Flags().String("out", "", "Path of the export file. Defaults to <benchmark-id>.<format>")
	return cmd
}

func resultsListCmd(a *mixbenchctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "list benchmark-id",
		Short: "Show which of a benchmark's entries have results",
		Long: `List reads the collection state straight from the queue document, without
scanning the result store: which entries have a result path recorded and
which are still outstanding.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := queueFlag(cmd)
			if err != nil {
				return err
			}
			return a.ListResults(cmd.Context(), queue, args[0])
		},
	}
}

func resultsLocationCmd(a *mixbenchctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "location benchmark-id",
		Short: "Print the run directories holding a benchmark's results",
		Long: `Location prints the distinct run directories of the benchmark's collected
results, one per line, for feeding into downstream tooling.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := queueFlag(cmd)
			if err != nil {
				return err
			}
			return a.ResultLocations(cmd.Context(), queue, args[0])
		},
	}
}
