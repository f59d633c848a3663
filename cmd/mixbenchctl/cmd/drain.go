package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mixbenchproject/mixbench/internal/mixbenchctl"
)

func drainCmd(a *mixbenchctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run dispatch rounds until the queue has nothing left to do",
		Long: `Drain repeatedly runs dispatch rounds against the queue, printing each
outcome, until a round reports there is nothing left to dispatch. Jobs that
were already launched keep running; drain only works through the PENDING
backlog.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := queueFlag(cmd)
			if err != nil {
				return err
			}
			once, err := cmd.Flags().GetBool("once")
			if err != nil {
				return err
			}
			cleanup, err := cmd.Flags().GetBool("cleanup")
			if err != nil {
				return err
			}
			return a.Drain(cmd.Context(), queue, once, cleanup)
		},
	}
	cmd.Flags().Bool("once", false, "Run exactly one dispatch round instead of draining to empty")
	cmd.Flags().Bool("cleanup", false, "Remove SUCCEEDED and FAILED entries afterwards (needs direct store access)")
	return cmd
}
