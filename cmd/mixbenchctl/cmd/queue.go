package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mixbenchproject/mixbench/internal/mixbenchctl"
)

func pauseCmd(a *mixbenchctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause dispatch from the queue",
		Long: `Pause stops new launches from the queue. Entries keep accumulating and
jobs that already launched run to completion; only new launches stop.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := queueFlag(cmd)
			if err != nil {
				return err
			}
			return a.PauseQueue(cmd.Context(), queue)
		},
	}
}

func resumeCmd(a *mixbenchctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume dispatch from the queue",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := queueFlag(cmd)
			if err != nil {
				return err
			}
			return a.ResumeQueue(cmd.Context(), queue)
		},
	}
}

func statusCmd(a *mixbenchctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the queue's entries and dispatch state",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := queueFlag(cmd)
			if err != nil {
				return err
			}
			return a.Status(cmd.Context(), queue)
		},
	}
}
