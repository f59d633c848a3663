package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mixbenchproject/mixbench/internal/common"
	"github.com/mixbenchproject/mixbench/internal/mixbench/configuration"
	"github.com/mixbenchproject/mixbench/internal/mixbenchctl"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mixbenchctl",
		Short:         "mixbenchctl operates the mixbench benchmark queue.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSlice("config", []string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	cmd.PersistentFlags().String("queue", "", "Queue to operate on. Defaults to the configured default queue.")

	cmd.AddCommand(
		submitCmd(mixbenchctl.New()),
		drainCmd(mixbenchctl.New()),
		pauseCmd(mixbenchctl.New()),
		resumeCmd(mixbenchctl.New()),
		statusCmd(mixbenchctl.New()),
		resultsCmd(),
	)

	return cmd
}

// initParams loads configuration into the app before a command runs, merging
// any files named with --config over the shipped defaults.
func initParams(cmd *cobra.Command, params *mixbenchctl.Params) error {
	configs, err := cmd.Flags().GetStringSlice("config")
	if err != nil {
		return err
	}
	params.Config = &configuration.MixbenchctlConfig{}
	common.LoadConfig(params.Config, "./config/mixbenchctl", configs)
	return nil
}

func queueFlag(cmd *cobra.Command) (string, error) {
	return cmd.Flags().GetString("queue")
}
