package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mixbenchproject/mixbench/internal/common"
	"github.com/mixbenchproject/mixbench/internal/common/app"
	"github.com/mixbenchproject/mixbench/internal/common/health"
	"github.com/mixbenchproject/mixbench/internal/mixbench"
	"github.com/mixbenchproject/mixbench/internal/mixbench/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.MixbenchConfig
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&config, "./config/mixbench", userSpecifiedConfigs)

	log.Info("Starting...")

	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	ctx := app.CreateContextWithShutdown()
	healthChecks := health.NewMultiChecker()

	if err := mixbench.Serve(ctx, &config, healthChecks); err != nil {
		log.WithError(err).Error("mixbench dispatch server failed")
		os.Exit(1)
	}
}
