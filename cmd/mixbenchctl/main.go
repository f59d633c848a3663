package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/mixbenchproject/mixbench/cmd/mixbenchctl/cmd"
	"github.com/mixbenchproject/mixbench/internal/common"
	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		log.Error(mixerrors.OperatorSummary(err))
		os.Exit(mixerrors.ExitCodeFromError(err))
	}
}
