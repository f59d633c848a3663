package common

import (
	"fmt"
	"os"
	"strings"

	validate "github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/mixbenchproject/mixbench/internal/common/config"
	"github.com/mixbenchproject/mixbench/internal/common/logging"
	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
)

const baseConfigFileName = "config"

func BindCommandlineArguments() {
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// LoadConfig reads <defaultPath>/config.yaml, merges any override files on top
// of it (in the order given), binds MIXBENCH_* environment variables and
// unmarshals the result into config. Struct fields carrying validate tags are
// checked after unmarshalling; validation failure is fatal.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(baseConfigFileName)
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		log.Error(err)
		os.Exit(-1)
	}

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		err := v.MergeInConfig()
		if err != nil {
			log.Error(err)
			os.Exit(-1)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("MIXBENCH")
	v.AutomaticEnv()

	err := v.Unmarshal(config, commonconfig.CustomHooks...)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}

	if err := ValidateConfig(config); err != nil {
		os.Exit(-1)
	}

	return v
}

func ValidateConfig(config interface{}) error {
	validator := validate.New()
	if err := validator.Struct(config); err != nil {
		commonconfig.LogValidationErrors(err)
		return &mixerrors.ErrInvalidConfig{Message: "configuration failed validation"}
	}
	return nil
}

func ConfigureCommandLineLogging() {
	commandLineFormatter := new(logging.CommandLineFormatter)
	log.SetFormatter(commandLineFormatter)
	log.SetOutput(os.Stdout)
}

func ConfigureLogging() {
	log.SetLevel(readEnvironmentLogLevel())
	log.SetFormatter(readEnvironmentLogFormat())
	log.SetOutput(os.Stdout)
}

func readEnvironmentLogLevel() log.Level {
	level, ok := os.LookupEnv("LOG_LEVEL")
	if ok {
		logLevel, err := log.ParseLevel(level)
		if err == nil {
			return logLevel
		}
	}
	return log.InfoLevel
}

func readEnvironmentLogFormat() log.Formatter {
	formatStr, ok := os.LookupEnv("LOG_FORMAT")
	if !ok {
		formatStr = "colourful"
	}
	switch strings.ToLower(formatStr) {
	case "json":
		return &log.JSONFormatter{}
	case "colourful":
		return &log.TextFormatter{ForceColors: true, FullTimestamp: true}
	case "text":
		return &log.TextFormatter{DisableColors: true, FullTimestamp: true}
	default:
		fmt.Fprintf(os.Stderr, "Unknown log format %s, defaulting to colourful format\n", formatStr)
		return &log.TextFormatter{ForceColors: true, FullTimestamp: true}
	}
}
