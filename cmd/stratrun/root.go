package main

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootFlags struct {
	configPath string
	logLevel   string
	logFile    string
}

// Execute runs the CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "stratrun",
		Short:         "StratRun multi-strategy paper trading engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real deployments set the environment directly.
			_ = godotenv.Load()
			return setupLogging(rootFlags.logLevel, rootFlags.logFile)
		},
	}

	flags := root.PersistentFlags()
	addRootFlags(flags)

	root.AddCommand(runCmd(), statusCmd(), versionCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		return err
	}
	return nil
}

func addRootFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&rootFlags.configPath, "config", "c", "config/stratrun.yaml", "path to the YAML configuration")
	flags.StringVar(&rootFlags.logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	flags.StringVar(&rootFlags.logFile, "log-file", "", "write JSON logs to this rotating file instead of stderr")
}
