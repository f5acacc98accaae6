package cli

import (
	"os"

	"quiz-attempt-engine/internal/config"
	"github.com/spf13/cobra"
)

var (
	port       string
	configPath string
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	envPort := os.Getenv("PORT")
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:           "quiz-engine",
		Short:         "Quiz attempt engine with offline replay",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&port, "port", envPort, "port to listen on, overrides server.port")
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.AddCommand(NewStartCmd(&configPath, &port))
	cmd.AddCommand(NewSyncCmd(&configPath))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	cmd.AddCommand(NewStatusCmd(&configPath))
	return cmd
}

// loadEngine reads the config and builds the engine, logging to the command's stderr.
func loadEngine(cmd *cobra.Command, path string) (*engine, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	return newEngine(cmd.Context(), cfg, logger)
}
