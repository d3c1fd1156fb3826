package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iliyamo/auth-service/internal/config"
	"github.com/iliyamo/auth-service/internal/logs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "auth-service",
		Short:         "Authentication and identity service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file merged into the environment")

	serve := newServeCmd()
	root.AddCommand(serve, newPurgeCmd(), newMailWorkerCmd(), newCreateAdminCmd(), newMigrateCmd())
	// no subcommand means serve
	root.RunE = serve.RunE
	return root
}

// loadConfig reads the configuration and initialises logging from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	logs.Init(logs.Options{Env: cfg.Env, Level: cfg.LogLevel, Service: "auth-service"})
	return cfg, nil
}
