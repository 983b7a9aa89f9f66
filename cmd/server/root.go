package main

import (
	"fmt"
	"os"

	"github.com/codeak/portal/internal/config"
	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/spf13/cobra"
)

var (
	flagConfig string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "codeak",
	Short: "CodeAK portal API server",
	Long: `Runs the CodeAK portal REST API.

  codeak                 Start the HTTP server (same as "codeak serve")
  codeak migrate         Apply database migrations and exit
  codeak create-admin    Create the first admin account`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := logger.Init(cfg.Log.File); err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.Expiration())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Close()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a config file (yaml, json or toml)")
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
