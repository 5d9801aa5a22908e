// Package cli is the command-line entry point: run the trading loop, manage strategies and
// print performance reports.
package cli

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trading-loop/pkg/config"
	"trading-loop/pkg/logging"
)

// Version is stamped at build time with -ldflags "-X trading-loop/internal/cli.Version=...".
var Version = "dev"

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:   "trading-loop",
		Short: "Automated binary-options trading loop",
		Long: `trading-loop evaluates a registry of technical strategies across the offered
instruments, buys rise/fall contracts through a gated executor and manages every open
contract until it is sold or settles.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				loaded.LogLevel = "debug"
			}
			if path, _ := cmd.Flags().GetString("db"); path != "" {
				loaded.DBPath = path
			}
			logging.Setup(loaded.LogLevel, loaded.LogFormat)
			cfg = loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Default behavior: run the loop
			return runBot(cmd.Context(), cfg)
		},
	}

	rootCmd.AddCommand(newRunCmd(&cfg))
	rootCmd.AddCommand(newStrategiesCmd(&cfg))
	rootCmd.AddCommand(newReportCmd(&cfg))
	rootCmd.AddCommand(newSecretsCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Global flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("db", "", "Database path (overrides DB_PATH)")

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		log.WithError(err).Error("❌ Command failed")
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("trading-loop %s\n", Version)
		},
	}
}
