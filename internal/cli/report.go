package cli

import (
	"time"

	"github.com/spf13/cobra"

	"trading-loop/internal/report"
	"trading-loop/pkg/config"
)

func newReportCmd(cfg **config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the per-strategy performance report",
		Long: `Print trades, PnL and win rate per strategy for contracts closed inside the window.
Example: trading-loop report --window=168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			window, _ := cmd.Flags().GetDuration("window")
			if window <= 0 {
				window = 24 * time.Hour
			}
			database, err := openDB(*cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			rep, err := report.Generate(cmd.Context(), database, time.Now().Add(-window))
			if err != nil {
				return err
			}
			return rep.Render(cmd.OutOrStdout())
		},
	}
	cmd.Flags().Duration("window", 24*time.Hour, "Reporting window")
	return cmd
}
