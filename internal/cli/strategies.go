package cli

import (
	"fmt"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trading-loop/internal/strategy"
	"trading-loop/pkg/config"
)

func newStrategiesCmd(cfg **config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "Strategy registry management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sync [FILE]",
		Short: "Upsert strategies from a YAML file into the database",
		Long: `Insert new strategies and refresh name, type and parameters of existing ones.
Tuned confidence and active flags are preserved.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			path := c.StrategiesFile
			if len(args) == 1 {
				path = args[0]
			}
			configs, err := strategy.LoadConfig(path)
			if err != nil {
				return err
			}
			database, err := openDB(c)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := strategy.SyncConfigToDB(database.DB, configs); err != nil {
				return err
			}
			log.WithFields(log.Fields{"file": path, "strategies": len(configs)}).Info("💾 Strategies synced")
			cmd.Printf("synced %d strategies from %s\n", len(configs), path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List strategies with their confidence and lifetime record",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			configs, err := loadStrategyConfigs(c.StrategiesFile)
			if err != nil {
				return err
			}
			database, err := openDB(c)
			if err != nil {
				return err
			}
			defer database.Close()

			reg, err := strategy.LoadRegistry(cmd.Context(), database, configs, strategy.MomentumPredictor{})
			if err != nil {
				return err
			}
			perf, err := database.Performance(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tCONFIDENCE\tACTIVE\tW/L/D\tWIN RATE")
			for _, e := range reg.Entries() {
				p := perf[e.ID]
				fmt.Fprintf(tw, "%s\t%s\t%.3f\t%t\t%d/%d/%d\t%.1f%%\n",
					e.ID, e.Type, e.Confidence, e.Active, p.Wins, p.Losses, p.Draws, p.WinRate())
			}
			return tw.Flush()
		},
	})

	return cmd
}
