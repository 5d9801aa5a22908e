package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trading-loop/internal/api"
	"trading-loop/internal/report"
	"trading-loop/pkg/config"
)

const shutdownTimeout = 15 * time.Second

func newRunCmd(cfg **config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop and the control API",
		Long: `Start the control API and, unless --no-autostart is given, the trading loop.
The process runs until SIGINT or SIGTERM; open contracts are left to the venue and are
adopted again on the next start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			if port, _ := cmd.Flags().GetString("port"); port != "" {
				c.Port = port
			}
			if noStart, _ := cmd.Flags().GetBool("no-autostart"); noStart {
				c.AutoStart = false
			}
			return runBot(cmd.Context(), c)
		},
	}
	cmd.Flags().String("port", "", "HTTP port (overrides PORT)")
	cmd.Flags().Bool("no-autostart", false, "Serve the API without starting the loop")
	return cmd
}

func runBot(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"dry_run": cfg.DryRun,
		"db":      cfg.DBPath,
		"port":    cfg.Port,
	}).Info("🔄 Starting trading loop")

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.authorize(ctx); err != nil {
		return err
	}

	sched, err := report.NewScheduler(a.db, a.bus, cfg.ReportSchedule, 24*time.Hour)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	server, err := api.NewServer(a.engine, a.bus, api.Options{
		JWTSecret:      cfg.JWTSecret,
		OperatorSecret: cfg.OperatorSecret,
	})
	if err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", httpSrv.Addr).Info("✅ Control API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.AutoStart {
		if err := a.bot.Start(ctx); err != nil {
			return err
		}
	} else {
		log.Info("⚠️ Auto-start disabled; start the loop through the API")
	}

	select {
	case <-ctx.Done():
		log.Info("🔄 Shutdown signal received")
	case err := <-serveErr:
		log.WithError(err).Error("❌ Control API failed")
		if a.bot.Running() {
			_ = a.bot.Stop()
		}
		return err
	}

	if a.bot.Running() {
		if err := a.bot.Stop(); err != nil {
			log.WithError(err).Warn("⚠️ Loop stop failed")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("⚠️ Control API shutdown failed")
	}
	log.Info("✅ Shutdown complete")
	return nil
}
