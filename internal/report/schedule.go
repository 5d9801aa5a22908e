package report

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"trading-loop/internal/events"
	"trading-loop/pkg/db"
)

// EventReport is published with each scheduled report.
const EventReport events.Event = "report.generated"

// Scheduler generates a report on a cron schedule (with seconds field) covering the period
// since the previous run.
type Scheduler struct {
	cron     *cron.Cron
	db       *db.Database
	bus      *events.Bus
	window   time.Duration
	onReport func(*Report)
}

// NewScheduler registers the report job. spec uses six fields, e.g. "0 0 0 * * *" for midnight.
func NewScheduler(database *db.Database, bus *events.Bus, spec string, window time.Duration) (*Scheduler, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	s := &Scheduler{cron: cron.New(cron.WithSeconds()), db: database, bus: bus, window: window}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("add report schedule %q: %w", spec, err)
	}
	return s, nil
}

// OnReport sets a callback invoked after each scheduled report.
func (s *Scheduler) OnReport(fn func(*Report)) { s.onReport = fn }

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info("✅ Report scheduler started")
}

// Stop halts scheduling and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rep, err := Generate(ctx, s.db, time.Now().Add(-s.window))
	if err != nil {
		log.WithError(err).Error("❌ Scheduled report failed")
		return
	}
	fields := log.Fields{"trades": rep.Trades, "pnl": fmt.Sprintf("%.2f", rep.PnL)}
	for _, r := range rep.Strategies {
		log.WithFields(log.Fields{
			"strategy_id": r.StrategyID,
			"trades":      r.Trades,
			"win_rate":    fmt.Sprintf("%.1f%%", r.WinRate),
			"pnl":         fmt.Sprintf("%.2f", r.PnL),
		}).Info("📊 Strategy report")
	}
	log.WithFields(fields).Info("📊 Performance report generated")
	s.bus.Publish(EventReport, rep)
	if s.onReport != nil {
		s.onReport(rep)
	}
}
