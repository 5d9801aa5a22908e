package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	log "github.com/sirupsen/logrus"

	"trading-loop/internal/balance"
	"trading-loop/internal/engine"
	"trading-loop/internal/events"
	"trading-loop/internal/indicators"
	"trading-loop/internal/monitor"
	"trading-loop/internal/order"
	"trading-loop/internal/persistence"
	"trading-loop/internal/reconciliation"
	"trading-loop/internal/retry"
	"trading-loop/internal/risk"
	"trading-loop/internal/state"
	"trading-loop/internal/strategy"
	"trading-loop/internal/tuner"
	"trading-loop/pkg/cache"
	"trading-loop/pkg/config"
	"trading-loop/pkg/db"
	"trading-loop/pkg/venue"
	"trading-loop/pkg/venue/deriv"
	"trading-loop/pkg/venue/paper"
)

// defaultPaperInstruments seeds the paper venue when INSTRUMENTS is empty.
var defaultPaperInstruments = []string{"frxEURUSD", "frxGBPUSD", "frxUSDJPY", "frxAUDUSD"}

// app holds every long-lived component of one process.
type app struct {
	cfg       *config.Config
	db        *db.Database
	client    venue.Client
	bus       *events.Bus
	metrics   *monitor.CallMetrics
	registry  *strategy.Registry
	tuner     *tuner.Tuner
	bot       *engine.Bot
	engine    *engine.Impl
	journal   *persistence.Journal
	predictor *strategy.GRPCPredictor
	balance   *balance.Manager
}

// openDB opens the ledger and applies migrations.
func openDB(cfg *config.Config) (*db.Database, error) {
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return database, nil
}

// loadStrategyConfigs reads the strategies file, falling back to the built-in set when it
// does not exist.
func loadStrategyConfigs(path string) ([]strategy.Config, error) {
	configs, err := strategy.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.WithField("path", path).Warn("⚠️ Strategies file not found, using built-in set")
		return strategy.DefaultConfigs(), nil
	}
	return configs, err
}

func newVenue(cfg *config.Config) (venue.Client, error) {
	if cfg.DryRun {
		instruments := cfg.Instruments
		if len(instruments) == 0 {
			instruments = defaultPaperInstruments
		}
		return paper.New(paper.Config{
			InitialBalance: cfg.DryRunInitialBalance,
			Currency:       cfg.Currency,
			Instruments:    instruments,
		}), nil
	}
	return deriv.New(deriv.Config{
		Endpoint:  cfg.DerivEndpoint,
		AppID:     cfg.DerivAppID,
		Token:     cfg.DerivToken,
		Currency:  cfg.Currency,
		RateLimit: cfg.VenueRate,
	})
}

func newPredictor(cfg *config.Config) (strategy.Predictor, *strategy.GRPCPredictor) {
	if cfg.PredictorAddr == "" {
		return strategy.MomentumPredictor{}, nil
	}
	remote, err := strategy.NewGRPCPredictor(cfg.PredictorAddr)
	if err != nil {
		log.WithError(err).WithField("addr", cfg.PredictorAddr).Warn("⚠️ Predictor unavailable, using local model")
		return strategy.MomentumPredictor{}, nil
	}
	log.WithField("addr", cfg.PredictorAddr).Info("✅ Remote predictor configured")
	return strategy.FallbackPredictor{Primary: remote, Secondary: strategy.MomentumPredictor{}}, remote
}

// buildApp wires the trading loop from configuration. Nothing is started.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	database, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: database, bus: events.NewBus(), metrics: monitor.NewCallMetrics()}

	configs, err := loadStrategyConfigs(cfg.StrategiesFile)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load strategies: %w", err)
	}
	if err := strategy.SyncConfigToDB(database.DB, configs); err != nil {
		a.close()
		return nil, fmt.Errorf("sync strategies: %w", err)
	}
	predictor, remote := newPredictor(cfg)
	a.predictor = remote
	if a.registry, err = strategy.LoadRegistry(ctx, database, configs, predictor); err != nil {
		a.close()
		return nil, fmt.Errorf("load registry: %w", err)
	}

	if a.client, err = newVenue(cfg); err != nil {
		a.close()
		return nil, fmt.Errorf("venue: %w", err)
	}
	caller := retry.NewCaller(retry.Policy{
		MaxRetries: cfg.CallMaxRetries,
		BaseDelay:  cfg.CallBaseDelay,
		Timeout:    cfg.CallTimeout,
	}, a.metrics)

	book := state.NewBook(database)
	if err := book.Load(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("load positions: %w", err)
	}

	features := cache.New[*indicators.Features]()
	bal := balance.NewManager(a.client, caller)
	if cfg.DryRun {
		bal.SetInitialBalance(cfg.DryRunInitialBalance, cfg.Currency)
	}
	a.balance = bal

	mon := monitor.NewContractMonitor(a.client, caller, database, a.bus)
	mon.Features = features
	mon.Balance = bal
	mon.Metrics = a.metrics
	mon.CandleCount = cfg.CandleCount
	mon.Granularity = cfg.CandleGranularity

	params := risk.DefaultParameters()
	params.CooldownPeriod = cfg.CooldownPeriod
	params.RiskPercentage = cfg.RiskPercentage
	params.StopLossPercent = cfg.StopLossPercent
	params.TakeProfitPercent = cfg.TakeProfitPercent

	a.tuner = tuner.New(database, a.bus, tuner.Config{
		MinTrades:        cfg.TunerMinTrades,
		WinRateThreshold: cfg.TunerWinRateThreshold,
	})

	a.bot = engine.NewBot(engine.Deps{
		Client:   a.client,
		Caller:   caller,
		Registry: a.registry,
		Evaluator: &strategy.Evaluator{
			Client:         a.client,
			Caller:         caller,
			Features:       features,
			CandleCount:    cfg.CandleCount,
			Granularity:    cfg.CandleGranularity,
			MinCandles:     cfg.MinCandles,
			MaxConcurrency: cfg.EvalConcurrency,
			Timeout:        cfg.EvalTimeout,
		},
		Gate: order.NewGate(a.client, caller, database, a.bus, order.Config{
			MaxOpenPositions: cfg.MaxOpenPositions,
			MaxAskPrice:      cfg.MaxAskPrice,
			MinPayout:        cfg.MinPayout,
			Currency:         cfg.Currency,
		}),
		Monitor:    mon,
		Tuner:      a.tuner,
		Reconciler: reconciliation.NewService(a.client, caller, a.bus),
		Balance:    bal,
		Risk:       risk.NewManager(params),
		Book:       book,
		Bus:        a.bus,
		Metrics:    a.metrics,
	}, engine.Config{
		Instruments:     cfg.Instruments,
		ExcludedMarkets: cfg.ExcludedMarkets,
		LoopDelay:       cfg.LoopDelay,
		TimeoutBackoff:  cfg.TimeoutBackoff,
		ErrorBackoff:    cfg.ErrorBackoff,
	})

	venueName := "deriv"
	if cfg.DryRun {
		venueName = "paper"
	}
	a.engine = engine.NewImpl(a.bot, database, a.tuner, engine.SystemStatus{
		DryRun:      cfg.DryRun,
		Venue:       venueName,
		Instruments: cfg.Instruments,
		Strategies:  a.registry.Len(),
		Version:     Version,
	})

	a.journal = persistence.NewJournal(database, 100, 2*time.Second)
	a.journal.Attach(a.bus, 256)
	return a, nil
}

// authorize confirms the venue session and seeds the balance cache.
func (a *app) authorize(ctx context.Context) error {
	acct, err := a.client.Authorize(ctx, a.cfg.DerivToken)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	log.WithFields(log.Fields{
		"account":  acct.LoginID,
		"currency": acct.Currency,
		"balance":  acct.Balance,
		"virtual":  bool(acct.IsVirtual),
	}).Info("✅ Venue session authorized")
	if a.balance != nil {
		a.balance.SetInitialBalance(acct.Balance, acct.Currency)
	}
	return nil
}

// close releases everything in reverse construction order. Safe on a partial app.
func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			log.WithError(err).Warn("⚠️ Journal flush on close failed")
		}
	}
	if a.client != nil {
		_ = a.client.Close()
	}
	if a.predictor != nil {
		_ = a.predictor.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
