// Package engine runs the trading cycle and exposes it to the control surface.
package engine

import (
	"context"
	"time"

	"trading-loop/internal/monitor"
	"trading-loop/internal/report"
	"trading-loop/pkg/db"
)

// Service is everything the API layer may do with the engine.
type Service interface {
	// Lifecycle
	Start(ctx context.Context) error
	Stop() error
	EmergencyStop(ctx context.Context) (*monitor.Report, error)
	Status() Status

	// Strategies
	ListStrategies(ctx context.Context) ([]StrategyInfo, error)
	SetStrategyActive(ctx context.Context, id string, active bool) (*StrategyInfo, error)
	ConfidenceLog(ctx context.Context, limit int) ([]db.ConfidenceChange, error)

	// Positions and ledger
	GetPositions(ctx context.Context) ([]Position, error)
	ListTrades(ctx context.Context, limit int) ([]db.Trade, error)
	ListEvents(ctx context.Context, topic string, limit int) ([]db.Event, error)
	Report(ctx context.Context, since time.Time) (*report.Report, error)

	// Runtime
	GetBalance(ctx context.Context) (*BalanceInfo, error)
	Metrics() monitor.MetricsSnapshot
	GetSystemStatus(ctx context.Context) *SystemStatus
}
