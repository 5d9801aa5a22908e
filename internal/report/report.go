// Package report summarises per-strategy results from the trade ledger.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"trading-loop/pkg/db"
)

// StrategyRow is one strategy's line in a report.
type StrategyRow struct {
	StrategyID string  `json:"strategy_id"`
	Trades     int     `json:"trades"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	Draws      int     `json:"draws"`
	WinRate    float64 `json:"win_rate"`
	PnL        float64 `json:"pnl"`
	// Lifetime counters from strategy_performance.
	TotalWins   int `json:"total_wins"`
	TotalLosses int `json:"total_losses"`
	TotalDraws  int `json:"total_draws"`
}

// Report covers the trades closed since Since.
type Report struct {
	Since       time.Time     `json:"since"`
	GeneratedAt time.Time     `json:"generated_at"`
	Trades      int           `json:"trades"`
	PnL         float64       `json:"pnl"`
	Strategies  []StrategyRow `json:"strategies"`
}

// Generate builds a report over the window starting at since. Strategies with lifetime
// history but nothing in the window are listed with zero window counts.
func Generate(ctx context.Context, database *db.Database, since time.Time) (*Report, error) {
	windows, err := database.StrategyWindows(ctx, since)
	if err != nil {
		return nil, err
	}
	perf, err := database.Performance(ctx)
	if err != nil {
		return nil, err
	}
	trades, err := closedSince(ctx, database, since)
	if err != nil {
		return nil, err
	}

	rows := make(map[string]*StrategyRow)
	for _, w := range windows {
		r := &StrategyRow{StrategyID: w.StrategyID, Trades: w.Trades, Wins: w.Wins, Losses: w.Losses, Draws: w.Draws, PnL: w.PnL}
		if w.Trades > 0 {
			r.WinRate = float64(w.Wins) / float64(w.Trades) * 100
		}
		rows[w.StrategyID] = r
	}
	for id, p := range perf {
		r, ok := rows[id]
		if !ok {
			r = &StrategyRow{StrategyID: id}
			rows[id] = r
		}
		r.TotalWins, r.TotalLosses, r.TotalDraws = p.Wins, p.Losses, p.Draws
	}

	rep := &Report{Since: since, GeneratedAt: time.Now()}
	for _, t := range trades {
		rep.Trades++
		rep.PnL += t.PnL
	}
	for _, r := range rows {
		rep.Strategies = append(rep.Strategies, *r)
	}
	sort.Slice(rep.Strategies, func(i, j int) bool {
		return rep.Strategies[i].StrategyID < rep.Strategies[j].StrategyID
	})
	return rep, nil
}

// closedSince counts each ledger row once even when several strategies authored it.
func closedSince(ctx context.Context, database *db.Database, since time.Time) ([]db.Trade, error) {
	all, err := database.ListTrades(ctx, 10000)
	if err != nil {
		return nil, err
	}
	var out []db.Trade
	for _, t := range all {
		if t.ClosedAt != nil && !t.ClosedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Render writes the report as an aligned text table.
func (r *Report) Render(w io.Writer) error {
	fmt.Fprintf(w, "Strategy performance since %s\n", r.Since.Format(time.RFC3339))
	fmt.Fprintf(w, "Closed trades: %d  PnL: %.2f\n\n", r.Trades, r.PnL)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tTRADES\tWINS\tLOSSES\tDRAWS\tWIN%\tPNL\tLIFETIME W/L/D")
	for _, s := range r.Strategies {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.2f\t%.2f\t%d/%d/%d\n",
			s.StrategyID, s.Trades, s.Wins, s.Losses, s.Draws, s.WinRate, s.PnL,
			s.TotalWins, s.TotalLosses, s.TotalDraws)
	}
	return tw.Flush()
}
