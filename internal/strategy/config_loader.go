package strategy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"trading-loop/pkg/db"
)

// Config represents a strategy configuration entry in YAML.
type Config struct {
	ID         string             `yaml:"id"`
	Name       string             `yaml:"name"`
	Type       string             `yaml:"type"`
	Parameters map[string]float64 `yaml:"parameters"`
	Confidence *float64           `yaml:"confidence"`
	IsActive   *bool              `yaml:"is_active"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

type blueprint struct {
	name       string
	confidence float64
	affinity   []Regime
	direction  Direction
	defaults   map[string]float64
}

var blueprints = map[string]blueprint{
	"golden_cross": {"Golden Cross", 1.0, []Regime{RegimeTrending}, DirectionLong,
		map[string]float64{"short": 10, "long": 25}},
	"macd_crossover": {"MACD Crossover", 0.9, []Regime{RegimeTrending}, DirectionLong,
		map[string]float64{"fast": 12, "slow": 26, "signal": 9}},
	"awesome_oscillator": {"Awesome Oscillator", 0.8, []Regime{RegimeTrending}, DirectionLong,
		map[string]float64{"fast": 5, "slow": 34}},
	"rsi_dip": {"RSI Dip", 0.8, []Regime{RegimeRanging}, DirectionLong,
		map[string]float64{"period": 14, "threshold": 45}},
	"bollinger_breakout": {"Bollinger Breakout", 0.85, []Regime{RegimeRanging, RegimeVolatile}, DirectionLong,
		map[string]float64{"period": 20, "std_dev": 2}},
	"ml_prediction": {"ML Prediction", 0.7, nil, DirectionContext,
		map[string]float64{"window": 60}},
}

// DefaultConfigs is the base strategy set used when no YAML file is present.
func DefaultConfigs() []Config {
	order := []string{"golden_cross", "rsi_dip", "macd_crossover", "bollinger_breakout", "awesome_oscillator", "ml_prediction"}
	out := make([]Config, 0, len(order))
	for _, t := range order {
		out = append(out, Config{Type: t})
	}
	return out
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, c := range file.Strategies {
		if _, ok := blueprints[c.Type]; !ok {
			return nil, fmt.Errorf("strategy %d: unknown type %q", i, c.Type)
		}
	}
	return file.Strategies, nil
}

// StrategyID derives a stable id from the type and the sorted parameter set.
func StrategyID(kind string, params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New32a()
	for _, k := range keys {
		h.Write([]byte(k + "=" + strconv.FormatFloat(params[k], 'g', -1, 64) + ";"))
	}
	return fmt.Sprintf("%s_%08x", kind, h.Sum32())
}

// Build turns a config into a registry entry. predictor may be nil for rule sets without
// a context strategy.
func Build(cfg Config, predictor Predictor) (Entry, error) {
	bp, ok := blueprints[cfg.Type]
	if !ok {
		return Entry{}, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
	params := make(map[string]float64, len(bp.defaults))
	for k, v := range bp.defaults {
		params[k] = v
	}
	for k, v := range cfg.Parameters {
		params[k] = v
	}
	p := func(k string) int { return int(params[k]) }

	var rule Rule
	switch cfg.Type {
	case "golden_cross":
		rule = GoldenCross{Short: p("short"), Long: p("long")}
	case "macd_crossover":
		rule = MACDCrossover{Fast: p("fast"), Slow: p("slow"), Signal: p("signal")}
	case "awesome_oscillator":
		rule = AwesomeOscillator{Fast: p("fast"), Slow: p("slow")}
	case "rsi_dip":
		rule = RSIDip{Period: p("period"), Threshold: params["threshold"]}
	case "bollinger_breakout":
		rule = BollingerBreakout{Period: p("period"), StdDev: params["std_dev"]}
	case "ml_prediction":
		if predictor == nil {
			predictor = MomentumPredictor{}
		}
		rule = MLPrediction{Predictor: predictor, Window: p("window")}
	}

	e := Entry{
		ID:         cfg.ID,
		Name:       cfg.Name,
		Type:       cfg.Type,
		Rule:       rule,
		Confidence: bp.confidence,
		Active:     true,
		Affinity:   bp.affinity,
		Direction:  bp.direction,
		Params:     params,
	}
	if e.ID == "" {
		e.ID = StrategyID(cfg.Type, params)
	}
	if e.Name == "" {
		e.Name = bp.name
	}
	if cfg.Confidence != nil {
		e.Confidence = *cfg.Confidence
	}
	if cfg.IsActive != nil {
		e.Active = *cfg.IsActive
	}
	return e, nil
}

// SyncConfigToDB inserts strategies from config into the database. Existing rows keep
// their tuned confidence and active flag; only name, type and parameters follow the file.
func SyncConfigToDB(database *sql.DB, configs []Config) error {
	tx, err := database.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO strategy_instances (id, name, strategy_type, parameters, confidence, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			strategy_type = excluded.strategy_type,
			parameters = excluded.parameters,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, cfg := range configs {
		e, err := Build(cfg, nil)
		if err != nil {
			return err
		}
		paramsJSON, err := json.Marshal(e.Params)
		if err != nil {
			return fmt.Errorf("failed to marshal parameters for strategy %s: %w", e.Name, err)
		}
		if _, err := stmt.Exec(e.ID, e.Name, e.Type, string(paramsJSON), e.Confidence, e.Active); err != nil {
			return fmt.Errorf("failed to upsert strategy %s: %w", e.Name, err)
		}
	}

	return tx.Commit()
}

// LoadRegistry builds the registry from configs, overlaying the confidence and active
// flag persisted by earlier runs. database may be nil.
func LoadRegistry(ctx context.Context, database *db.Database, configs []Config, predictor Predictor) (*Registry, error) {
	persisted := map[string]db.StrategyInstance{}
	if database != nil {
		rows, err := database.ListStrategyInstances(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			persisted[r.ID] = r
		}
	}

	reg := &Registry{index: make(map[string]int)}
	for _, cfg := range configs {
		e, err := Build(cfg, predictor)
		if err != nil {
			return nil, err
		}
		if row, ok := persisted[e.ID]; ok {
			e.Active = row.IsActive
			if row.Confidence.Valid {
				e.Confidence = row.Confidence.Float64
			}
		}
		if err := reg.Add(e); err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{
			"strategy":   e.ID,
			"confidence": e.Confidence,
			"active":     e.Active,
			"affinity":   affinityLabel(e),
		}).Info("✅ Loaded strategy")
	}
	return reg, nil
}

func affinityLabel(e Entry) string {
	if e.Agnostic() {
		return "any"
	}
	parts := make([]string, len(e.Affinity))
	for i, r := range e.Affinity {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
