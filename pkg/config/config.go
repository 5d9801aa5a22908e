package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"trading-loop/pkg/secrets"
)

// Config holds environment-driven settings for the trading loop.
type Config struct {
	Port string

	// Venue
	DerivAppID    string
	DerivToken    string
	DerivEndpoint string
	Currency      string
	VenueRate     float64 // requests per second

	// Execution
	DryRun               bool
	DryRunInitialBalance float64
	AutoStart            bool

	// Risk and gate
	MaxOpenPositions  int
	RiskPercentage    float64
	StopLossPercent   float64
	TakeProfitPercent float64
	CooldownPeriod    time.Duration
	MaxAskPrice       float64
	MinPayout         float64

	// Cycle
	LoopDelay      time.Duration
	EvalTimeout    time.Duration
	TimeoutBackoff time.Duration
	ErrorBackoff   time.Duration

	// Evaluation
	CandleCount       int
	CandleGranularity int
	MinCandles        int
	EvalConcurrency   int
	Instruments       []string
	ExcludedMarkets   []string
	StrategiesFile    string
	PredictorAddr     string

	// Venue call wrapper
	CallMaxRetries int
	CallBaseDelay  time.Duration
	CallTimeout    time.Duration

	// Confidence tuner
	TunerMinTrades        int
	TunerWinRateThreshold float64

	// Database
	DBPath string

	// Control surface
	JWTSecret      string
	OperatorSecret string

	ReportSchedule string

	LogLevel  string
	LogFormat string
}

// ErrMissingToken is returned when live trading is requested without a venue token.
var ErrMissingToken = errors.New("DERIV_API_TOKEN is required when DRY_RUN=false")

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/trading.db")
	}

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		DerivAppID:            getEnv("DERIV_APP_ID", "1089"),
		DerivToken:            os.Getenv("DERIV_API_TOKEN"),
		DerivEndpoint:         getEnv("DERIV_ENDPOINT", "wss://ws.derivws.com/websockets/v3"),
		Currency:              getEnv("CURRENCY", "USD"),
		VenueRate:             getEnvFloat("VENUE_RATE_LIMIT", 10),
		DryRun:                getEnvBool("DRY_RUN", true),
		DryRunInitialBalance:  getEnvFloat("DRY_RUN_INITIAL_BALANCE", 1000),
		AutoStart:             getEnvBool("AUTO_START", true),
		MaxOpenPositions:      getEnvInt("MAX_OPEN_POSITIONS", 5),
		RiskPercentage:        getEnvFloat("RISK_PERCENTAGE", 0.02),
		StopLossPercent:       getEnvFloat("STOP_LOSS_PERCENT", 10),
		TakeProfitPercent:     getEnvFloat("TAKE_PROFIT_PERCENT", 20),
		CooldownPeriod:        getEnvDuration("COOLDOWN_PERIOD", time.Hour),
		MaxAskPrice:           getEnvFloat("MAX_ASK_PRICE", 10),
		MinPayout:             getEnvFloat("MIN_PAYOUT", 1),
		LoopDelay:             getEnvDuration("LOOP_DELAY", 60*time.Second),
		EvalTimeout:           getEnvDuration("EVAL_TIMEOUT", 30*time.Second),
		TimeoutBackoff:        getEnvDuration("TIMEOUT_BACKOFF", 60*time.Second),
		ErrorBackoff:          getEnvDuration("ERROR_BACKOFF", 60*time.Second),
		CandleCount:           getEnvInt("CANDLE_COUNT", 200),
		CandleGranularity:     getEnvInt("CANDLE_GRANULARITY", 86400),
		MinCandles:            getEnvInt("MIN_CANDLES", 35),
		EvalConcurrency:       getEnvInt("EVAL_CONCURRENCY", 0),
		Instruments:           splitAndTrim(getEnv("INSTRUMENTS", "")),
		ExcludedMarkets:       splitAndTrim(getEnv("EXCLUDED_MARKETS", "synthetic_index")),
		StrategiesFile:        getEnv("STRATEGIES_FILE", "./configs/strategies.yaml"),
		PredictorAddr:         getEnv("PREDICTOR_ADDR", ""),
		CallMaxRetries:        getEnvInt("CALL_MAX_RETRIES", 3),
		CallBaseDelay:         getEnvDuration("CALL_BASE_DELAY", time.Second),
		CallTimeout:           getEnvDuration("CALL_TIMEOUT", 10*time.Second),
		TunerMinTrades:        getEnvInt("TUNER_MIN_TRADES", 5),
		TunerWinRateThreshold: getEnvFloat("TUNER_WIN_RATE_THRESHOLD", 50),
		DBPath:                dbPath,
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret"),
		OperatorSecret:        getEnv("OPERATOR_SECRET", "dev-operator"),
		ReportSchedule:        getEnv("REPORT_SCHEDULE", "0 0 0 * * *"),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:             strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}
	if err := unseal(cfg); err != nil {
		return nil, err
	}
	if !cfg.DryRun && cfg.DerivToken == "" {
		return nil, ErrMissingToken
	}
	return cfg, nil
}

// unseal opens any credential given in sealed ENC[vN]: form. The keyring is only loaded
// when at least one value is sealed.
func unseal(cfg *Config) error {
	var ring *secrets.Keyring
	for name, field := range map[string]*string{
		"DERIV_API_TOKEN": &cfg.DerivToken,
		"OPERATOR_SECRET": &cfg.OperatorSecret,
		"JWT_SECRET":      &cfg.JWTSecret,
	} {
		if !secrets.IsSealed(*field) {
			continue
		}
		if ring == nil {
			r, err := secrets.LoadKeyring(os.Getenv)
			if err != nil {
				return fmt.Errorf("%s is sealed: %w", name, err)
			}
			ring = r
		}
		plain, err := ring.Open(*field)
		if err != nil {
			return fmt.Errorf("unseal %s: %w", name, err)
		}
		*field = plain
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90s", "1h") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
