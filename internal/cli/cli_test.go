package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-loop/pkg/config"
	"trading-loop/pkg/secrets"
	"trading-loop/pkg/venue/paper"
)

const testStrategies = `strategies:
  - id: dip_fast
    type: rsi_dip
    parameters:
      period: 7
      threshold: 40
  - id: cross_slow
    type: golden_cross
    is_active: false
`

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DRY_RUN", "true")
	t.Setenv("DB_PATH", filepath.Join(dir, "loop.db"))
	t.Setenv("STRATEGIES_FILE", filepath.Join(dir, "missing.yaml"))
	t.Setenv("INSTRUMENTS", "frxEURUSD,frxGBPUSD")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("PREDICTOR_ADDR", "")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildAppWiresPaperVenue(t *testing.T) {
	testEnv(t)
	cfg, err := config.Load()
	require.NoError(t, err)

	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()

	require.NoError(t, a.authorize(context.Background()))
	assert.Equal(t, 6, a.registry.Len(), "built-in set when the file is missing")
	assert.False(t, a.bot.Running())

	infos, err := a.engine.ListStrategies(context.Background())
	require.NoError(t, err)
	assert.Len(t, infos, 6)

	sys := a.engine.GetSystemStatus(context.Background())
	assert.True(t, sys.DryRun)
	assert.Equal(t, "paper", sys.Venue)
	assert.Equal(t, []string{"frxEURUSD", "frxGBPUSD"}, sys.Instruments)

	rows, err := a.db.ListStrategyInstances(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestAuthorizeSeedsBalanceFromAccount(t *testing.T) {
	testEnv(t)
	t.Setenv("DRY_RUN_INITIAL_BALANCE", "250")
	cfg, err := config.Load()
	require.NoError(t, err)

	a, err := buildApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()
	assert.Equal(t, 250.0, a.balance.Available(), "dry run starts from the configured amount")

	a.client = paper.New(paper.Config{InitialBalance: 4321.5, Currency: "EUR"})
	require.NoError(t, a.authorize(context.Background()))
	got := a.balance.Get()
	assert.Equal(t, 4321.5, got.Amount)
	assert.Equal(t, "EUR", got.Currency)
}

func TestStrategiesSyncAndList(t *testing.T) {
	dir := testEnv(t)
	file := filepath.Join(dir, "strategies.yaml")
	require.NoError(t, os.WriteFile(file, []byte(testStrategies), 0o644))

	out, err := execute(t, "strategies", "sync", file)
	require.NoError(t, err)
	assert.Contains(t, out, "synced 2 strategies")

	t.Setenv("STRATEGIES_FILE", file)
	out, err = execute(t, "strategies", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "dip_fast")
	assert.Contains(t, out, "cross_slow")
	assert.Contains(t, out, "false")
}

func TestStrategiesSyncRejectsUnknownType(t *testing.T) {
	dir := testEnv(t)
	file := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("strategies:\n  - type: martingale\n"), 0o644))

	_, err := execute(t, "strategies", "sync", file)
	assert.ErrorContains(t, err, "martingale")
}

func TestReportOnEmptyLedger(t *testing.T) {
	testEnv(t)
	out, err := execute(t, "report", "--window", "48h")
	require.NoError(t, err)
	assert.Contains(t, out, "Closed trades: 0")
	assert.Contains(t, out, "STRATEGY")
}

func TestVersionSkipsConfig(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("DERIV_API_TOKEN", "")
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "trading-loop")
}

func TestLiveModeRequiresToken(t *testing.T) {
	testEnv(t)
	t.Setenv("DRY_RUN", "false")
	t.Setenv("DERIV_API_TOKEN", "")
	_, err := execute(t, "report")
	assert.ErrorIs(t, err, config.ErrMissingToken)
}

func TestSecretsSealFromStdin(t *testing.T) {
	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	t.Setenv(secrets.KeyEnv, key)
	t.Setenv("DRY_RUN", "false")
	t.Setenv("DERIV_API_TOKEN", "")

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetIn(strings.NewReader("a1-live-token\n"))
	root.SetArgs([]string{"secrets", "seal"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	sealed := strings.TrimSpace(out.String())
	ring, err := secrets.LoadKeyring(os.Getenv)
	require.NoError(t, err)
	plain, err := ring.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "a1-live-token", plain)
}
