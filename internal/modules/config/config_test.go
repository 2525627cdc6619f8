package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"portfolio_bot/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
universe:
  tier1: ["BTC/USD"]
  tier3: ["DOGE/USD"]
  reference: "BTC/USD"
sizing:
  cap_t3: 0.05
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sizing.CapT3 != 0.05 {
		t.Fatalf("cap_t3 = %v", cfg.Sizing.CapT3)
	}
	if cfg.Sizing.CapT1 != 0.35 || cfg.Risk.HardScalar != 0.2 {
		t.Fatalf("defaults lost: cap_t1=%v hard_scalar=%v", cfg.Sizing.CapT1, cfg.Risk.HardScalar)
	}
	if got := cfg.TierOf("DOGE/USD"); got != 3 {
		t.Fatalf("tier of DOGE = %d", got)
	}
	if got := cfg.TierOf("UNKNOWN/USD"); got != 1 {
		t.Fatalf("unlisted tier = %d", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsInconsistentRisk(t *testing.T) {
	cfg := Default()
	cfg.Risk.SoftDD = 0.3
	cfg.Risk.HardDD = 0.2
	cfg.Sizing.CapT2 = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if errors.Cause(err) != ErrInconsistent {
		t.Fatalf("cause = %v", errors.Cause(err))
	}
	if !strings.Contains(err.Error(), "soft_dd") || !strings.Contains(err.Error(), "cap_t2") {
		t.Fatalf("missing problems in %q", err.Error())
	}

	cfg = Default()
	cfg.Risk.ReduceAfterSoft = 0.5
	cfg.Risk.HardScalar = 0.9
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "hard_scalar <= reduce_after_soft") {
		t.Fatalf("scalar rising with drawdown accepted: %v", err)
	}
}

func TestValidateRequiresCredentialsForLive(t *testing.T) {
	cfg := Default()
	cfg.Exchange.DryRun = false
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected credentials error")
	}
	cfg.Exchange.APIKey, cfg.Exchange.APISecret = "k", "s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOT_EXCHANGE_API_KEY", "key-from-env")
	t.Setenv("BOT_STATE_BACKEND", "redis")
	t.Setenv("BOT_TELEGRAM_CHAT_ID", "42")

	cfg := Default()
	applyEnv(cfg)
	if cfg.Exchange.APIKey != "key-from-env" {
		t.Fatalf("api key = %q", cfg.Exchange.APIKey)
	}
	if cfg.State.Backend != StateBackendRedis {
		t.Fatalf("backend = %q", cfg.State.Backend)
	}
	if cfg.Telegram.ChatID != 42 {
		t.Fatalf("chat id = %d", cfg.Telegram.ChatID)
	}
}

func TestRegimeLookups(t *testing.T) {
	cfg := Default()
	cases := []struct {
		regime models.Regime
		buffer float64
		topK   int
	}{
		{models.RegimeDown, 0.5, 2},
		{models.RegimeChop, 0.3, 4},
		{models.RegimeTrend, 0.1, 6},
	}
	for _, tc := range cases {
		if got := cfg.CashBuffer(tc.regime); got != tc.buffer {
			t.Fatalf("%s buffer = %v", tc.regime, got)
		}
		if got := cfg.TopK(tc.regime); got != tc.topK {
			t.Fatalf("%s topK = %d", tc.regime, got)
		}
	}
}

func TestPairsDeduplicates(t *testing.T) {
	cfg := Default()
	cfg.Universe.Tier2 = []string{"ETH/USD", "SOL/USD"}
	got := cfg.Pairs()
	want := []string{"BTC/USD", "ETH/USD", "SOL/USD"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("pairs = %v", got)
	}
}
