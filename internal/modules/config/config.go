package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"portfolio_bot/internal/models"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDir         = "configs/"
	defaultConfigFile = "values_local.yaml"
	envPrefix         = "BOT"
)

// Config is resolved once at startup and passed to every stage by pointer.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Service struct {
		Name       string `yaml:"name"`
		HealthAddr string `yaml:"health_addr"`
	} `yaml:"service"`

	Universe struct {
		Tier1     []string `yaml:"tier1"`
		Tier2     []string `yaml:"tier2"`
		Tier3     []string `yaml:"tier3"`
		Reference string   `yaml:"reference"` // regime is computed from this pair
	} `yaml:"universe"`

	Exchange struct {
		FeeBps      float64       `yaml:"fee_bps"`
		MinOrderUSD float64       `yaml:"min_order_usd"`
		RateLimitMs int           `yaml:"rate_limit_ms"`
		BaseURL     string        `yaml:"base_url"`
		APIKey      string        `yaml:"api_key"`
		APISecret   string        `yaml:"api_secret"`
		Timeout     time.Duration `yaml:"timeout"`
		DryRun      bool          `yaml:"dry_run"`
		PaperCash   float64       `yaml:"paper_cash"`
	} `yaml:"exchange"`

	Binance struct {
		BaseURL       string            `yaml:"base_url"`
		WSURL         string            `yaml:"ws_url"`
		SymbolMap     map[string]string `yaml:"symbol_map"` // BTC/USD -> BTCUSDT
		StreamEnabled bool              `yaml:"stream_enabled"`
	} `yaml:"binance"`

	Features struct {
		FastInterval string `yaml:"fast_interval"`
		SlowInterval string `yaml:"slow_interval"`
		FastLimit    int    `yaml:"fast_limit"`
		SlowLimit    int    `yaml:"slow_limit"`
	} `yaml:"features"`

	Signals struct {
		ScoreThreshold         float64 `yaml:"score_threshold"`
		TopKDown               int     `yaml:"top_k_down"`
		TopKChop               int     `yaml:"top_k_chop"`
		TopKNormal             int     `yaml:"top_k_normal"`
		HysteresisWeightChange float64 `yaml:"hysteresis_weight_change"`
		SlippageEstimate       float64 `yaml:"slippage_estimate"`
		EmptyPolicy            string  `yaml:"empty_policy"` // hold | flatten
		ModelDir               string  `yaml:"model_dir"`
	} `yaml:"signals"`

	Sizing struct {
		CashBufferDown   float64 `yaml:"cash_buffer_down"`
		CashBufferChop   float64 `yaml:"cash_buffer_chop"`
		CashBufferNormal float64 `yaml:"cash_buffer_normal"`
		CapT1            float64 `yaml:"cap_t1"`
		CapT2            float64 `yaml:"cap_t2"`
		CapT3            float64 `yaml:"cap_t3"`
		SleeveT3Max      float64 `yaml:"sleeve_t3_max"`
	} `yaml:"sizing"`

	Stops struct {
		ATRInit           float64 `yaml:"atr_init"`
		ATRTrail          float64 `yaml:"atr_trail"`
		TrailArmATR       float64 `yaml:"trail_arm_atr"`
		MaxPosLossPortion float64 `yaml:"max_pos_loss_portion"`
	} `yaml:"stops"`

	Risk struct {
		SoftDD          float64 `yaml:"soft_dd"`
		HardDD          float64 `yaml:"hard_dd"`
		ReduceAfterSoft float64 `yaml:"reduce_after_soft"`
		HardScalar      float64 `yaml:"hard_scalar"`
	} `yaml:"risk"`

	Execution struct {
		SpreadFraction      float64 `yaml:"spread_fraction"`
		LiquidateUnselected bool    `yaml:"liquidate_unselected"`
	} `yaml:"execution"`

	FastStart struct {
		Enabled           bool    `yaml:"enabled"`
		Pair              string  `yaml:"pair"`
		MinCashReserve    float64 `yaml:"min_cash_reserve"`
		TakeProfitPct     float64 `yaml:"take_profit_pct"`
		SlippageAllowance float64 `yaml:"slippage_allowance"`
		MaxEntryAttempts  int     `yaml:"max_entry_attempts"`
	} `yaml:"fast_start"`

	Scheduling struct {
		IntradayCheckMinutes int           `yaml:"intraday_check_minutes"`
		RebalanceMinutes     int           `yaml:"rebalance_minutes"`
		BackoffBase          time.Duration `yaml:"backoff_base"`
		BackoffMax           time.Duration `yaml:"backoff_max"`
	} `yaml:"scheduling"`

	State struct {
		Backend  string `yaml:"backend"` // file | postgres | redis
		Path     string `yaml:"path"`
		DSN      string `yaml:"dsn"`
		RedisURL string `yaml:"redis_url"`
		Key      string `yaml:"key"`
	} `yaml:"state"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = defaultConfigFile
	}

	cfg, err := LoadFile(configDir + configFileName)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes a YAML file over the defaults. Missing keys keep their default.
func LoadFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config %s", path)
	}
	defer func() {
		_ = file.Close()
	}()

	cfg := Default()
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	return cfg, nil
}

func Default() *Config {
	cfg := &Config{LogLevel: "info"}
	cfg.Service.Name = "portfolio_bot"
	cfg.Service.HealthAddr = ":8080"

	cfg.Universe.Tier1 = []string{"BTC/USD", "ETH/USD"}
	cfg.Universe.Reference = "BTC/USD"

	cfg.Exchange.FeeBps = 10
	cfg.Exchange.MinOrderUSD = 10
	cfg.Exchange.RateLimitMs = 1000
	cfg.Exchange.BaseURL = "https://mock-api.roostoo.com"
	cfg.Exchange.Timeout = 10 * time.Second
	cfg.Exchange.DryRun = true
	cfg.Exchange.PaperCash = 50000

	cfg.Binance.BaseURL = "https://api.binance.com"
	cfg.Binance.WSURL = "wss://stream.binance.com:9443"

	cfg.Features.FastInterval = "5m"
	cfg.Features.SlowInterval = "30m"
	cfg.Features.FastLimit = 600
	cfg.Features.SlowLimit = 600

	cfg.Signals.ScoreThreshold = 0
	cfg.Signals.TopKDown = 2
	cfg.Signals.TopKChop = 4
	cfg.Signals.TopKNormal = 6
	cfg.Signals.HysteresisWeightChange = 0.02
	cfg.Signals.SlippageEstimate = 0.0003
	cfg.Signals.EmptyPolicy = EmptyPolicyHold

	cfg.Sizing.CashBufferDown = 0.5
	cfg.Sizing.CashBufferChop = 0.3
	cfg.Sizing.CashBufferNormal = 0.1
	cfg.Sizing.CapT1 = 0.35
	cfg.Sizing.CapT2 = 0.2
	cfg.Sizing.CapT3 = 0.1
	cfg.Sizing.SleeveT3Max = 0.15

	cfg.Stops.ATRInit = 2.0
	cfg.Stops.ATRTrail = 2.5
	cfg.Stops.TrailArmATR = 0.8
	cfg.Stops.MaxPosLossPortion = 0.08

	cfg.Risk.SoftDD = 0.10
	cfg.Risk.HardDD = 0.20
	cfg.Risk.ReduceAfterSoft = 0.5
	cfg.Risk.HardScalar = 0.2

	cfg.Execution.SpreadFraction = 0.5
	cfg.Execution.LiquidateUnselected = true

	cfg.FastStart.Enabled = true
	cfg.FastStart.Pair = "BTC/USD"
	cfg.FastStart.MinCashReserve = 50
	cfg.FastStart.TakeProfitPct = 0.01
	cfg.FastStart.SlippageAllowance = 0.001
	cfg.FastStart.MaxEntryAttempts = 3

	cfg.Scheduling.IntradayCheckMinutes = 15
	cfg.Scheduling.RebalanceMinutes = 30
	cfg.Scheduling.BackoffBase = 5 * time.Second
	cfg.Scheduling.BackoffMax = 5 * time.Minute

	cfg.State.Backend = StateBackendFile
	cfg.State.Path = "state.json"
	cfg.State.Key = "portfolio_bot:state"

	cfg.Tracing.Host = "localhost"
	cfg.Tracing.Port = 6831
	return cfg
}

// applyEnv lets BOT_* variables override secrets and a few operational knobs,
// e.g. BOT_EXCHANGE_API_KEY or BOT_STATE_DSN.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	overrideString(v, "log_level", &cfg.LogLevel)
	overrideString(v, "exchange.api_key", &cfg.Exchange.APIKey)
	overrideString(v, "exchange.api_secret", &cfg.Exchange.APISecret)
	overrideString(v, "exchange.base_url", &cfg.Exchange.BaseURL)
	overrideString(v, "state.backend", &cfg.State.Backend)
	overrideString(v, "state.path", &cfg.State.Path)
	overrideString(v, "state.dsn", &cfg.State.DSN)
	overrideString(v, "state.redis_url", &cfg.State.RedisURL)
	overrideString(v, "telegram.token", &cfg.Telegram.Token)

	if v.IsSet("exchange.dry_run") {
		cfg.Exchange.DryRun = v.GetBool("exchange.dry_run")
	}
	if v.IsSet("telegram.chat_id") {
		cfg.Telegram.ChatID = v.GetInt64("telegram.chat_id")
	}
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if s := v.GetString(key); s != "" {
		*dst = s
	}
}

const (
	EmptyPolicyHold    = "hold"
	EmptyPolicyFlatten = "flatten"

	StateBackendFile     = "file"
	StateBackendPostgres = "postgres"
	StateBackendRedis    = "redis"
)

func (c *Config) FeeRate() float64 { return c.Exchange.FeeBps / 10000.0 }

// Pairs lists the traded universe in tier order without duplicates.
func (c *Config) Pairs() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(c.Universe.Tier1)+len(c.Universe.Tier2)+len(c.Universe.Tier3))
	for _, tier := range [][]string{c.Universe.Tier1, c.Universe.Tier2, c.Universe.Tier3} {
		for _, p := range tier {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// TierOf defaults to 1 for unlisted pairs.
func (c *Config) TierOf(pair string) int {
	for _, p := range c.Universe.Tier2 {
		if p == pair {
			return 2
		}
	}
	for _, p := range c.Universe.Tier3 {
		if p == pair {
			return 3
		}
	}
	return 1
}

func (c *Config) CashBuffer(r models.Regime) float64 {
	switch r {
	case models.RegimeDown:
		return c.Sizing.CashBufferDown
	case models.RegimeChop:
		return c.Sizing.CashBufferChop
	default:
		return c.Sizing.CashBufferNormal
	}
}

func (c *Config) TopK(r models.Regime) int {
	switch r {
	case models.RegimeDown:
		return c.Signals.TopKDown
	case models.RegimeChop:
		return c.Signals.TopKChop
	default:
		return c.Signals.TopKNormal
	}
}

func (c *Config) TierCap(tier int) float64 {
	switch tier {
	case 2:
		return c.Sizing.CapT2
	case 3:
		return c.Sizing.CapT3
	default:
		return c.Sizing.CapT1
	}
}
