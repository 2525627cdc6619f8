package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var ErrInconsistent = errors.New("config inconsistent")

// Validate reports every broken rule at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(c.Pairs()) == 0 {
		add("universe is empty")
	}
	if c.Universe.Reference == "" {
		add("universe.reference is required")
	}
	if c.Exchange.FeeBps < 0 {
		add("exchange.fee_bps must be >= 0")
	}
	if c.Exchange.MinOrderUSD < 0 {
		add("exchange.min_order_usd must be >= 0")
	}
	if c.Exchange.RateLimitMs <= 0 {
		add("exchange.rate_limit_ms must be > 0")
	}
	if !c.Exchange.DryRun && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		add("exchange api credentials are required when dry_run is off")
	}

	if c.Signals.TopKDown <= 0 || c.Signals.TopKChop <= 0 || c.Signals.TopKNormal <= 0 {
		add("signals.top_k_* must be > 0")
	}
	if c.Signals.HysteresisWeightChange < 0 {
		add("signals.hysteresis_weight_change must be >= 0")
	}
	if c.Signals.EmptyPolicy != EmptyPolicyHold && c.Signals.EmptyPolicy != EmptyPolicyFlatten {
		add("signals.empty_policy must be %q or %q", EmptyPolicyHold, EmptyPolicyFlatten)
	}

	for name, v := range map[string]float64{
		"sizing.cash_buffer_down":   c.Sizing.CashBufferDown,
		"sizing.cash_buffer_chop":   c.Sizing.CashBufferChop,
		"sizing.cash_buffer_normal": c.Sizing.CashBufferNormal,
	} {
		if v < 0 || v >= 1 {
			add("%s must be in [0,1)", name)
		}
	}
	for name, v := range map[string]float64{
		"sizing.cap_t1":        c.Sizing.CapT1,
		"sizing.cap_t2":        c.Sizing.CapT2,
		"sizing.cap_t3":        c.Sizing.CapT3,
		"sizing.sleeve_t3_max": c.Sizing.SleeveT3Max,
	} {
		if v <= 0 || v > 1 {
			add("%s must be in (0,1]", name)
		}
	}

	if c.Stops.ATRInit <= 0 || c.Stops.ATRTrail <= 0 {
		add("stops.atr_init and stops.atr_trail must be > 0")
	}
	if c.Stops.TrailArmATR < 0 {
		add("stops.trail_arm_atr must be >= 0")
	}
	if c.Stops.MaxPosLossPortion <= 0 || c.Stops.MaxPosLossPortion >= 1 {
		add("stops.max_pos_loss_portion must be in (0,1)")
	}

	if c.Risk.SoftDD <= 0 || c.Risk.HardDD <= 0 || c.Risk.SoftDD >= c.Risk.HardDD {
		add("risk: require 0 < soft_dd < hard_dd")
	}
	if c.Risk.ReduceAfterSoft <= 0 || c.Risk.ReduceAfterSoft > 1 {
		add("risk.reduce_after_soft must be in (0,1]")
	}
	if c.Risk.HardScalar <= 0 || c.Risk.HardScalar > 1 {
		add("risk.hard_scalar must be in (0,1]")
	}
	if c.Risk.HardScalar > c.Risk.ReduceAfterSoft {
		add("risk: require hard_scalar <= reduce_after_soft")
	}

	if c.Execution.SpreadFraction < 0 || c.Execution.SpreadFraction > 1 {
		add("execution.spread_fraction must be in [0,1]")
	}

	if c.FastStart.Enabled {
		if c.FastStart.Pair == "" {
			add("fast_start.pair is required")
		}
		if c.FastStart.TakeProfitPct <= 0 {
			add("fast_start.take_profit_pct must be > 0")
		}
		if c.FastStart.SlippageAllowance < 0 {
			add("fast_start.slippage_allowance must be >= 0")
		}
		if c.FastStart.MaxEntryAttempts <= 0 {
			add("fast_start.max_entry_attempts must be > 0")
		}
	}

	if c.Scheduling.IntradayCheckMinutes <= 0 || c.Scheduling.RebalanceMinutes <= 0 {
		add("scheduling intervals must be > 0")
	}

	switch c.State.Backend {
	case StateBackendFile:
		if c.State.Path == "" {
			add("state.path is required for file backend")
		}
	case StateBackendPostgres:
		if c.State.DSN == "" {
			add("state.dsn is required for postgres backend")
		}
	case StateBackendRedis:
		if c.State.RedisURL == "" {
			add("state.redis_url is required for redis backend")
		}
	default:
		add("state.backend %q is unknown", c.State.Backend)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.Wrap(ErrInconsistent, strings.Join(problems, "; "))
}
