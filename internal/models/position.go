package models

// Position is one spot holding. StopPrice and TrailAnchor belong to the risk manager.
type Position struct {
	Pair        string   `json:"pair"`
	Quantity    float64  `json:"quantity"`
	AvgPrice    float64  `json:"avg_price"`
	USDValue    float64  `json:"usd_value"`
	StopPrice   *float64 `json:"stop_price"`
	TrailAnchor *float64 `json:"trail_anchor"`
}

// PortfolioState is the single mutable aggregate threaded through every stage.
type PortfolioState struct {
	CashUSD         float64              `json:"cash_usd"`
	Positions       map[string]*Position `json:"positions"`
	Equity          float64              `json:"equity"`
	PeakEquity      float64              `json:"peak_equity"`
	LastRebalanceTs int64                `json:"last_rebalance_ts"`

	FastStartActive      bool     `json:"fast_start_active"`
	FastStartCompleted   bool     `json:"fast_start_completed"`
	FastStartEntryPrice  *float64 `json:"fast_start_entry_price"`
	FastStartTargetPrice *float64 `json:"fast_start_target_price"`
}

func NewPortfolioState(cash float64) *PortfolioState {
	return &PortfolioState{
		CashUSD:    cash,
		Positions:  make(map[string]*Position),
		Equity:     cash,
		PeakEquity: cash,
	}
}

// Recompute sets equity from cash and cached position values and ratchets the peak.
func (s *PortfolioState) Recompute() {
	eq := s.CashUSD
	for _, p := range s.Positions {
		eq += p.USDValue
	}
	s.Equity = eq
	if eq > s.PeakEquity {
		s.PeakEquity = eq
	}
}

// MarkCompleted finishes the fast-start routine. It never reverts.
func (s *PortfolioState) MarkCompleted() {
	s.FastStartActive = false
	s.FastStartCompleted = true
}

// Clone returns a deep copy, used by tests and by stores that must not alias.
func (s *PortfolioState) Clone() *PortfolioState {
	out := *s
	out.Positions = make(map[string]*Position, len(s.Positions))
	for k, p := range s.Positions {
		cp := *p
		cp.StopPrice = copyFloat(p.StopPrice)
		cp.TrailAnchor = copyFloat(p.TrailAnchor)
		out.Positions[k] = &cp
	}
	out.FastStartEntryPrice = copyFloat(s.FastStartEntryPrice)
	out.FastStartTargetPrice = copyFloat(s.FastStartTargetPrice)
	return &out
}

func Float(v float64) *float64 { return &v }

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
