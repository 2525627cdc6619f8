package models

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// MarketSnapshot is the best bid/ask view of one pair.
type MarketSnapshot struct {
	Pair      string    `json:"pair"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Vol24h    float64   `json:"vol24h"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PairFilters are the exchange trading constraints for a pair.
type PairFilters struct {
	PriceStep   float64 `json:"price_step"`
	QtyStep     float64 `json:"qty_step"`
	MinQty      float64 `json:"min_qty"`
	MinNotional float64 `json:"min_notional"`
}

func DefaultPairFilters() PairFilters {
	return PairFilters{PriceStep: 0.01, QtyStep: 0.0001}
}

// OrderRequest is what the core asks the gateway to place. Price 0 means market.
type OrderRequest struct {
	Pair  string
	Side  Side
	Qty   float64
	Price float64
}

// Fill is an executed (or assumed executed) order leg.
type Fill struct {
	OrderID string
	Pair    string
	Side    Side
	Qty     float64
	Price   float64
	Fee     float64
	At      time.Time
}
