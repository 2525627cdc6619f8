package exchange

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"portfolio_bot/internal/helper"
	"portfolio_bot/internal/models"
)

// Binance serves public market data: klines and book ticker.
type Binance struct {
	baseURL string
	symbols map[string]string
	http    *http.Client
	now     func() time.Time
}

func NewBinance(baseURL string, symbols map[string]string, timeout time.Duration) *Binance {
	return &Binance{
		baseURL: strings.TrimRight(baseURL, "/"),
		symbols: symbols,
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// Symbol maps BTC/USD to the configured Binance symbol, BTCUSDT by default.
func (b *Binance) Symbol(pair string) string {
	if s, ok := b.symbols[pair]; ok && s != "" {
		return s
	}
	return helper.BaseAsset(pair) + "USDT"
}

func (b *Binance) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "binance %s", path)
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("binance %s: http %d: %s", path, resp.StatusCode, string(rb))
	}
	if err := sonic.Unmarshal(rb, out); err != nil {
		return errors.Wrapf(err, "binance %s: decode", path)
	}
	return nil
}

// GetCandles returns up to limit klines ordered by open time with duplicates removed.
func (b *Binance) GetCandles(ctx context.Context, pair, interval string, limit int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("symbol", b.Symbol(pair))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	var rows [][]any
	if err := b.get(ctx, "/api/v3/klines", q, &rows); err != nil {
		return nil, err
	}

	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		c, ok := parseKline(row)
		if !ok {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })

	dedup := out[:0]
	for i, c := range out {
		if i > 0 && c.Ts == dedup[len(dedup)-1].Ts {
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup, nil
}

// kline row: [openTime, open, high, low, close, volume, closeTime, ...]
func parseKline(row []any) (models.Candle, bool) {
	if len(row) < 6 {
		return models.Candle{}, false
	}
	ts, ok := toFloat(row[0])
	if !ok {
		return models.Candle{}, false
	}
	var vals [5]float64
	for i := 0; i < 5; i++ {
		v, ok := toFloat(row[i+1])
		if !ok {
			return models.Candle{}, false
		}
		vals[i] = v
	}
	return models.Candle{
		Ts:     int64(ts),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// GetSnapshot builds a snapshot from the book ticker; price is the mid.
func (b *Binance) GetSnapshot(ctx context.Context, pair string) (models.MarketSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", b.Symbol(pair))

	var bt bookTicker
	if err := b.get(ctx, "/api/v3/ticker/bookTicker", q, &bt); err != nil {
		return models.MarketSnapshot{}, err
	}
	bid, _ := strconv.ParseFloat(bt.BidPrice, 64)
	ask, _ := strconv.ParseFloat(bt.AskPrice, 64)
	if bid <= 0 || ask <= 0 {
		return models.MarketSnapshot{}, errors.Wrap(ErrNoSnapshot, pair)
	}
	return models.MarketSnapshot{
		Pair:      pair,
		Price:     (bid + ask) / 2,
		Bid:       bid,
		Ask:       ask,
		UpdatedAt: b.now(),
	}, nil
}
