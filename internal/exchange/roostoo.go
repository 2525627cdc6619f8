package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"portfolio_bot/internal/models"
)

// Roostoo is the REST client of the Roostoo mock spot exchange.
type Roostoo struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	now       func() time.Time

	mu      sync.RWMutex
	filters map[string]models.PairFilters
}

func NewRoostoo(baseURL, apiKey, apiSecret string, timeout time.Duration) *Roostoo {
	return &Roostoo{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: timeout},
		now:       time.Now,
	}
}

// sign is the hex HMAC-SHA256 of the sorted, unescaped k=v&k=v payload.
func (r *Roostoo) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	h := hmac.New(sha256.New, []byte(r.apiSecret))
	h.Write([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Roostoo) do(ctx context.Context, method, path string, params map[string]string, signed bool, out any) error {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet:
		u := r.baseURL + path
		if len(values) > 0 {
			u += "?" + values.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, method, r.baseURL+path, strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return errors.Errorf("unsupported method %s", method)
	}
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if signed {
		req.Header.Set("RST-API-KEY", r.apiKey)
		req.Header.Set("MSG-SIGNATURE", r.sign(params))
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "roostoo %s %s", method, path)
	}
	defer resp.Body.Close()

	rb, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("roostoo %s %s: http %d: %s", method, path, resp.StatusCode, string(rb))
	}
	if err := sonic.Unmarshal(rb, out); err != nil {
		return errors.Wrapf(err, "roostoo %s %s: decode", method, path)
	}
	return nil
}

func (r *Roostoo) millis() string { return strconv.FormatInt(r.now().UnixMilli(), 10) }

type exchangeInfoResp struct {
	TradePairs map[string]struct {
		CanTrade        bool     `json:"CanTrade"`
		PricePrecision  *int     `json:"PricePrecision"`
		AmountPrecision *int     `json:"AmountPrecision"`
		MiniOrder       float64  `json:"MiniOrder"`
		MinQty          *float64 `json:"MinQuantity"`
	} `json:"TradePairs"`
}

// LoadFilters refreshes the pair filter cache from /v3/exchangeInfo.
func (r *Roostoo) LoadFilters(ctx context.Context) error {
	var info exchangeInfoResp
	if err := r.do(ctx, http.MethodGet, "/v3/exchangeInfo", nil, false, &info); err != nil {
		return err
	}

	filters := make(map[string]models.PairFilters, len(info.TradePairs))
	for pair, tp := range info.TradePairs {
		f := models.DefaultPairFilters()
		if tp.PricePrecision != nil {
			f.PriceStep = math.Pow10(-*tp.PricePrecision)
		}
		if tp.AmountPrecision != nil {
			f.QtyStep = math.Pow10(-*tp.AmountPrecision)
		}
		if tp.MinQty != nil {
			f.MinQty = *tp.MinQty
		}
		f.MinNotional = tp.MiniOrder
		filters[pair] = f
	}

	r.mu.Lock()
	r.filters = filters
	r.mu.Unlock()
	return nil
}

// GetPairFilters serves from cache, loading it on first use. Unknown pairs get defaults.
func (r *Roostoo) GetPairFilters(ctx context.Context, pair string) (models.PairFilters, error) {
	r.mu.RLock()
	loaded := r.filters != nil
	f, ok := r.filters[pair]
	r.mu.RUnlock()

	if !loaded {
		if err := r.LoadFilters(ctx); err != nil {
			return models.DefaultPairFilters(), err
		}
		r.mu.RLock()
		f, ok = r.filters[pair]
		r.mu.RUnlock()
	}
	if !ok {
		return models.DefaultPairFilters(), nil
	}
	return f, nil
}

type tickerResp struct {
	Success bool   `json:"Success"`
	ErrMsg  string `json:"ErrMsg"`
	Data    map[string]struct {
		LastPrice      float64 `json:"LastPrice"`
		MaxBid         float64 `json:"MaxBid"`
		MinAsk         float64 `json:"MinAsk"`
		CoinTradeValue float64 `json:"CoinTradeValue"`
	} `json:"Data"`
}

// Tickers returns snapshots for every listed pair, or one pair when pair is set.
func (r *Roostoo) Tickers(ctx context.Context, pair string) (map[string]models.MarketSnapshot, error) {
	params := map[string]string{"timestamp": strconv.FormatInt(r.now().Unix(), 10)}
	if pair != "" {
		params["pair"] = pair
	}
	var resp tickerResp
	if err := r.do(ctx, http.MethodGet, "/v3/ticker", params, true, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.Errorf("roostoo ticker: %s", resp.ErrMsg)
	}

	now := r.now()
	out := make(map[string]models.MarketSnapshot, len(resp.Data))
	for p, d := range resp.Data {
		out[p] = models.MarketSnapshot{
			Pair:      p,
			Price:     d.LastPrice,
			Bid:       d.MaxBid,
			Ask:       d.MinAsk,
			Vol24h:    d.CoinTradeValue,
			UpdatedAt: now,
		}
	}
	return out, nil
}

func (r *Roostoo) GetSnapshot(ctx context.Context, pair string) (models.MarketSnapshot, error) {
	all, err := r.Tickers(ctx, pair)
	if err != nil {
		return models.MarketSnapshot{}, err
	}
	s, ok := all[pair]
	if !ok || s.Price <= 0 {
		return models.MarketSnapshot{}, errors.Wrap(ErrNoSnapshot, pair)
	}
	return s, nil
}

type balanceResp struct {
	Success    bool               `json:"Success"`
	ErrMsg     string             `json:"ErrMsg"`
	SpotWallet map[string]Balance `json:"SpotWallet"`
	Wallet     map[string]Balance `json:"Wallet"`
}

func (r *Roostoo) GetBalances(ctx context.Context) (map[string]Balance, error) {
	var resp balanceResp
	if err := r.do(ctx, http.MethodGet, "/v3/balance", map[string]string{"timestamp": r.millis()}, true, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.Errorf("roostoo balance: %s", resp.ErrMsg)
	}
	if resp.SpotWallet != nil {
		return resp.SpotWallet, nil
	}
	if resp.Wallet != nil {
		return resp.Wallet, nil
	}
	return map[string]Balance{}, nil
}

type placeOrderResp struct {
	Success     bool   `json:"Success"`
	ErrMsg      string `json:"ErrMsg"`
	OrderDetail struct {
		OrderID int64  `json:"OrderID"`
		Status  string `json:"Status"`
	} `json:"OrderDetail"`
}

// PlaceOrder sends a LIMIT order, or MARKET when req.Price is 0.
func (r *Roostoo) PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	if r.apiKey == "" || r.apiSecret == "" {
		return "", errors.New("roostoo: api creds empty")
	}
	params := map[string]string{
		"timestamp": r.millis(),
		"pair":      req.Pair,
		"side":      string(req.Side),
		"quantity":  formatFloat(req.Qty),
		"type":      "MARKET",
	}
	if req.Price > 0 {
		params["type"] = "LIMIT"
		params["price"] = formatFloat(req.Price)
	}

	var resp placeOrderResp
	if err := r.do(ctx, http.MethodPost, "/v3/place_order", params, true, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", errors.Wrapf(ErrOrderRejected, "%s %s: %s", req.Side, req.Pair, resp.ErrMsg)
	}
	return strconv.FormatInt(resp.OrderDetail.OrderID, 10), nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
