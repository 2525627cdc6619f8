package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"portfolio_bot/internal/models"
)

func expectedSignature(secret string, form map[string][]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+form[k][0])
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(h.Sum(nil))
}

func newRoostooServer(t *testing.T, secret string, handler func(w http.ResponseWriter, r *http.Request)) *Roostoo {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/exchangeInfo" {
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			if got, want := r.Header.Get("MSG-SIGNATURE"), expectedSignature(secret, r.Form); got != want {
				t.Errorf("%s: signature %q, want %q", r.URL.Path, got, want)
			}
			if r.Header.Get("RST-API-KEY") != "key" {
				t.Errorf("missing api key header")
			}
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	r := NewRoostoo(srv.URL, "key", secret, time.Second)
	r.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return r
}

func TestRoostooTickerAndSnapshot(t *testing.T) {
	r := newRoostooServer(t, "secret", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("pair") != "BTC/USD" {
			t.Errorf("pair = %q", req.URL.Query().Get("pair"))
		}
		_, _ = w.Write([]byte(`{"Success":true,"Data":{"BTC/USD":{"LastPrice":30000,"MaxBid":29990,"MinAsk":30010,"CoinTradeValue":12.5}}}`))
	})

	s, err := r.GetSnapshot(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.Price != 30000 || s.Bid != 29990 || s.Ask != 30010 || s.Vol24h != 12.5 {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestRoostooSnapshotMissingPair(t *testing.T) {
	r := newRoostooServer(t, "secret", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Success":true,"Data":{}}`))
	})
	_, err := r.GetSnapshot(context.Background(), "ETH/USD")
	if errors.Cause(err) != ErrNoSnapshot {
		t.Fatalf("err = %v", err)
	}
}

func TestRoostooPlaceOrder(t *testing.T) {
	r := newRoostooServer(t, "secret", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost || req.URL.Path != "/v3/place_order" {
			t.Errorf("unexpected %s %s", req.Method, req.URL.Path)
		}
		if req.PostForm.Get("type") != "LIMIT" || req.PostForm.Get("price") != "30000.5" || req.PostForm.Get("quantity") != "0.0123" {
			t.Errorf("form = %v", req.PostForm)
		}
		if req.PostForm.Get("side") != "BUY" || req.PostForm.Get("pair") != "BTC/USD" {
			t.Errorf("form = %v", req.PostForm)
		}
		_, _ = w.Write([]byte(`{"Success":true,"ErrMsg":"","OrderDetail":{"OrderID":81,"Status":"FILLED"}}`))
	})

	id, err := r.PlaceOrder(context.Background(), models.OrderRequest{Pair: "BTC/USD", Side: models.SideBuy, Qty: 0.0123, Price: 30000.5})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if id != "81" {
		t.Fatalf("id = %q", id)
	}
}

func TestRoostooPlaceOrderRejected(t *testing.T) {
	r := newRoostooServer(t, "secret", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Success":false,"ErrMsg":"insufficient balance"}`))
	})
	_, err := r.PlaceOrder(context.Background(), models.OrderRequest{Pair: "BTC/USD", Side: models.SideSell, Qty: 1})
	if errors.Cause(err) != ErrOrderRejected {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "insufficient balance") {
		t.Fatalf("err = %v", err)
	}
}

func TestRoostooBalances(t *testing.T) {
	r := newRoostooServer(t, "secret", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Success":true,"SpotWallet":{"USD":{"Free":1000,"Lock":5},"BTC":{"Free":0.5,"Lock":0}}}`))
	})
	b, err := r.GetBalances(context.Background())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if b["USD"].Total() != 1005 || b["BTC"].Free != 0.5 {
		t.Fatalf("balances = %+v", b)
	}
}

func TestRoostooPairFilters(t *testing.T) {
	calls := 0
	r := newRoostooServer(t, "secret", func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"TradePairs":{"BTC/USD":{"CanTrade":true,"PricePrecision":2,"AmountPrecision":5,"MiniOrder":1}}}`))
	})

	f, err := r.GetPairFilters(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	if math.Abs(f.PriceStep-0.01) > 1e-15 || math.Abs(f.QtyStep-0.00001) > 1e-15 || f.MinNotional != 1 {
		t.Fatalf("filters = %+v", f)
	}

	f, err = r.GetPairFilters(context.Background(), "DOGE/USD")
	if err != nil {
		t.Fatalf("filters: %v", err)
	}
	if f != models.DefaultPairFilters() {
		t.Fatalf("unknown pair should get defaults, got %+v", f)
	}
	if calls != 1 {
		t.Fatalf("exchangeInfo fetched %d times", calls)
	}
}
