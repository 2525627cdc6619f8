package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBinanceCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/v3/klines" || q.Get("symbol") != "ETHUSDT" || q.Get("interval") != "5m" || q.Get("limit") != "3" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`[
			[1700000300000,"101","102","100","101.5","10",1700000599999],
			[1700000000000,"100","101","99","100.5","12",1700000299999],
			[1700000300000,"101","102","100","101.5","10",1700000599999],
			["bad"]
		]`))
	}))
	defer srv.Close()

	b := NewBinance(srv.URL, nil, time.Second)
	cs, err := b.GetCandles(context.Background(), "ETH/USD", "5m", 3)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(cs) != 2 {
		t.Fatalf("len = %d", len(cs))
	}
	if cs[0].Ts != 1700000000000 || cs[1].Close != 101.5 || cs[0].Volume != 12 {
		t.Fatalf("candles = %+v", cs)
	}
}

func TestBinanceSymbolMapAndSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "XBTUSDT" {
			t.Errorf("symbol = %q", r.URL.Query().Get("symbol"))
		}
		_, _ = w.Write([]byte(`{"symbol":"XBTUSDT","bidPrice":"99.0","askPrice":"101.0"}`))
	}))
	defer srv.Close()

	b := NewBinance(srv.URL, map[string]string{"BTC/USD": "XBTUSDT"}, time.Second)
	s, err := b.GetSnapshot(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.Price != 100 || s.Bid != 99 || s.Ask != 101 {
		t.Fatalf("snapshot = %+v", s)
	}
	if got := b.Symbol("SOL/USD"); got != "SOLUSDT" {
		t.Fatalf("default symbol = %q", got)
	}
}
