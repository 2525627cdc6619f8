package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"portfolio_bot/internal/models"
)

type statusStub struct{ up atomic.Bool }

func (s *statusStub) SetWSConnected(v bool) { s.up.Store(v) }

func usdt(pair string) string {
	return strings.TrimSuffix(pair, "/USD") + "USDT"
}

func TestStreamWritesQuotesToCache(t *testing.T) {
	var gotQuery atomic.Value
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Get("streams"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frames := []string{
			`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"100.0","B":"1","a":"101.0","A":"1"}}`,
			`{"stream":"dogeusdt@bookTicker","data":{"s":"DOGEUSDT","b":"0.1","a":"0.1"}}`,
			`not json`,
			`{"stream":"ethusdt@bookTicker","data":{"s":"ETHUSDT","b":"0","a":"10"}}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cache := NewCache()
	status := &statusStub{}
	s := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"BTC/USD", "ETH/USD"}, usdt, cache, status)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for s.Frames() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	q, ok := cache.Quote("BTC/USD", time.Minute)
	if !ok {
		t.Fatal("no BTC quote cached")
	}
	if q.Bid != 100 || q.Ask != 101 || q.Price != 100.5 {
		t.Fatalf("quote = %+v", q)
	}
	if _, ok := cache.Quote("ETH/USD", time.Minute); ok {
		t.Fatal("zero bid must be dropped")
	}
	if cache.Len() != 1 {
		t.Fatalf("unsubscribed symbols cached: %d", cache.Len())
	}
	if got := gotQuery.Load(); got != "btcusdt@bookTicker/ethusdt@bookTicker" {
		t.Fatalf("streams = %v", got)
	}
	if status.up.Load() {
		t.Fatal("status must be down after stop")
	}
}

func TestCacheQuoteExpires(t *testing.T) {
	c := NewCache()
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	c.Set(models.MarketSnapshot{Pair: "BTC/USD", Price: 100})

	if _, ok := c.Quote("BTC/USD", 30*time.Second); !ok {
		t.Fatal("fresh quote missing")
	}
	now = now.Add(time.Minute)
	if _, ok := c.Quote("BTC/USD", 30*time.Second); ok {
		t.Fatal("stale quote served")
	}
	if _, ok := c.Quote("BTC/USD", 0); !ok {
		t.Fatal("maxAge 0 must not expire")
	}
}
