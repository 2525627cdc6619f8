package service

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"portfolio_bot/internal/models"
	"portfolio_bot/pkg/logger"
)

const (
	pingEvery      = 20 * time.Second
	reconnectPause = time.Second
)

// ConnStatus receives connection up/down transitions, e.g. the health state.
type ConnStatus interface {
	SetWSConnected(v bool)
}

// Stream subscribes to Binance bookTicker for every pair and writes quotes into Cache.
type Stream struct {
	url    string
	cache  *Cache
	status ConnStatus
	dialer *websocket.Dialer

	bySymbol map[string]string // BTCUSDT -> BTC/USD
	frames   atomic.Int64
}

// NewStream builds a combined-stream subscriber. symbol maps a pair to its
// Binance symbol.
func NewStream(wsURL string, pairs []string, symbol func(pair string) string, cache *Cache, status ConnStatus) *Stream {
	s := &Stream{
		cache:    cache,
		status:   status,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		bySymbol: make(map[string]string, len(pairs)),
	}
	streams := make([]string, 0, len(pairs))
	for _, p := range pairs {
		sym := strings.ToUpper(symbol(p))
		if _, dup := s.bySymbol[sym]; dup {
			continue
		}
		s.bySymbol[sym] = p
		streams = append(streams, strings.ToLower(sym)+"@bookTicker")
	}
	s.url = strings.TrimRight(wsURL, "/") + "/stream?streams=" + strings.Join(streams, "/")
	return s
}

// Frames counts decoded quote frames since start.
func (s *Stream) Frames() int64 { return s.frames.Load() }

// Run reconnects until ctx is done.
func (s *Stream) Run(ctx context.Context) {
	if len(s.bySymbol) == 0 {
		logger.Warn("ticker_ws: empty pair list, stream not started")
		return
	}

	for {
		logger.Info("ticker_ws: connect %d symbols", len(s.bySymbol))
		if err := s.session(ctx); err != nil {
			logger.Warn("ticker_ws: session ended: %v", err)
		}
		s.setConnected(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectPause):
		}
	}
}

func (s *Stream) session(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()
	s.setConnected(true)

	// keepalive; also unblocks ReadMessage on shutdown
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-stopPing:
				return
			case <-t.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if snap, ok := s.decode(msg); ok {
			s.cache.Set(snap)
			s.frames.Add(1)
		}
	}
}

type bookTickerFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		Ask    string `json:"a"`
	} `json:"data"`
}

func (s *Stream) decode(msg []byte) (models.MarketSnapshot, bool) {
	var frame bookTickerFrame
	if err := sonic.Unmarshal(msg, &frame); err != nil {
		return models.MarketSnapshot{}, false
	}
	pair, ok := s.bySymbol[strings.ToUpper(frame.Data.Symbol)]
	if !ok {
		return models.MarketSnapshot{}, false
	}
	bid, err1 := strconv.ParseFloat(frame.Data.Bid, 64)
	ask, err2 := strconv.ParseFloat(frame.Data.Ask, 64)
	if err1 != nil || err2 != nil || bid <= 0 || ask <= 0 {
		return models.MarketSnapshot{}, false
	}
	return models.MarketSnapshot{
		Pair:  pair,
		Price: (bid + ask) / 2,
		Bid:   bid,
		Ask:   ask,
	}, true
}

func (s *Stream) setConnected(v bool) {
	if s.status != nil {
		s.status.SetWSConnected(v)
	}
}
