package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"portfolio_bot/internal/exchange"
	"portfolio_bot/internal/models"
	"portfolio_bot/internal/modules/config"
	healthsvc "portfolio_bot/internal/modules/health/service"
	statesvc "portfolio_bot/internal/modules/state/service"
	"portfolio_bot/internal/risk"
	"portfolio_bot/pkg/logger"
	"portfolio_bot/pkg/metrics"
)

const (
	cadenceStops     = "stops"
	cadenceRebalance = "rebalance"
)

type tickFunc func(ctx context.Context, state *models.PortfolioState, now time.Time) (Report, error)

type cadence struct {
	name     string
	interval time.Duration
	next     time.Time
	backoff  *Backoff
	run      tickFunc
}

// Scheduler owns the PortfolioState and runs the stop and rebalance
// cadences on it, one tick at a time.
type Scheduler struct {
	cfg      *config.Config
	pipeline *Pipeline
	store    statesvc.Store
	gw       exchange.Gateway
	health   *healthsvc.State
	metrics  *metrics.Recorder
	now      func() time.Time

	mu       sync.Mutex
	state    *models.PortfolioState
	cadences []*cadence
}

func NewScheduler(
	cfg *config.Config,
	pipeline *Pipeline,
	store statesvc.Store,
	gw exchange.Gateway,
	health *healthsvc.State,
	rec *metrics.Recorder,
) *Scheduler {
	s := &Scheduler{
		cfg:      cfg,
		pipeline: pipeline,
		store:    store,
		gw:       gw,
		health:   health,
		metrics:  rec,
		now:      time.Now,
	}
	// stops before rebalance when both are due
	s.cadences = []*cadence{
		{
			name:     cadenceStops,
			interval: time.Duration(cfg.Scheduling.IntradayCheckMinutes) * time.Minute,
			backoff:  NewBackoff(cfg.Scheduling.BackoffBase, cfg.Scheduling.BackoffMax),
			run:      pipeline.StopTick,
		},
		{
			name:     cadenceRebalance,
			interval: time.Duration(cfg.Scheduling.RebalanceMinutes) * time.Minute,
			backoff:  NewBackoff(cfg.Scheduling.BackoffBase, cfg.Scheduling.BackoffMax),
			run:      pipeline.RebalanceTick,
		},
	}
	return s
}

// Start loads or bootstraps the state. The first rebalance tick is due
// immediately so fast start runs right away; stop checks follow their grid.
func (s *Scheduler) Start(ctx context.Context) error {
	st, err := statesvc.LoadOrBootstrap(ctx, s.store, s.gw, s.cfg.Pairs())
	if err != nil {
		return errors.Wrap(err, "scheduler start")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	now := s.now()
	for _, c := range s.cadences {
		c.next = alignNext(now, c.interval)
	}
	s.cadences[1].next = now
	s.health.SetReady(true)
	return nil
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		wait := s.RunDue(ctx)
		logger.Debug("scheduler: next tick in %s", wait.Round(time.Second))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			s.mu.Lock()
			if s.state != nil {
				s.pipeline.persist(context.Background(), s.state)
			}
			s.mu.Unlock()
			s.health.SetReady(false)
			logger.Info("scheduler: stopped")
			return
		case <-t.C:
		}
	}
}

// RunDue runs every cadence whose time has come and returns how long to wait
// for the next one. A failed tick is retried after a jittered backoff.
func (s *Scheduler) RunDue(ctx context.Context) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return time.Second
	}

	for _, c := range s.cadences {
		now := s.now()
		if now.Before(c.next) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		_, err := c.run(ctx, s.state, now)
		s.health.TouchTick(now)
		s.health.SetLastError(err)
		if err != nil {
			delay := c.backoff.Next()
			c.next = now.Add(delay)
			s.metrics.IncTickError(c.name)
			logger.Error("scheduler: %s tick failed, retry in %s: %v", c.name, delay.Round(time.Second), err)
			continue
		}
		c.backoff.Reset()
		c.next = alignNext(now, c.interval)
	}

	next := s.cadences[0].next
	for _, c := range s.cadences[1:] {
		if c.next.Before(next) {
			next = c.next
		}
	}
	wait := next.Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Status renders the portfolio for operators.
func (s *Scheduler) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st == nil {
		return "starting"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "equity %.2f | cash %.2f | peak %.2f | dd %.2f%%\n",
		st.Equity, st.CashUSD, st.PeakEquity, risk.Drawdown(st)*100)
	switch {
	case st.FastStartActive:
		fmt.Fprintf(&b, "fast start: active, target %.6f\n", deref(st.FastStartTargetPrice))
	case st.FastStartCompleted:
		b.WriteString("fast start: completed\n")
	}
	for _, pair := range heldPairs(st) {
		p := st.Positions[pair]
		fmt.Fprintf(&b, "%s qty %.8f avg %.6f value %.2f stop %.6f\n", pair, p.Quantity, p.AvgPrice, p.USDValue, deref(p.StopPrice))
	}
	for _, c := range s.sortedCadences() {
		fmt.Fprintf(&b, "next %s: %s\n", c.name, c.next.UTC().Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Scheduler) sortedCadences() []*cadence {
	out := append([]*cadence(nil), s.cadences...)
	sort.Slice(out, func(i, j int) bool { return out[i].next.Before(out[j].next) })
	return out
}

// alignNext returns the first multiple of interval strictly after now.
func alignNext(now time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return now
	}
	return now.Truncate(interval).Add(interval)
}
