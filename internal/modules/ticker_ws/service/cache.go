package service

import (
	"sync"
	"time"

	"portfolio_bot/internal/models"
)

// Cache keeps the latest streamed quote per pair. It satisfies exchange.QuoteSource.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]models.MarketSnapshot
	now    func() time.Time
}

func NewCache() *Cache {
	return &Cache{quotes: make(map[string]models.MarketSnapshot), now: time.Now}
}

func (c *Cache) Set(s models.MarketSnapshot) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = c.now()
	}
	c.mu.Lock()
	c.quotes[s.Pair] = s
	c.mu.Unlock()
}

// Quote returns the cached quote if it is younger than maxAge.
func (c *Cache) Quote(pair string, maxAge time.Duration) (models.MarketSnapshot, bool) {
	c.mu.RLock()
	s, ok := c.quotes[pair]
	c.mu.RUnlock()
	if !ok || s.Price <= 0 {
		return models.MarketSnapshot{}, false
	}
	if maxAge > 0 && c.now().Sub(s.UpdatedAt) > maxAge {
		return models.MarketSnapshot{}, false
	}
	return s, true
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
