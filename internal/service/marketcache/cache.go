package marketcache

import (
	"sync"

	"QuantPull/internal/domain/models"
)

// Cache is the shared last-value-wins store for market data. It keeps the
// most recent bar, order-book snapshot, and trade per symbol plus a bounded
// ring of recent bars for indicator computation.
//
// Writes carrying a timestamp older than or equal to the cached value for
// the same (kind, symbol) are rejected. Critical sections only copy and
// assign; no I/O happens under the lock.
type Cache struct {
	mu         sync.RWMutex
	bars       map[string]models.Bar
	books      map[string]models.OrderBookSnapshot
	trades     map[string]models.Trade
	history    map[string][]models.Bar
	maxHistory int
}

// New creates a cache whose per-symbol bar history holds at most maxHistory
// bars. maxHistory should cover the longest indicator window in use.
func New(maxHistory int) *Cache {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &Cache{
		bars:       make(map[string]models.Bar),
		books:      make(map[string]models.OrderBookSnapshot),
		trades:     make(map[string]models.Trade),
		history:    make(map[string][]models.Bar),
		maxHistory: maxHistory,
	}
}

// PutBar stores a bar if it is newer than the cached one. Applied bars are
// also appended to the symbol's history ring. Returns whether the write was
// applied.
func (c *Cache) PutBar(b models.Bar) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.bars[b.Symbol]; ok && !b.Timestamp.After(prev.Timestamp) {
		return false
	}
	c.bars[b.Symbol] = b

	h := append(c.history[b.Symbol], b)
	if len(h) > c.maxHistory {
		h = h[len(h)-c.maxHistory:]
	}
	c.history[b.Symbol] = h
	return true
}

// PutOrderBook stores an order-book snapshot if it is newer than the cached one.
func (c *Cache) PutOrderBook(ob models.OrderBookSnapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.books[ob.Symbol]; ok && !ob.Timestamp.After(prev.Timestamp) {
		return false
	}
	c.books[ob.Symbol] = ob
	return true
}

// PutTrade stores a trade print if it is newer than the cached one.
func (c *Cache) PutTrade(t models.Trade) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.trades[t.Symbol]; ok && !t.Timestamp.After(prev.Timestamp) {
		return false
	}
	c.trades[t.Symbol] = t
	return true
}

// SeedHistory preloads bar history from archived bars, oldest first. Seeded
// bars participate in stale-write rejection like live ones.
func (c *Cache) SeedHistory(bars []models.Bar) {
	for _, b := range bars {
		c.PutBar(b)
	}
}

// LatestBar returns the current bar for symbol, if any.
func (c *Cache) LatestBar(symbol string) (models.Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bars[symbol]
	return b, ok
}

// LatestOrderBook returns the current order-book snapshot for symbol, if any.
func (c *Cache) LatestOrderBook(symbol string) (models.OrderBookSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ob, ok := c.books[symbol]
	return ob, ok
}

// LatestTrade returns the most recent trade print for symbol, if any.
func (c *Cache) LatestTrade(symbol string) (models.Trade, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.trades[symbol]
	return t, ok
}

// BarHistory returns a copy of up to max recent bars for symbol, oldest
// first. max <= 0 means the full retained history.
func (c *Cache) BarHistory(symbol string, max int) []models.Bar {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := c.history[symbol]
	if max > 0 && len(h) > max {
		h = h[len(h)-max:]
	}
	out := make([]models.Bar, len(h))
	copy(out, h)
	return out
}

// SnapshotBars returns a frozen copy of the latest bar per symbol. The copy
// is internally consistent: concurrent writes never tear it mid-read.
func (c *Cache) SnapshotBars() map[string]models.Bar {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.Bar, len(c.bars))
	for sym, b := range c.bars {
		out[sym] = b
	}
	return out
}

// SnapshotOrderBooks returns a frozen copy of the latest order book per symbol.
func (c *Cache) SnapshotOrderBooks() map[string]models.OrderBookSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.OrderBookSnapshot, len(c.books))
	for sym, ob := range c.books {
		out[sym] = ob
	}
	return out
}

// SnapshotTrades returns a frozen copy of the latest trade per symbol.
func (c *Cache) SnapshotTrades() map[string]models.Trade {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]models.Trade, len(c.trades))
	for sym, t := range c.trades {
		out[sym] = t
	}
	return out
}
