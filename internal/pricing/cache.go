package pricing

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Cache holds the latest known price per symbol. It is fed by the
// websocket feed and by cache-miss lookups; reads never block on the
// network.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]decimal.Decimal
}

func NewCache() *Cache {
	return &Cache{quotes: make(map[string]decimal.Decimal)}
}

func (c *Cache) Set(symbol string, price decimal.Decimal) {
	if symbol == "" || !price.GreaterThan(decimal.Zero) {
		return
	}
	c.mu.Lock()
	c.quotes[symbol] = price
	c.mu.Unlock()
}

func (c *Cache) Get(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	price, ok := c.quotes[symbol]
	c.mu.RUnlock()
	return price, ok
}
