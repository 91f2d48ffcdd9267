package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable means no current price could be resolved for the
// symbol. Callers degrade to their own fallback (the ledger engine
// marks open positions at entry price); it is never a fatal condition.
var ErrUnavailable = errors.New("price unavailable")

// Oracle supplies the current market price for an instrument symbol.
// Implementations must bound their own latency; the engine calls them
// with an already-deadlined context.
type Oracle interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// CachedOracle consults the live quote cache first and falls back to
// the remote client on a miss, populating the cache on the way back.
type CachedOracle struct {
	cache  *Cache
	client *Client
}

func NewCachedOracle(cache *Cache, client *Client) *CachedOracle {
	return &CachedOracle{cache: cache, client: client}
}

func (o *CachedOracle) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := o.cache.Get(symbol); ok {
		return price, nil
	}
	if o.client == nil {
		return decimal.Zero, ErrUnavailable
	}
	price, err := o.client.CurrentPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	o.cache.Set(symbol, price)
	return price, nil
}
