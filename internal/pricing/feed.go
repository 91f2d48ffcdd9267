package pricing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	reconnectDelay  = 3 * time.Second
	feedReadTimeout = 90 * time.Second
)

// Feed keeps the quote cache warm from a websocket tick stream. It is
// an optional collaborator: the platform stays functional without it,
// falling back to on-demand HTTP lookups and entry-price marking.
type Feed struct {
	url   string
	cache *Cache
	log   zerolog.Logger
}

func NewFeed(url string, cache *Cache, log zerolog.Logger) *Feed {
	return &Feed{
		url:   url,
		cache: cache,
		log:   log.With().Str("component", "price_feed").Logger(),
	}
}

type tickMessage struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Run blocks until ctx is canceled, reconnecting on any stream error.
func (f *Feed) Run(ctx context.Context) {
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.Warn().Err(err).Msg("feed disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	f.log.Info().Str("url", f.url).Msg("feed connected")

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var tick tickMessage
		if err := json.Unmarshal(payload, &tick); err != nil {
			continue
		}
		price, err := decimal.NewFromString(tick.Price)
		if err != nil {
			continue
		}
		f.cache.Set(tick.Symbol, price)
	}
}
