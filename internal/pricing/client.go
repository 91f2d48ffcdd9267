package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const defaultRequestTimeout = 5 * time.Second

// Client fetches spot prices from a Binance-style ticker endpoint
// (GET {base}/ticker/price?symbol=BTCUSDT). The upstream is treated as
// unreliable: any transport error, non-200 status or unparsable body
// collapses into ErrUnavailable.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (c *Client) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/ticker/price?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, ErrUnavailable
	}
	res, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, ErrUnavailable
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return decimal.Zero, ErrUnavailable
	}
	var body tickerResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return decimal.Zero, ErrUnavailable
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil || !price.GreaterThan(decimal.Zero) {
		return decimal.Zero, ErrUnavailable
	}
	return price, nil
}
