package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paperbroker/internal/pricing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedOracle struct {
	price decimal.Decimal
}

func (o fixedOracle) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if o.price.IsZero() {
		return decimal.Zero, pricing.ErrUnavailable
	}
	return o.price, nil
}

func newExplorer(t *testing.T, handler http.HandlerFunc, price string) *ExplorerVerifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewExplorerVerifier(srv.URL, fixedOracle{price: decimal.RequireFromString(price)}, time.Second, zerolog.Nop())
}

func TestVerifyDepositValuesInUSD(t *testing.T) {
	v := newExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/btc/main/txs/hash123", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"confirmations": 3,
			"outputs": [
				{"addresses": ["bc1qother"], "value": 900000},
				{"addresses": ["bc1qplatform"], "value": 50000000}
			]
		}`))
	}, "50000")

	// 0.5 BTC at 50000
	usd, err := v.VerifyDeposit(context.Background(), "BTC", "hash123", "bc1qplatform")
	require.NoError(t, err)
	assert.True(t, usd.Equal(decimal.NewFromInt(25000)), "usd %s", usd)
}

func TestVerifyDepositWrongAddress(t *testing.T) {
	v := newExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"confirmations": 3, "outputs": [{"addresses": ["bc1qother"], "value": 100}]}`))
	}, "50000")

	_, err := v.VerifyDeposit(context.Background(), "BTC", "hash123", "bc1qplatform")
	require.ErrorIs(t, err, ErrWrongAddress)
}

func TestVerifyDepositUnconfirmed(t *testing.T) {
	v := newExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"confirmations": 0, "outputs": [{"addresses": ["bc1qplatform"], "value": 100}]}`))
	}, "50000")

	_, err := v.VerifyDeposit(context.Background(), "BTC", "hash123", "bc1qplatform")
	require.ErrorIs(t, err, ErrNotConfirmed)
}

func TestVerifyDepositNotFound(t *testing.T) {
	v := newExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}, "50000")

	_, err := v.VerifyDeposit(context.Background(), "BTC", "hash123", "bc1qplatform")
	require.ErrorIs(t, err, ErrTxNotFound)
}

func TestVerifyDepositUnsupportedCoin(t *testing.T) {
	v := newExplorer(t, func(w http.ResponseWriter, r *http.Request) {}, "50000")

	_, err := v.VerifyDeposit(context.Background(), "DOGE", "hash123", "addr")
	require.ErrorIs(t, err, ErrUnsupportedCoin)
}
