package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"paperbroker/internal/pricing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const minConfirmations = 1

// coinUnits maps a coin to the divisor turning the explorer's integer
// amounts into whole coins.
var coinUnits = map[string]decimal.Decimal{
	"BTC": decimal.NewFromInt(1e8),
	"LTC": decimal.NewFromInt(1e8),
}

// ExplorerVerifier verifies deposits against a BlockCypher-style chain
// explorer (GET {base}/{chain}/txs/{hash}) and values them in USD at
// the oracle's current price.
type ExplorerVerifier struct {
	baseURL string
	chains  map[string]string
	oracle  pricing.Oracle
	http    *http.Client
	log     zerolog.Logger
}

func NewExplorerVerifier(baseURL string, oracle pricing.Oracle, timeout time.Duration, log zerolog.Logger) *ExplorerVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExplorerVerifier{
		baseURL: baseURL,
		chains: map[string]string{
			"BTC": "btc/main",
			"LTC": "ltc/main",
		},
		oracle: oracle,
		http:   &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "chain_verifier").Logger(),
	}
}

type explorerTx struct {
	Confirmations int `json:"confirmations"`
	Outputs       []struct {
		Addresses []string `json:"addresses"`
		Value     int64    `json:"value"`
	} `json:"outputs"`
}

func (v *ExplorerVerifier) VerifyDeposit(ctx context.Context, coin, txHash, address string) (decimal.Decimal, error) {
	chainPath, ok := v.chains[coin]
	if !ok {
		return decimal.Zero, ErrUnsupportedCoin
	}
	unit := coinUnits[coin]

	endpoint := fmt.Sprintf("%s/%s/txs/%s", v.baseURL, chainPath, txHash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	res, err := v.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("explorer lookup: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return decimal.Zero, ErrTxNotFound
	}
	if res.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("explorer lookup: status %d", res.StatusCode)
	}

	var tx explorerTx
	if err := json.NewDecoder(res.Body).Decode(&tx); err != nil {
		return decimal.Zero, fmt.Errorf("explorer response: %w", err)
	}
	if tx.Confirmations < minConfirmations {
		return decimal.Zero, ErrNotConfirmed
	}

	paid := decimal.Zero
	for _, out := range tx.Outputs {
		for _, a := range out.Addresses {
			if a == address {
				paid = paid.Add(decimal.NewFromInt(out.Value))
			}
		}
	}
	if paid.IsZero() {
		return decimal.Zero, ErrWrongAddress
	}
	coins := paid.Div(unit)

	price, err := v.oracle.CurrentPrice(ctx, coin+"USDT")
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %s: %w", coin, err)
	}
	usd := coins.Mul(price)
	v.log.Info().
		Str("coin", coin).
		Str("tx_hash", txHash).
		Str("coins", coins.String()).
		Str("usd", usd.String()).
		Msg("deposit verified")
	return usd, nil
}
