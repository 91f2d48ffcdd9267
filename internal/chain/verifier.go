package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrTxNotFound      = errors.New("transaction not found on chain")
	ErrWrongAddress    = errors.New("transaction does not pay the deposit address")
	ErrNotConfirmed    = errors.New("transaction not yet confirmed")
	ErrUnsupportedCoin = errors.New("unsupported coin")
)

// Verifier checks an on-chain deposit and returns its USD value. The
// returned amount is what the ledger credits; implementations must
// reject transactions that do not pay the expected platform address.
type Verifier interface {
	VerifyDeposit(ctx context.Context, coin, txHash, address string) (decimal.Decimal, error)
}
