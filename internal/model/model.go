package model

import (
	"time"

	"paperbroker/internal/types"

	"github.com/shopspring/decimal"
)

// Account is the user's trading account aggregate. All derived fields
// (equity, used/free margin, pnl total, tier) are recomputed by the
// ledger engine after every mutating operation; Version backs the
// optimistic concurrency check in the store.
type Account struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Balance    decimal.Decimal   `json:"balance"`
	Credit     decimal.Decimal   `json:"credit"`
	Bonus      decimal.Decimal   `json:"bonus"`
	Equity     decimal.Decimal   `json:"equity"`
	UsedMargin decimal.Decimal   `json:"used_margin"`
	FreeMargin decimal.Decimal   `json:"free_margin"`
	PnLTotal   decimal.Decimal   `json:"pnl_total"`
	Tier       types.AccountTier `json:"account_type"`
	Version    int64             `json:"-"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Position is a leveraged CFD position. Size, entry price and leverage
// are immutable after creation; the close fields are written exactly
// once, when Open flips to false.
type Position struct {
	ID            string           `json:"id"`
	AccountID     string           `json:"account_id"`
	Instrument    string           `json:"instrument"`
	Side          types.Side       `json:"side"`
	Size          decimal.Decimal  `json:"size"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	Leverage      decimal.Decimal  `json:"leverage"`
	StopLoss      *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit    *decimal.Decimal `json:"take_profit,omitempty"`
	Open          bool             `json:"open"`
	ClosePrice    *decimal.Decimal `json:"close_price,omitempty"`
	PnL           *decimal.Decimal `json:"pnl,omitempty"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
	ClosedByAdmin string           `json:"closed_by_admin,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Margin is the balance reservation held for the lifetime of the
// position: size / leverage.
func (p Position) Margin() decimal.Decimal {
	return p.Size.Div(p.Leverage)
}

// Direction is +1 for buy, -1 for sell.
func (p Position) Direction() decimal.Decimal {
	if p.Side == types.SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Transaction is one cash-affecting event on an account. For
// withdrawals Amount is the requested amount, Fee the platform fee and
// Net the payout; Reference carries the external chain reference for
// verified deposits and is unique across all transactions.
type Transaction struct {
	ID        string                  `json:"id"`
	AccountID string                  `json:"account_id"`
	Kind      types.TransactionKind   `json:"kind"`
	Coin      string                  `json:"coin,omitempty"`
	Address   string                  `json:"address,omitempty"`
	Amount    decimal.Decimal         `json:"amount"`
	Fee       decimal.Decimal         `json:"fee"`
	Net       decimal.Decimal         `json:"net"`
	Status    types.TransactionStatus `json:"status"`
	Reference string                  `json:"reference,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}
