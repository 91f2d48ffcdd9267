package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"paperbroker/internal/model"
	"paperbroker/internal/pricing"
	"paperbroker/internal/store"
	"paperbroker/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// withdrawFeeRate is the fixed 4% platform fee on withdrawals.
var withdrawFeeRate = decimal.RequireFromString("0.04")

var one = decimal.NewFromInt(1)

// Engine owns every balance- and margin-affecting operation. Each
// operation runs as one atomic store transaction: position change,
// balance mutation, transaction-log append and metrics refresh commit
// together or not at all.
type Engine struct {
	store        store.Store
	oracle       pricing.Oracle
	priceTimeout time.Duration
	log          zerolog.Logger
}

func NewEngine(st store.Store, oracle pricing.Oracle, priceTimeout time.Duration, log zerolog.Logger) *Engine {
	if priceTimeout <= 0 {
		priceTimeout = 5 * time.Second
	}
	return &Engine{
		store:        st,
		oracle:       oracle,
		priceTimeout: priceTimeout,
		log:          log.With().Str("component", "ledger_engine").Logger(),
	}
}

// fetchPrices resolves current prices for the open positions' symbols
// in parallel, each lookup bounded by the price timeout. Symbols the
// oracle cannot price are simply absent from the result; the metrics
// computation falls back to entry price for those.
func (e *Engine) fetchPrices(ctx context.Context, open []model.Position) PriceFunc {
	symbols := make(map[string]struct{}, len(open))
	for _, p := range open {
		symbols[p.Instrument] = struct{}{}
	}

	var mu sync.Mutex
	prices := make(map[string]decimal.Decimal, len(symbols))
	var wg sync.WaitGroup
	for symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			lookupCtx, cancel := context.WithTimeout(ctx, e.priceTimeout)
			defer cancel()
			price, err := e.oracle.CurrentPrice(lookupCtx, symbol)
			if err != nil {
				e.log.Debug().Str("symbol", symbol).Err(err).Msg("price lookup failed, marking at entry")
				return
			}
			mu.Lock()
			prices[symbol] = price
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	return func(symbol string) (decimal.Decimal, bool) {
		price, ok := prices[symbol]
		return price, ok
	}
}

// refreshMetrics recomputes the derived account fields and persists
// them, rounding every monetary value to cents at this boundary only.
func (e *Engine) refreshMetrics(ctx context.Context, tx store.Tx, acct *model.Account) error {
	open, err := tx.ListPositions(ctx, acct.ID, store.OpenPositions)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	closed, err := tx.ListPositions(ctx, acct.ID, store.ClosedPositions)
	if err != nil {
		return fmt.Errorf("list closed positions: %w", err)
	}

	m := ComputeMetrics(acct.Balance, open, closed, e.fetchPrices(ctx, open))
	acct.Balance = acct.Balance.Round(2)
	acct.Credit = acct.Credit.Round(2)
	acct.Bonus = acct.Bonus.Round(2)
	acct.Equity = m.Equity.Round(2)
	acct.UsedMargin = m.UsedMargin.Round(2)
	acct.FreeMargin = m.FreeMargin.Round(2)
	acct.PnLTotal = m.PnLTotal.Round(2)
	acct.Tier = m.Tier
	return tx.SaveAccount(ctx, *acct)
}

// CreateAccount provisions a fresh account with all numeric fields at
// zero. Registration itself lives outside this service.
func (e *Engine) CreateAccount(ctx context.Context, userID string) (model.Account, error) {
	if userID == "" {
		return model.Account{}, ValidationError("user_id is required")
	}
	return e.store.CreateAccount(ctx, model.Account{
		UserID:     userID,
		Balance:    decimal.Zero,
		Credit:     decimal.Zero,
		Bonus:      decimal.Zero,
		Equity:     decimal.Zero,
		UsedMargin: decimal.Zero,
		FreeMargin: decimal.Zero,
		PnLTotal:   decimal.Zero,
		Tier:       types.TierStudent,
	})
}

func (e *Engine) Account(ctx context.Context, accountID string) (model.Account, error) {
	return e.store.GetAccount(ctx, accountID)
}

func (e *Engine) AccountForUser(ctx context.Context, userID string) (model.Account, error) {
	return e.store.GetAccountByUser(ctx, userID)
}

type OpenPositionRequest struct {
	AccountID  string
	Instrument string
	Side       types.Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

func (r OpenPositionRequest) validate() error {
	if r.AccountID == "" {
		return ValidationError("account_id is required")
	}
	if r.Instrument == "" {
		return ValidationError("instrument is required")
	}
	if !r.Side.Valid() {
		return ValidationError("side must be buy or sell")
	}
	if !r.Size.GreaterThan(decimal.Zero) {
		return ValidationError("size must be positive")
	}
	if !r.EntryPrice.GreaterThan(decimal.Zero) {
		return ValidationError("entry price must be positive")
	}
	if r.Leverage.LessThan(one) {
		return ValidationError("leverage must be at least 1")
	}
	return nil
}

type OpenPositionResult struct {
	Position model.Position  `json:"position"`
	Balance  decimal.Decimal `json:"balance"`
}

// OpenPosition reserves margin (size / leverage) by debiting the
// balance and creates the open position atomically.
func (e *Engine) OpenPosition(ctx context.Context, req OpenPositionRequest) (OpenPositionResult, error) {
	if err := req.validate(); err != nil {
		return OpenPositionResult{}, err
	}

	var res OpenPositionResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetAccountForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}
		margin := req.Size.Div(req.Leverage)
		if margin.GreaterThan(acct.Balance) {
			return ErrInsufficientMargin
		}
		pos, err := tx.CreatePosition(ctx, model.Position{
			AccountID:  req.AccountID,
			Instrument: req.Instrument,
			Side:       req.Side,
			Size:       req.Size,
			EntryPrice: req.EntryPrice,
			Leverage:   req.Leverage,
			StopLoss:   req.StopLoss,
			TakeProfit: req.TakeProfit,
		})
		if err != nil {
			return err
		}
		acct.Balance = acct.Balance.Sub(margin)
		if err := e.refreshMetrics(ctx, tx, &acct); err != nil {
			return err
		}
		res = OpenPositionResult{Position: pos, Balance: acct.Balance}
		return nil
	})
	if err != nil {
		return OpenPositionResult{}, err
	}
	e.log.Info().
		Str("account_id", req.AccountID).
		Str("instrument", req.Instrument).
		Str("side", string(req.Side)).
		Str("size", req.Size.String()).
		Msg("position opened")
	return res, nil
}

type CloseResult struct {
	Position model.Position  `json:"position"`
	PnL      decimal.Decimal `json:"pnl"`
	Balance  decimal.Decimal `json:"balance"`
}

// ClosePosition realizes P&L at closePrice and returns the locked
// margin to the balance. accountID scopes the lookup to the owner; a
// mismatch reads as not found.
func (e *Engine) ClosePosition(ctx context.Context, positionID, accountID string, closePrice decimal.Decimal) (CloseResult, error) {
	return e.closePosition(ctx, positionID, accountID, closePrice, "")
}

func (e *Engine) closePosition(ctx context.Context, positionID, accountID string, closePrice decimal.Decimal, adminID string) (CloseResult, error) {
	if !closePrice.GreaterThan(decimal.Zero) {
		return CloseResult{}, ValidationError("close price must be positive")
	}

	var res CloseResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		pos, err := tx.GetPosition(ctx, positionID)
		if err != nil {
			return err
		}
		if accountID != "" && pos.AccountID != accountID {
			return store.ErrNotFound
		}
		if !pos.Open {
			return ErrAlreadyClosed
		}

		pnl := RealizedPnL(pos, closePrice)
		now := time.Now().UTC()
		pos.Open = false
		pos.ClosePrice = &closePrice
		pos.PnL = &pnl
		pos.ClosedAt = &now
		pos.ClosedByAdmin = adminID
		if err := tx.UpdatePositionClose(ctx, pos); err != nil {
			return err
		}

		acct, err := tx.GetAccountForUpdate(ctx, pos.AccountID)
		if err != nil {
			return err
		}
		acct.Balance = acct.Balance.Add(pos.Margin()).Add(pnl)
		// Negative balance protection: losses never push the account
		// below zero.
		if acct.Balance.IsNegative() {
			acct.Balance = decimal.Zero
		}
		if err := e.refreshMetrics(ctx, tx, &acct); err != nil {
			return err
		}
		res = CloseResult{Position: pos, PnL: pnl, Balance: acct.Balance}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	e.log.Info().
		Str("position_id", positionID).
		Str("pnl", res.PnL.String()).
		Bool("by_admin", adminID != "").
		Msg("position closed")
	return res, nil
}

// ForceClosePosition closes any user's open position, bypassing the
// ownership check and stamping the acting admin. When closePrice is
// zero the position is closed at the current oracle price, or flat at
// entry if the oracle has nothing.
func (e *Engine) ForceClosePosition(ctx context.Context, positionID string, closePrice decimal.Decimal, adminID string) (CloseResult, error) {
	if adminID == "" {
		return CloseResult{}, ValidationError("admin id is required")
	}
	if closePrice.IsZero() {
		var err error
		closePrice, err = e.markPrice(ctx, positionID)
		if err != nil {
			return CloseResult{}, err
		}
	}
	return e.closePosition(ctx, positionID, "", closePrice, adminID)
}

// markPrice resolves a close price for a position from the oracle,
// degrading to the entry price when no quote is available.
func (e *Engine) markPrice(ctx context.Context, positionID string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		pos, err := tx.GetPosition(ctx, positionID)
		if err != nil {
			return err
		}
		lookupCtx, cancel := context.WithTimeout(ctx, e.priceTimeout)
		defer cancel()
		current, err := e.oracle.CurrentPrice(lookupCtx, pos.Instrument)
		if err != nil {
			price = pos.EntryPrice
			return nil
		}
		price = current
		return nil
	})
	return price, err
}

// Credit applies a deposit, bonus or credit grant. Bonus and credit
// are folded into the balance and additionally tracked in their own
// sub-balance. A non-empty reference enforces the verified-deposit
// idempotency guarantee: the same reference is never credited twice.
func (e *Engine) Credit(ctx context.Context, accountID string, amount decimal.Decimal, kind types.TransactionKind, coin, reference string) (model.Transaction, error) {
	if kind != types.TransactionKindDeposit && kind != types.TransactionKindBonus && kind != types.TransactionKindCredit {
		return model.Transaction{}, ValidationError("kind must be deposit, bonus or credit")
	}
	if !amount.GreaterThan(decimal.Zero) {
		return model.Transaction{}, ValidationError("amount must be positive")
	}

	var created model.Transaction
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if reference != "" {
			exists, err := tx.ReferenceExists(ctx, reference)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateReference
			}
		}
		acct, err := tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		acct.Balance = acct.Balance.Add(amount)
		switch kind {
		case types.TransactionKindBonus:
			acct.Bonus = acct.Bonus.Add(amount)
		case types.TransactionKindCredit:
			acct.Credit = acct.Credit.Add(amount)
		}
		created, err = tx.CreateTransaction(ctx, model.Transaction{
			AccountID: accountID,
			Kind:      kind,
			Coin:      coin,
			Amount:    amount.Round(2),
			Fee:       decimal.Zero,
			Net:       amount.Round(2),
			Status:    types.TransactionStatusSuccessful,
			Reference: reference,
		})
		if err != nil {
			return err
		}
		return e.refreshMetrics(ctx, tx, &acct)
	})
	if err != nil {
		return model.Transaction{}, err
	}
	e.log.Info().
		Str("account_id", accountID).
		Str("kind", string(kind)).
		Str("amount", amount.String()).
		Msg("account credited")
	return created, nil
}

type WithdrawResult struct {
	Transaction model.Transaction `json:"transaction"`
	Fee         decimal.Decimal   `json:"fee"`
	Net         decimal.Decimal   `json:"net"`
	Balance     decimal.Decimal   `json:"balance"`
}

// Withdraw debits the full requested amount immediately and records a
// pending withdrawal carrying the 4% fee breakdown. The payout happens
// off-platform once an operator approves.
func (e *Engine) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, coin, address string) (WithdrawResult, error) {
	if !amount.GreaterThan(decimal.Zero) {
		return WithdrawResult{}, ValidationError("amount must be positive")
	}

	fee := amount.Mul(withdrawFeeRate).Round(2)
	net := amount.Sub(fee).Round(2)

	var res WithdrawResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(acct.Balance) {
			return ErrInsufficientFunds
		}
		acct.Balance = acct.Balance.Sub(amount)
		created, err := tx.CreateTransaction(ctx, model.Transaction{
			AccountID: accountID,
			Kind:      types.TransactionKindWithdrawal,
			Coin:      coin,
			Address:   address,
			Amount:    amount.Round(2),
			Fee:       fee,
			Net:       net,
			Status:    types.TransactionStatusPending,
		})
		if err != nil {
			return err
		}
		if err := e.refreshMetrics(ctx, tx, &acct); err != nil {
			return err
		}
		res = WithdrawResult{Transaction: created, Fee: fee, Net: net, Balance: acct.Balance}
		return nil
	})
	if err != nil {
		return WithdrawResult{}, err
	}
	e.log.Info().
		Str("account_id", accountID).
		Str("amount", amount.String()).
		Str("fee", fee.String()).
		Msg("withdrawal requested")
	return res, nil
}

type CancelResult struct {
	Transaction model.Transaction `json:"transaction"`
	Refunded    decimal.Decimal   `json:"refunded"`
	Balance     decimal.Decimal   `json:"balance"`
}

// CancelWithdrawal cancels a pending withdrawal and refunds exactly
// the requested amount (the fee was never paid out).
func (e *Engine) CancelWithdrawal(ctx context.Context, txID, accountID string) (CancelResult, error) {
	return e.resolveWithdrawal(ctx, txID, accountID, types.TransactionStatusCanceled, userCancelRefund)
}

// ApproveWithdrawal marks a pending withdrawal successful. The balance
// was already debited at request time, so nothing moves.
func (e *Engine) ApproveWithdrawal(ctx context.Context, txID string) (CancelResult, error) {
	return e.resolveWithdrawal(ctx, txID, "", types.TransactionStatusSuccessful, noRefund)
}

// ForceWithdrawalStatus is the administrative override on a pending
// withdrawal. An admin cancel refunds amount+fee, a distinct policy
// from the user cancel, which refunds the requested amount only.
// Rejection is terminal and keeps the debit.
func (e *Engine) ForceWithdrawalStatus(ctx context.Context, txID string, status types.TransactionStatus) (CancelResult, error) {
	switch status {
	case types.TransactionStatusSuccessful, types.TransactionStatusRejected:
		return e.resolveWithdrawal(ctx, txID, "", status, noRefund)
	case types.TransactionStatusCanceled:
		return e.resolveWithdrawal(ctx, txID, "", status, adminCancelRefund)
	default:
		return CancelResult{}, ValidationError("status must be successful, canceled or rejected")
	}
}

type refundPolicy func(tr model.Transaction) decimal.Decimal

func noRefund(model.Transaction) decimal.Decimal { return decimal.Zero }

func userCancelRefund(tr model.Transaction) decimal.Decimal { return tr.Amount }

func adminCancelRefund(tr model.Transaction) decimal.Decimal { return tr.Amount.Add(tr.Fee) }

func (e *Engine) resolveWithdrawal(ctx context.Context, txID, accountID string, status types.TransactionStatus, refund refundPolicy) (CancelResult, error) {
	var res CancelResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tr, err := tx.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if accountID != "" && tr.AccountID != accountID {
			return store.ErrNotFound
		}
		if tr.Kind != types.TransactionKindWithdrawal || tr.Status != types.TransactionStatusPending {
			return ErrInvalidState
		}
		if err := tx.UpdateTransactionStatus(ctx, tr.ID, status); err != nil {
			return err
		}
		acct, err := tx.GetAccountForUpdate(ctx, tr.AccountID)
		if err != nil {
			return err
		}
		refunded := refund(tr)
		acct.Balance = acct.Balance.Add(refunded)
		if err := e.refreshMetrics(ctx, tx, &acct); err != nil {
			return err
		}
		tr.Status = status
		res = CancelResult{Transaction: tr, Refunded: refunded, Balance: acct.Balance}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	e.log.Info().
		Str("transaction_id", txID).
		Str("status", string(status)).
		Str("refunded", res.Refunded.String()).
		Msg("withdrawal resolved")
	return res, nil
}

type Dashboard struct {
	Balance    decimal.Decimal     `json:"balance"`
	Equity     decimal.Decimal     `json:"equity"`
	UsedMargin decimal.Decimal     `json:"used_margin"`
	FreeMargin decimal.Decimal     `json:"free_margin"`
	PnLTotal   decimal.Decimal     `json:"pnl_total"`
	Tier       types.AccountTier   `json:"account_type"`
	Positions  []model.Position    `json:"positions"`
	History    []model.Position    `json:"history"`
	Cash       []model.Transaction `json:"transactions"`
}

// AccountDashboard recomputes and persists the account metrics against
// live prices, then returns the snapshot with open positions, trade
// history and cash movements. Metrics refresh is pull-triggered: this
// read is what keeps the stored figures current.
func (e *Engine) AccountDashboard(ctx context.Context, accountID string) (Dashboard, error) {
	var d Dashboard
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if err := e.refreshMetrics(ctx, tx, &acct); err != nil {
			return err
		}
		open, err := tx.ListPositions(ctx, accountID, store.OpenPositions)
		if err != nil {
			return err
		}
		closed, err := tx.ListPositions(ctx, accountID, store.ClosedPositions)
		if err != nil {
			return err
		}
		d = Dashboard{
			Balance:    acct.Balance,
			Equity:     acct.Equity,
			UsedMargin: acct.UsedMargin,
			FreeMargin: acct.FreeMargin,
			PnLTotal:   acct.PnLTotal,
			Tier:       acct.Tier,
			Positions:  open,
			History:    closed,
		}
		return nil
	})
	if err != nil {
		return Dashboard{}, err
	}
	cash, err := e.store.ListTransactions(ctx, accountID)
	if err != nil {
		return Dashboard{}, err
	}
	d.Cash = cash
	return d, nil
}

func (e *Engine) Positions(ctx context.Context, accountID string, filter store.PositionFilter) ([]model.Position, error) {
	return e.store.ListPositions(ctx, accountID, filter)
}

func (e *Engine) Transactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	return e.store.ListTransactions(ctx, accountID)
}
