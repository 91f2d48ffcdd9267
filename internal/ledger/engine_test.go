package ledger

import (
	"context"
	"testing"
	"time"

	"paperbroker/internal/model"
	"paperbroker/internal/pricing"
	"paperbroker/internal/store"
	"paperbroker/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOracle map[string]string

func (o fakeOracle) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	raw, ok := o[symbol]
	if !ok {
		return decimal.Zero, pricing.ErrUnavailable
	}
	return dec(raw), nil
}

func newTestEngine(t *testing.T, oracle pricing.Oracle) (*Engine, model.Account) {
	t.Helper()
	engine := NewEngine(store.NewMemory(), oracle, time.Second, zerolog.Nop())
	acct, err := engine.CreateAccount(context.Background(), "user-1")
	require.NoError(t, err)
	return engine, acct
}

func fundAccount(t *testing.T, engine *Engine, accountID, amount string) {
	t.Helper()
	_, err := engine.Credit(context.Background(), accountID, dec(amount), types.TransactionKindDeposit, "", "")
	require.NoError(t, err)
}

func TestOpenPositionDebitsMargin(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{"BTCUSDT": "50000"})
	fundAccount(t, engine, acct.ID, "1000")

	res, err := engine.OpenPosition(ctx, OpenPositionRequest{
		AccountID:  acct.ID,
		Instrument: "BTCUSDT",
		Side:       types.SideBuy,
		Size:       dec("500"),
		EntryPrice: dec("50000"),
		Leverage:   dec("5"),
	})
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(dec("900")), "balance %s", res.Balance)
	assert.True(t, res.Position.Open)
	assert.True(t, res.Position.Margin().Equal(dec("100")))

	got, err := engine.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.UsedMargin.Equal(dec("100")), "used margin %s", got.UsedMargin)
	assert.True(t, got.FreeMargin.Equal(dec("800")), "free margin %s", got.FreeMargin)
}

func TestOpenPositionInsufficientMargin(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})
	fundAccount(t, engine, acct.ID, "50")

	_, err := engine.OpenPosition(ctx, OpenPositionRequest{
		AccountID:  acct.ID,
		Instrument: "BTCUSDT",
		Side:       types.SideBuy,
		Size:       dec("500"),
		EntryPrice: dec("50000"),
		Leverage:   dec("5"),
	})
	require.ErrorIs(t, err, ErrInsufficientMargin)

	got, err := engine.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("50")), "balance untouched, got %s", got.Balance)
	positions, err := engine.Positions(ctx, acct.ID, store.AllPositions)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestOpenPositionValidation(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})
	fundAccount(t, engine, acct.ID, "1000")

	base := OpenPositionRequest{
		AccountID:  acct.ID,
		Instrument: "BTCUSDT",
		Side:       types.SideBuy,
		Size:       dec("500"),
		EntryPrice: dec("50000"),
		Leverage:   dec("5"),
	}

	broken := base
	broken.Size = dec("0")
	_, err := engine.OpenPosition(ctx, broken)
	assert.True(t, IsValidation(err))

	broken = base
	broken.EntryPrice = dec("-1")
	_, err = engine.OpenPosition(ctx, broken)
	assert.True(t, IsValidation(err))

	broken = base
	broken.Leverage = dec("0.5")
	_, err = engine.OpenPosition(ctx, broken)
	assert.True(t, IsValidation(err))

	broken = base
	broken.Side = "long"
	_, err = engine.OpenPosition(ctx, broken)
	assert.True(t, IsValidation(err))
}

func TestClosePositionRealizesPnL(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{"BTCUSDT": "50100"})
	fundAccount(t, engine, acct.ID, "1000")

	opened, err := engine.OpenPosition(ctx, OpenPositionRequest{
		AccountID:  acct.ID,
		Instrument: "BTCUSDT",
		Side:       types.SideBuy,
		Size:       dec("500"),
		EntryPrice: dec("50000"),
		Leverage:   dec("5"),
	})
	require.NoError(t, err)

	res, err := engine.ClosePosition(ctx, opened.Position.ID, acct.ID, dec("50100"))
	require.NoError(t, err)
	assert.True(t, res.PnL.Equal(dec("500")), "pnl %s", res.PnL)
	assert.True(t, res.Balance.Equal(dec("1500")), "balance %s", res.Balance)
	assert.False(t, res.Position.Open)
	require.NotNil(t, res.Position.ClosePrice)
	assert.True(t, res.Position.ClosePrice.Equal(dec("50100")))
	require.NotNil(t, res.Position.ClosedAt)

	got, err := engine.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.UsedMargin.IsZero())
	assert.True(t, got.PnLTotal.Equal(dec("500")), "pnl total %s", got.PnLTotal)
}

func TestClosePositionTerminal(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{"BTCUSDT": "50000"})
	fundAccount(t, engine, acct.ID, "1000")

	opened, err := engine.OpenPosition(ctx, OpenPositionRequest{
		AccountID:  acct.ID,
		Instrument: "BTCUSDT",
		Side:       types.SideBuy,
		Size:       dec("500"),
		EntryPrice: dec("50000"),
		Leverage:   dec("5"),
	})
	require.NoError(t, err)

	_, err = engine.ClosePosition(ctx, opened.Position.ID, acct.ID, dec("50000"))
	require.NoError(t, err)
	before, err := engine.Account(ctx, acct.ID)
	require.NoError(t, err)

	_, err = engine.ClosePosition(ctx, opened.Position.ID, acct.ID, dec("60000"))
	require.ErrorIs(t, err, ErrAlreadyClosed)

	after, err := engine.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, after.Balance.Equal(before.Balance), "balance changed on re-close")
}

func TestClosePositionOwnership(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{"BTCUSDT": "50000"})
	fundAccount(t, engine, acct.ID, "1000")

	opened, err := engine.OpenPosition(ctx, OpenPositionRequest{
		AccountID:  acct.ID,
		Instrument: "BTCUSDT",
		Side:       types.SideBuy,
		Size:       dec("500"),
		EntryPrice: dec("50000"),
		Leverage:   dec("5"),
	})
	require.NoError(t, err)

	_, err = engine.ClosePosition(ctx, opened.Position.ID, "someone-else", dec("50000"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCloseLossClampsBalanceAtZero(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{"BTCUSDT": "50000"})
	fundAccount(t, engine, acct.ID, "150")

	opened, err := engine.OpenPosition(ctx, OpenPositionRequest{
		AccountID:  acct.ID,
		Instrument: "BTCUSDT",
		Side:       types.SideBuy,
		Size:       dec("500"),
		EntryPrice: dec("50000"),
		Leverage:   dec("5"),
	})
	require.NoError(t, err)

	// -500 move is a 2500 loss, far beyond the account
	res, err := engine.ClosePosition(ctx, opened.Position.ID, acct.ID, dec("49500"))
	require.NoError(t, err)
	assert.True(t, res.Balance.IsZero(), "balance %s", res.Balance)
}

func TestForceClosePosition(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{"BTCUSDT": "50100"})
	fundAccount(t, engine, acct.ID, "1000")

	opened, err := engine.OpenPosition(ctx, OpenPositionRequest{
		AccountID:  acct.ID,
		Instrument: "BTCUSDT",
		Side:       types.SideBuy,
		Size:       dec("500"),
		EntryPrice: dec("50000"),
		Leverage:   dec("5"),
	})
	require.NoError(t, err)

	// no explicit price: closes at the oracle quote
	res, err := engine.ForceClosePosition(ctx, opened.Position.ID, decimal.Zero, "ops")
	require.NoError(t, err)
	assert.True(t, res.PnL.Equal(dec("500")), "pnl %s", res.PnL)
	assert.Equal(t, "ops", res.Position.ClosedByAdmin)
}

func TestForceCloseFallsBackToEntryPrice(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})
	fundAccount(t, engine, acct.ID, "1000")

	opened, err := engine.OpenPosition(ctx, OpenPositionRequest{
		AccountID:  acct.ID,
		Instrument: "BTCUSDT",
		Side:       types.SideBuy,
		Size:       dec("500"),
		EntryPrice: dec("50000"),
		Leverage:   dec("5"),
	})
	require.NoError(t, err)

	res, err := engine.ForceClosePosition(ctx, opened.Position.ID, decimal.Zero, "ops")
	require.NoError(t, err)
	assert.True(t, res.PnL.IsZero(), "pnl %s", res.PnL)
	assert.True(t, res.Balance.Equal(dec("1000")))
}

func TestWithdrawFeeAndCancelRefund(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})
	fundAccount(t, engine, acct.ID, "1500")

	res, err := engine.Withdraw(ctx, acct.ID, dec("200"), "BTC", "bc1qaddr")
	require.NoError(t, err)
	assert.True(t, res.Fee.Equal(dec("8")), "fee %s", res.Fee)
	assert.True(t, res.Net.Equal(dec("192")), "net %s", res.Net)
	assert.True(t, res.Balance.Equal(dec("1300")), "balance %s", res.Balance)
	assert.Equal(t, types.TransactionStatusPending, res.Transaction.Status)

	// user cancel refunds the requested amount, not net, not amount+fee
	cancel, err := engine.CancelWithdrawal(ctx, res.Transaction.ID, acct.ID)
	require.NoError(t, err)
	assert.True(t, cancel.Refunded.Equal(dec("200")), "refunded %s", cancel.Refunded)
	assert.True(t, cancel.Balance.Equal(dec("1500")), "balance %s", cancel.Balance)
	assert.Equal(t, types.TransactionStatusCanceled, cancel.Transaction.Status)

	// terminal: a second cancel is rejected
	_, err = engine.CancelWithdrawal(ctx, res.Transaction.ID, acct.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})
	fundAccount(t, engine, acct.ID, "100")

	_, err := engine.Withdraw(ctx, acct.ID, dec("100.01"), "BTC", "bc1qaddr")
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestApproveWithdrawal(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})
	fundAccount(t, engine, acct.ID, "1000")

	res, err := engine.Withdraw(ctx, acct.ID, dec("100"), "BTC", "bc1qaddr")
	require.NoError(t, err)

	approved, err := engine.ApproveWithdrawal(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TransactionStatusSuccessful, approved.Transaction.Status)
	assert.True(t, approved.Refunded.IsZero())
	assert.True(t, approved.Balance.Equal(dec("900")))

	// successful is immutable
	_, err = engine.ForceWithdrawalStatus(ctx, res.Transaction.ID, types.TransactionStatusCanceled)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestAdminCancelRefundsAmountPlusFee(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})
	fundAccount(t, engine, acct.ID, "1000")

	res, err := engine.Withdraw(ctx, acct.ID, dec("100"), "BTC", "bc1qaddr")
	require.NoError(t, err)
	require.True(t, res.Balance.Equal(dec("900")))

	cancel, err := engine.ForceWithdrawalStatus(ctx, res.Transaction.ID, types.TransactionStatusCanceled)
	require.NoError(t, err)
	assert.True(t, cancel.Refunded.Equal(dec("104")), "refunded %s", cancel.Refunded)
	assert.True(t, cancel.Balance.Equal(dec("1004")), "balance %s", cancel.Balance)
}

func TestAdminRejectKeepsDebit(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})
	fundAccount(t, engine, acct.ID, "1000")

	res, err := engine.Withdraw(ctx, acct.ID, dec("100"), "BTC", "bc1qaddr")
	require.NoError(t, err)

	rejected, err := engine.ForceWithdrawalStatus(ctx, res.Transaction.ID, types.TransactionStatusRejected)
	require.NoError(t, err)
	assert.True(t, rejected.Refunded.IsZero())
	assert.True(t, rejected.Balance.Equal(dec("900")))

	_, err = engine.ForceWithdrawalStatus(ctx, res.Transaction.ID, types.TransactionStatusFailed)
	assert.True(t, IsValidation(err))
}

func TestCreditDuplicateReference(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})

	_, err := engine.Credit(ctx, acct.ID, dec("250"), types.TransactionKindDeposit, "BTC", "0xabc123")
	require.NoError(t, err)

	_, err = engine.Credit(ctx, acct.ID, dec("250"), types.TransactionKindDeposit, "BTC", "0xabc123")
	require.ErrorIs(t, err, ErrDuplicateReference)

	got, err := engine.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("250")), "credited twice: %s", got.Balance)
}

func TestCreditBonusAndCreditSubBalances(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})

	_, err := engine.Credit(ctx, acct.ID, dec("100"), types.TransactionKindBonus, "", "")
	require.NoError(t, err)
	_, err = engine.Credit(ctx, acct.ID, dec("50"), types.TransactionKindCredit, "", "")
	require.NoError(t, err)

	got, err := engine.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("150")), "balance %s", got.Balance)
	assert.True(t, got.Bonus.Equal(dec("100")))
	assert.True(t, got.Credit.Equal(dec("50")))
}

func TestCreditRejectsWithdrawalKind(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})

	_, err := engine.Credit(ctx, acct.ID, dec("100"), types.TransactionKindWithdrawal, "", "")
	assert.True(t, IsValidation(err))

	_, err = engine.Credit(ctx, acct.ID, dec("0"), types.TransactionKindDeposit, "", "")
	assert.True(t, IsValidation(err))
}

func TestTierUpgradesWithBalance(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{})

	_, err := engine.Credit(ctx, acct.ID, dec("120000"), types.TransactionKindDeposit, "", "")
	require.NoError(t, err)

	got, err := engine.Account(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TierVIP, got.Tier)
}

func TestAccountDashboard(t *testing.T) {
	ctx := context.Background()
	engine, acct := newTestEngine(t, fakeOracle{"BTCUSDT": "50100"})
	fundAccount(t, engine, acct.ID, "1000")

	opened, err := engine.OpenPosition(ctx, OpenPositionRequest{
		AccountID:  acct.ID,
		Instrument: "BTCUSDT",
		Side:       types.SideBuy,
		Size:       dec("500"),
		EntryPrice: dec("50000"),
		Leverage:   dec("5"),
	})
	require.NoError(t, err)

	d, err := engine.AccountDashboard(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, d.Balance.Equal(dec("900")))
	assert.True(t, d.Equity.Equal(dec("1400")), "equity %s", d.Equity)
	assert.True(t, d.UsedMargin.Equal(dec("100")))
	assert.True(t, d.FreeMargin.Equal(dec("1300")), "free margin %s", d.FreeMargin)
	require.Len(t, d.Positions, 1)
	assert.Equal(t, opened.Position.ID, d.Positions[0].ID)
	assert.Empty(t, d.History)
	require.Len(t, d.Cash, 1)
	assert.Equal(t, types.TransactionKindDeposit, d.Cash[0].Kind)
}
