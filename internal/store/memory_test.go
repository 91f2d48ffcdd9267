package store

import (
	"context"
	"errors"
	"testing"

	"paperbroker/internal/model"
	"paperbroker/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(t *testing.T, s *Memory) model.Account {
	t.Helper()
	acct, err := s.CreateAccount(context.Background(), model.Account{
		UserID:  "user-1",
		Balance: decimal.NewFromInt(1000),
		Tier:    types.TierStudent,
	})
	require.NoError(t, err)
	return acct
}

func TestSaveAccountVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	acct := newAccount(t, s)

	// stale version loses
	stale := acct
	stale.Version = acct.Version - 1
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveAccount(ctx, stale)
	})
	require.ErrorIs(t, err, ErrConflict)

	// current version wins and bumps
	err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SaveAccount(ctx, acct)
	})
	require.NoError(t, err)

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.Version+1, got.Version)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	acct := newAccount(t, s)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.CreatePosition(ctx, model.Position{
			AccountID:  acct.ID,
			Instrument: "BTCUSDT",
			Side:       types.SideBuy,
			Size:       decimal.NewFromInt(500),
			EntryPrice: decimal.NewFromInt(50000),
			Leverage:   decimal.NewFromInt(5),
		}); err != nil {
			return err
		}
		changed := acct
		changed.Balance = decimal.Zero
		if err := tx.SaveAccount(ctx, changed); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)), "balance leaked from failed tx")
	positions, err := s.ListPositions(ctx, acct.ID, AllPositions)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPositionFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	acct := newAccount(t, s)

	var openID string
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		open, err := tx.CreatePosition(ctx, model.Position{AccountID: acct.ID, Instrument: "BTCUSDT", Side: types.SideBuy, Size: decimal.NewFromInt(100), EntryPrice: decimal.NewFromInt(50000), Leverage: decimal.NewFromInt(2)})
		if err != nil {
			return err
		}
		openID = open.ID
		closed, err := tx.CreatePosition(ctx, model.Position{AccountID: acct.ID, Instrument: "ETHUSDT", Side: types.SideSell, Size: decimal.NewFromInt(100), EntryPrice: decimal.NewFromInt(2000), Leverage: decimal.NewFromInt(2)})
		if err != nil {
			return err
		}
		pnl := decimal.NewFromInt(10)
		price := decimal.NewFromInt(1990)
		closed.PnL = &pnl
		closed.ClosePrice = &price
		return tx.UpdatePositionClose(ctx, closed)
	})
	require.NoError(t, err)

	open, err := s.ListPositions(ctx, acct.ID, OpenPositions)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, openID, open[0].ID)

	closed, err := s.ListPositions(ctx, acct.ID, ClosedPositions)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.False(t, closed[0].Open)

	all, err := s.ListPositions(ctx, acct.ID, AllPositions)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReferenceExists(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	acct := newAccount(t, s)

	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		exists, err := tx.ReferenceExists(ctx, "0xabc")
		require.NoError(t, err)
		require.False(t, exists)
		_, err = tx.CreateTransaction(ctx, model.Transaction{
			AccountID: acct.ID,
			Kind:      types.TransactionKindDeposit,
			Amount:    decimal.NewFromInt(10),
			Net:       decimal.NewFromInt(10),
			Status:    types.TransactionStatusSuccessful,
			Reference: "0xabc",
		})
		return err
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		exists, err := tx.ReferenceExists(ctx, "0xabc")
		require.NoError(t, err)
		assert.True(t, exists)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdatePositionCloseIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	acct := newAccount(t, s)

	var pos model.Position
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		pos, err = tx.CreatePosition(ctx, model.Position{AccountID: acct.ID, Instrument: "BTCUSDT", Side: types.SideBuy, Size: decimal.NewFromInt(100), EntryPrice: decimal.NewFromInt(50000), Leverage: decimal.NewFromInt(2)})
		if err != nil {
			return err
		}
		return tx.UpdatePositionClose(ctx, pos)
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpdatePositionClose(ctx, pos)
	})
	require.ErrorIs(t, err, ErrConflict)
}
