package store

import (
	"context"
	"errors"

	"paperbroker/internal/model"
	"paperbroker/internal/types"
)

var (
	// ErrNotFound is returned for unknown accounts, positions and
	// transactions.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a concurrent writer won the race on
	// the same account. Callers may retry the whole operation.
	ErrConflict = errors.New("concurrent modification")
)

type PositionFilter int

const (
	AllPositions PositionFilter = iota
	OpenPositions
	ClosedPositions
)

// Tx is the unit-of-work handle passed to InTx callbacks. Every
// mutating ledger operation runs entirely inside one Tx so that the
// account balance, position and transaction-log writes commit or roll
// back together.
type Tx interface {
	GetAccountForUpdate(ctx context.Context, accountID string) (model.Account, error)
	// SaveAccount persists the account and bumps its version. It fails
	// with ErrConflict when the stored version no longer matches.
	SaveAccount(ctx context.Context, acct model.Account) error

	CreatePosition(ctx context.Context, p model.Position) (model.Position, error)
	GetPosition(ctx context.Context, positionID string) (model.Position, error)
	// UpdatePositionClose writes the terminal close fields of a
	// position (open=false, close price, pnl, closed at, admin stamp).
	UpdatePositionClose(ctx context.Context, p model.Position) error
	ListPositions(ctx context.Context, accountID string, filter PositionFilter) ([]model.Position, error)

	CreateTransaction(ctx context.Context, t model.Transaction) (model.Transaction, error)
	GetTransaction(ctx context.Context, txID string) (model.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, txID string, status types.TransactionStatus) error
	// ReferenceExists reports whether an external deposit reference has
	// already been credited. Backs the verified-deposit idempotency
	// guarantee.
	ReferenceExists(ctx context.Context, reference string) (bool, error)
}

// Store is the persistence boundary of the ledger engine.
type Store interface {
	// InTx runs fn as a single atomic transaction. A serialization
	// failure surfaces as ErrConflict after rollback.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateAccount(ctx context.Context, acct model.Account) (model.Account, error)
	GetAccount(ctx context.Context, accountID string) (model.Account, error)
	GetAccountByUser(ctx context.Context, userID string) (model.Account, error)
	ListPositions(ctx context.Context, accountID string, filter PositionFilter) ([]model.Position, error)
	ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error)
}
