package store

import (
	"context"
	"errors"
	"time"

	"paperbroker/internal/model"
	"paperbroker/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool. All mutating
// work runs under serializable isolation; serialization and deadlock
// failures are reported as ErrConflict so callers can retry.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapConflict(err)
	}
	return nil
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure / deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return ErrConflict
		}
	}
	return err
}

const accountColumns = "id, user_id, balance, credit, bonus, equity, used_margin, free_margin, pnl_total, tier, version, created_at, updated_at"

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	var tier string
	err := row.Scan(&a.ID, &a.UserID, &a.Balance, &a.Credit, &a.Bonus, &a.Equity, &a.UsedMargin, &a.FreeMargin, &a.PnLTotal, &tier, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, ErrNotFound
		}
		return a, err
	}
	a.Tier = types.AccountTier(tier)
	return a, nil
}

func (s *Postgres) CreateAccount(ctx context.Context, acct model.Account) (model.Account, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, balance, credit, bonus, equity, used_margin, free_margin, pnl_total, tier)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+accountColumns,
		acct.UserID, acct.Balance, acct.Credit, acct.Bonus, acct.Equity, acct.UsedMargin, acct.FreeMargin, acct.PnLTotal, string(acct.Tier))
	return scanAccount(row)
}

func (s *Postgres) GetAccount(ctx context.Context, accountID string) (model.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", accountID))
}

func (s *Postgres) GetAccountByUser(ctx context.Context, userID string) (model.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE user_id = $1 ORDER BY created_at ASC LIMIT 1", userID))
}

func (s *Postgres) ListPositions(ctx context.Context, accountID string, filter PositionFilter) ([]model.Position, error) {
	return listPositions(ctx, s.pool, accountID, filter)
}

func (s *Postgres) ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, kind, coin, address, amount, fee, net, status, COALESCE(reference, ''), created_at, updated_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var kind, status string
		if err := rows.Scan(&t.ID, &t.AccountID, &kind, &t.Coin, &t.Address, &t.Amount, &t.Fee, &t.Net, &status, &t.Reference, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Kind = types.TransactionKind(kind)
		t.Status = types.TransactionStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listPositions(ctx context.Context, q querier, accountID string, filter PositionFilter) ([]model.Position, error) {
	query := `
		SELECT id, account_id, instrument, side, size, entry_price, leverage, stop_loss, take_profit, open, close_price, pnl, closed_at, COALESCE(closed_by_admin, ''), created_at
		FROM positions
		WHERE account_id = $1`
	switch filter {
	case OpenPositions:
		query += " AND open = TRUE"
	case ClosedPositions:
		query += " AND open = FALSE"
	}
	query += " ORDER BY created_at DESC"
	rows, err := q.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var side string
	err := row.Scan(&p.ID, &p.AccountID, &p.Instrument, &side, &p.Size, &p.EntryPrice, &p.Leverage, &p.StopLoss, &p.TakeProfit, &p.Open, &p.ClosePrice, &p.PnL, &p.ClosedAt, &p.ClosedByAdmin, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, err
	}
	p.Side = types.Side(side)
	return p, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAccountForUpdate(ctx context.Context, accountID string) (model.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", accountID))
}

func (t *pgTx) SaveAccount(ctx context.Context, acct model.Account) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET balance = $1, credit = $2, bonus = $3, equity = $4, used_margin = $5, free_margin = $6,
		    pnl_total = $7, tier = $8, version = version + 1, updated_at = $9
		WHERE id = $10 AND version = $11`,
		acct.Balance, acct.Credit, acct.Bonus, acct.Equity, acct.UsedMargin, acct.FreeMargin,
		acct.PnLTotal, string(acct.Tier), time.Now().UTC(), acct.ID, acct.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (t *pgTx) CreatePosition(ctx context.Context, p model.Position) (model.Position, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO positions (account_id, instrument, side, size, entry_price, leverage, stop_loss, take_profit, open)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		RETURNING id, created_at`,
		p.AccountID, p.Instrument, string(p.Side), p.Size, p.EntryPrice, p.Leverage, p.StopLoss, p.TakeProfit).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	p.Open = true
	return p, nil
}

func (t *pgTx) GetPosition(ctx context.Context, positionID string) (model.Position, error) {
	return scanPosition(t.tx.QueryRow(ctx, `
		SELECT id, account_id, instrument, side, size, entry_price, leverage, stop_loss, take_profit, open, close_price, pnl, closed_at, COALESCE(closed_by_admin, ''), created_at
		FROM positions
		WHERE id = $1
		FOR UPDATE`, positionID))
}

func (t *pgTx) UpdatePositionClose(ctx context.Context, p model.Position) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE positions
		SET open = FALSE, close_price = $1, pnl = $2, closed_at = $3, closed_by_admin = NULLIF($4, '')
		WHERE id = $5 AND open = TRUE`,
		p.ClosePrice, p.PnL, p.ClosedAt, p.ClosedByAdmin, p.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (t *pgTx) ListPositions(ctx context.Context, accountID string, filter PositionFilter) ([]model.Position, error) {
	return listPositions(ctx, t.tx, accountID, filter)
}

func (t *pgTx) CreateTransaction(ctx context.Context, tr model.Transaction) (model.Transaction, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (account_id, kind, coin, address, amount, fee, net, status, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		RETURNING id, created_at, updated_at`,
		tr.AccountID, string(tr.Kind), tr.Coin, tr.Address, tr.Amount, tr.Fee, tr.Net, string(tr.Status), tr.Reference).Scan(&tr.ID, &tr.CreatedAt, &tr.UpdatedAt)
	return tr, err
}

func (t *pgTx) GetTransaction(ctx context.Context, txID string) (model.Transaction, error) {
	var tr model.Transaction
	var kind, status string
	err := t.tx.QueryRow(ctx, `
		SELECT id, account_id, kind, coin, address, amount, fee, net, status, COALESCE(reference, ''), created_at, updated_at
		FROM transactions
		WHERE id = $1
		FOR UPDATE`, txID).Scan(&tr.ID, &tr.AccountID, &kind, &tr.Coin, &tr.Address, &tr.Amount, &tr.Fee, &tr.Net, &status, &tr.Reference, &tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tr, ErrNotFound
		}
		return tr, err
	}
	tr.Kind = types.TransactionKind(kind)
	tr.Status = types.TransactionStatus(status)
	return tr, nil
}

func (t *pgTx) UpdateTransactionStatus(ctx context.Context, txID string, status types.TransactionStatus) error {
	tag, err := t.tx.Exec(ctx, "UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3", string(status), time.Now().UTC(), txID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM transactions WHERE reference = $1)", reference).Scan(&exists)
	return exists, err
}
