package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"paperbroker/internal/model"
	"paperbroker/internal/types"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and local development.
// InTx serializes writers behind one mutex and buffers all writes,
// applying them only when the callback succeeds, so a failed operation
// leaves no partial state behind.
type Memory struct {
	mu           sync.Mutex
	accounts     map[string]model.Account
	positions    map[string]model.Position
	transactions map[string]model.Transaction
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[string]model.Account),
		positions:    make(map[string]model.Position),
		transactions: make(map[string]model.Transaction),
	}
}

func (s *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{
		store:        s,
		accounts:     make(map[string]model.Account),
		positions:    make(map[string]model.Position),
		transactions: make(map[string]model.Transaction),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, a := range tx.accounts {
		s.accounts[id] = a
	}
	for id, p := range tx.positions {
		s.positions[id] = p
	}
	for id, t := range tx.transactions {
		s.transactions[id] = t
	}
	return nil
}

func (s *Memory) CreateAccount(ctx context.Context, acct model.Account) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct.ID = uuid.NewString()
	acct.Version = 1
	acct.CreatedAt = time.Now().UTC()
	acct.UpdatedAt = acct.CreatedAt
	s.accounts[acct.ID] = acct
	return acct, nil
}

func (s *Memory) GetAccount(ctx context.Context, accountID string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return a, nil
}

func (s *Memory) GetAccountByUser(ctx context.Context, userID string) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *model.Account
	for _, a := range s.accounts {
		a := a
		if a.UserID != userID {
			continue
		}
		if found == nil || a.CreatedAt.Before(found.CreatedAt) {
			found = &a
		}
	}
	if found == nil {
		return model.Account{}, ErrNotFound
	}
	return *found, nil
}

func (s *Memory) ListPositions(ctx context.Context, accountID string, filter PositionFilter) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filterPositions(s.positions, nil, accountID, filter), nil
}

func (s *Memory) ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Transaction
	for _, t := range s.transactions {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func filterPositions(committed, pending map[string]model.Position, accountID string, filter PositionFilter) []model.Position {
	seen := make(map[string]model.Position)
	for id, p := range committed {
		seen[id] = p
	}
	for id, p := range pending {
		seen[id] = p
	}
	var out []model.Position
	for _, p := range seen {
		if p.AccountID != accountID {
			continue
		}
		if filter == OpenPositions && !p.Open {
			continue
		}
		if filter == ClosedPositions && p.Open {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// memTx buffers writes on top of the committed maps. The parent mutex
// is held for the duration of the callback.
type memTx struct {
	store        *Memory
	accounts     map[string]model.Account
	positions    map[string]model.Position
	transactions map[string]model.Transaction
}

func (t *memTx) getAccount(accountID string) (model.Account, bool) {
	if a, ok := t.accounts[accountID]; ok {
		return a, true
	}
	a, ok := t.store.accounts[accountID]
	return a, ok
}

func (t *memTx) GetAccountForUpdate(ctx context.Context, accountID string) (model.Account, error) {
	a, ok := t.getAccount(accountID)
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return a, nil
}

func (t *memTx) SaveAccount(ctx context.Context, acct model.Account) error {
	current, ok := t.getAccount(acct.ID)
	if !ok {
		return ErrNotFound
	}
	if current.Version != acct.Version {
		return ErrConflict
	}
	acct.Version++
	acct.UpdatedAt = time.Now().UTC()
	t.accounts[acct.ID] = acct
	return nil
}

func (t *memTx) CreatePosition(ctx context.Context, p model.Position) (model.Position, error) {
	p.ID = uuid.NewString()
	p.Open = true
	p.CreatedAt = time.Now().UTC()
	t.positions[p.ID] = p
	return p, nil
}

func (t *memTx) GetPosition(ctx context.Context, positionID string) (model.Position, error) {
	if p, ok := t.positions[positionID]; ok {
		return p, nil
	}
	p, ok := t.store.positions[positionID]
	if !ok {
		return model.Position{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) UpdatePositionClose(ctx context.Context, p model.Position) error {
	current, err := t.GetPosition(ctx, p.ID)
	if err != nil {
		return err
	}
	if !current.Open {
		return ErrConflict
	}
	current.Open = false
	current.ClosePrice = p.ClosePrice
	current.PnL = p.PnL
	current.ClosedAt = p.ClosedAt
	current.ClosedByAdmin = p.ClosedByAdmin
	t.positions[current.ID] = current
	return nil
}

func (t *memTx) ListPositions(ctx context.Context, accountID string, filter PositionFilter) ([]model.Position, error) {
	return filterPositions(t.store.positions, t.positions, accountID, filter), nil
}

func (t *memTx) CreateTransaction(ctx context.Context, tr model.Transaction) (model.Transaction, error) {
	tr.ID = uuid.NewString()
	now := time.Now().UTC()
	tr.CreatedAt = now
	tr.UpdatedAt = now
	t.transactions[tr.ID] = tr
	return tr, nil
}

func (t *memTx) GetTransaction(ctx context.Context, txID string) (model.Transaction, error) {
	if tr, ok := t.transactions[txID]; ok {
		return tr, nil
	}
	tr, ok := t.store.transactions[txID]
	if !ok {
		return model.Transaction{}, ErrNotFound
	}
	return tr, nil
}

func (t *memTx) UpdateTransactionStatus(ctx context.Context, txID string, status types.TransactionStatus) error {
	tr, err := t.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	tr.Status = status
	tr.UpdatedAt = time.Now().UTC()
	t.transactions[tr.ID] = tr
	return nil
}

func (t *memTx) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	for _, tr := range t.transactions {
		if tr.Reference != "" && tr.Reference == reference {
			return true, nil
		}
	}
	for _, tr := range t.store.transactions {
		if tr.Reference != "" && tr.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}
