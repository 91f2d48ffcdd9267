package ledger

import (
	"net/http"

	"paperbroker/internal/chain"
	"paperbroker/internal/httputil"
	"paperbroker/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CashHandler serves the money-movement surface: deposit intents,
// verified deposits, withdrawal requests and cancellation, and the
// transaction history.
type CashHandler struct {
	engine    *Engine
	verifier  chain.Verifier
	addresses map[string]string
	log       zerolog.Logger
}

// NewCashHandler wires the cash endpoints. addresses maps coin symbol
// to the platform deposit address users send funds to.
func NewCashHandler(engine *Engine, verifier chain.Verifier, addresses map[string]string, log zerolog.Logger) *CashHandler {
	return &CashHandler{
		engine:    engine,
		verifier:  verifier,
		addresses: addresses,
		log:       log.With().Str("component", "cash_handler").Logger(),
	}
}

func (h *CashHandler) writeError(w http.ResponseWriter, err error) {
	writeError(h.log, w, err)
}

func (h *CashHandler) account(w http.ResponseWriter, r *http.Request, userID string) (string, bool) {
	acct, err := h.engine.AccountForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return "", false
	}
	return acct.ID, true
}

type depositIntentRequest struct {
	Coin string `json:"coin"`
}

// DepositIntent hands the user the platform address for the chosen
// coin. Nothing is recorded; the credit happens at verification time.
func (h *CashHandler) DepositIntent(w http.ResponseWriter, r *http.Request, userID string) {
	var req depositIntentRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	address, ok := h.addresses[req.Coin]
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "unsupported coin"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"coin":    req.Coin,
		"address": address,
	})
}

type verifyDepositRequest struct {
	Coin   string `json:"coin"`
	TxHash string `json:"tx_hash"`
}

// VerifyDeposit checks the on-chain transaction and credits its USD
// value exactly once per tx hash.
func (h *CashHandler) VerifyDeposit(w http.ResponseWriter, r *http.Request, userID string) {
	var req verifyDepositRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.TxHash == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "tx_hash is required"})
		return
	}
	address, ok := h.addresses[req.Coin]
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "unsupported coin"})
		return
	}

	amount, err := h.verifier.VerifyDeposit(r.Context(), req.Coin, req.TxHash, address)
	if err != nil {
		h.log.Warn().Str("tx_hash", req.TxHash).Err(err).Msg("deposit verification failed")
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}

	accountID, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	tr, err := h.engine.Credit(r.Context(), accountID, amount, types.TransactionKindDeposit, req.Coin, req.TxHash)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tr)
}

type withdrawRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Coin    string          `json:"coin"`
	Address string          `json:"address"`
}

func (h *CashHandler) Withdraw(w http.ResponseWriter, r *http.Request, userID string) {
	var req withdrawRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Address == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "address is required"})
		return
	}
	accountID, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	res, err := h.engine.Withdraw(r.Context(), accountID, req.Amount, req.Coin, req.Address)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *CashHandler) CancelWithdrawal(w http.ResponseWriter, r *http.Request, userID string) {
	txID := chi.URLParam(r, "id")
	accountID, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	res, err := h.engine.CancelWithdrawal(r.Context(), txID, accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type internalDepositRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Coin      string          `json:"coin,omitempty"`
	Reference string          `json:"reference,omitempty"`
}

// InternalDeposit credits an account on behalf of a trusted upstream
// service (payment processors, back office). Reached only through the
// internal surface; an optional reference gets the same idempotency
// guarantee as verified deposits.
func (h *CashHandler) InternalDeposit(w http.ResponseWriter, r *http.Request) {
	var req internalDepositRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	tr, err := h.engine.Credit(r.Context(), req.AccountID, req.Amount, types.TransactionKindDeposit, req.Coin, req.Reference)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tr)
}

func (h *CashHandler) ListTransactions(w http.ResponseWriter, r *http.Request, userID string) {
	accountID, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	txs, err := h.engine.Transactions(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}
