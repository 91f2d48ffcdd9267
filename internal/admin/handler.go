package admin

import (
	"errors"
	"net/http"

	"paperbroker/internal/auth"
	"paperbroker/internal/httputil"
	"paperbroker/internal/ledger"
	"paperbroker/internal/store"
	"paperbroker/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// Handler is the operator surface: force-closing positions, resolving
// withdrawals and crediting accounts by hand. A single operator
// identity is configured through the environment; every override is
// stamped with it.
type Handler struct {
	auth         *auth.Service
	engine       *ledger.Engine
	username     string
	passwordHash string
	log          zerolog.Logger
}

func NewHandler(authSvc *auth.Service, engine *ledger.Engine, username, passwordHash string, log zerolog.Logger) *Handler {
	return &Handler{
		auth:         authSvc,
		engine:       engine,
		username:     username,
		passwordHash: passwordHash,
		log:          log.With().Str("component", "admin_handler").Logger(),
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsValidation(err),
		errors.Is(err, ledger.ErrAlreadyClosed),
		errors.Is(err, ledger.ErrInvalidState):
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "not found"})
	case errors.Is(err, store.ErrConflict):
		httputil.WriteJSON(w, http.StatusConflict, httputil.ErrorResponse{Error: "concurrent modification, retry the request"})
	default:
		h.log.Error().Err(err).Msg("internal error")
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "internal error"})
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Username != h.username ||
		bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(req.Password)) != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid credentials"})
		return
	}
	token, err := h.auth.SignAdminToken(req.Username)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

type forceCloseRequest struct {
	ClosePrice decimal.Decimal `json:"close_price"`
}

// ForceClose closes any user's position. With no close_price in the
// body the position is closed at the current oracle price.
func (h *Handler) ForceClose(w http.ResponseWriter, r *http.Request, adminID string) {
	positionID := chi.URLParam(r, "id")
	var req forceCloseRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	res, err := h.engine.ForceClosePosition(r.Context(), positionID, req.ClosePrice, adminID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info().Str("admin", adminID).Str("position_id", positionID).Msg("position force closed")
	httputil.WriteJSON(w, http.StatusOK, res)
}

type withdrawalStatusRequest struct {
	Status string `json:"status"`
}

// SetWithdrawalStatus resolves a pending withdrawal. Canceling from
// here refunds amount plus fee; rejecting keeps the debit.
func (h *Handler) SetWithdrawalStatus(w http.ResponseWriter, r *http.Request, adminID string) {
	txID := chi.URLParam(r, "id")
	var req withdrawalStatusRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	res, err := h.engine.ForceWithdrawalStatus(r.Context(), txID, types.TransactionStatus(req.Status))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info().Str("admin", adminID).Str("transaction_id", txID).Str("status", req.Status).Msg("withdrawal status forced")
	httputil.WriteJSON(w, http.StatusOK, res)
}

type financeRequest struct {
	Kind   string          `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
	Coin   string          `json:"coin,omitempty"`
}

// Finance credits an account by hand: a manual deposit, a bonus grant
// or a credit line. Bonus and credit land in the balance and are
// additionally tracked in their own sub-balance.
func (h *Handler) Finance(w http.ResponseWriter, r *http.Request, adminID string) {
	accountID := chi.URLParam(r, "id")
	var req financeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	tr, err := h.engine.Credit(r.Context(), accountID, req.Amount, types.TransactionKind(req.Kind), req.Coin, "")
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info().Str("admin", adminID).Str("account_id", accountID).Str("kind", req.Kind).Msg("manual finance applied")
	httputil.WriteJSON(w, http.StatusCreated, tr)
}

// Account returns the raw account row for support lookups.
func (h *Handler) Account(w http.ResponseWriter, r *http.Request, adminID string) {
	acct, err := h.engine.Account(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acct)
}

// Transactions lists an account's cash history for support lookups.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request, adminID string) {
	txs, err := h.engine.Transactions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}
