package ledger

import (
	"errors"
	"net/http"

	"paperbroker/internal/httputil"
	"paperbroker/internal/store"
	"paperbroker/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler serves the trading surface: open/close positions, position
// listings and the account dashboard. Callers are identified by the
// userID extracted from the access token upstream.
type Handler struct {
	engine *Engine
	log    zerolog.Logger
}

func NewHandler(engine *Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		log:    log.With().Str("component", "ledger_handler").Logger(),
	}
}

func writeError(log zerolog.Logger, w http.ResponseWriter, err error) {
	switch {
	case IsValidation(err),
		errors.Is(err, ErrInsufficientMargin),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrAlreadyClosed),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrDuplicateReference):
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "not found"})
	case errors.Is(err, store.ErrConflict):
		httputil.WriteJSON(w, http.StatusConflict, httputil.ErrorResponse{Error: "concurrent modification, retry the request"})
	default:
		log.Error().Err(err).Msg("internal error")
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "internal error"})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	writeError(h.log, w, err)
}

func (h *Handler) account(w http.ResponseWriter, r *http.Request, userID string) (string, bool) {
	acct, err := h.engine.AccountForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return "", false
	}
	return acct.ID, true
}

type createAccountRequest struct {
	UserID string `json:"user_id"`
}

// CreateAccount provisions an account for a freshly registered user.
// Reached only through the internal surface.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	acct, err := h.engine.CreateAccount(r.Context(), req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, acct)
}

type placeTradeRequest struct {
	Instrument string           `json:"instrument"`
	Side       string           `json:"side"`
	Size       decimal.Decimal  `json:"size"`
	EntryPrice decimal.Decimal  `json:"entry_price"`
	Leverage   decimal.Decimal  `json:"leverage"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
}

func (h *Handler) PlaceTrade(w http.ResponseWriter, r *http.Request, userID string) {
	var req placeTradeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	accountID, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	res, err := h.engine.OpenPosition(r.Context(), OpenPositionRequest{
		AccountID:  accountID,
		Instrument: req.Instrument,
		Side:       types.Side(req.Side),
		Size:       req.Size,
		EntryPrice: req.EntryPrice,
		Leverage:   req.Leverage,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

type closeTradeRequest struct {
	ClosePrice decimal.Decimal `json:"close_price"`
}

func (h *Handler) CloseTrade(w http.ResponseWriter, r *http.Request, userID string) {
	positionID := chi.URLParam(r, "id")
	var req closeTradeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	accountID, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	res, err := h.engine.ClosePosition(r.Context(), positionID, accountID, req.ClosePrice)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request, userID string) {
	accountID, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	filter := store.OpenPositions
	if r.URL.Query().Get("status") == "closed" {
		filter = store.ClosedPositions
	}
	positions, err := h.engine.Positions(r.Context(), accountID, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (h *Handler) TradeHistory(w http.ResponseWriter, r *http.Request, userID string) {
	accountID, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	positions, err := h.engine.Positions(r.Context(), accountID, store.ClosedPositions)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"history": positions})
}

// Dashboard recomputes the account metrics against live prices and
// returns the full snapshot. It is the platform's metric refresh
// trigger: stored figures are only as fresh as the last dashboard read.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request, userID string) {
	accountID, ok := h.account(w, r, userID)
	if !ok {
		return
	}
	d, err := h.engine.AccountDashboard(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}
