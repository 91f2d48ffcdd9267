package httpserver

import (
	"net/http"

	"paperbroker/internal/admin"
	"paperbroker/internal/auth"
	"paperbroker/internal/httputil"
	"paperbroker/internal/ledger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

type RouterDeps struct {
	LedgerHandler *ledger.Handler
	CashHandler   *ledger.CashHandler
	AdminHandler  *admin.Handler
	AuthService   *auth.Service
	InternalToken string
	AllowOrigins  []string
	RateLimiter   *RateLimiter
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

func withUser(fn userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, userID)
	}
}

func withAdmin(fn userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := AdminID(r)
		if !ok {
			httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "unauthorized"})
			return
		}
		fn(w, r, adminID)
	}
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Internal-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(SecurityHeaders)
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))

			r.Get("/dashboard", withUser(d.LedgerHandler.Dashboard))
			r.Post("/trades", withUser(d.LedgerHandler.PlaceTrade))
			r.Get("/trades", withUser(d.LedgerHandler.ListTrades))
			r.Get("/trades/history", withUser(d.LedgerHandler.TradeHistory))
			r.Post("/trades/{id}/close", withUser(d.LedgerHandler.CloseTrade))

			r.Post("/deposits/intent", withUser(d.CashHandler.DepositIntent))
			r.Post("/deposits/verify", withUser(d.CashHandler.VerifyDeposit))
			r.Post("/withdrawals", withUser(d.CashHandler.Withdraw))
			r.Post("/withdrawals/{id}/cancel", withUser(d.CashHandler.CancelWithdrawal))
			r.Get("/transactions", withUser(d.CashHandler.ListTransactions))
		})

		r.Group(func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/internal/accounts", d.LedgerHandler.CreateAccount)
			r.Post("/internal/deposits", d.CashHandler.InternalDeposit)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", d.AdminHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(WithAdminAuth(d.AuthService))
				r.Post("/positions/{id}/close", withAdmin(d.AdminHandler.ForceClose))
				r.Post("/withdrawals/{id}/status", withAdmin(d.AdminHandler.SetWithdrawalStatus))
				r.Post("/accounts/{id}/finance", withAdmin(d.AdminHandler.Finance))
				r.Get("/accounts/{id}", withAdmin(d.AdminHandler.Account))
				r.Get("/accounts/{id}/transactions", withAdmin(d.AdminHandler.Transactions))
			})
		})
	})

	return r
}
