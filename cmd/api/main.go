package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paperbroker/internal/admin"
	"paperbroker/internal/auth"
	"paperbroker/internal/chain"
	"paperbroker/internal/config"
	"paperbroker/internal/db"
	"paperbroker/internal/httpserver"
	"paperbroker/internal/ledger"
	"paperbroker/internal/pricing"
	"paperbroker/internal/store"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	cache := pricing.NewCache()
	priceClient := pricing.NewClient(cfg.PriceAPIURL, cfg.PriceTimeout)
	oracle := pricing.NewCachedOracle(cache, priceClient)
	if cfg.PriceFeedURL != "" {
		feed := pricing.NewFeed(cfg.PriceFeedURL, cache, log)
		go feed.Run(ctx)
	}

	var verifier chain.Verifier
	if cfg.ExplorerURL != "" {
		verifier = chain.NewExplorerVerifier(cfg.ExplorerURL, oracle, cfg.PriceTimeout, log)
	} else {
		log.Warn().Msg("no explorer configured, deposit verification runs in noop mode")
		verifier = chain.NoopVerifier{Amount: decimal.NewFromInt(100)}
	}

	st := store.NewPostgres(pool)
	engine := ledger.NewEngine(st, oracle, cfg.PriceTimeout, log)
	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)

	ledgerHandler := ledger.NewHandler(engine, log)
	cashHandler := ledger.NewCashHandler(engine, verifier, cfg.DepositAddresses, log)
	adminHandler := admin.NewHandler(authSvc, engine, cfg.AdminUsername, cfg.AdminPassword, log)

	limiter := httpserver.NewRateLimiter(10, 30)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Prune()
			}
		}
	}()

	router := httpserver.NewRouter(httpserver.RouterDeps{
		LedgerHandler: ledgerHandler,
		CashHandler:   cashHandler,
		AdminHandler:  adminHandler,
		AuthService:   authSvc,
		InternalToken: cfg.InternalToken,
		AllowOrigins:  cfg.AllowOrigins,
		RateLimiter:   limiter,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
