package main

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nysa-labs/nysa-gateway/internal/chat"
	"github.com/nysa-labs/nysa-gateway/internal/config"
	"github.com/nysa-labs/nysa-gateway/internal/credits"
	"github.com/nysa-labs/nysa-gateway/internal/identity"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/metrics"
	"github.com/nysa-labs/nysa-gateway/internal/middleware"
	"github.com/nysa-labs/nysa-gateway/internal/notify"
	"github.com/nysa-labs/nysa-gateway/internal/profile"
	"github.com/nysa-labs/nysa-gateway/internal/scheduler"
	"github.com/nysa-labs/nysa-gateway/internal/wallet"
)

// app is the assembled gateway.
type app struct {
	handler   http.Handler
	hub       *notify.Hub
	scheduler *scheduler.Scheduler
	ledger    *credits.Ledger
}

func newApp(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics, d *deps) (*app, error) {
	secureCookies := cfg.IsProduction()

	hub := notify.NewHub(logger, m, cfg.AllowedOrigins())
	ledger := credits.NewLedger(d.Repo, credits.Config{
		MessageCost: cfg.Credits.MessageCost,
		PerToken:    cfg.Credits.PerToken,
		HoldTTL:     cfg.Credits.HoldTTL,
	}, logger, credits.WithPublisher(hub), credits.WithRecorder(m))

	chatSvc := chat.New(chat.Config{
		Repo:           d.Repo,
		Ledger:         ledger,
		LLM:            d.LLM,
		Logger:         logger,
		EnforceCredits: cfg.EnforceCredits,
	})

	sealer, err := wallet.NewSealer(cfg.WalletEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("wallet sealer: %w", err)
	}
	walletSvc, err := wallet.New(wallet.Config{
		Repo:     d.Repo,
		Sealer:   sealer,
		Devnet:   d.Devnet,
		Mainnet:  d.Mainnet,
		Mint:     cfg.TokenMintAddress,
		Cache:    d.Cache,
		Credits:  ledger,
		Logger:   logger,
		Recorder: m,
	})
	if err != nil {
		return nil, err
	}

	profileSvc := profile.New(d.Repo, d.Auth, d.Avatars, logger, secureCookies)
	identitySvc := identity.New(d.Auth, logger, secureCookies)

	auth := middleware.NewAuthMiddleware(middleware.AuthConfig{
		JWTSecret: cfg.SupabaseJWTSecret,
		Fetcher:   d.Auth,
		SkipAuth:  cfg.SkipAuth,
	}, logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	limited := middleware.NewLimitedAuth(auth, limiter)

	sched := scheduler.New(logger)
	if err := scheduler.RegisterHousekeeping(sched, scheduler.Housekeeping{
		Holds:   ledger,
		Limiter: limiter,
		Tokens:  auth,
	}); err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	r.Use(middleware.MetricsMiddleware("gateway", m))

	r.Handle("/health", healthHandler(d.Checks)).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	identitySvc.RegisterRoutes(r, limited)
	profileSvc.RegisterRoutes(r, limited)
	ledger.RegisterRoutes(r, limited)
	chatSvc.RegisterRoutes(r, limited)
	walletSvc.RegisterRoutes(r, limited)
	hub.RegisterRoutes(r, limited)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(limited.Require, adminOnly(cfg.Admins(), logger))
	admin.HandleFunc("/jobs", jobsHandler(sched)).Methods(http.MethodGet)

	// CORS and tracing wrap the router so preflights and unmatched routes
	// get them too.
	var h http.Handler = r
	h = middleware.NewCORSMiddleware(cfg.AllowedOrigins()).Handler(h)
	h = middleware.NewTracingMiddleware(logger).Handler(h)

	return &app{handler: h, hub: hub, scheduler: sched, ledger: ledger}, nil
}
