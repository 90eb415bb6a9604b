package main

import (
	"context"
	"fmt"

	"github.com/nysa-labs/nysa-gateway/internal/config"
	"github.com/nysa-labs/nysa-gateway/internal/database"
	"github.com/nysa-labs/nysa-gateway/internal/database/postgres"
	"github.com/nysa-labs/nysa-gateway/internal/identity"
	"github.com/nysa-labs/nysa-gateway/internal/llm"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/metrics"
	"github.com/nysa-labs/nysa-gateway/internal/middleware"
	"github.com/nysa-labs/nysa-gateway/internal/profile"
	"github.com/nysa-labs/nysa-gateway/internal/solana"
	"github.com/nysa-labs/nysa-gateway/internal/supabase"
	"github.com/nysa-labs/nysa-gateway/internal/wallet"
)

// authProvider is everything the gateway asks of the identity provider.
type authProvider interface {
	identity.Provider
	profile.Auth
	middleware.UserFetcher
}

// healthCheck is one dependency check. A failing critical check marks the
// gateway unhealthy; others only degrade it.
type healthCheck struct {
	name     string
	critical bool
	check    func(ctx context.Context) error
}

// deps are the external systems the gateway talks to.
type deps struct {
	Repo    database.Repository
	Auth    authProvider
	Avatars profile.Bucket
	LLM     llm.Completer
	Devnet  wallet.Chain
	Mainnet wallet.Chain
	Cache   wallet.BalanceCache
	Checks  []healthCheck

	closers []func() error
}

func (d *deps) close(logger *logging.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("close dependency")
		}
	}
}

func buildDeps(ctx context.Context, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*deps, error) {
	d := &deps{}

	// Service role client for data and storage, anon client for GoTrue.
	service, transport, err := supabase.NewResilient(
		supabase.Config{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseServiceKey},
		supabase.DefaultRetryConfig(),
		supabase.DefaultCircuitBreakerConfig(),
	)
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	anon, err := supabase.New(supabase.Config{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseAnonKey})
	if err != nil {
		return nil, fmt.Errorf("supabase auth client: %w", err)
	}
	d.Auth = anon.Auth()
	d.Avatars = service.Storage().From(profile.AvatarBucket)
	d.Checks = append(d.Checks, healthCheck{name: "supabase", check: func(context.Context) error {
		if state := transport.CircuitState(); state == supabase.CircuitOpen {
			return fmt.Errorf("circuit %s", state)
		}
		return nil
	}})

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.Repo = store
		d.closers = append(d.closers, store.Close)
	default:
		d.Repo = database.NewSupabaseRepository(service)
	}
	d.Checks = append(d.Checks, healthCheck{name: "store", critical: true, check: d.Repo.HealthCheck})

	d.Cache = wallet.NoopCache{}
	if cfg.RedisURL != "" {
		cache, err := wallet.NewRedisCache(ctx, cfg.RedisURL, cfg.Credits.BalanceCacheTTL)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, balance caching disabled")
		} else {
			d.Cache = cache
			d.closers = append(d.closers, cache.Close)
			d.Checks = append(d.Checks, healthCheck{name: "redis", check: cache.Ping})
		}
	}

	d.LLM = llm.NewClient(llm.Config{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.Chat.Model,
		Temperature: cfg.Chat.Temperature,
		MaxTokens:   cfg.Chat.MaxTokens,
	}, logger, m)
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set; chat completions will fail")
	}

	devnet, err := solana.NewClient(solana.Config{RPCURL: cfg.SolanaDevnetRPC})
	if err != nil {
		return nil, fmt.Errorf("solana devnet: %w", err)
	}
	mainnet, err := solana.NewClient(solana.Config{RPCURL: cfg.SolanaMainnetRPC})
	if err != nil {
		return nil, fmt.Errorf("solana mainnet: %w", err)
	}
	d.Devnet, d.Mainnet = devnet, mainnet

	return d, nil
}
