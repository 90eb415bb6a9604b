// Package config loads gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEncryptionKey is the development placeholder for WALLET_ENCRYPTION_KEY.
const DefaultEncryptionKey = "nysa-development-wallet-key"

// Store backends.
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
)

// Config is the full gateway configuration.
type Config struct {
	Port      int    `env:"PORT,default=8080"`
	Env       string `env:"ENV,default=development"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseAnonKey    string `env:"SUPABASE_ANON_KEY"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseJWTSecret  string `env:"SUPABASE_JWT_SECRET"`

	StoreBackend string `env:"STORE_BACKEND,default=supabase"`
	DatabaseURL  string `env:"DATABASE_URL"`
	RedisURL     string `env:"REDIS_URL"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	SolanaMainnetRPC    string `env:"SOLANA_MAINNET_RPC,default=https://api.mainnet-beta.solana.com"`
	SolanaDevnetRPC     string `env:"SOLANA_DEVNET_RPC,default=https://api.devnet.solana.com"`
	TokenMintAddress    string `env:"TOKEN_MINT_ADDRESS,default=5NFBXUt4RSCP7FRLV8xNkTA6rZzhAWSrUzzuHanfpump"`
	WalletEncryptionKey string `env:"WALLET_ENCRYPTION_KEY,default=nysa-development-wallet-key"`

	CORSAllowedOrigins string  `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:3000"`
	RateLimitRPS       float64 `env:"RATE_LIMIT_RPS,default=10"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST,default=20"`

	SkipAuth       bool `env:"SKIP_AUTH,default=false"`
	EnforceCredits bool `env:"ENFORCE_CREDITS,default=true"`

	// AdminUserIDs lists users allowed on the operator endpoints.
	AdminUserIDs string `env:"ADMIN_USER_IDS"`

	ConfigFile string `env:"NYSA_CONFIG_FILE"`

	Chat    ChatConfig    `yaml:"chat"`
	Credits CreditsConfig `yaml:"credits"`
}

// ChatConfig holds model settings.
type ChatConfig struct {
	Model       string  `env:"OPENAI_MODEL,default=gpt-3.5-turbo" yaml:"model"`
	Temperature float32 `env:"OPENAI_TEMPERATURE,default=0.7" yaml:"temperature"`
	MaxTokens   int     `env:"OPENAI_MAX_TOKENS,default=800" yaml:"max_tokens"`
}

// CreditsConfig holds pricing settings.
type CreditsConfig struct {
	MessageCost     float64       `env:"MESSAGE_CREDIT_COST,default=10" yaml:"message_cost"`
	PerToken        float64       `env:"CREDITS_PER_TOKEN,default=10" yaml:"per_token"`
	HoldTTL         time.Duration `env:"CREDIT_HOLD_TTL,default=5m" yaml:"hold_ttl"`
	BalanceCacheTTL time.Duration `env:"BALANCE_CACHE_TTL,default=15s" yaml:"balance_cache_ttl"`
}

// Load reads an optional .env file, decodes the environment and applies the
// YAML overlay named by NYSA_CONFIG_FILE.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// overlay mirrors the YAML file layout. Zero values leave the env setting alone.
type overlay struct {
	Chat    ChatConfig    `yaml:"chat"`
	Credits CreditsConfig `yaml:"credits"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return c.ApplyYAML(data)
}

// ApplyYAML overlays chat and credit settings from a YAML document.
func (c *Config) ApplyYAML(data []byte) error {
	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if o.Chat.Model != "" {
		c.Chat.Model = o.Chat.Model
	}
	if o.Chat.Temperature != 0 {
		c.Chat.Temperature = o.Chat.Temperature
	}
	if o.Chat.MaxTokens != 0 {
		c.Chat.MaxTokens = o.Chat.MaxTokens
	}
	if o.Credits.MessageCost != 0 {
		c.Credits.MessageCost = o.Credits.MessageCost
	}
	if o.Credits.PerToken != 0 {
		c.Credits.PerToken = o.Credits.PerToken
	}
	if o.Credits.HoldTTL != 0 {
		c.Credits.HoldTTL = o.Credits.HoldTTL
	}
	if o.Credits.BalanceCacheTTL != 0 {
		c.Credits.BalanceCacheTTL = o.Credits.BalanceCacheTTL
	}
	return nil
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// IsDevelopment reports whether ENV names a local deployment.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "" || env == "development" || env == "dev" || env == "local" || env == "test"
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS.
func (c *Config) AllowedOrigins() []string {
	return splitCSV(c.CORSAllowedOrigins)
}

// Admins returns the ADMIN_USER_IDS set.
func (c *Config) Admins() map[string]struct{} {
	out := make(map[string]struct{})
	for _, id := range splitCSV(c.AdminUserIDs) {
		out[id] = struct{}{}
	}
	return out
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks settings that would make the gateway unsafe or unusable.
func (c *Config) Validate() error {
	var problems []string

	switch c.StoreBackend {
	case BackendSupabase:
		if c.SupabaseURL == "" {
			problems = append(problems, "SUPABASE_URL is required")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	// Identity and storage always go through Supabase.
	if c.SupabaseURL == "" && c.StoreBackend != BackendSupabase {
		problems = append(problems, "SUPABASE_URL is required")
	}
	if c.SupabaseAnonKey == "" {
		problems = append(problems, "SUPABASE_ANON_KEY is required")
	}
	if c.SupabaseServiceKey == "" {
		problems = append(problems, "SUPABASE_SERVICE_KEY is required")
	}
	if !c.IsDevelopment() && c.WalletEncryptionKey == DefaultEncryptionKey {
		problems = append(problems, "WALLET_ENCRYPTION_KEY must be set outside development")
	}
	if len(c.WalletEncryptionKey) < 16 {
		problems = append(problems, "WALLET_ENCRYPTION_KEY must be at least 16 characters")
	}
	if c.SkipAuth && c.IsProduction() {
		problems = append(problems, "SKIP_AUTH cannot be enabled in production")
	}
	if c.Credits.MessageCost < 0 || c.Credits.PerToken <= 0 {
		problems = append(problems, "credit pricing must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
