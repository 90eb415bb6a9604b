package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Env:                 "development",
		StoreBackend:        BackendSupabase,
		SupabaseURL:         "https://x.supabase.co",
		SupabaseAnonKey:     "anon",
		SupabaseServiceKey:  "service",
		WalletEncryptionKey: DefaultEncryptionKey,
		Credits:             CreditsConfig{MessageCost: 10, PerToken: 10},
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NYSA_CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Chat.Model != "gpt-3.5-turbo" {
		t.Errorf("Chat.Model = %q", cfg.Chat.Model)
	}
	if cfg.Chat.MaxTokens != 800 {
		t.Errorf("Chat.MaxTokens = %d", cfg.Chat.MaxTokens)
	}
	if cfg.Credits.MessageCost != 10 || cfg.Credits.PerToken != 10 {
		t.Errorf("Credits = %+v", cfg.Credits)
	}
	if cfg.Credits.HoldTTL != 5*time.Minute {
		t.Errorf("HoldTTL = %v", cfg.Credits.HoldTTL)
	}
	if cfg.SkipAuth {
		t.Error("SkipAuth should default to false")
	}
}

func TestApplyYAML(t *testing.T) {
	cfg := validConfig()
	cfg.Chat = ChatConfig{Model: "gpt-3.5-turbo", Temperature: 0.7, MaxTokens: 800}

	err := cfg.ApplyYAML([]byte("chat:\n  model: gpt-4o-mini\ncredits:\n  message_cost: 5\n"))
	if err != nil {
		t.Fatalf("ApplyYAML() error = %v", err)
	}
	if cfg.Chat.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", cfg.Chat.Model)
	}
	if cfg.Chat.MaxTokens != 800 {
		t.Errorf("MaxTokens changed to %d", cfg.Chat.MaxTokens)
	}
	if cfg.Credits.MessageCost != 5 {
		t.Errorf("MessageCost = %v", cfg.Credits.MessageCost)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing url", func(c *Config) { c.SupabaseURL = "" }, "SUPABASE_URL"},
		{"skip auth in production", func(c *Config) {
			c.Env = "production"
			c.WalletEncryptionKey = "a-real-production-key"
			c.SkipAuth = true
		}, "SKIP_AUTH"},
		{"default key in production", func(c *Config) { c.Env = "production" }, "WALLET_ENCRYPTION_KEY"},
		{"postgres without dsn", func(c *Config) { c.StoreBackend = BackendPostgres }, "DATABASE_URL"},
		{"unknown backend", func(c *Config) { c.StoreBackend = "mongo" }, "STORE_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{CORSAllowedOrigins: "http://a.com, http://b.com,,"}
	got := cfg.AllowedOrigins()
	if len(got) != 2 || got[1] != "http://b.com" {
		t.Errorf("AllowedOrigins() = %v", got)
	}
}

func TestAdmins(t *testing.T) {
	cfg := &Config{AdminUserIDs: " ops-1 ,ops-2"}
	admins := cfg.Admins()
	if _, ok := admins["ops-1"]; !ok || len(admins) != 2 {
		t.Errorf("Admins() = %v", admins)
	}
	if len((&Config{}).Admins()) != 0 {
		t.Error("empty ADMIN_USER_IDS should yield no admins")
	}
}
