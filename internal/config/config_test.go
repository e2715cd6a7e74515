package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.JWT.Secret = "secret"
		cfg.Billing.DefaultCommissionRate = 0.10
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"minimal mock-gateway config", func(c *Config) {}, ""},
		{"missing jwt secret", func(c *Config) { c.JWT.Secret = "" }, "JWT_SECRET"},
		{"daraja without passkey", func(c *Config) {
			c.Daraja.ConsumerKey = "key"
		}, "DARAJA_PASSKEY"},
		{"daraja without webhook secret", func(c *Config) {
			c.Daraja.ConsumerKey = "key"
			c.Daraja.Passkey = "passkey"
		}, "MPESA_WEBHOOK_SECRET"},
		{"fully configured daraja", func(c *Config) {
			c.Daraja.ConsumerKey = "key"
			c.Daraja.Passkey = "passkey"
			c.Webhook.Secret = "whsec"
		}, ""},
		{"commission rate above one", func(c *Config) {
			c.Billing.DefaultCommissionRate = 1.5
		}, "DEFAULT_COMMISSION_RATE"},
		{"negative commission rate", func(c *Config) {
			c.Billing.DefaultCommissionRate = -0.1
		}, "DEFAULT_COMMISSION_RATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error naming %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_COMMISSION_RATE", "0.15")
	t.Setenv("POLL_TIMEOUT_MINUTES", "not-a-number")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("DARAJA_CONSUMER_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.JWT.Secret != "env-secret" {
		t.Errorf("JWT.Secret = %q, want env-secret", cfg.JWT.Secret)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Billing.DefaultCommissionRate != 0.15 {
		t.Errorf("DefaultCommissionRate = %v, want 0.15", cfg.Billing.DefaultCommissionRate)
	}
	// Unparseable numbers fall back to their defaults instead of failing startup.
	if cfg.Billing.PollTimeoutMinutes != 10 {
		t.Errorf("PollTimeoutMinutes = %v, want default 10", cfg.Billing.PollTimeoutMinutes)
	}
	if !cfg.OTEL.Enabled {
		t.Error("OTEL.Enabled = false, want true")
	}
}

func TestLoadFailsValidation(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load() without JWT_SECRET must fail validation")
	}
}
