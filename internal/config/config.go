// Package config loads and validates service configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const minSecretLength = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the HTTP listen address.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr enables the gRPC health server when non-empty.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL selects the Postgres user store when set; otherwise users live in memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is a comma-separated list of Redis addresses. When set, sessions and
	// OTP records are kept in Redis; otherwise in memory with background sweepers.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisCluster  bool   `mapstructure:"REDIS_CLUSTER"`

	// AuthSecret is the HS256 signing key; at least 32 bytes.
	AuthSecret string `mapstructure:"AUTH_SECRET"`
	AuthIssuer string `mapstructure:"AUTH_ISSUER"`
	AccessTTL  string `mapstructure:"ACCESS_TTL"`
	RefreshTTL string `mapstructure:"REFRESH_TTL"`
	SessionTTL string `mapstructure:"SESSION_TTL"`
	BcryptCost int    `mapstructure:"BCRYPT_COST"`
	// Env is the deployment environment; "production" turns on Secure cookies.
	Env string `mapstructure:"APP_ENV"`

	OTPMaxAttempts int    `mapstructure:"OTP_MAX_ATTEMPTS"`
	SweepInterval  string `mapstructure:"SWEEP_INTERVAL"`

	RateLimitBurst  int     `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitPerSec float64 `mapstructure:"RATE_LIMIT_PER_SEC"`
	// CORSAllowedOrigins is comma-separated; empty disables CORS headers.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// TrustedProxies lists IPs or CIDRs whose X-Forwarded-For is honoured.
	// Empty means the direct peer is always the client.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// Federated provider. FederatedIssuer enables display-only decoding of the
	// federated_token cookie; FederatedAudience enables /federated/exchange.
	FederatedIssuer      string `mapstructure:"FEDERATED_ISSUER"`
	FederatedAudience    string `mapstructure:"FEDERATED_AUDIENCE"`
	FederatedRoleClaim   string `mapstructure:"FEDERATED_ROLE_CLAIM"`
	FederatedAdminEmails string `mapstructure:"FEDERATED_ADMIN_EMAILS"`
	FederatedRevokeURL   string `mapstructure:"FEDERATED_REVOKE_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_CLUSTER", false)
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("AUTH_ISSUER", "gatehouse")
	v.SetDefault("ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TTL", "168h")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTP_MAX_ATTEMPTS", 3)
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_PER_SEC", 10.0)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("FEDERATED_ISSUER", "")
	v.SetDefault("FEDERATED_AUDIENCE", "")
	v.SetDefault("FEDERATED_ROLE_CLAIM", "role")
	v.SetDefault("FEDERATED_ADMIN_EMAILS", "")
	v.SetDefault("FEDERATED_REVOKE_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if len(strings.TrimSpace(c.AuthSecret)) < minSecretLength {
		return fmt.Errorf("config: AUTH_SECRET must be at least %d bytes", minSecretLength)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.OTPMaxAttempts < 1 {
		return errors.New("config: OTP_MAX_ATTEMPTS must be positive")
	}
	for key, raw := range map[string]string{
		"ACCESS_TTL":     c.AccessTTL,
		"REFRESH_TTL":    c.RefreshTTL,
		"SESSION_TTL":    c.SessionTTL,
		"SWEEP_INTERVAL": c.SweepInterval,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("config: %s must be a positive duration, got %q", key, raw)
		}
	}
	if c.RateLimitBurst < 1 || c.RateLimitPerSec <= 0 {
		return errors.New("config: RATE_LIMIT_BURST and RATE_LIMIT_PER_SEC must be positive")
	}
	if _, err := parsePrefixes(c.TrustedProxies); err != nil {
		return fmt.Errorf("config: TRUSTED_PROXIES: %w", err)
	}
	return nil
}

// Production reports whether cookies must be marked Secure.
func (c *Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// AccessTokenTTL parses AccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTokenTTL() time.Duration { return parseDuration(c.AccessTTL, 15*time.Minute) }

// RefreshTokenTTL parses RefreshTTL. Returns 168h if unset or invalid.
func (c *Config) RefreshTokenTTL() time.Duration { return parseDuration(c.RefreshTTL, 168*time.Hour) }

// SessionLifetime parses SessionTTL. Returns 24h if unset or invalid.
func (c *Config) SessionLifetime() time.Duration { return parseDuration(c.SessionTTL, 24*time.Hour) }

// SweepEvery parses SweepInterval. Returns 1m if unset or invalid.
func (c *Config) SweepEvery() time.Duration { return parseDuration(c.SweepInterval, time.Minute) }

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// RedisAddrs splits RedisAddr.
func (c *Config) RedisAddrs() []string { return splitList(c.RedisAddr) }

// CORSOrigins splits CORSAllowedOrigins.
func (c *Config) CORSOrigins() []string { return splitList(c.CORSAllowedOrigins) }

// AdminEmails splits FederatedAdminEmails.
func (c *Config) AdminEmails() []string { return splitList(c.FederatedAdminEmails) }

// TrustedProxyPrefixes parses TrustedProxies; a bare IP is a single-host
// prefix. Invalid entries are rejected by Validate.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	out, _ := parsePrefixes(c.TrustedProxies)
	return out
}

func parsePrefixes(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range splitList(raw) {
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
