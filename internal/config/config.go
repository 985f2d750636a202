// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the durable session store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the Redis URL for the session cache, revocation fast path, and login counters.
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim set on issued credentials and validated on verify.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim set on issued credentials and validated on verify.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access credential lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh credential lifetime (e.g. "168h"). Fixed at
	// session creation; rotation never extends it.
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// SessionInactivity is the inactivity timeout (e.g. "30m"); also the cache TTL.
	SessionInactivity string `mapstructure:"SESSION_INACTIVITY"`
	// SessionWarnBefore is how long before the inactivity deadline clients should warn (e.g. "5m").
	SessionWarnBefore string `mapstructure:"SESSION_WARN_BEFORE"`
	// MaxSessionsPerIdentity caps concurrent active sessions per identity; the oldest is evicted at the ceiling.
	MaxSessionsPerIdentity int `mapstructure:"MAX_SESSIONS_PER_IDENTITY"`
	// RotationGrace is the window in which the immediately prior refresh
	// credential is accepted once after a rotation (client retry after a
	// dropped response). "0" treats every reuse as theft.
	RotationGrace string `mapstructure:"ROTATION_GRACE"`

	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// Login gate windows and thresholds.
	LoginEmailWindow string `mapstructure:"LOGIN_EMAIL_WINDOW"`
	LoginEmailMax    int    `mapstructure:"LOGIN_EMAIL_MAX"`
	LoginIPWindow    string `mapstructure:"LOGIN_IP_WINDOW"`
	LoginIPMax       int    `mapstructure:"LOGIN_IP_MAX"`
	LockoutWindow    string `mapstructure:"LOCKOUT_WINDOW"`
	LockoutThreshold int    `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutDuration  string `mapstructure:"LOCKOUT_DURATION"`

	// AuditKafkaBrokers is a comma-separated list of Kafka broker addresses for
	// the audit/notification sink. Empty disables the sink (durable audit log still written).
	AuditKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the Kafka topic for audit events.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the audit worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint is the OTLP gRPC endpoint for traces and metrics. Empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("JWT_ISSUER", "session-vault")
	v.SetDefault("JWT_AUDIENCE", "session-vault-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("SESSION_INACTIVITY", "30m")
	v.SetDefault("SESSION_WARN_BEFORE", "5m")
	v.SetDefault("MAX_SESSIONS_PER_IDENTITY", 5)
	v.SetDefault("ROTATION_GRACE", "10s")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOGIN_EMAIL_WINDOW", "15m")
	v.SetDefault("LOGIN_EMAIL_MAX", 5)
	v.SetDefault("LOGIN_IP_WINDOW", "15m")
	v.SetDefault("LOGIN_IP_MAX", 20)
	v.SetDefault("LOCKOUT_WINDOW", "24h")
	v.SetDefault("LOCKOUT_THRESHOLD", 10)
	v.SetDefault("LOCKOUT_DURATION", "1h")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "session-vault-audit")
	v.SetDefault("KAFKA_GROUP_ID", "session-vault-audit-worker")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.MaxSessionsPerIdentity < 1 {
		return nil, errors.New("config: MAX_SESSIONS_PER_IDENTITY must be at least 1")
	}

	return &cfg, nil
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	if d := durationOr(c.JWTAccessTTL, 15*time.Minute); d > 0 {
		return d
	}
	return 15 * time.Minute
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	if d := durationOr(c.JWTRefreshTTL, 168*time.Hour); d > 0 {
		return d
	}
	return 168 * time.Hour
}

// InactivityTimeout parses SessionInactivity. Returns 30m if unset or invalid.
func (c *Config) InactivityTimeout() time.Duration {
	if d := durationOr(c.SessionInactivity, 30*time.Minute); d > 0 {
		return d
	}
	return 30 * time.Minute
}

// WarnBeforeTimeout parses SessionWarnBefore. Returns 5m if unset or invalid.
func (c *Config) WarnBeforeTimeout() time.Duration {
	if d := durationOr(c.SessionWarnBefore, 5*time.Minute); d > 0 {
		return d
	}
	return 5 * time.Minute
}

// GraceWindow parses RotationGrace. Zero means every reuse is treated as theft.
func (c *Config) GraceWindow() time.Duration {
	return durationOr(c.RotationGrace, 10*time.Second)
}

// EmailWindow parses LoginEmailWindow. Returns 15m if unset or invalid.
func (c *Config) EmailWindow() time.Duration { return durationOr(c.LoginEmailWindow, 15*time.Minute) }

// IPWindow parses LoginIPWindow. Returns 15m if unset or invalid.
func (c *Config) IPWindow() time.Duration { return durationOr(c.LoginIPWindow, 15*time.Minute) }

// LockWindow parses LockoutWindow. Returns 24h if unset or invalid.
func (c *Config) LockWindow() time.Duration { return durationOr(c.LockoutWindow, 24*time.Hour) }

// LockDuration parses LockoutDuration. Returns 1h if unset or invalid.
func (c *Config) LockDuration() time.Duration { return durationOr(c.LockoutDuration, time.Hour) }

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the audit sink is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.AuditKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.AuditKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
