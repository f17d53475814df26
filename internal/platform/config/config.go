// Package config loads runtime configuration from the environment (prefix
// KYC_), an optional .env file and an optional config file. Secrets have no
// defaults: Load fails when any is missing.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"kycgate/pkg/backoff"
)

const envPrefix = "KYC"

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Provider ProviderConfig
	Webhook  WebhookConfig
	Auth     AuthConfig
	Privacy  PrivacyConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	TTL      TTLConfig
	Notify   NotifyConfig
	Backoff  BackoffConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type ProviderConfig struct {
	Name      string
	BaseURL   string
	APIKey    string
	AccountID string
	Timeout   time.Duration
}

type WebhookConfig struct {
	Secret string
}

type AuthConfig struct {
	JWTSigningKey string
	Issuer        string
}

type PrivacyConfig struct {
	DigestKey string
}

// RedisConfig configures the correlation cache. An empty URL selects the
// in-process cache.
type RedisConfig struct {
	URL          string
	Prefix       string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Timeout      time.Duration
}

// PostgresConfig configures the ledger. An empty DSN selects the in-process
// ledger.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	Timeout      time.Duration
}

type TTLConfig struct {
	Pending  time.Duration
	Verified time.Duration
}

type NotifyConfig struct {
	Driver  string
	Brokers []string
	Topic   string
	NATSURL string
	Subject string
}

type BackoffConfig struct {
	Threshold int
	Offset    int
	Base      time.Duration
	Max       time.Duration
}

// AdminConfig guards operator endpoints. They are not mounted without a token.
type AdminConfig struct {
	Token string
}

type loadOptions struct {
	envFile    string
	configFile string
}

type Option func(*loadOptions)

// WithEnvFile loads variables from path before reading the environment.
// A missing file is not an error.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) {
		o.envFile = path
	}
}

// WithConfigFile merges a YAML/JSON/TOML config file under the environment.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) {
		o.configFile = path
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("provider.name", "idfy")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.account_id", "")
	v.SetDefault("provider.timeout", 30*time.Second)

	v.SetDefault("webhook.secret", "")
	v.SetDefault("auth.jwt_signing_key", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("privacy.digest_key", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.prefix", "kyc:")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.timeout", 2*time.Second)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.timeout", 3*time.Second)

	v.SetDefault("ttl.pending", 300*time.Second)
	v.SetDefault("ttl.verified", 24*time.Hour)

	v.SetDefault("notify.driver", "log")
	v.SetDefault("notify.brokers", "")
	v.SetDefault("notify.topic", "kyc-status-updates")
	v.SetDefault("notify.nats_url", "")
	v.SetDefault("notify.subject", "kyc.status.updated")

	v.SetDefault("backoff.threshold", 3)
	v.SetDefault("backoff.offset", 3)
	v.SetDefault("backoff.base", 2*time.Second)
	v.SetDefault("backoff.max", 10*time.Second)

	v.SetDefault("admin.token", "")
}

func newViper(opts []Option) (*viper.Viper, error) {
	o := loadOptions{envFile: ".env"}
	for _, opt := range opts {
		opt(&o)
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", o.envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", o.configFile, err)
		}
	}
	return v, nil
}

// LoadPostgres reads only the ledger database settings. Used by the migrate
// command, which needs no service secrets.
func LoadPostgres(opts ...Option) (PostgresConfig, error) {
	v, err := newViper(opts)
	if err != nil {
		return PostgresConfig{}, err
	}
	cfg := postgresConfig(v)
	if cfg.DSN == "" {
		return PostgresConfig{}, errors.New("KYC_POSTGRES_DSN is required")
	}
	return cfg, nil
}

func postgresConfig(v *viper.Viper) PostgresConfig {
	return PostgresConfig{
		DSN:          v.GetString("postgres.dsn"),
		MaxOpenConns: v.GetInt("postgres.max_open_conns"),
		MaxIdleConns: v.GetInt("postgres.max_idle_conns"),
		Timeout:      v.GetDuration("postgres.timeout"),
	}
}

// Load reads and validates configuration.
func Load(opts ...Option) (*Config, error) {
	v, err := newViper(opts)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:              v.GetString("server.addr"),
			ReadHeaderTimeout: v.GetDuration("server.read_header_timeout"),
			WriteTimeout:      v.GetDuration("server.write_timeout"),
			IdleTimeout:       v.GetDuration("server.idle_timeout"),
			ShutdownTimeout:   v.GetDuration("server.shutdown_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Provider: ProviderConfig{
			Name:      v.GetString("provider.name"),
			BaseURL:   v.GetString("provider.base_url"),
			APIKey:    v.GetString("provider.api_key"),
			AccountID: v.GetString("provider.account_id"),
			Timeout:   v.GetDuration("provider.timeout"),
		},
		Webhook: WebhookConfig{Secret: v.GetString("webhook.secret")},
		Auth: AuthConfig{
			JWTSigningKey: v.GetString("auth.jwt_signing_key"),
			Issuer:        v.GetString("auth.issuer"),
		},
		Privacy: PrivacyConfig{DigestKey: v.GetString("privacy.digest_key")},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			Prefix:       v.GetString("redis.prefix"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
			Timeout:      v.GetDuration("redis.timeout"),
		},
		Postgres: postgresConfig(v),
		TTL: TTLConfig{
			Pending:  v.GetDuration("ttl.pending"),
			Verified: v.GetDuration("ttl.verified"),
		},
		Notify: NotifyConfig{
			Driver:  strings.ToLower(v.GetString("notify.driver")),
			Brokers: splitList(v.GetString("notify.brokers")),
			Topic:   v.GetString("notify.topic"),
			NATSURL: v.GetString("notify.nats_url"),
			Subject: v.GetString("notify.subject"),
		},
		Backoff: BackoffConfig{
			Threshold: v.GetInt("backoff.threshold"),
			Offset:    v.GetInt("backoff.offset"),
			Base:      v.GetDuration("backoff.base"),
			Max:       v.GetDuration("backoff.max"),
		},
		Admin: AdminConfig{Token: v.GetString("admin.token")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing secret and inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	required := map[string]string{
		"KYC_PROVIDER_BASE_URL":   c.Provider.BaseURL,
		"KYC_PROVIDER_API_KEY":    c.Provider.APIKey,
		"KYC_PROVIDER_ACCOUNT_ID": c.Provider.AccountID,
		"KYC_WEBHOOK_SECRET":      c.Webhook.Secret,
		"KYC_AUTH_JWT_SIGNING_KEY": c.Auth.JWTSigningKey,
		"KYC_PRIVACY_DIGEST_KEY":  c.Privacy.DigestKey,
	}
	for _, name := range []string{
		"KYC_PROVIDER_BASE_URL",
		"KYC_PROVIDER_API_KEY",
		"KYC_PROVIDER_ACCOUNT_ID",
		"KYC_WEBHOOK_SECRET",
		"KYC_AUTH_JWT_SIGNING_KEY",
		"KYC_PRIVACY_DIGEST_KEY",
	} {
		if strings.TrimSpace(required[name]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if n := len(c.Privacy.DigestKey); n > 0 && (n < 16 || n > 64) {
		errs = append(errs, errors.New("KYC_PRIVACY_DIGEST_KEY must be 16 to 64 bytes"))
	}
	if n := len(c.Auth.JWTSigningKey); n > 0 && n < 32 {
		errs = append(errs, errors.New("KYC_AUTH_JWT_SIGNING_KEY must be at least 32 bytes"))
	}
	if c.TTL.Pending <= 0 || c.TTL.Verified <= 0 {
		errs = append(errs, errors.New("task TTLs must be positive"))
	}
	switch c.Notify.Driver {
	case "log", "":
	case "kafka":
		if len(c.Notify.Brokers) == 0 {
			errs = append(errs, errors.New("KYC_NOTIFY_BROKERS is required for the kafka driver"))
		}
	case "nats":
		if c.Notify.NATSURL == "" {
			errs = append(errs, errors.New("KYC_NOTIFY_NATS_URL is required for the nats driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify driver %q", c.Notify.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Policy converts the SDK retry settings.
func (c BackoffConfig) Policy() backoff.Policy {
	return backoff.Policy{
		Threshold:       c.Threshold,
		ThresholdOffset: c.Offset,
		Base:            c.Base,
		MaxCooldown:     c.Max,
	}
}
