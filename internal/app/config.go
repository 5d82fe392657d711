package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration of the signing service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Signing       SigningConfig       `mapstructure:"signing"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogEncoding     string        `mapstructure:"log_encoding"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	Postgres        DBAuthConfig  `mapstructure:"postgres"`
	MySQL           DBAuthConfig  `mapstructure:"mysql"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// SigningConfig tunes credential issuance and verification.
type SigningConfig struct {
	OTPTTL            time.Duration `mapstructure:"otp_ttl"`
	OTPDigits         int           `mapstructure:"otp_digits"`
	TokenBytes        int           `mapstructure:"token_bytes"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	StoreTimeout      time.Duration `mapstructure:"store_timeout"`
	SignatureKey      string        `mapstructure:"signature_key"`
	LinkBaseURL       string        `mapstructure:"link_base_url"`
	NotifyConcurrency int           `mapstructure:"notify_concurrency"`
	NotifyTimeout     time.Duration `mapstructure:"notify_timeout"`
}

// NotificationsConfig selects the OTP delivery channels.
type NotificationsConfig struct {
	SMS          SMSConfig  `mapstructure:"sms"`
	SMTP         SMTPConfig `mapstructure:"smtp"`
	EmailSubject string     `mapstructure:"email_subject"`
	// LogBodies writes undeliverable message bodies, OTPs included, to the log.
	// Local development only.
	LogBodies bool `mapstructure:"log_bodies"`
}

// SMSConfig configures the HTTP SMS gateway.
type SMSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint"`
	APIKey         string        `mapstructure:"api_key"`
	From           string        `mapstructure:"from"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	From           string        `mapstructure:"from"`
	UseTLS         bool          `mapstructure:"use_tls"`
	AllowPlaintext bool          `mapstructure:"allow_plaintext"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig configures per client request limits.
type RateLimitConfig struct {
	Enabled           bool             `mapstructure:"enabled"`
	RequestsPerMinute int              `mapstructure:"requests_per_minute"`
	Burst             int              `mapstructure:"burst"`
	Redis             RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures authentication settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures operator tokens. An empty secret leaves credential
// issuance unauthenticated.
type JWTSettings struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"token_ttl"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	CredentialSchedule string        `mapstructure:"credential_schedule"`
	AuditSchedule      string        `mapstructure:"audit_schedule"`
	CredentialGrace    time.Duration `mapstructure:"credential_grace"`
	AuditRetentionDays int           `mapstructure:"audit_retention_days"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("QUORUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_encoding", "json")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/quorum.sqlite")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("signing.otp_ttl", "10m")
	v.SetDefault("signing.otp_digits", 6)
	v.SetDefault("signing.token_bytes", 32)
	v.SetDefault("signing.max_attempts", 5)
	v.SetDefault("signing.store_timeout", "5s")
	v.SetDefault("signing.signature_key", "")
	v.SetDefault("signing.link_base_url", "http://localhost:3000/sign")
	v.SetDefault("signing.notify_concurrency", 8)
	v.SetDefault("signing.notify_timeout", "15s")

	v.SetDefault("notifications.email_subject", "Your signature is requested")
	v.SetDefault("notifications.log_bodies", false)
	v.SetDefault("notifications.sms.enabled", false)
	v.SetDefault("notifications.sms.endpoint", "")
	v.SetDefault("notifications.sms.api_key", "")
	v.SetDefault("notifications.sms.from", "")
	v.SetDefault("notifications.sms.timeout", "10s")
	v.SetDefault("notifications.sms.max_attempts", 3)
	v.SetDefault("notifications.sms.initial_backoff", "500ms")
	v.SetDefault("notifications.smtp.enabled", false)
	v.SetDefault("notifications.smtp.host", "")
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.smtp.use_tls", true)
	v.SetDefault("notifications.smtp.allow_plaintext", false)
	v.SetDefault("notifications.smtp.timeout", "10s")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.redis.enabled", false)
	v.SetDefault("rate_limit.redis.address", "127.0.0.1:6379")
	v.SetDefault("rate_limit.redis.username", "")
	v.SetDefault("rate_limit.redis.password", "")
	v.SetDefault("rate_limit.redis.db", 0)
	v.SetDefault("rate_limit.redis.tls", false)
	v.SetDefault("rate_limit.redis.timeout", "5s")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "quorum")
	v.SetDefault("auth.jwt.audience", "")
	v.SetDefault("auth.jwt.token_ttl", "1h")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.credential_schedule", "@every 15m")
	v.SetDefault("maintenance.audit_schedule", "@daily")
	v.SetDefault("maintenance.credential_grace", "24h")
	v.SetDefault("maintenance.audit_retention_days", 365)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
