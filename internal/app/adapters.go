package app

import (
	"fmt"
	"strings"

	iauth "github.com/charlesng35/quorum/internal/auth"
	"github.com/charlesng35/quorum/internal/cache"
	"github.com/charlesng35/quorum/internal/database"
	"github.com/charlesng35/quorum/internal/middleware"
	"github.com/charlesng35/quorum/internal/signing"
	"github.com/charlesng35/quorum/pkg/mail"
	"github.com/charlesng35/quorum/pkg/sms"
)

// DatabaseSettings converts DatabaseConfig into the database package representation.
// Host based settings are taken from the section matching the driver.
func (c DatabaseConfig) DatabaseSettings() database.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	cfg := database.Config{
		Driver:          driver,
		Path:            c.Path,
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}

	var auth DBAuthConfig
	switch driver {
	case "postgres", "postgresql":
		auth = c.Postgres
	case "mysql":
		auth = c.MySQL
	default:
		return cfg
	}
	cfg.Host = auth.Host
	cfg.Port = auth.Port
	cfg.Name = auth.Database
	cfg.User = auth.Username
	cfg.Password = auth.Password
	cfg.Options = auth.Options
	return cfg
}

// ServiceConfig converts SigningConfig into the signing package representation.
func (c SigningConfig) ServiceConfig() (signing.Config, error) {
	cfg := signing.Config{
		OTPTTL:            c.OTPTTL,
		TokenBytes:        c.TokenBytes,
		OTPDigits:         c.OTPDigits,
		StoreTimeout:      c.StoreTimeout,
		MaxAttempts:       c.MaxAttempts,
		LinkBaseURL:       strings.TrimSpace(c.LinkBaseURL),
		NotifyConcurrency: c.NotifyConcurrency,
		NotifyTimeout:     c.NotifyTimeout,
	}
	if strings.TrimSpace(c.SignatureKey) == "" {
		return cfg, nil
	}
	key, err := DecodeSignatureKey(c.SignatureKey)
	if err != nil {
		return signing.Config{}, fmt.Errorf("signing.signature_key: %w", err)
	}
	cfg.SignatureKey = key
	return cfg, nil
}

// SMSSettings converts SMSConfig to the sms package representation.
func (c SMSConfig) SMSSettings() sms.Settings {
	return sms.Settings{
		Endpoint:       strings.TrimSpace(c.Endpoint),
		APIKey:         c.APIKey,
		From:           strings.TrimSpace(c.From),
		Timeout:        c.Timeout,
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
	}
}

// SMTPSettings converts SMTPConfig to the mail package representation.
func (c SMTPConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:        c.Enabled,
		Host:           c.Host,
		Port:           c.Port,
		Username:       c.Username,
		Password:       c.Password,
		From:           c.From,
		UseTLS:         c.UseTLS,
		AllowPlaintext: c.AllowPlaintext,
		Timeout:        c.Timeout,
	}
}

// Policy returns the token bucket policy, zero when rate limiting is disabled.
func (c RateLimitConfig) Policy() middleware.RatePolicy {
	if !c.Enabled {
		return middleware.RatePolicy{}
	}
	return middleware.RatePolicy{RequestsPerMinute: c.RequestsPerMinute, Burst: c.Burst}
}

// RedisClientConfig converts the rate limit Redis settings into the cache package representation.
func (c RedisCacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Address),
		Username: strings.TrimSpace(c.Username),
		Password: c.Password,
		DB:       c.DB,
		TLS:      c.TLS,
		Timeout:  c.Timeout,
	}
}

// JWTEnabled reports whether operator tokens are required.
func (c AuthConfig) JWTEnabled() bool {
	return strings.TrimSpace(c.JWT.Secret) != ""
}

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() iauth.JWTConfig {
	return iauth.JWTConfig{
		Secret:   c.JWT.Secret,
		Issuer:   c.JWT.Issuer,
		Audience: c.JWT.Audience,
		TokenTTL: c.JWT.TTL,
	}
}
