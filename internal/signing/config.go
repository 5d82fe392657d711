package signing

import (
	"context"
	"time"
)

const (
	defaultOTPTTL            = 10 * time.Minute
	defaultTokenBytes        = 32
	defaultOTPDigits         = 6
	defaultStoreTimeout      = 5 * time.Second
	defaultMaxAttempts       = 5
	defaultNotifyConcurrency = 8
	defaultNotifyTimeout     = 15 * time.Second
)

// Config tunes credential issuance and verification.
type Config struct {
	OTPTTL            time.Duration
	TokenBytes        int
	OTPDigits         int
	StoreTimeout      time.Duration
	MaxAttempts       int
	SignatureKey      []byte
	LinkBaseURL       string
	NotifyConcurrency int
	NotifyTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.OTPTTL <= 0 {
		c.OTPTTL = defaultOTPTTL
	}
	if c.TokenBytes < 16 {
		c.TokenBytes = defaultTokenBytes
	}
	if c.OTPDigits != 6 && c.OTPDigits != 8 {
		c.OTPDigits = defaultOTPDigits
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = defaultStoreTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.NotifyConcurrency <= 0 {
		c.NotifyConcurrency = defaultNotifyConcurrency
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = defaultNotifyTimeout
	}
	return c
}

// Option customises Issuer, Verifier and Aggregator construction.
type Option func(*settings)

type settings struct {
	now      func() time.Time
	recorder Recorder
}

func newSettings(opts []Option) settings {
	s := settings{now: time.Now, recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithClock injects a custom time source.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithRecorder sets the audit recorder.
func WithRecorder(recorder Recorder) Option {
	return func(s *settings) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

// inTx runs fn in a store transaction bounded by timeout.
func inTx(ctx context.Context, store Store, timeout time.Duration, fn func(ctx context.Context, tx Store) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return store.Transaction(ctx, func(tx Store) error {
		return fn(ctx, tx)
	})
}

func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
