// Package logger owns the process-wide zap logger and the field helpers used
// to keep contact details and identifiers consistent across log lines.
package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

func init() {
	global.Store(zap.NewNop())
}

// Init replaces the global logger. Encoding "console" selects the development
// encoder; anything else logs JSON. Unknown levels fall back to info.
// Sampling is disabled so every signing attempt reaches the log.
func Init(level, encoding string) error {
	cfg := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(encoding), "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	global.Store(l)
	return nil
}

// Replace swaps the global logger and returns a func restoring the previous one.
func Replace(l *zap.Logger) func() {
	if l == nil {
		l = zap.NewNop()
	}
	prev := global.Swap(l)
	return func() { global.Store(prev) }
}

// Logger returns the global logger.
func Logger() *zap.Logger {
	return global.Load()
}

// Sync flushes buffered entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger tagged with module.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// ResolutionID tags a log line with the resolution it concerns.
func ResolutionID(id string) zap.Field {
	return zap.String("resolution_id", id)
}

// SignatoryID tags a log line with the signatory it concerns.
func SignatoryID(id string) zap.Field {
	return zap.String("signatory_id", id)
}

// Contact returns a field carrying MaskContact(address).
func Contact(address string) zap.Field {
	return zap.String("contact", MaskContact(address))
}

// MaskContact keeps the last four characters of a phone number, or the first
// character and domain of an e-mail address.
func MaskContact(address string) string {
	address = strings.TrimSpace(address)
	switch at := strings.LastIndex(address, "@"); {
	case address == "":
		return ""
	case at > 0:
		return address[:1] + "***" + address[at:]
	case len(address) <= 4:
		return "****"
	default:
		return strings.Repeat("*", len(address)-4) + address[len(address)-4:]
	}
}
