package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/quorum/pkg/logger"
	"github.com/charlesng35/quorum/pkg/mail"
	"github.com/charlesng35/quorum/pkg/metrics"
	"github.com/charlesng35/quorum/pkg/sms"
	"github.com/charlesng35/quorum/pkg/validator"
)

// Delivery channels.
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
	ChannelLog   = "log"
)

var (
	// ErrUnroutableAddress is returned for contact addresses that are neither
	// E.164 phone numbers nor e-mail addresses.
	ErrUnroutableAddress = errors.New("notifications: contact address is not a phone number or e-mail address")
	// ErrChannelUnavailable is returned when the channel for an address is not configured.
	ErrChannelUnavailable = errors.New("notifications: delivery channel not configured")
	// ErrSuppressed is returned by LogDispatcher: the message was logged, not delivered.
	ErrSuppressed = errors.New("notifications: delivery suppressed, message only logged")
)

const defaultEmailSubject = "Your signature is requested"

// RouterOption customises the Router.
type RouterOption func(*Router)

// WithSMS enables SMS delivery for E.164 phone numbers.
func WithSMS(sender sms.Sender) RouterOption {
	return func(r *Router) {
		r.sms = sender
	}
}

// WithMailer enables e-mail delivery.
func WithMailer(mailer mail.Mailer, subject string) RouterOption {
	return func(r *Router) {
		r.mailer = mailer
		if s := strings.TrimSpace(subject); s != "" {
			r.subject = s
		}
	}
}

// WithFallback routes messages whose channel is not configured to d.
func WithFallback(d *LogDispatcher) RouterOption {
	return func(r *Router) {
		r.fallback = d
	}
}

// Router picks a delivery channel from the shape of the contact address.
type Router struct {
	sms      sms.Sender
	mailer   mail.Mailer
	fallback *LogDispatcher
	subject  string
	log      *zap.Logger
}

// NewRouter constructs a Router. Without options every message is refused.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{subject: defaultEmailSubject, log: logger.WithModule("notifications")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send implements signing.Dispatcher.
func (r *Router) Send(ctx context.Context, address, message string) error {
	address = strings.TrimSpace(address)

	var (
		channel string
		err     error
	)
	switch {
	case validator.IsPhoneNumber(address):
		channel = ChannelSMS
		if r.sms == nil {
			channel, err = r.fallbackSend(ctx, address, message)
			break
		}
		err = r.sms.Send(ctx, address, message)
	case validator.IsEmail(address):
		channel = ChannelEmail
		if r.mailer == nil {
			channel, err = r.fallbackSend(ctx, address, message)
			break
		}
		err = r.mailer.Send(ctx, mail.Message{To: []string{address}, Subject: r.subject, Body: message})
	default:
		channel, err = "unknown", ErrUnroutableAddress
	}

	result := "sent"
	if err != nil {
		result = "failed"
		r.log.Warn("notification not delivered", zap.String("channel", channel), logger.Contact(address), zap.Error(err))
	}
	metrics.NotificationDeliveries.WithLabelValues(channel, result).Inc()
	if err != nil {
		return fmt.Errorf("deliver via %s: %w", channel, err)
	}
	return nil
}

func (r *Router) fallbackSend(ctx context.Context, address, message string) (string, error) {
	if r.fallback == nil {
		return "none", ErrChannelUnavailable
	}
	return ChannelLog, r.fallback.Send(ctx, address, message)
}

// LogDispatcher writes notifications to the log instead of delivering them and
// reports ErrSuppressed, so callers never count a logged message as delivered.
// Message bodies contain one-time codes and are only logged when IncludeBody is set.
type LogDispatcher struct {
	IncludeBody bool
	log         *zap.Logger
}

// NewLogDispatcher constructs a LogDispatcher.
func NewLogDispatcher(includeBody bool) *LogDispatcher {
	return &LogDispatcher{IncludeBody: includeBody, log: logger.WithModule("notifications")}
}

// Send implements signing.Dispatcher.
func (d *LogDispatcher) Send(_ context.Context, address, message string) error {
	fields := []zap.Field{logger.Contact(address)}
	if d.IncludeBody {
		fields = append(fields, zap.String("body", message))
	}
	d.log.Info("notification suppressed, no delivery channel configured", fields...)
	return ErrSuppressed
}
