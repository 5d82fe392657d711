package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, to, message string) error
}

// Settings describes an HTTP SMS gateway that accepts JSON POST requests.
type Settings struct {
	Endpoint       string
	APIKey         string
	From           string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

// ErrRejected is returned when the gateway answers with a client error; such
// requests are not retried.
var ErrRejected = errors.New("sms: gateway rejected message")

type gatewayRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

type gatewayClient struct {
	cfg     Settings
	client  *http.Client
	backOff func() backoff.BackOff
}

// NewGatewayClient constructs a Sender backed by an HTTP gateway.
func NewGatewayClient(cfg Settings) (Sender, error) {
	return newGatewayClient(cfg, nil)
}

func newGatewayClient(cfg Settings, client *http.Client) (*gatewayClient, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, errors.New("sms: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	g := &gatewayClient{cfg: cfg, client: client}
	g.backOff = g.exponentialBackOff
	return g, nil
}

// exponentialBackOff doubles from InitialBackoff with jitter.
func (g *gatewayClient) exponentialBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialBackoff
	b.MaxInterval = 8 * g.cfg.InitialBackoff
	return b
}

// Send posts the message, retrying transport errors, 429 and 5xx answers.
// Every attempt carries the same Idempotency-Key so a gateway that already
// accepted the message does not text the signatory twice.
func (g *gatewayClient) Send(ctx context.Context, to, message string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("sms: recipient is required")
	}

	payload, err := json.Marshal(gatewayRequest{To: to, From: g.cfg.From, Body: message})
	if err != nil {
		return fmt.Errorf("sms: encode request: %w", err)
	}
	key := uuid.NewString()

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := g.post(ctx, key, payload)
		if errors.Is(err, ErrRejected) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(g.backOff()),
		backoff.WithMaxTries(uint(g.cfg.MaxAttempts)),
	)
	return err
}

func (g *gatewayClient) post(ctx context.Context, idempotencyKey string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}

	detail, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	reason := strings.TrimSpace(string(detail))
	if readErr != nil {
		reason = fmt.Sprintf("read body: %v", readErr)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, reason)
	}
	return fmt.Errorf("sms: gateway HTTP %d: %s", resp.StatusCode, reason)
}
