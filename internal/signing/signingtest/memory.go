// Package signingtest provides in-memory collaborators for exercising the
// signing workflow without a database.
package signingtest

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/internal/signing"
)

// MemoryStore is a signing.Store kept in maps. Transactions are serialised and
// roll back on error, which matches the row-locking behaviour of the SQL store.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	resolutions map[string]models.Resolution
	signatories map[string]models.Signatory
	order       []string
	failures    map[string]error
	calls       map[string]int
}

var _ signing.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resolutions: map[string]models.Resolution{},
		signatories: map[string]models.Signatory{},
		failures:    map[string]error{},
		calls:       map[string]int{},
	}
}

// AddResolution stores a resolution, generating an ID when missing.
func (s *MemoryStore) AddResolution(res models.Resolution) models.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.Status == "" {
		res.Status = models.ResolutionDraft
	}
	now := time.Now()
	res.CreatedAt, res.UpdatedAt = now, now
	res.Signatories = nil
	s.resolutions[res.ID] = res
	return res
}

// AddSignatory stores a signatory, generating an ID when missing.
func (s *MemoryStore) AddSignatory(sig models.Signatory) models.Signatory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Decision == "" {
		sig.Decision = models.DecisionNone
	}
	now := time.Now()
	sig.CreatedAt, sig.UpdatedAt = now, now
	if _, exists := s.signatories[sig.ID]; !exists {
		s.order = append(s.order, sig.ID)
	}
	s.signatories[sig.ID] = sig
	return sig
}

// Resolution returns a copy of the stored resolution.
func (s *MemoryStore) Resolution(id string) (models.Resolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resolutions[id]
	return res, ok
}

// Signatory returns a copy of the stored signatory.
func (s *MemoryStore) Signatory(id string) (models.Signatory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signatories[id]
	return sig, ok
}

// FailOperation makes every later call of op return err. A nil err clears the failure.
func (s *MemoryStore) FailOperation(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls reports how often op was invoked.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *MemoryStore) GetResolution(ctx context.Context, id string) (*models.Resolution, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.getResolution(ctx, "GetResolution", id)
}

func (s *MemoryStore) LockResolution(ctx context.Context, id string) (*models.Resolution, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.getResolution(ctx, "LockResolution", id)
}

func (s *MemoryStore) UpdateResolutionStatus(ctx context.Context, id string, from, to models.ResolutionStatus, at time.Time) (bool, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.updateResolutionStatus(ctx, id, from, to, at)
}

func (s *MemoryStore) ListSignatories(ctx context.Context, resolutionID string) ([]models.Signatory, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.listSignatories(ctx, resolutionID)
}

func (s *MemoryStore) GetSignatory(ctx context.Context, resolutionID, signatoryID string) (*models.Signatory, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.getSignatory(ctx, resolutionID, signatoryID)
}

func (s *MemoryStore) ResetCredential(ctx context.Context, cred signing.CredentialReset) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.resetCredential(ctx, cred)
}

func (s *MemoryStore) ConsumeCredential(ctx context.Context, c signing.Consumption) (bool, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.consumeCredential(ctx, c)
}

func (s *MemoryStore) RegisterFailedAttempt(ctx context.Context, signatoryID, tokenHash string, limit int) (bool, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.registerFailedAttempt(ctx, signatoryID, tokenHash, limit)
}

// Transaction serialises fn against every other store call and restores the
// previous state when fn fails.
func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx signing.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := s.begin(ctx, "Transaction"); err != nil {
		return err
	}

	s.mu.Lock()
	savedResolutions := make(map[string]models.Resolution, len(s.resolutions))
	for k, v := range s.resolutions {
		savedResolutions[k] = v
	}
	savedSignatories := make(map[string]models.Signatory, len(s.signatories))
	for k, v := range s.signatories {
		savedSignatories[k] = v
	}
	s.mu.Unlock()

	if err := fn(&memoryTx{store: s}); err != nil {
		s.mu.Lock()
		s.resolutions = savedResolutions
		s.signatories = savedSignatories
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemoryStore) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.failures[op]
}

func (s *MemoryStore) getResolution(ctx context.Context, op, id string) (*models.Resolution, error) {
	if err := s.begin(ctx, op); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resolutions[id]
	if !ok {
		return nil, signing.ErrResolutionNotFound
	}
	return &res, nil
}

func (s *MemoryStore) updateResolutionStatus(ctx context.Context, id string, from, to models.ResolutionStatus, at time.Time) (bool, error) {
	if err := s.begin(ctx, "UpdateResolutionStatus"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resolutions[id]
	if !ok || res.Status != from {
		return false, nil
	}
	res.Status = to
	res.UpdatedAt = at
	s.resolutions[id] = res
	return true, nil
}

func (s *MemoryStore) listSignatories(ctx context.Context, resolutionID string) ([]models.Signatory, error) {
	if err := s.begin(ctx, "ListSignatories"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Signatory, 0)
	for _, id := range s.order {
		if sig := s.signatories[id]; sig.ResolutionID == resolutionID {
			out = append(out, sig)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) getSignatory(ctx context.Context, resolutionID, signatoryID string) (*models.Signatory, error) {
	if err := s.begin(ctx, "GetSignatory"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signatories[signatoryID]
	if !ok || sig.ResolutionID != resolutionID {
		return nil, signing.ErrSignatoryNotFound
	}
	return &sig, nil
}

func (s *MemoryStore) resetCredential(ctx context.Context, cred signing.CredentialReset) error {
	if err := s.begin(ctx, "ResetCredential"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signatories[cred.SignatoryID]
	if !ok {
		return signing.ErrSignatoryNotFound
	}
	expires, issued := cred.ExpiresAt, cred.IssuedAt
	sig.ResetDecision()
	sig.ClearCredential()
	sig.SignTokenHash = cred.TokenHash
	sig.OTPHash = cred.OTPHash
	sig.OTPExpiresAt = &expires
	sig.CredentialIssuedAt = &issued
	sig.UpdatedAt = issued
	s.signatories[sig.ID] = sig
	return nil
}

func (s *MemoryStore) consumeCredential(ctx context.Context, c signing.Consumption) (bool, error) {
	if err := s.begin(ctx, "ConsumeCredential"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signatories[c.SignatoryID]
	if !ok || sig.SignTokenHash == "" || sig.SignTokenHash != c.TokenHash || sig.OTPHash != c.OTPHash ||
		sig.OTPExpiresAt == nil || !sig.OTPExpiresAt.After(c.Now) {
		return false, nil
	}
	signedAt := c.Now
	sig.ClearCredential()
	sig.Decision = c.Decision
	sig.DecisionReason = c.Reason
	sig.SignedAt = &signedAt
	sig.SignatureHash = c.SignatureHash
	sig.SignedIP = c.IPAddress
	sig.SignedUserAgent = c.UserAgent
	sig.UpdatedAt = c.Now
	s.signatories[sig.ID] = sig
	return true, nil
}

func (s *MemoryStore) registerFailedAttempt(ctx context.Context, signatoryID, tokenHash string, limit int) (bool, error) {
	if err := s.begin(ctx, "RegisterFailedAttempt"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signatories[signatoryID]
	if !ok || sig.SignTokenHash == "" || sig.SignTokenHash != tokenHash {
		return false, nil
	}
	sig.FailedAttempts++
	burned := limit > 0 && sig.FailedAttempts >= limit
	if burned {
		sig.SignTokenHash = ""
		sig.OTPHash = ""
		sig.OTPExpiresAt = nil
	}
	s.signatories[sig.ID] = sig
	return burned, nil
}

// memoryTx runs store operations while the parent transaction lock is held.
type memoryTx struct {
	store *MemoryStore
}

func (t *memoryTx) GetResolution(ctx context.Context, id string) (*models.Resolution, error) {
	return t.store.getResolution(ctx, "GetResolution", id)
}

func (t *memoryTx) LockResolution(ctx context.Context, id string) (*models.Resolution, error) {
	return t.store.getResolution(ctx, "LockResolution", id)
}

func (t *memoryTx) UpdateResolutionStatus(ctx context.Context, id string, from, to models.ResolutionStatus, at time.Time) (bool, error) {
	return t.store.updateResolutionStatus(ctx, id, from, to, at)
}

func (t *memoryTx) ListSignatories(ctx context.Context, resolutionID string) ([]models.Signatory, error) {
	return t.store.listSignatories(ctx, resolutionID)
}

func (t *memoryTx) GetSignatory(ctx context.Context, resolutionID, signatoryID string) (*models.Signatory, error) {
	return t.store.getSignatory(ctx, resolutionID, signatoryID)
}

func (t *memoryTx) ResetCredential(ctx context.Context, cred signing.CredentialReset) error {
	return t.store.resetCredential(ctx, cred)
}

func (t *memoryTx) ConsumeCredential(ctx context.Context, c signing.Consumption) (bool, error) {
	return t.store.consumeCredential(ctx, c)
}

func (t *memoryTx) RegisterFailedAttempt(ctx context.Context, signatoryID, tokenHash string, limit int) (bool, error) {
	return t.store.registerFailedAttempt(ctx, signatoryID, tokenHash, limit)
}

func (t *memoryTx) Transaction(ctx context.Context, fn func(tx signing.Store) error) error {
	return fn(t)
}

// Message is a notification captured by RecordingDispatcher.
type Message struct {
	Address string
	Body    string
}

// RecordingDispatcher captures notifications and can fail chosen addresses.
type RecordingDispatcher struct {
	mu       sync.Mutex
	messages []Message
	failures map[string]error
}

// NewRecordingDispatcher returns a dispatcher that accepts every message.
func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{failures: map[string]error{}}
}

// FailFor makes deliveries to address return err.
func (d *RecordingDispatcher) FailFor(address string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[address] = err
}

func (d *RecordingDispatcher) Send(_ context.Context, address, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failures[address]; err != nil {
		return err
	}
	d.messages = append(d.messages, Message{Address: address, Body: message})
	return nil
}

// Messages returns the delivered notifications.
func (d *RecordingDispatcher) Messages() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.messages...)
}

// LastTo returns the most recent message delivered to address.
func (d *RecordingDispatcher) LastTo(address string) (Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.messages) - 1; i >= 0; i-- {
		if d.messages[i].Address == address {
			return d.messages[i], true
		}
	}
	return Message{}, false
}

var otpPattern = regexp.MustCompile(`code: (\d{6,8})`)

// ExtractOTP returns the one-time code embedded in a notification body.
func ExtractOTP(body string) string {
	m := otpPattern.FindStringSubmatch(body)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// RecordingRecorder captures audit events.
type RecordingRecorder struct {
	mu     sync.Mutex
	events []signing.Event
	err    error
}

// NewRecordingRecorder returns a recorder that stores every event.
func NewRecordingRecorder() *RecordingRecorder {
	return &RecordingRecorder{}
}

// FailWith makes Record return err after capturing the event.
func (r *RecordingRecorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *RecordingRecorder) Record(_ context.Context, event signing.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

// Events returns the captured events.
func (r *RecordingRecorder) Events() []signing.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signing.Event(nil), r.events...)
}

// Actions returns the action of every captured event in order.
func (r *RecordingRecorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}
