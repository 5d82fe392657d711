package signing_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/internal/signing"
	"github.com/charlesng35/quorum/internal/signing/signingtest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store      *signingtest.MemoryStore
	dispatcher *signingtest.RecordingDispatcher
	recorder   *signingtest.RecordingRecorder
	clock      *fakeClock
	issuer     *signing.Issuer
	verifier   *signing.Verifier
	aggregator *signing.Aggregator
}

func testConfig() signing.Config {
	return signing.Config{
		SignatureKey: []byte("test-signature-key"),
		LinkBaseURL:  "https://board.example.com/sign",
		MaxAttempts:  3,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore wires the services over store, defaulting to the memory store.
func newFixtureWithStore(t *testing.T, store signing.Store) *fixture {
	t.Helper()

	f := &fixture{
		store:      signingtest.NewMemoryStore(),
		dispatcher: signingtest.NewRecordingDispatcher(),
		recorder:   signingtest.NewRecordingRecorder(),
		clock:      &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	if store == nil {
		store = f.store
	}

	opts := []signing.Option{signing.WithClock(f.clock.Now), signing.WithRecorder(f.recorder)}
	var err error
	f.issuer, err = signing.NewIssuer(store, f.dispatcher, testConfig(), opts...)
	require.NoError(t, err)
	f.verifier, err = signing.NewVerifier(store, testConfig(), opts...)
	require.NoError(t, err)
	f.aggregator, err = signing.NewAggregator(store, testConfig(), opts...)
	require.NoError(t, err)
	return f
}

// seed creates a draft resolution with one signatory per name.
func (f *fixture) seed(title string, names ...string) (models.Resolution, []models.Signatory) {
	res := f.store.AddResolution(models.Resolution{Title: title})
	signatories := make([]models.Signatory, 0, len(names))
	for i, name := range names {
		signatories = append(signatories, f.store.AddSignatory(models.Signatory{
			ResolutionID:   res.ID,
			Name:           name,
			ContactAddress: fmt.Sprintf("+1555555%04d", i+100),
		}))
	}
	return res, signatories
}

func (f *fixture) issue(t *testing.T, resolutionID string) map[string]signing.IssuedCredential {
	t.Helper()
	result, err := f.issuer.IssueCredentials(context.Background(), resolutionID)
	require.NoError(t, err)
	out := make(map[string]signing.IssuedCredential, len(result.Issued))
	for _, cred := range result.Issued {
		out[cred.SignatoryID] = cred
	}
	return out
}

func (f *fixture) sign(resolutionID string, cred signing.IssuedCredential, decision models.Decision, reason string) (*models.Resolution, error) {
	return f.verifier.Sign(context.Background(), signing.SignRequest{
		ResolutionID: resolutionID,
		SignatoryID:  cred.SignatoryID,
		Token:        cred.Token,
		OTP:          cred.OTP,
		Decision:     decision,
		Reason:       reason,
	})
}

func (f *fixture) status(t *testing.T, resolutionID string) models.ResolutionStatus {
	t.Helper()
	res, ok := f.store.Resolution(resolutionID)
	require.True(t, ok)
	return res.Status
}

func signatoryIn(t *testing.T, snapshot *models.Resolution, id string) models.Signatory {
	t.Helper()
	for _, s := range snapshot.Signatories {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("signatory %s missing from snapshot", id)
	return models.Signatory{}
}

// faultyStore fails ResetCredential for one signatory, inside or outside transactions.
type faultyStore struct {
	signing.Store
	failFor string
}

func (s *faultyStore) ResetCredential(ctx context.Context, cred signing.CredentialReset) error {
	if cred.SignatoryID == s.failFor {
		return fmt.Errorf("disk full")
	}
	return s.Store.ResetCredential(ctx, cred)
}

func (s *faultyStore) Transaction(ctx context.Context, fn func(tx signing.Store) error) error {
	return s.Store.Transaction(ctx, func(tx signing.Store) error {
		return fn(&faultyStore{Store: tx, failFor: s.failFor})
	})
}
