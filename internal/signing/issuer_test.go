package signing_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/quorum/internal/auditctx"
	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/internal/signing"
	"github.com/charlesng35/quorum/internal/signing/signingtest"
	"github.com/charlesng35/quorum/pkg/crypto"
)

func TestIssueCredentialsOpensRoundForEverySignatory(t *testing.T) {
	f := newFixture(t)
	res, signatories := f.seed("Budget 2026", "Ada", "Grace")

	result, err := f.issuer.IssueCredentials(context.Background(), res.ID)
	require.NoError(t, err)
	require.Len(t, result.Issued, 2)
	require.Len(t, result.Outcomes, 2)
	require.Equal(t, models.ResolutionPending, f.status(t, res.ID))

	seenTokens := map[string]bool{}
	for i, cred := range result.Issued {
		require.Equal(t, signatories[i].ID, cred.SignatoryID)
		require.Equal(t, signatories[i].Name, cred.Name)
		require.GreaterOrEqual(t, len(cred.Token), 43, "token should carry 256 bits")
		require.Len(t, cred.OTP, 6)
		require.True(t, cred.Delivered)
		require.Equal(t, f.clock.Now().Add(10*time.Minute), cred.OTPExpiresAt)
		require.False(t, seenTokens[cred.Token])
		seenTokens[cred.Token] = true

		link, err := url.Parse(cred.Link)
		require.NoError(t, err)
		require.Equal(t, "board.example.com", link.Host)
		require.Equal(t, res.ID, link.Query().Get("resolutionId"))
		require.Equal(t, cred.SignatoryID, link.Query().Get("signatoryId"))
		require.Equal(t, cred.Token, link.Query().Get("token"))

		stored, ok := f.store.Signatory(cred.SignatoryID)
		require.True(t, ok)
		require.Equal(t, crypto.Digest(cred.Token), stored.SignTokenHash)
		require.Equal(t, crypto.Digest(cred.OTP), stored.OTPHash)
		require.NotEqual(t, cred.Token, stored.SignTokenHash)
		require.Equal(t, models.DecisionNone, stored.Decision)
		require.NotNil(t, stored.CredentialIssuedAt)

		msg, ok := f.dispatcher.LastTo(signatories[i].ContactAddress)
		require.True(t, ok)
		require.Equal(t, cred.OTP, signingtest.ExtractOTP(msg.Body))
		require.Contains(t, msg.Body, cred.Link)
		require.Contains(t, msg.Body, "Budget 2026")
	}

	for _, outcome := range result.Outcomes {
		require.Equal(t, signing.OutcomeIssued, outcome.Status)
		require.True(t, outcome.Delivered)
		require.Empty(t, outcome.Reason)
	}
}

func TestIssueCredentialsValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.issuer.IssueCredentials(context.Background(), "   ")
	require.ErrorIs(t, err, signing.ErrValidation)
}

func TestIssueCredentialsResolutionNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.issuer.IssueCredentials(context.Background(), "missing")
	require.ErrorIs(t, err, signing.ErrResolutionNotFound)
	require.ErrorIs(t, err, signing.ErrNotFound)
	require.Empty(t, f.dispatcher.Messages())
}

func TestIssueCredentialsRefusesFinalizedResolution(t *testing.T) {
	f := newFixture(t)
	res := f.store.AddResolution(models.Resolution{Title: "Done", Status: models.ResolutionFinalized})
	f.store.AddSignatory(models.Signatory{ResolutionID: res.ID, Name: "Ada", ContactAddress: "+15555550100", Decision: models.DecisionApproved})

	_, err := f.issuer.IssueCredentials(context.Background(), res.ID)
	require.ErrorIs(t, err, signing.ErrResolutionFinalized)
	require.ErrorIs(t, err, signing.ErrConflict)
	require.Empty(t, f.dispatcher.Messages())
	require.Equal(t, models.ResolutionFinalized, f.status(t, res.ID))
}

func TestIssueCredentialsFailsSignatoryWithoutContact(t *testing.T) {
	f := newFixture(t)
	res, signatories := f.seed("Contacts", "Ada")
	missing := f.store.AddSignatory(models.Signatory{ResolutionID: res.ID, Name: "Nobody"})

	result, err := f.issuer.IssueCredentials(context.Background(), res.ID)
	require.NoError(t, err)
	require.Len(t, result.Issued, 1)
	require.Equal(t, signatories[0].ID, result.Issued[0].SignatoryID)

	require.Len(t, result.Outcomes, 2)
	require.Equal(t, signing.OutcomeFailed, result.Outcomes[1].Status)
	require.Equal(t, signing.ReasonNoContact, result.Outcomes[1].Reason)

	stored, _ := f.store.Signatory(missing.ID)
	require.False(t, stored.HasLiveCredential())
	require.Len(t, f.dispatcher.Messages(), 1)
}

func TestIssueCredentialsDeliveryFailureKeepsCredential(t *testing.T) {
	f := newFixture(t)
	res, signatories := f.seed("Delivery", "Ada", "Grace")
	f.dispatcher.FailFor(signatories[1].ContactAddress, errors.New("gateway unavailable"))

	result, err := f.issuer.IssueCredentials(context.Background(), res.ID)
	require.NoError(t, err)
	require.Len(t, result.Issued, 2)
	require.True(t, result.Issued[0].Delivered)
	require.False(t, result.Issued[1].Delivered)
	require.Equal(t, signing.OutcomeIssued, result.Outcomes[1].Status)
	require.Equal(t, signing.ReasonDeliveryFailed, result.Outcomes[1].Reason)
	require.False(t, result.Outcomes[1].Delivered)

	snapshot, err := f.sign(res.ID, result.Issued[1], models.DecisionApproved, "")
	require.NoError(t, err)
	require.Equal(t, models.DecisionApproved, signatoryIn(t, snapshot, signatories[1].ID).Decision)
}

func TestIssueCredentialsIsolatesStoreFailures(t *testing.T) {
	f := newFixture(t)
	res, signatories := f.seed("Partial", "Ada", "Grace", "Linus")
	f = rewire(t, f, &faultyStore{Store: f.store, failFor: signatories[1].ID})

	result, err := f.issuer.IssueCredentials(context.Background(), res.ID)
	require.NoError(t, err)
	require.Len(t, result.Issued, 2)
	require.Equal(t, signing.OutcomeIssued, result.Outcomes[0].Status)
	require.Equal(t, signing.OutcomeFailed, result.Outcomes[1].Status)
	require.Equal(t, signing.ReasonStoreFailure, result.Outcomes[1].Reason)
	require.Equal(t, signing.OutcomeIssued, result.Outcomes[2].Status)

	stored, _ := f.store.Signatory(signatories[1].ID)
	require.False(t, stored.HasLiveCredential())
	require.Len(t, f.dispatcher.Messages(), 2)
}

func TestIssueCredentialsLoadFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	res, _ := f.seed("Outage", "Ada")
	f.store.FailOperation("GetResolution", errors.New("connection refused"))

	_, err := f.issuer.IssueCredentials(context.Background(), res.ID)
	require.Error(t, err)

	var dep *signing.DependencyError
	require.ErrorAs(t, err, &dep)
	require.True(t, dep.Retryable())
	require.Equal(t, models.ResolutionDraft, f.status(t, res.ID))
}

func TestReissueResetsPriorDecision(t *testing.T) {
	f := newFixture(t)
	res, signatories := f.seed("Reissue", "Ada", "Grace")

	creds := f.issue(t, res.ID)
	_, err := f.sign(res.ID, creds[signatories[0].ID], models.DecisionApproved, "")
	require.NoError(t, err)

	approved, _ := f.store.Signatory(signatories[0].ID)
	require.Equal(t, models.DecisionApproved, approved.Decision)
	require.NotEmpty(t, approved.SignatureHash)

	f.issue(t, res.ID)

	reset, _ := f.store.Signatory(signatories[0].ID)
	require.Equal(t, models.DecisionNone, reset.Decision)
	require.Nil(t, reset.SignedAt)
	require.Empty(t, reset.SignatureHash)
	require.Empty(t, reset.DecisionReason)
	require.True(t, reset.HasLiveCredential())
	require.Equal(t, models.ResolutionPending, f.status(t, res.ID))
}

func TestReissueInvalidatesPreviousCredential(t *testing.T) {
	f := newFixture(t)
	res, signatories := f.seed("Rotate", "Ada")

	first := f.issue(t, res.ID)[signatories[0].ID]
	second := f.issue(t, res.ID)[signatories[0].ID]
	require.NotEqual(t, first.Token, second.Token)

	_, err := f.sign(res.ID, first, models.DecisionApproved, "")
	require.ErrorIs(t, err, signing.ErrInvalidToken)

	_, err = f.sign(res.ID, second, models.DecisionApproved, "")
	require.NoError(t, err)
}

func TestReissueAfterRejectionReopensResolution(t *testing.T) {
	f := newFixture(t)
	res, signatories := f.seed("Second chance", "Ada")

	cred := f.issue(t, res.ID)[signatories[0].ID]
	_, err := f.sign(res.ID, cred, models.DecisionRejected, "needs more detail")
	require.NoError(t, err)
	require.Equal(t, models.ResolutionExpired, f.status(t, res.ID))

	f.issue(t, res.ID)
	require.Equal(t, models.ResolutionPending, f.status(t, res.ID))
}

func TestIssueCredentialsRecordsAudit(t *testing.T) {
	f := newFixture(t)
	res, _ := f.seed("Audit", "Ada")

	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{Subject: "board-portal", IPAddress: "10.1.1.1"})
	_, err := f.issuer.IssueCredentials(ctx, res.ID)
	require.NoError(t, err)

	events := f.recorder.Events()
	require.Len(t, events, 1)
	require.Equal(t, signing.ActionCredentialsIssued, events[0].Action)
	require.Equal(t, signing.ResultSuccess, events[0].Result)
	require.Equal(t, "10.1.1.1", events[0].IPAddress)
	require.Equal(t, "board-portal", events[0].Metadata["issued_by"])
	for _, value := range events[0].Metadata {
		if s, ok := value.(string); ok {
			require.False(t, strings.Contains(s, "token"), "metadata must not carry secrets")
		}
	}
}

func TestIssueCredentialsAuditFailureDoesNotFailIssuance(t *testing.T) {
	f := newFixture(t)
	res, _ := f.seed("Audit down", "Ada")
	f.recorder.FailWith(errors.New("audit table missing"))

	result, err := f.issuer.IssueCredentials(context.Background(), res.ID)
	require.NoError(t, err)
	require.Len(t, result.Issued, 1)
}

// rewire rebuilds the services over store while keeping the seeded memory store.
func rewire(t *testing.T, f *fixture, store signing.Store) *fixture {
	t.Helper()
	rewired := newFixtureWithStore(t, store)
	rewired.store = f.store
	return rewired
}
