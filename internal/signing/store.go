package signing

import (
	"context"
	"time"

	"github.com/charlesng35/quorum/internal/models"
)

// ResolutionStore persists resolutions and their aggregate status.
type ResolutionStore interface {
	// GetResolution returns ErrResolutionNotFound when the resolution is absent.
	GetResolution(ctx context.Context, id string) (*models.Resolution, error)
	// LockResolution loads the resolution and holds a row lock until the
	// surrounding transaction ends. Outside a transaction it behaves like GetResolution.
	LockResolution(ctx context.Context, id string) (*models.Resolution, error)
	// UpdateResolutionStatus moves the resolution from one status to another.
	// It reports false when the stored status no longer equals from.
	UpdateResolutionStatus(ctx context.Context, id string, from, to models.ResolutionStatus, at time.Time) (bool, error)
}

// SignatoryStore persists signatories and their credential and decision state.
type SignatoryStore interface {
	ListSignatories(ctx context.Context, resolutionID string) ([]models.Signatory, error)
	// GetSignatory returns ErrSignatoryNotFound unless the signatory belongs to the resolution.
	GetSignatory(ctx context.Context, resolutionID, signatoryID string) (*models.Signatory, error)
	// ResetCredential stores a fresh credential and clears any prior decision.
	ResetCredential(ctx context.Context, cred CredentialReset) error
	// ConsumeCredential records a decision only while the presented credential is
	// still live, clearing it in the same write. It reports false when no row matched.
	ConsumeCredential(ctx context.Context, c Consumption) (bool, error)
	// RegisterFailedAttempt counts a wrong OTP against the live credential and
	// clears the credential once limit is reached. It reports whether it was cleared.
	RegisterFailedAttempt(ctx context.Context, signatoryID, tokenHash string, limit int) (bool, error)
}

// Store combines both stores with transactional execution.
type Store interface {
	ResolutionStore
	SignatoryStore
	// Transaction runs fn against a store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// CredentialReset carries the digests of a newly issued credential.
type CredentialReset struct {
	SignatoryID string
	TokenHash   string
	OTPHash     string
	ExpiresAt   time.Time
	IssuedAt    time.Time
}

// Consumption describes a decision recorded against a live credential.
type Consumption struct {
	SignatoryID   string
	TokenHash     string
	OTPHash       string
	Now           time.Time
	Decision      models.Decision
	Reason        string
	SignatureHash string
	IPAddress     string
	UserAgent     string
}

// Event is an audit record of issuance or signing activity.
type Event struct {
	Action       string
	Result       string
	ResolutionID string
	SignatoryID  string
	IPAddress    string
	UserAgent    string
	Metadata     map[string]any
}

// Audit actions and results.
const (
	ActionCredentialsIssued = "credentials.issued"
	ActionSignatureRecorded = "signature.recorded"
	ActionSignatureRejected = "signature.attempt_failed"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder persists audit events. Recording is best effort and never fails the operation.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) error { return nil }
