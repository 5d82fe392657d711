package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/internal/signing"
)

const defaultTxAttempts = 3

// SigningStore implements signing.Store on top of GORM.
type SigningStore struct {
	db         *gorm.DB
	inTx       bool
	txAttempts int
}

var _ signing.Store = (*SigningStore)(nil)

// NewSigningStore constructs a GORM backed signing store.
func NewSigningStore(db *gorm.DB) (*SigningStore, error) {
	if db == nil {
		return nil, errors.New("signing store: db is required")
	}
	return &SigningStore{db: db, txAttempts: defaultTxAttempts}, nil
}

// Transaction runs fn inside a database transaction. Deadlocks and
// serialisation failures re-run fn from the start.
func (s *SigningStore) Transaction(ctx context.Context, fn func(tx signing.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&SigningStore{db: tx, inTx: true})
		})
		if err == nil || attempt >= s.txAttempts || ctx.Err() != nil || !isTransientTxError(err) {
			return err
		}
	}
}

func (s *SigningStore) GetResolution(ctx context.Context, id string) (*models.Resolution, error) {
	return s.takeResolution(s.db.WithContext(ctx), id)
}

// LockResolution takes a row lock (SELECT ... FOR UPDATE) when called inside a
// transaction. SQLite ignores the clause; its transactions are serialised by the
// database lock instead.
func (s *SigningStore) LockResolution(ctx context.Context, id string) (*models.Resolution, error) {
	query := s.db.WithContext(ctx)
	if s.inTx {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return s.takeResolution(query, id)
}

func (s *SigningStore) takeResolution(query *gorm.DB, id string) (*models.Resolution, error) {
	var res models.Resolution
	if err := query.Take(&res, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || isMalformedID(err) {
			return nil, signing.ErrResolutionNotFound
		}
		return nil, fmt.Errorf("signing store: load resolution: %w", err)
	}
	return &res, nil
}

func (s *SigningStore) UpdateResolutionStatus(ctx context.Context, id string, from, to models.ResolutionStatus, at time.Time) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("signing store: update resolution status: unknown status %q", to)
	}
	result := s.db.WithContext(ctx).
		Model(&models.Resolution{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": at.UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("signing store: update resolution status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListPendingResolutionIDs returns the ids of resolutions still collecting decisions.
func (s *SigningStore) ListPendingResolutionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.Resolution{}).
		Where("status = ?", models.ResolutionPending).
		Order("created_at ASC, id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("signing store: list pending resolutions: %w", err)
	}
	return ids, nil
}

func (s *SigningStore) ListSignatories(ctx context.Context, resolutionID string) ([]models.Signatory, error) {
	var signatories []models.Signatory
	if err := s.db.WithContext(ctx).
		Where("resolution_id = ?", resolutionID).
		Order("created_at ASC, id ASC").
		Find(&signatories).Error; err != nil {
		return nil, fmt.Errorf("signing store: list signatories: %w", err)
	}
	return signatories, nil
}

func (s *SigningStore) GetSignatory(ctx context.Context, resolutionID, signatoryID string) (*models.Signatory, error) {
	var signatory models.Signatory
	if err := s.db.WithContext(ctx).
		Take(&signatory, "id = ? AND resolution_id = ?", signatoryID, resolutionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || isMalformedID(err) {
			return nil, signing.ErrSignatoryNotFound
		}
		return nil, fmt.Errorf("signing store: load signatory: %w", err)
	}
	return &signatory, nil
}

func (s *SigningStore) ResetCredential(ctx context.Context, cred signing.CredentialReset) error {
	result := s.db.WithContext(ctx).
		Model(&models.Signatory{}).
		Where("id = ?", cred.SignatoryID).
		Updates(map[string]any{
			"sign_token_hash":      cred.TokenHash,
			"otp_hash":             cred.OTPHash,
			"otp_expires_at":       cred.ExpiresAt.UTC(),
			"credential_issued_at": cred.IssuedAt.UTC(),
			"failed_attempts":      0,
			"decision":             models.DecisionNone,
			"decision_reason":      "",
			"signed_at":            nil,
			"signature_hash":       "",
			"signed_ip":            "",
			"signed_user_agent":    "",
			"updated_at":           cred.IssuedAt.UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("signing store: reset credential: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return signing.ErrSignatoryNotFound
	}
	return nil
}

// ConsumeCredential is a single conditional UPDATE; a concurrent consumer that
// lost the race matches no row.
func (s *SigningStore) ConsumeCredential(ctx context.Context, c signing.Consumption) (bool, error) {
	if c.TokenHash == "" || c.OTPHash == "" {
		return false, nil
	}
	now := c.Now.UTC()
	result := s.db.WithContext(ctx).
		Model(&models.Signatory{}).
		Where("id = ? AND sign_token_hash = ? AND otp_hash = ? AND otp_expires_at > ?",
			c.SignatoryID, c.TokenHash, c.OTPHash, now).
		Updates(map[string]any{
			"sign_token_hash":   "",
			"otp_hash":          "",
			"otp_expires_at":    nil,
			"failed_attempts":   0,
			"decision":          c.Decision,
			"decision_reason":   c.Reason,
			"signed_at":         now,
			"signature_hash":    c.SignatureHash,
			"signed_ip":         c.IPAddress,
			"signed_user_agent": c.UserAgent,
			"updated_at":        now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("signing store: consume credential: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *SigningStore) RegisterFailedAttempt(ctx context.Context, signatoryID, tokenHash string, limit int) (bool, error) {
	if tokenHash == "" {
		return false, nil
	}
	result := s.db.WithContext(ctx).
		Model(&models.Signatory{}).
		Where("id = ? AND sign_token_hash = ?", signatoryID, tokenHash).
		UpdateColumn("failed_attempts", gorm.Expr("failed_attempts + 1"))
	if result.Error != nil {
		return false, fmt.Errorf("signing store: count failed attempt: %w", result.Error)
	}
	if result.RowsAffected == 0 || limit <= 0 {
		return false, nil
	}

	burn := s.db.WithContext(ctx).
		Model(&models.Signatory{}).
		Where("id = ? AND sign_token_hash = ? AND failed_attempts >= ?", signatoryID, tokenHash, limit).
		Updates(map[string]any{
			"sign_token_hash": "",
			"otp_hash":        "",
			"otp_expires_at":  nil,
		})
	if burn.Error != nil {
		return false, fmt.Errorf("signing store: clear exhausted credential: %w", burn.Error)
	}
	return burn.RowsAffected > 0, nil
}

// SweepExpiredCredentials clears credentials whose OTP expired before cutoff.
// Decisions are never touched.
func (s *SigningStore) SweepExpiredCredentials(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Signatory{}).
		Where("sign_token_hash <> '' AND otp_expires_at IS NOT NULL AND otp_expires_at < ?", cutoff.UTC()).
		Updates(map[string]any{
			"sign_token_hash": "",
			"otp_hash":        "",
			"otp_expires_at":  nil,
			"failed_attempts": 0,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("signing store: sweep expired credentials: %w", result.Error)
	}
	return result.RowsAffected, nil
}
