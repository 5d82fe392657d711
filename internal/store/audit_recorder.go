package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/internal/signing"
)

const defaultRecordTimeout = 2 * time.Second

// AuditRecorder persists signing events to the signing_events table.
type AuditRecorder struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
}

var _ signing.Recorder = (*AuditRecorder)(nil)

// NewAuditRecorder constructs an AuditRecorder.
func NewAuditRecorder(db *gorm.DB) (*AuditRecorder, error) {
	if db == nil {
		return nil, errors.New("audit recorder: db is required")
	}
	return &AuditRecorder{db: db, timeout: defaultRecordTimeout, now: time.Now}, nil
}

// Record stores event. Callers treat failures as non-fatal.
func (r *AuditRecorder) Record(ctx context.Context, event signing.Event) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := models.SigningEvent{
		ResolutionID: event.ResolutionID,
		SignatoryID:  event.SignatoryID,
		Action:       event.Action,
		Result:       event.Result,
		IPAddress:    event.IPAddress,
		UserAgent:    event.UserAgent,
		CreatedAt:    r.now().UTC(),
	}
	if len(event.Metadata) > 0 {
		row.Metadata = datatypes.JSONMap(event.Metadata)
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("audit recorder: create event: %w", err)
	}
	return nil
}

// ListEvents returns the events of a resolution, oldest first.
func (r *AuditRecorder) ListEvents(ctx context.Context, resolutionID string) ([]models.SigningEvent, error) {
	var events []models.SigningEvent
	if err := r.db.WithContext(ctx).
		Where("resolution_id = ?", resolutionID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("audit recorder: list events: %w", err)
	}
	return events, nil
}

// PruneOlderThan removes events older than the supplied retention window (in days).
func (r *AuditRecorder) PruneOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("audit recorder: retentionDays must be positive")
	}

	cutoff := r.now().UTC().AddDate(0, 0, -retentionDays)
	result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.SigningEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit recorder: prune events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
