// Package testutil opens throwaway SQLite databases for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/quorum/internal/database"
	"github.com/charlesng35/quorum/internal/models"
)

// TestDBOption adjusts MustOpenTestDB.
type TestDBOption func(*database.Config, *bool)

// WithAutoMigrate creates the resolution, signatory and event tables.
func WithAutoMigrate() TestDBOption {
	return func(_ *database.Config, migrate *bool) { *migrate = true }
}

// WithLockTimeout sets the SQLite busy timeout.
func WithLockTimeout(d time.Duration) TestDBOption {
	return func(cfg *database.Config, _ *bool) { cfg.LockTimeout = d }
}

// MustOpenTestDB opens a private shared-cache in-memory SQLite database that
// is closed when t finishes.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	cfg := database.Config{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString()),
	}
	migrate := false
	for _, opt := range opts {
		opt(&cfg, &migrate)
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	if migrate {
		require.NoError(t, database.AutoMigrate(db))
	}
	return db
}

// SeedResolution inserts a resolution with one outstanding signatory per
// contact. Signatories keep insertion order under "created_at ASC".
func SeedResolution(t *testing.T, db *gorm.DB, title string, status models.ResolutionStatus, contacts ...string) (models.Resolution, []models.Signatory) {
	t.Helper()

	res := models.Resolution{Title: title, Status: status}
	require.NoError(t, db.Create(&res).Error)

	base := time.Now().UTC()
	signatories := make([]models.Signatory, 0, len(contacts))
	for i, contact := range contacts {
		sig := models.Signatory{
			BaseModel:      models.BaseModel{CreatedAt: base.Add(time.Duration(i) * time.Millisecond)},
			ResolutionID:   res.ID,
			Name:           contact,
			ContactAddress: contact,
			Decision:       models.DecisionNone,
		}
		require.NoError(t, db.Create(&sig).Error)
		signatories = append(signatories, sig)
	}
	return res, signatories
}
