package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/pkg/validator"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	return db.AutoMigrate(
		&models.Resolution{},
		&models.Signatory{},
		&models.SigningEvent{},
	)
}

// DemoSignatory describes a signatory created by SeedDemo.
type DemoSignatory struct {
	Name           string `json:"name" validate:"required,max=200"`
	ContactAddress string `json:"contactAddress" validate:"required,contact"`
}

// SeedDemo creates a draft resolution with the given signatories. It is meant
// for local environments only; resolutions are normally authored elsewhere.
func SeedDemo(db *gorm.DB, title string, signatories []DemoSignatory) (*models.Resolution, error) {
	if db == nil {
		return nil, errors.New("nil database handle")
	}
	if len(signatories) == 0 {
		return nil, errors.New("at least one signatory is required")
	}
	for i, s := range signatories {
		if err := validator.ValidateStruct(s); err != nil {
			return nil, fmt.Errorf("signatory %d: %w", i, err)
		}
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Demo resolution"
	}

	resolution := &models.Resolution{
		Title:  title,
		Status: models.ResolutionDraft,
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(resolution).Error; err != nil {
			return err
		}
		for _, s := range signatories {
			row := models.Signatory{
				ResolutionID:   resolution.ID,
				Name:           strings.TrimSpace(s.Name),
				ContactAddress: strings.TrimSpace(s.ContactAddress),
				Decision:       models.DecisionNone,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			resolution.Signatories = append(resolution.Signatories, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolution, nil
}
