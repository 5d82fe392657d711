package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SigningEvent is an append-only audit record of issuance and signing activity.
type SigningEvent struct {
	ID           string            `gorm:"primaryKey;type:uuid" json:"id"`
	ResolutionID string            `gorm:"type:uuid;index" json:"resolutionId"`
	SignatoryID  string            `gorm:"type:uuid;index" json:"signatoryId,omitempty"`
	Action       string            `gorm:"type:varchar(64);not null;index" json:"action"`
	Result       string            `gorm:"type:varchar(32);not null" json:"result"`
	IPAddress    string            `gorm:"type:varchar(64)" json:"ipAddress,omitempty"`
	UserAgent    string            `gorm:"type:text" json:"userAgent,omitempty"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"index" json:"createdAt"`
}

func (e *SigningEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
