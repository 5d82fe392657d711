package models

// ResolutionStatus is the aggregate state of a resolution.
type ResolutionStatus string

const (
	ResolutionDraft     ResolutionStatus = "draft"
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionFinalized ResolutionStatus = "finalized"
	ResolutionExpired   ResolutionStatus = "expired"
)

// Valid reports whether s is a known status.
func (s ResolutionStatus) Valid() bool {
	switch s {
	case ResolutionDraft, ResolutionPending, ResolutionFinalized, ResolutionExpired:
		return true
	}
	return false
}

// Resolution is a board resolution collecting decisions from its signatories.
type Resolution struct {
	BaseModel

	Title  string           `gorm:"type:varchar(255)" json:"title"`
	Status ResolutionStatus `gorm:"type:varchar(16);not null;default:'draft';index" json:"status"`

	Signatories []Signatory `gorm:"foreignKey:ResolutionID" json:"signatories,omitempty"`
}
