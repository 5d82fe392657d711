package models

import "time"

// Decision is a signatory's verdict on a resolution.
type Decision string

const (
	DecisionNone     Decision = "none"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Signatory is a party who must approve or reject a resolution. The sign token
// and OTP are only ever stored as digests and are never serialised.
type Signatory struct {
	BaseModel

	ResolutionID   string `gorm:"type:uuid;not null;index" json:"resolutionId"`
	Name           string `gorm:"type:varchar(255);not null" json:"name"`
	ContactAddress string `gorm:"type:varchar(255)" json:"-"`

	SignTokenHash      string     `gorm:"type:varchar(64);index" json:"-"`
	OTPHash            string     `gorm:"column:otp_hash;type:varchar(64)" json:"-"`
	OTPExpiresAt       *time.Time `gorm:"column:otp_expires_at;index" json:"otpExpiresAt,omitempty"`
	CredentialIssuedAt *time.Time `json:"credentialIssuedAt,omitempty"`
	FailedAttempts     int        `gorm:"not null;default:0" json:"-"`

	Decision       Decision   `gorm:"type:varchar(16);not null;default:'none'" json:"decision"`
	DecisionReason string     `gorm:"type:text" json:"decisionReason,omitempty"`
	SignedAt       *time.Time `json:"signedAt"`
	SignatureHash  string     `gorm:"type:varchar(128)" json:"signatureHash,omitempty"`

	SignedIP        string `gorm:"column:signed_ip;type:varchar(64)" json:"-"`
	SignedUserAgent string `gorm:"type:text" json:"-"`
}

// HasLiveCredential reports whether a token/OTP pair is currently stored.
func (s *Signatory) HasLiveCredential() bool {
	return s.SignTokenHash != "" && s.OTPHash != ""
}

// ClearCredential drops the stored token and OTP digests.
func (s *Signatory) ClearCredential() {
	s.SignTokenHash = ""
	s.OTPHash = ""
	s.OTPExpiresAt = nil
	s.FailedAttempts = 0
}

// ResetDecision returns the signatory to an undecided state.
func (s *Signatory) ResetDecision() {
	s.Decision = DecisionNone
	s.DecisionReason = ""
	s.SignedAt = nil
	s.SignatureHash = ""
	s.SignedIP = ""
	s.SignedUserAgent = ""
}
