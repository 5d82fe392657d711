package signing

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/pkg/crypto"
)

const nonceBytes = 16

type credential struct {
	token string
	otp   string
}

func newCredential(cfg Config) (credential, error) {
	token, err := crypto.GenerateToken(cfg.TokenBytes)
	if err != nil {
		return credential{}, fmt.Errorf("generate token: %w", err)
	}
	otp, err := crypto.GenerateNumericCode(cfg.OTPDigits)
	if err != nil {
		return credential{}, fmt.Errorf("generate otp: %w", err)
	}
	return credential{token: token, otp: otp}, nil
}

type approvalPayload struct {
	ResolutionID string          `json:"resolutionId"`
	SignatoryID  string          `json:"signatoryId"`
	Decision     models.Decision `json:"decision"`
	SignedAt     string          `json:"signedAt"`
	Nonce        string          `json:"nonce"`
}

// signatureHash binds an approval to a fresh nonce. The payload is canonicalised
// (RFC 8785) before the keyed BLAKE2b digest is taken.
func signatureHash(key []byte, resolutionID, signatoryID string, signedAt time.Time) (string, error) {
	nonce, err := crypto.GenerateToken(nonceBytes)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(approvalPayload{
		ResolutionID: resolutionID,
		SignatoryID:  signatoryID,
		Decision:     models.DecisionApproved,
		SignedAt:     signedAt.UTC().Format(time.RFC3339Nano),
		Nonce:        nonce,
	})
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	return crypto.KeyedDigest(key, canonical)
}

func signingLink(base, resolutionID, signatoryID, token string) string {
	query := url.Values{}
	query.Set("resolutionId", resolutionID)
	query.Set("signatoryId", signatoryID)
	query.Set("token", token)

	base = strings.TrimSpace(base)
	if base == "" {
		return "?" + query.Encode()
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + query.Encode()
}

func notificationMessage(title, otp, link string, ttl time.Duration) string {
	subject := "a board resolution"
	if t := strings.TrimSpace(title); t != "" {
		subject = fmt.Sprintf("%q", t)
	}
	return fmt.Sprintf(
		"Your signature is requested on %s.\nOne-time code: %s (valid for %d minutes)\nSign here: %s",
		subject, otp, int(ttl.Minutes()), link,
	)
}
