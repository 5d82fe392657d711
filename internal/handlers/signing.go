package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/internal/signing"
	appErrors "github.com/charlesng35/quorum/pkg/errors"
	"github.com/charlesng35/quorum/pkg/response"
)

// SigningHandler exposes the credential issuance and signing endpoints.
type SigningHandler struct {
	issuer   *signing.Issuer
	verifier *signing.Verifier
}

// NewSigningHandler constructs a signing handler.
func NewSigningHandler(issuer *signing.Issuer, verifier *signing.Verifier) (*SigningHandler, error) {
	if issuer == nil || verifier == nil {
		return nil, errors.New("signing handler: issuer and verifier are required")
	}
	return &SigningHandler{issuer: issuer, verifier: verifier}, nil
}

type requestSignaturesPayload struct {
	ResolutionID string `json:"resolutionId" validate:"required,uuid"`
}

// RequestSignaturesResponse is returned by POST /request-signatures.
type RequestSignaturesResponse struct {
	Message            string                     `json:"message"`
	UpdatedSignatories []signing.IssuedCredential `json:"updatedSignatories"`
	Outcomes           []signing.Outcome          `json:"outcomes"`
}

// RequestSignatures issues fresh credentials to every signatory of a resolution.
func (h *SigningHandler) RequestSignatures(c *gin.Context) {
	var payload requestSignaturesPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	result, err := h.issuer.IssueCredentials(requestContext(c), payload.ResolutionID)
	if err != nil {
		response.Error(c, signingError(err))
		return
	}

	issued := result.Issued
	if issued == nil {
		issued = []signing.IssuedCredential{}
	}
	outcomes := result.Outcomes
	if outcomes == nil {
		outcomes = []signing.Outcome{}
	}

	response.Success(c, http.StatusOK, RequestSignaturesResponse{
		Message:            fmt.Sprintf("Signing credentials issued to %d of %d signatories", len(issued), len(outcomes)),
		UpdatedSignatories: issued,
		Outcomes:           outcomes,
	})
}

type signPayload struct {
	ResolutionID string `json:"resolutionId" validate:"required,uuid"`
	SignatoryID  string `json:"signatoryId" validate:"required,uuid"`
	Token        string `json:"token" validate:"required,max=256"`
	OTP          string `json:"otp" validate:"required,max=16"`
	Decision     string `json:"decision" validate:"required,oneof=approved rejected"`
	Reason       string `json:"reason" validate:"max=2000"`
}

// Sign records a signatory's decision and returns the resolution snapshot.
func (h *SigningHandler) Sign(c *gin.Context) {
	var payload signPayload
	if !bindAndValidate(c, &payload) {
		return
	}

	snapshot, err := h.verifier.Sign(requestContext(c), signing.SignRequest{
		ResolutionID: payload.ResolutionID,
		SignatoryID:  payload.SignatoryID,
		Token:        payload.Token,
		OTP:          payload.OTP,
		Decision:     models.Decision(payload.Decision),
		Reason:       payload.Reason,
	})
	if err != nil {
		response.Error(c, signingError(err))
		return
	}

	response.Success(c, http.StatusOK, snapshot)
}

// signingError maps the signing taxonomy onto API errors. Credential failures
// share one code so that callers cannot tell which factor was wrong.
func signingError(err error) error {
	switch {
	case errors.Is(err, signing.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), signing.ErrValidation.Error()+": ")
		return appErrors.NewValidation(msg)
	case errors.Is(err, signing.ErrResolutionNotFound):
		return appErrors.ErrResolutionNotFound
	case errors.Is(err, signing.ErrSignatoryNotFound):
		return appErrors.ErrSignatoryNotFound
	case errors.Is(err, signing.ErrInvalidCredential):
		return appErrors.ErrInvalidSigningCredentials.WithInternal(err)
	case errors.Is(err, signing.ErrResolutionFinalized):
		return appErrors.ErrResolutionFinalized
	case signing.IsDependency(err):
		return appErrors.ErrDependencyFailure.WithInternal(err)
	default:
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}
