package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/quorum/internal/models"
	"github.com/charlesng35/quorum/internal/signing"
	"github.com/charlesng35/quorum/internal/signing/signingtest"
	"github.com/charlesng35/quorum/pkg/response"
)

type signingEnv struct {
	t          *testing.T
	store      *signingtest.MemoryStore
	dispatcher *signingtest.RecordingDispatcher
	recorder   *signingtest.RecordingRecorder
	router     *gin.Engine
}

func newSigningEnv(t *testing.T) *signingEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &signingEnv{
		t:          t,
		store:      signingtest.NewMemoryStore(),
		dispatcher: signingtest.NewRecordingDispatcher(),
		recorder:   signingtest.NewRecordingRecorder(),
	}
	cfg := signing.Config{SignatureKey: []byte("handler-test-key"), LinkBaseURL: "https://board.example.com/sign"}

	issuer, err := signing.NewIssuer(env.store, env.dispatcher, cfg, signing.WithRecorder(env.recorder))
	require.NoError(t, err)
	verifier, err := signing.NewVerifier(env.store, cfg, signing.WithRecorder(env.recorder))
	require.NoError(t, err)
	h, err := NewSigningHandler(issuer, verifier)
	require.NoError(t, err)

	env.router = gin.New()
	env.router.POST("/request-signatures", h.RequestSignatures)
	env.router.POST("/sign", h.Sign)
	return env
}

func (e *signingEnv) seed(title string, contacts ...string) (models.Resolution, []models.Signatory) {
	res := e.store.AddResolution(models.Resolution{Title: title})
	sigs := make([]models.Signatory, 0, len(contacts))
	for i, contact := range contacts {
		sigs = append(sigs, e.store.AddSignatory(models.Signatory{
			ResolutionID:   res.ID,
			Name:           string(rune('A' + i)),
			ContactAddress: contact,
		}))
	}
	return res, sigs
}

func (e *signingEnv) post(path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case string:
		buf.WriteString(v)
	default:
		require.NoError(e.t, json.NewEncoder(&buf).Encode(v))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func (e *signingEnv) issue(resolutionID string) RequestSignaturesResponse {
	e.t.Helper()
	w := e.post("/request-signatures", map[string]string{"resolutionId": resolutionID})
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	var out RequestSignaturesResponse
	require.NoError(e.t, json.Unmarshal(decode(e.t, w).Data, &out))
	return out
}

func (e *signingEnv) otpFor(contact string) string {
	e.t.Helper()
	msg, ok := e.dispatcher.LastTo(contact)
	require.True(e.t, ok)
	return signingtest.ExtractOTP(msg.Body)
}

func TestRequestSignatures(t *testing.T) {
	env := newSigningEnv(t)
	res, sigs := env.seed("Budget 2026", "+14155550100", "")

	w := env.post("/request-signatures", map[string]string{"resolutionId": res.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotContains(t, w.Body.String(), env.otpFor("+14155550100"))

	var out RequestSignaturesResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &out))
	require.Equal(t, "Signing credentials issued to 1 of 2 signatories", out.Message)
	require.Len(t, out.UpdatedSignatories, 1)
	require.Equal(t, sigs[0].ID, out.UpdatedSignatories[0].SignatoryID)
	require.NotEmpty(t, out.UpdatedSignatories[0].Token)
	require.Contains(t, out.UpdatedSignatories[0].Link, "signatoryId="+sigs[0].ID)
	require.Len(t, out.Outcomes, 2)
	require.Equal(t, signing.OutcomeFailed, out.Outcomes[1].Status)
	require.Equal(t, signing.ReasonNoContact, out.Outcomes[1].Reason)

	stored, _ := env.store.Resolution(res.ID)
	require.Equal(t, models.ResolutionPending, stored.Status)
}

func TestRequestSignaturesErrors(t *testing.T) {
	env := newSigningEnv(t)

	w := env.post("/request-signatures", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	require.Equal(t, "VALIDATION_FAILED", body.Error.Code)
	require.Equal(t, "resolutionId is required", body.Error.Message)

	w = env.post("/request-signatures", "{not json")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.post("/request-signatures", map[string]string{"resolutionId": "  "})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.post("/request-signatures", map[string]string{"resolutionId": "R1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body = decode(t, w)
	require.Equal(t, "VALIDATION_FAILED", body.Error.Code)
	require.Equal(t, "resolutionId must be a UUID", body.Error.Message)

	w = env.post("/request-signatures", map[string]string{"resolutionId": uuid.NewString()})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "RESOLUTION_NOT_FOUND", decode(t, w).Error.Code)
}

func TestRequestSignaturesFinalizedConflict(t *testing.T) {
	env := newSigningEnv(t)
	res := env.store.AddResolution(models.Resolution{Title: "Done", Status: models.ResolutionFinalized})

	w := env.post("/request-signatures", map[string]string{"resolutionId": res.ID})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "RESOLUTION_FINALIZED", decode(t, w).Error.Code)
}

func TestSignFlow(t *testing.T) {
	env := newSigningEnv(t)
	res, sigs := env.seed("R1", "+14155550100", "+14155550101")
	issued := env.issue(res.ID)
	require.Len(t, issued.UpdatedSignatories, 2)

	w := env.post("/sign", map[string]string{
		"resolutionId": res.ID,
		"signatoryId":  sigs[0].ID,
		"token":        issued.UpdatedSignatories[0].Token,
		"otp":          env.otpFor("+14155550100"),
		"decision":     "approved",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var snapshot models.Resolution
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &snapshot))
	require.Equal(t, models.ResolutionPending, snapshot.Status)
	require.Len(t, snapshot.Signatories, 2)
	require.Equal(t, models.DecisionApproved, snapshot.Signatories[0].Decision)
	require.NotEmpty(t, snapshot.Signatories[0].SignatureHash)
	require.NotContains(t, w.Body.String(), "+14155550100")
	require.NotContains(t, w.Body.String(), "otpHash")

	w = env.post("/sign", map[string]string{
		"resolutionId": res.ID,
		"signatoryId":  sigs[1].ID,
		"token":        issued.UpdatedSignatories[1].Token,
		"otp":          env.otpFor("+14155550101"),
		"decision":     "rejected",
		"reason":       "insufficient budget",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &snapshot))
	require.Equal(t, models.ResolutionExpired, snapshot.Status)
	require.Equal(t, "insufficient budget", snapshot.Signatories[1].DecisionReason)
	require.Equal(t, models.DecisionApproved, snapshot.Signatories[0].Decision)

	last := env.recorder.Events()
	require.NotEmpty(t, last)
	require.Equal(t, "handler-test", last[len(last)-1].UserAgent)
}

func TestSignRejectsBadCredentialsUniformly(t *testing.T) {
	env := newSigningEnv(t)
	res, sigs := env.seed("R2", "+14155550100")
	issued := env.issue(res.ID)
	token := issued.UpdatedSignatories[0].Token
	otp := env.otpFor("+14155550100")

	base := func(token, otp string) map[string]string {
		return map[string]string{
			"resolutionId": res.ID,
			"signatoryId":  sigs[0].ID,
			"token":        token,
			"otp":          otp,
			"decision":     "approved",
		}
	}

	wrongToken := env.post("/sign", base("wrong-token", otp))
	require.Equal(t, http.StatusForbidden, wrongToken.Code)
	wrongOTP := env.post("/sign", base(token, "000000"))
	if otp == "000000" {
		wrongOTP = env.post("/sign", base(token, "111111"))
	}
	require.Equal(t, http.StatusForbidden, wrongOTP.Code)
	require.Equal(t, decode(t, wrongToken).Error, decode(t, wrongOTP).Error)
	require.Equal(t, "INVALID_SIGNING_CREDENTIALS", decode(t, wrongOTP).Error.Code)

	ok := env.post("/sign", base(token, otp))
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	replay := env.post("/sign", base(token, otp))
	require.Equal(t, http.StatusForbidden, replay.Code)
	require.Equal(t, "INVALID_SIGNING_CREDENTIALS", decode(t, replay).Error.Code)
}

func TestSignValidationAndNotFound(t *testing.T) {
	env := newSigningEnv(t)
	res, sigs := env.seed("R3", "+14155550100")

	w := env.post("/sign", map[string]string{"resolutionId": res.ID})
	require.Equal(t, http.StatusBadRequest, w.Code)
	msg := decode(t, w).Error.Message
	require.Contains(t, msg, "signatoryId is required")
	require.Contains(t, msg, "otp is required")

	w = env.post("/sign", map[string]string{
		"resolutionId": res.ID, "signatoryId": sigs[0].ID, "token": "wrong", "otp": "000000", "decision": "abstain",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, decode(t, w).Error.Message, "decision must be one of: approved, rejected")
	require.Zero(t, env.store.Calls("RegisterFailedAttempt"))

	w = env.post("/sign", map[string]string{
		"resolutionId": res.ID, "signatoryId": uuid.NewString(), "token": "t", "otp": "123456", "decision": "approved",
	})
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "SIGNATORY_NOT_FOUND", decode(t, w).Error.Code)
}

func TestSignRejectsMalformedIDs(t *testing.T) {
	env := newSigningEnv(t)
	res, sigs := env.seed("R5", "+14155550100")

	cases := map[string]map[string]string{
		"resolutionId must be a UUID": {"resolutionId": "R1", "signatoryId": sigs[0].ID},
		"signatoryId must be a UUID":  {"resolutionId": res.ID, "signatoryId": "1 OR 1=1"},
	}
	for want, ids := range cases {
		payload := map[string]string{"token": "t", "otp": "123456", "decision": "approved"}
		for k, v := range ids {
			payload[k] = v
		}
		w := env.post("/sign", payload)
		require.Equal(t, http.StatusBadRequest, w.Code, want)
		body := decode(t, w)
		require.Equal(t, "VALIDATION_FAILED", body.Error.Code)
		require.Equal(t, want, body.Error.Message)
		require.False(t, body.Error.Retryable)
	}
	require.Zero(t, env.store.Calls("Transaction"))
}

func TestSignDependencyFailure(t *testing.T) {
	env := newSigningEnv(t)
	res, sigs := env.seed("R4", "+14155550100")
	issued := env.issue(res.ID)

	env.store.FailOperation("ConsumeCredential", errors.New("disk full"))
	w := env.post("/sign", map[string]string{
		"resolutionId": res.ID,
		"signatoryId":  sigs[0].ID,
		"token":        issued.UpdatedSignatories[0].Token,
		"otp":          env.otpFor("+14155550100"),
		"decision":     "approved",
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	require.Equal(t, "DEPENDENCY_FAILURE", body.Error.Code)
	require.True(t, body.Error.Retryable)
	require.NotContains(t, w.Body.String(), "disk full")
}

func TestSigningErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{signing.ErrCredentialConsumed, http.StatusForbidden},
		{signing.ErrInvalidOrExpiredOTP, http.StatusForbidden},
		{signing.ErrResolutionFinalized, http.StatusConflict},
		{&signing.DependencyError{Op: "load", Err: errors.New("x")}, http.StatusInternalServerError},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	gin.SetMode(gin.TestMode)
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		response.Error(c, signingError(tc.err))
		require.Equal(t, tc.status, w.Code, tc.err.Error())
	}
}
