package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	id, err := uuid.Parse(base.ID)
	if err != nil {
		t.Fatalf("expected generated uuid, got %q: %v", base.ID, err)
	}
	if id.Version() != 7 {
		t.Fatalf("expected time-ordered uuid, got version %d", id.Version())
	}
}

func TestBaseModelBeforeCreateKeepsExplicitID(t *testing.T) {
	base := BaseModel{ID: "fixed"}
	if err := base.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if base.ID != "fixed" {
		t.Fatalf("expected explicit ID to be kept, got %q", base.ID)
	}
}

func TestEmbeddedModelsUseBaseBeforeCreate(t *testing.T) {
	cases := []struct {
		name  string
		model func() *BaseModel
	}{
		{"resolution", func() *BaseModel {
			r := &Resolution{}
			return &r.BaseModel
		}},
		{"signatory", func() *BaseModel {
			s := &Signatory{}
			return &s.BaseModel
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			model := tc.model()
			if err := model.BeforeCreate(nil); err != nil {
				t.Fatalf("before create: %v", err)
			}
			if model.ID == "" {
				t.Fatal("expected ID to be generated")
			}
		})
	}
}

func TestSigningEventBeforeCreateGeneratesID(t *testing.T) {
	var event SigningEvent
	if err := event.BeforeCreate(nil); err != nil {
		t.Fatalf("before create: %v", err)
	}
	if event.ID == "" {
		t.Fatal("expected signing event ID to be generated")
	}
}

func TestSignatoryJSONOmitsSecrets(t *testing.T) {
	expires := time.Now().Add(time.Minute)
	s := Signatory{
		Name:            "Ada",
		ContactAddress:  "+15555550100",
		SignTokenHash:   "token-digest",
		OTPHash:         "otp-digest",
		OTPExpiresAt:    &expires,
		SignedIP:        "10.0.0.1",
		SignedUserAgent: "curl",
		Decision:        DecisionNone,
	}

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"signTokenHash", "otpHash", "contactAddress", "SignTokenHash", "OTPHash", "ContactAddress"} {
		if _, ok := fields[key]; ok {
			t.Fatalf("expected %s to be omitted from JSON", key)
		}
	}
	if fields["decision"] != "none" {
		t.Fatalf("expected decision none, got %v", fields["decision"])
	}
}

func TestSignatoryClearCredentialAndResetDecision(t *testing.T) {
	now := time.Now()
	s := Signatory{
		SignTokenHash:  "a",
		OTPHash:        "b",
		OTPExpiresAt:   &now,
		FailedAttempts: 2,
		Decision:       DecisionApproved,
		SignedAt:       &now,
		SignatureHash:  "sig",
		DecisionReason: "stale",
	}
	if !s.HasLiveCredential() {
		t.Fatal("expected live credential")
	}

	s.ClearCredential()
	s.ResetDecision()

	if s.HasLiveCredential() || s.OTPExpiresAt != nil || s.FailedAttempts != 0 {
		t.Fatalf("expected credential cleared, got %+v", s)
	}
	if s.Decision != DecisionNone || s.SignedAt != nil || s.SignatureHash != "" || s.DecisionReason != "" {
		t.Fatalf("expected decision reset, got %+v", s)
	}
}

func TestResolutionStatusValid(t *testing.T) {
	for _, status := range []ResolutionStatus{ResolutionDraft, ResolutionPending, ResolutionFinalized, ResolutionExpired} {
		if !status.Valid() {
			t.Fatalf("expected %s to be valid", status)
		}
	}
	if ResolutionStatus("archived").Valid() {
		t.Fatal("expected unknown status to be invalid")
	}
}
