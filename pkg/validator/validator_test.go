package validator

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
)

type signPayload struct {
	ResolutionID string `json:"resolutionId" validate:"required"`
	OTP          string `json:"otp" validate:"required,len=6,numeric"`
	Decision     string `json:"decision" validate:"required,oneof=approved rejected"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := signPayload{
		ResolutionID: "res-1",
		OTP:          "123456",
		Decision:     "approved",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := signPayload{
		OTP:      "12ab",
		Decision: "abstain",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	found := map[string]string{}
	for _, v := range vErrs {
		found[v.Field] = v.Tag
	}
	if found["resolutionId"] != "required" {
		t.Fatalf("expected json field name in errors, got %v", found)
	}
	if found["decision"] != "oneof" {
		t.Fatalf("expected oneof failure for decision, got %v", found)
	}
}

func TestContactHelpers(t *testing.T) {
	if !IsPhoneNumber("+15551234567") {
		t.Fatal("expected E.164 number to validate")
	}
	if IsPhoneNumber("555-1234") {
		t.Fatal("expected local number to be rejected")
	}
	if !IsEmail("clerk@example.com") {
		t.Fatal("expected email to validate")
	}
	if IsEmail("+15551234567") {
		t.Fatal("phone number is not an email")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("is_quorum", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "quorum"
	})
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	if err := ValidateVar("quorum", "is_quorum"); err != nil {
		t.Fatalf("expected custom validator success, got %v", err)
	}
	if err := ValidateVar("other", "is_quorum"); err == nil {
		t.Fatal("expected custom validator failure")
	}
}

func TestContactRule(t *testing.T) {
	type recipient struct {
		Address string `json:"contactAddress" validate:"required,contact"`
	}

	for _, ok := range []string{"+14155550101", "secretary@example.com", " chair@example.com "} {
		if !IsContact(ok) {
			t.Fatalf("expected %q to be a contact", ok)
		}
		if err := ValidateStruct(recipient{Address: ok}); err != nil {
			t.Fatalf("expected %q to pass struct validation: %v", ok, err)
		}
	}

	for _, bad := range []string{"", "555-1234", "not an address"} {
		if IsContact(bad) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}

	err := ValidateStruct(recipient{Address: "nowhere"})
	var vErrs ValidationErrors
	if !errors.As(err, &vErrs) || vErrs[0].Field != "contactAddress" || vErrs[0].Tag != TagContact {
		t.Fatalf("expected contact failure on contactAddress, got %v", err)
	}
}
