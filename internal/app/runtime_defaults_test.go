package app

import (
	"strings"
	"testing"
)

func TestApplyRuntimeDefaultsGeneratesSignatureKey(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	if err != nil {
		t.Fatalf("ApplyRuntimeDefaults returned error: %v", err)
	}
	if len(generated) != 1 || generated[0] != "signing.signature_key" {
		t.Fatalf("expected signature key to be reported, got %v", generated)
	}
	if cfg.Auth.JWT.Secret != "" {
		t.Fatal("operator JWT secret must never be generated")
	}

	key, err := DecodeSignatureKey(cfg.Signing.SignatureKey)
	if err != nil {
		t.Fatalf("generated key rejected: %v", err)
	}
	if len(key) != generatedSignatureKeyBytes {
		t.Fatalf("expected %d byte key, got %d", generatedSignatureKeyBytes, len(key))
	}
}

func TestApplyRuntimeDefaultsKeysDiffer(t *testing.T) {
	first, second := &Config{}, &Config{}
	if _, err := ApplyRuntimeDefaults(first); err != nil {
		t.Fatal(err)
	}
	if _, err := ApplyRuntimeDefaults(second); err != nil {
		t.Fatal(err)
	}
	if first.Signing.SignatureKey == second.Signing.SignatureKey {
		t.Fatal("expected independent keys per call")
	}
}

func TestApplyRuntimeDefaultsPreservesExistingSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Signing.SignatureKey = strings.Repeat("a", 32)

	generated, err := ApplyRuntimeDefaults(cfg)
	if err != nil {
		t.Fatalf("ApplyRuntimeDefaults returned error: %v", err)
	}
	if len(generated) != 0 {
		t.Fatalf("expected no keys generated, got %v", generated)
	}
	if cfg.Signing.SignatureKey != strings.Repeat("a", 32) {
		t.Fatal("existing signature key was replaced")
	}
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	if _, err := ApplyRuntimeDefaults(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
