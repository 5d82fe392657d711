package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/quorum/pkg/crypto"
)

const (
	minSignatureKeyBytes = 16
	maxSignatureKeyBytes = 64

	generatedSignatureKeyBytes = 32
)

// ApplyRuntimeDefaults fills secrets the service cannot start without and
// returns the config paths it generated. Values are never returned.
// The operator JWT secret is never generated.
func ApplyRuntimeDefaults(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	var generated []string
	if strings.TrimSpace(cfg.Signing.SignatureKey) == "" {
		key, err := crypto.GenerateToken(generatedSignatureKeyBytes)
		if err != nil {
			return nil, fmt.Errorf("generate signature key: %w", err)
		}
		cfg.Signing.SignatureKey = key
		generated = append(generated, "signing.signature_key")
	}
	return generated, nil
}
