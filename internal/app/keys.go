package app

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var keyEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// DecodeKey decodes a hex or base64 (standard or URL alphabet, padded or not)
// key. Anything else is used as raw bytes.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("key value is empty")
	}

	// generated signature keys are hex
	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}
	for _, enc := range keyEncodings {
		if decoded, err := enc.DecodeString(v); err == nil {
			return decoded, nil
		}
	}
	return []byte(v), nil
}

// DecodeSignatureKey decodes the approval MAC key and enforces the BLAKE2b key size bounds.
func DecodeSignatureKey(value string) ([]byte, error) {
	key, err := DecodeKey(value)
	if err != nil {
		return nil, err
	}
	if len(key) < minSignatureKeyBytes || len(key) > maxSignatureKeyBytes {
		return nil, fmt.Errorf("must decode to %d-%d bytes, got %d", minSignatureKeyBytes, maxSignatureKeyBytes, len(key))
	}
	return key, nil
}
