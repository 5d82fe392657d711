package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"golang.org/x/crypto/blake2b"
)

// otpSecretBytes matches the RFC 4226 recommended shared secret length.
const otpSecretBytes = 20

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("crypto: token length must be positive")
	}
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// GenerateNumericCode derives a one-time numeric code from a freshly generated HOTP secret.
// Only six and eight digit codes are supported.
func GenerateNumericCode(digits int) (string, error) {
	var d otp.Digits
	switch digits {
	case 6:
		d = otp.DigitsSix
	case 8:
		d = otp.DigitsEight
	default:
		return "", fmt.Errorf("crypto: unsupported code length %d", digits)
	}

	secret := make([]byte, otpSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}

	code, err := hotp.GenerateCodeCustom(base32.StdEncoding.EncodeToString(secret), 0, hotp.ValidateOpts{
		Digits:    d,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("crypto: generate code: %w", err)
	}
	return code, nil
}

// Digest returns the hex encoded SHA-256 digest of value.
func Digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// DigestEqual compares two digests in constant time.
func DigestEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// KeyedDigest computes a BLAKE2b-256 MAC of payload under key and returns it hex encoded.
// An empty key yields a plain BLAKE2b-256 hash.
func KeyedDigest(key, payload []byte) (string, error) {
	if len(key) > blake2b.Size {
		return "", fmt.Errorf("crypto: key must be at most %d bytes", blake2b.Size)
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return "", err
	}
	_, _ = h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
