package signing

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewCredentialShape(t *testing.T) {
	cred, err := newCredential(Config{}.withDefaults())
	require.NoError(t, err)
	require.Len(t, cred.token, 43)
	require.Len(t, cred.otp, 6)
	for _, r := range cred.otp {
		require.True(t, r >= '0' && r <= '9')
	}
}

func TestSignatureHashUsesKeyAndNonce(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first, err := signatureHash([]byte("key"), "res", "sig", at)
	require.NoError(t, err)
	second, err := signatureHash([]byte("key"), "res", "sig", at)
	require.NoError(t, err)

	require.Len(t, first, 64)
	require.NotEqual(t, first, second)
}

func TestSigningLink(t *testing.T) {
	link := signingLink("https://board.example.com/sign", "r 1", "s1", "tok-_")
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	require.Equal(t, "r 1", parsed.Query().Get("resolutionId"))
	require.Equal(t, "s1", parsed.Query().Get("signatoryId"))
	require.Equal(t, "tok-_", parsed.Query().Get("token"))

	require.Contains(t, signingLink("https://x.test/sign?lang=en", "r", "s", "t"), "?lang=en&resolutionId=r")
	require.Equal(t, "?resolutionId=r&signatoryId=s&token=t", signingLink("", "r", "s", "t"))
}

func TestNotificationMessage(t *testing.T) {
	msg := notificationMessage("Budget", "123456", "https://x.test/sign", 10*time.Minute)
	require.Contains(t, msg, `"Budget"`)
	require.Contains(t, msg, "code: 123456")
	require.Contains(t, msg, "10 minutes")
	require.Contains(t, msg, "https://x.test/sign")

	require.Contains(t, notificationMessage(" ", "123456", "l", time.Minute), "a board resolution")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{OTPDigits: 7, TokenBytes: 4}.withDefaults()
	require.Equal(t, 10*time.Minute, cfg.OTPTTL)
	require.Equal(t, 6, cfg.OTPDigits)
	require.Equal(t, 32, cfg.TokenBytes)
	require.Equal(t, 5*time.Second, cfg.StoreTimeout)
	require.Equal(t, 5, cfg.MaxAttempts)
}

func TestErrorClasses(t *testing.T) {
	require.ErrorIs(t, ErrCredentialConsumed, ErrConflict)
	require.ErrorIs(t, ErrCredentialConsumed, ErrInvalidCredential)
	require.ErrorIs(t, ErrSignatoryNotFound, ErrNotFound)
	require.False(t, errors.Is(ErrInvalidToken, ErrNotFound))

	wrapped := dependency("load", errors.New("boom"))
	require.True(t, IsDependency(wrapped))
	require.Equal(t, ErrInvalidToken, dependency("load", ErrInvalidToken))
	require.Nil(t, dependency("load", nil))
}

func TestNewVerifierRejectsLongKey(t *testing.T) {
	_, err := NewVerifier(nopStore{}, Config{SignatureKey: make([]byte, 65)})
	require.Error(t, err)
}

type nopStore struct{ Store }
