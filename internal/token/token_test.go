package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuer_IssueAndVerify(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour, "identity-service")
	accountID := uuid.New()

	signed, err := issuer.Issue(accountID, "user@example.com", true, false)
	require.NoError(t, err)

	claims, err := issuer.Verify(signed)
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", claims.Email)
	assert.True(t, claims.TwoFactorEnabled)
	assert.False(t, claims.TwoFactorAuthenticated)

	parsedID, err := claims.AccountID()
	require.NoError(t, err)
	assert.Equal(t, accountID, parsedID)
}

func TestIssuer_VerifyRejectsExpired(t *testing.T) {
	issuer := NewIssuer("test-secret", -2*time.Minute, "identity-service")

	signed, err := issuer.Issue(uuid.New(), "user@example.com", false, false)
	require.NoError(t, err)

	_, err = issuer.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_VerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour, "identity-service")
	other := NewIssuer("other-secret", time.Hour, "identity-service")

	signed, err := issuer.Issue(uuid.New(), "user@example.com", false, false)
	require.NoError(t, err)

	_, err = other.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_VerifyRejectsTampered(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour, "identity-service")

	signed, err := issuer.Issue(uuid.New(), "user@example.com", false, false)
	require.NoError(t, err)

	tampered := signed[:len(signed)-2] + "xx"
	_, err = issuer.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_VerifyRejectsGarbage(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour, "identity-service")

	for _, tok := range []string{"", "not.a.jwt", "a.b"} {
		_, err := issuer.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestIssuer_VerifyRejectsWrongIssuer(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour, "identity-service")
	other := NewIssuer("test-secret", time.Hour, "someone-else")

	signed, err := other.Issue(uuid.New(), "user@example.com", false, false)
	require.NoError(t, err)

	_, err = issuer.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
