package otp

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOTP_GenerateSecret(t *testing.T) {
	svc := NewTOTP("IdentityService")

	secret, uri, err := svc.GenerateSecret("user@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/"))
	assert.Contains(t, uri, "IdentityService")

	_, _, err = svc.GenerateSecret("")
	assert.Error(t, err)
}

func TestTOTP_Validate(t *testing.T) {
	svc := NewTOTP("IdentityService")

	secret, _, err := svc.GenerateSecret("user@example.com")
	require.NoError(t, err)

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)

	assert.True(t, svc.Validate(secret, code))
	assert.False(t, svc.Validate(secret, "000000"))
	assert.False(t, svc.Validate("", code))
	assert.False(t, svc.Validate(secret, ""))
}

func TestTOTP_ValidateAllowsClockDrift(t *testing.T) {
	svc := NewTOTP("IdentityService")

	secret, _, err := svc.GenerateSecret("user@example.com")
	require.NoError(t, err)

	// A code from the previous period still validates with skew 1.
	code, err := totp.GenerateCode(secret, time.Now().UTC().Add(-30*time.Second))
	require.NoError(t, err)
	assert.True(t, svc.Validate(secret, code))
}

func TestTOTP_ValidateRejectsOutsideWindow(t *testing.T) {
	svc := NewTOTP("IdentityService")

	secret, _, err := svc.GenerateSecret("user@example.com")
	require.NoError(t, err)

	// 90s is exactly three periods away, past the one-period skew in
	// both directions.
	for _, offset := range []time.Duration{-90 * time.Second, 90 * time.Second} {
		code, err := totp.GenerateCode(secret, time.Now().UTC().Add(offset))
		require.NoError(t, err)
		assert.False(t, svc.Validate(secret, code), "offset %s", offset)
	}
}

func TestTOTP_EnrollmentImage(t *testing.T) {
	svc := NewTOTP("IdentityService")

	_, uri, err := svc.GenerateSecret("user@example.com")
	require.NoError(t, err)

	dataURL, err := svc.EnrollmentImage(uri)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))

	_, err = svc.EnrollmentImage("://not-a-uri")
	assert.Error(t, err)
}
