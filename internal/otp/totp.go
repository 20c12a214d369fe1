package otp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const qrImageSize = 256

// TOTP generates and validates time-based one-time passwords for
// authenticator apps.
type TOTP struct {
	issuer string
}

func NewTOTP(issuer string) *TOTP {
	if strings.TrimSpace(issuer) == "" {
		issuer = "IdentityService"
	}
	return &TOTP{issuer: issuer}
}

// GenerateSecret creates a fresh secret for an account and returns the
// base32 secret plus the otpauth:// enrollment URI.
func (t *TOTP) GenerateSecret(accountEmail string) (secret, uri string, err error) {
	if strings.TrimSpace(accountEmail) == "" {
		return "", "", fmt.Errorf("account email cannot be empty")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountEmail,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		SecretSize:  20,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Validate checks code against the secret, allowing one period of clock
// drift on either side.
func (t *TOTP) Validate(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	valid, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// EnrollmentImage renders the otpauth URI as a PNG QR code and returns
// it as a data URL for direct embedding in a client.
func (t *TOTP) EnrollmentImage(uri string) (string, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", fmt.Errorf("invalid enrollment URI: %w", err)
	}

	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("failed to render QR code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
