package models

import "time"

// Security event types published to the event stream.
const (
	EventAccountCreated    = "account.created"
	EventAccountSignedIn   = "account.signed_in"
	EventEmailVerified     = "account.email_verified"
	EventTwoFactorEnabled  = "account.2fa_enabled"
	EventTwoFactorDisabled = "account.2fa_disabled"
)

// SecurityEvent is the payload emitted for auth lifecycle changes.
// Delivery is best-effort; the auth flow never fails on a publish error.
type SecurityEvent struct {
	Type       string    `json:"type"`
	AccountID  string    `json:"account_id"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}
