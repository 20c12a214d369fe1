package models

import (
	"time"

	"github.com/google/uuid"
)

// Account is the identity record. The two-factor secret is only present
// while 2FA is enrolled; disabling 2FA clears it together with the flag.
type Account struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	PhoneNumber     string    `json:"phone_number"`
	EmailVerified   bool      `json:"email_verified"`
	TwoFactorOn     bool      `json:"two_factor_enabled"`
	TwoFactorSecret string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ProfileUpdate carries the optional fields of a partial profile edit.
// Nil pointers leave the stored value untouched.
type ProfileUpdate struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
}

func (p *ProfileUpdate) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.PhoneNumber == nil
}
