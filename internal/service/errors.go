package service

import "errors"

var (
	// ErrEmailTaken means the signup email already has an account.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials covers both unknown email and wrong password
	// so signin responses never reveal which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidCode means a verification code was present but wrong.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrCodeExpired means no active verification code exists for the email.
	ErrCodeExpired = errors.New("verification code expired")

	// ErrAccountNotFound means the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTwoFactorNotEnrolled means a 2FA operation requires an enrolled
	// secret that the account does not have.
	ErrTwoFactorNotEnrolled = errors.New("two-factor authentication not enrolled")

	// ErrInvalidInput marks request-level validation failures.
	ErrInvalidInput = errors.New("invalid input")
)
