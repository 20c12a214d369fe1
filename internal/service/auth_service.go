package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-service/internal/email"
	"identity-service/internal/models"
	"identity-service/internal/otp"
	"identity-service/internal/password"
	repo "identity-service/internal/repository/postgres"
	cache "identity-service/internal/repository/redis"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

// attemptWindow caps how long failed-verification counters live.
const attemptWindow = time.Hour

// SignupRequest carries the fields required to create an account.
type SignupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

// VerificationStore holds pending email verification codes and their
// failed-attempt counters.
type VerificationStore interface {
	SetCode(ctx context.Context, email, codeHash string, ttl time.Duration) error
	GetCodeHash(ctx context.Context, email string) (string, error)
	DeleteCode(ctx context.Context, email string) error
	IncrementAttempts(ctx context.Context, email string, window time.Duration) (int, error)
	ResetAttempts(ctx context.Context, email string) error
}

var _ VerificationStore = (*cache.VerificationCache)(nil)

// AuthService orchestrates credential, verification and 2FA flows.
type AuthService struct {
	accounts repo.AccountRepository
	codes    VerificationStore
	hasher   *password.Hasher
	tokens   *token.Issuer
	totp     *otp.TOTP
	notifier email.Notifier
	events   EventPublisher
	codeTTL  time.Duration
	logger   *zap.Logger
}

func NewAuthService(
	accounts repo.AccountRepository,
	codes VerificationStore,
	hasher *password.Hasher,
	tokens *token.Issuer,
	totp *otp.TOTP,
	notifier email.Notifier,
	events EventPublisher,
	codeTTL time.Duration,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		accounts: accounts,
		codes:    codes,
		hasher:   hasher,
		tokens:   tokens,
		totp:     totp,
		notifier: notifier,
		events:   events,
		codeTTL:  codeTTL,
		logger:   logger,
	}
}

// Signup creates an account, issues a session token and dispatches a
// verification code. The token is usable immediately; email
// verification happens asynchronously from the client's perspective.
func (s *AuthService) Signup(ctx context.Context, req *SignupRequest) (*models.Account, string, error) {
	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		ID:           uuid.New(),
		Email:        req.Email,
		PasswordHash: passwordHash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PhoneNumber:  req.PhoneNumber,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("failed to create account: %w", err)
	}

	if err := s.issueVerificationCode(ctx, account.Email); err != nil {
		// The account exists; the client can request a resend.
		s.logger.Warn("failed to issue verification code on signup",
			util.String("email", account.Email),
			util.ErrorField(err))
	}

	signed, err := s.tokens.Issue(account.ID, account.Email, false, false)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	s.emit(account, models.EventAccountCreated)
	s.logger.Info("account created",
		util.String("account_id", account.ID.String()),
		util.String("email", account.Email))

	return account, signed, nil
}

// Signin verifies credentials and issues a session token. Unknown email
// and wrong password are indistinguishable to the caller.
func (s *AuthService) Signin(ctx context.Context, emailAddr, pass string) (*models.Account, string, error) {
	account, err := s.accounts.FindByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to look up account: %w", err)
	}

	ok, err := s.hasher.Verify(pass, account.PasswordHash)
	if err != nil || !ok {
		return nil, "", ErrInvalidCredentials
	}

	signed, err := s.tokens.Issue(account.ID, account.Email, account.TwoFactorOn, false)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	s.emit(account, models.EventAccountSignedIn)
	return account, signed, nil
}

// VerifyEmail consumes the pending verification code for an email and
// marks the account verified.
func (s *AuthService) VerifyEmail(ctx context.Context, emailAddr, code string) error {
	hash, err := s.codes.GetCodeHash(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, cache.ErrCodeNotFound) {
			return ErrCodeExpired
		}
		return fmt.Errorf("failed to read verification code: %w", err)
	}

	if !otp.CheckCode(code, hash) {
		if count, err := s.codes.IncrementAttempts(ctx, emailAddr, attemptWindow); err == nil {
			s.logger.Warn("verification code mismatch",
				util.String("email", emailAddr),
				util.Int("attempts", count))
		}
		return ErrInvalidCode
	}

	if err := s.accounts.MarkEmailVerified(ctx, emailAddr); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to mark email verified: %w", err)
	}

	// The code is single-use. If the consume fails the whole call fails;
	// a retry re-checks the still-present code and re-marks the account,
	// which is idempotent.
	if err := s.codes.DeleteCode(ctx, emailAddr); err != nil {
		return fmt.Errorf("failed to consume verification code: %w", err)
	}
	_ = s.codes.ResetAttempts(ctx, emailAddr)

	if account, err := s.accounts.FindByEmail(ctx, emailAddr); err == nil {
		s.emit(account, models.EventEmailVerified)
	}

	s.logger.Info("email verified", util.String("email", emailAddr))
	return nil
}

// ResendVerificationCode issues a fresh code, superseding any pending
// one. The account must exist.
func (s *AuthService) ResendVerificationCode(ctx context.Context, emailAddr string) error {
	exists, err := s.accounts.EmailExists(ctx, emailAddr)
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if !exists {
		return ErrAccountNotFound
	}
	return s.issueVerificationCode(ctx, emailAddr)
}

// IsEmailRegistered reports whether an account exists for the email.
func (s *AuthService) IsEmailRegistered(ctx context.Context, emailAddr string) (bool, error) {
	exists, err := s.accounts.EmailExists(ctx, emailAddr)
	if err != nil {
		return false, fmt.Errorf("failed to look up account: %w", err)
	}
	return exists, nil
}

// GenerateTwoFactorSecret enrolls a fresh TOTP secret for the account
// and returns the otpauth enrollment URI. The enabled flag is not
// touched; the caller must confirm with a valid code first.
func (s *AuthService) GenerateTwoFactorSecret(ctx context.Context, accountID uuid.UUID) (secret, uri string, err error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", "", ErrAccountNotFound
		}
		return "", "", fmt.Errorf("failed to look up account: %w", err)
	}

	secret, uri, err = s.totp.GenerateSecret(account.Email)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	if err := s.accounts.SetTwoFactorSecret(ctx, accountID, secret); err != nil {
		return "", "", fmt.Errorf("failed to store TOTP secret: %w", err)
	}
	return secret, uri, nil
}

// EnrollmentQRCode renders the otpauth URI as a PNG data URL.
func (s *AuthService) EnrollmentQRCode(uri string) (string, error) {
	return s.totp.EnrollmentImage(uri)
}

// IsTwoFactorCodeValid checks a TOTP code against the account's
// enrolled secret. Accounts without a secret always fail.
func (s *AuthService) IsTwoFactorCodeValid(ctx context.Context, accountID uuid.UUID, code string) (bool, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrAccountNotFound
		}
		return false, fmt.Errorf("failed to look up account: %w", err)
	}
	if account.TwoFactorSecret == "" {
		return false, nil
	}
	return s.totp.Validate(account.TwoFactorSecret, code), nil
}

// EnableTwoFactor flips the 2FA flag on. Callers validate the TOTP code
// before invoking this.
func (s *AuthService) EnableTwoFactor(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account.TwoFactorSecret == "" {
		return ErrTwoFactorNotEnrolled
	}

	if err := s.accounts.EnableTwoFactor(ctx, accountID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrTwoFactorNotEnrolled
		}
		return fmt.Errorf("failed to enable two-factor: %w", err)
	}

	s.emit(account, models.EventTwoFactorEnabled)
	return nil
}

// DisableTwoFactor flips the flag off and discards the secret.
func (s *AuthService) DisableTwoFactor(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to look up account: %w", err)
	}

	if err := s.accounts.DisableTwoFactor(ctx, accountID); err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}

	s.emit(account, models.EventTwoFactorDisabled)
	return nil
}

// IssueTwoFactorToken issues a session token marked 2FA-confirmed.
// Callers validate the TOTP code before invoking this.
func (s *AuthService) IssueTwoFactorToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("failed to look up account: %w", err)
	}

	signed, err := s.tokens.Issue(account.ID, account.Email, account.TwoFactorOn, true)
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}
	return signed, nil
}

// HealthCheck verifies the service's storage dependencies.
func (s *AuthService) HealthCheck(ctx context.Context) error {
	if err := s.accounts.HealthCheck(ctx); err != nil {
		return fmt.Errorf("account repository health check failed: %w", err)
	}
	return nil
}

func (s *AuthService) issueVerificationCode(ctx context.Context, emailAddr string) error {
	code, err := otp.GenerateNumericCode()
	if err != nil {
		return err
	}
	hash, err := otp.HashCode(code)
	if err != nil {
		return err
	}
	if err := s.codes.SetCode(ctx, emailAddr, hash, s.codeTTL); err != nil {
		return err
	}

	// Delivery must not block or fail the request.
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notifier.SendVerificationCode(sendCtx, emailAddr, code); err != nil {
			s.logger.Error("failed to send verification code",
				util.String("email", emailAddr),
				util.ErrorField(err))
		}
	}()

	return nil
}

func (s *AuthService) emit(account *models.Account, eventType string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.events.Publish(ctx, models.SecurityEvent{
			Type:       eventType,
			AccountID:  account.ID.String(),
			Email:      account.Email,
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("failed to publish security event",
				util.String("type", eventType),
				util.String("account_id", account.ID.String()),
				util.ErrorField(err))
		}
	}()
}
