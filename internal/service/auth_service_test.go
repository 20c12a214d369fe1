package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"identity-service/internal/client"
	"identity-service/internal/models"
	"identity-service/internal/otp"
	"identity-service/internal/password"
	repo "identity-service/internal/repository/postgres"
	cache "identity-service/internal/repository/redis"
	"identity-service/internal/token"
)

// fakeAccountRepository is an in-memory AccountRepository.
type fakeAccountRepository struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
}

func newFakeAccountRepository() *fakeAccountRepository {
	return &fakeAccountRepository{accounts: make(map[uuid.UUID]*models.Account)}
}

func (f *fakeAccountRepository) Create(_ context.Context, account *models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == account.Email {
			return repo.ErrDuplicateEmail
		}
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	clone := *account
	f.accounts[account.ID] = &clone
	return nil
}

func (f *fakeAccountRepository) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == email {
			clone := *a
			return &clone, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeAccountRepository) FindByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (f *fakeAccountRepository) EmailExists(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccountRepository) MarkEmailVerified(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == email {
			a.EmailVerified = true
			return nil
		}
	}
	return repo.ErrNotFound
}

func (f *fakeAccountRepository) SetTwoFactorSecret(_ context.Context, id uuid.UUID, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return repo.ErrNotFound
	}
	a.TwoFactorSecret = secret
	return nil
}

func (f *fakeAccountRepository) EnableTwoFactor(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok || a.TwoFactorSecret == "" {
		return repo.ErrNotFound
	}
	a.TwoFactorOn = true
	return nil
}

func (f *fakeAccountRepository) DisableTwoFactor(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return repo.ErrNotFound
	}
	a.TwoFactorOn = false
	a.TwoFactorSecret = ""
	return nil
}

func (f *fakeAccountRepository) UpdateProfile(_ context.Context, id uuid.UUID, update *models.ProfileUpdate) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if update.FirstName != nil {
		a.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		a.LastName = *update.LastName
	}
	if update.PhoneNumber != nil {
		a.PhoneNumber = *update.PhoneNumber
	}
	a.UpdatedAt = time.Now().UTC()
	clone := *a
	return &clone, nil
}

func (f *fakeAccountRepository) HealthCheck(_ context.Context) error { return nil }

// captureNotifier records codes handed to it.
type captureNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{codes: make(map[string]string)}
}

func (n *captureNotifier) SendVerificationCode(_ context.Context, to, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[to] = code
	return nil
}

func (n *captureNotifier) codeFor(to string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[to]
}

// failingDeleteStore fails DeleteCode while the fail flag is set and
// delegates everything else.
type failingDeleteStore struct {
	VerificationStore
	mu   sync.Mutex
	fail bool
}

func (s *failingDeleteStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *failingDeleteStore) DeleteCode(ctx context.Context, email string) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("connection refused")
	}
	return s.VerificationStore.DeleteCode(ctx, email)
}

type authFixture struct {
	svc      *AuthService
	repo     *fakeAccountRepository
	notifier *captureNotifier
	tokens   *token.Issuer
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	accounts := newFakeAccountRepository()
	notifier := newCaptureNotifier()
	tokens := token.NewIssuer("test-secret", time.Hour, "identity-service")

	svc := NewAuthService(
		accounts,
		cache.NewVerificationCache(rc),
		password.NewHasher(),
		tokens,
		otp.NewTOTP("IdentityService"),
		notifier,
		NopEventPublisher{},
		10*time.Minute,
		zap.NewNop(),
	)
	return &authFixture{svc: svc, repo: accounts, notifier: notifier, tokens: tokens}
}

func (fx *authFixture) signup(t *testing.T, emailAddr string) *models.Account {
	t.Helper()
	account, signed, err := fx.svc.Signup(context.Background(), &SignupRequest{
		Email:     emailAddr,
		Password:  "long-enough-password",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	require.NotEmpty(t, signed)
	return account
}

// waitForCode waits for the fire-and-forget email dispatch.
func (fx *authFixture) waitForCode(t *testing.T, emailAddr string) string {
	t.Helper()
	require.Eventually(t, func() bool {
		return fx.notifier.codeFor(emailAddr) != ""
	}, 2*time.Second, 10*time.Millisecond)
	return fx.notifier.codeFor(emailAddr)
}

func TestSignup(t *testing.T) {
	fx := newAuthFixture(t)

	account, signed, err := fx.svc.Signup(context.Background(), &SignupRequest{
		Email:    "ada@example.com",
		Password: "long-enough-password",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, account.ID)
	assert.False(t, account.EmailVerified)
	assert.NotEqual(t, "long-enough-password", account.PasswordHash)

	claims, err := fx.tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.False(t, claims.TwoFactorEnabled)
	assert.False(t, claims.TwoFactorAuthenticated)
}

func TestSignup_DuplicateEmail(t *testing.T) {
	fx := newAuthFixture(t)
	fx.signup(t, "ada@example.com")

	_, _, err := fx.svc.Signup(context.Background(), &SignupRequest{
		Email:    "ada@example.com",
		Password: "another-password-entirely",
	})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignin(t *testing.T) {
	fx := newAuthFixture(t)
	fx.signup(t, "ada@example.com")

	account, signed, err := fx.svc.Signin(context.Background(), "ada@example.com", "long-enough-password")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", account.Email)

	claims, err := fx.tokens.Verify(signed)
	require.NoError(t, err)
	assert.False(t, claims.TwoFactorAuthenticated)
}

func TestSignin_UnknownEmailAndWrongPasswordIndistinguishable(t *testing.T) {
	fx := newAuthFixture(t)
	fx.signup(t, "ada@example.com")

	_, _, errUnknown := fx.svc.Signin(context.Background(), "nobody@example.com", "long-enough-password")
	_, _, errWrong := fx.svc.Signin(context.Background(), "ada@example.com", "wrong-password-here")

	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestVerifyEmail(t *testing.T) {
	fx := newAuthFixture(t)
	fx.signup(t, "ada@example.com")
	code := fx.waitForCode(t, "ada@example.com")

	require.NoError(t, fx.svc.VerifyEmail(context.Background(), "ada@example.com", code))

	account, err := fx.repo.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.True(t, account.EmailVerified)
}

func TestVerifyEmail_WrongCode(t *testing.T) {
	fx := newAuthFixture(t)
	fx.signup(t, "ada@example.com")
	code := fx.waitForCode(t, "ada@example.com")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	err := fx.svc.VerifyEmail(context.Background(), "ada@example.com", wrong)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestVerifyEmail_NoActiveCode(t *testing.T) {
	fx := newAuthFixture(t)
	fx.signup(t, "ada@example.com")
	fx.waitForCode(t, "ada@example.com")

	err := fx.svc.VerifyEmail(context.Background(), "other@example.com", "123456")
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestVerifyEmail_CodeConsumedOnce(t *testing.T) {
	fx := newAuthFixture(t)
	fx.signup(t, "ada@example.com")
	code := fx.waitForCode(t, "ada@example.com")

	require.NoError(t, fx.svc.VerifyEmail(context.Background(), "ada@example.com", code))

	err := fx.svc.VerifyEmail(context.Background(), "ada@example.com", code)
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestVerifyEmail_ConsumeFailurePropagates(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(mr.Addr())
	t.Cleanup(func() { _ = rc.Close() })

	store := &failingDeleteStore{VerificationStore: cache.NewVerificationCache(rc), fail: true}
	accounts := newFakeAccountRepository()
	notifier := newCaptureNotifier()
	svc := NewAuthService(
		accounts,
		store,
		password.NewHasher(),
		token.NewIssuer("test-secret", time.Hour, "identity-service"),
		otp.NewTOTP("IdentityService"),
		notifier,
		NopEventPublisher{},
		10*time.Minute,
		zap.NewNop(),
	)

	_, _, err := svc.Signup(context.Background(), &SignupRequest{
		Email:    "ada@example.com",
		Password: "long-enough-password",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return notifier.codeFor("ada@example.com") != ""
	}, 2*time.Second, 10*time.Millisecond)
	code := notifier.codeFor("ada@example.com")

	// A code that cannot be consumed must not verify.
	require.Error(t, svc.VerifyEmail(context.Background(), "ada@example.com", code))

	// Once the store recovers, the still-pending code verifies.
	store.setFail(false)
	require.NoError(t, svc.VerifyEmail(context.Background(), "ada@example.com", code))
}

func TestResendVerificationCode_Supersedes(t *testing.T) {
	fx := newAuthFixture(t)
	fx.signup(t, "ada@example.com")
	first := fx.waitForCode(t, "ada@example.com")

	require.NoError(t, fx.svc.ResendVerificationCode(context.Background(), "ada@example.com"))
	require.Eventually(t, func() bool {
		return fx.notifier.codeFor("ada@example.com") != first
	}, 2*time.Second, 10*time.Millisecond)
	second := fx.notifier.codeFor("ada@example.com")

	// The superseded code no longer verifies.
	err := fx.svc.VerifyEmail(context.Background(), "ada@example.com", first)
	assert.ErrorIs(t, err, ErrInvalidCode)

	require.NoError(t, fx.svc.VerifyEmail(context.Background(), "ada@example.com", second))
}

func TestResendVerificationCode_UnknownAccount(t *testing.T) {
	fx := newAuthFixture(t)

	err := fx.svc.ResendVerificationCode(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestIsEmailRegistered(t *testing.T) {
	fx := newAuthFixture(t)
	fx.signup(t, "ada@example.com")

	registered, err := fx.svc.IsEmailRegistered(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.True(t, registered)

	registered, err = fx.svc.IsEmailRegistered(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, registered)
}

func TestTwoFactorLifecycle(t *testing.T) {
	fx := newAuthFixture(t)
	account := fx.signup(t, "ada@example.com")
	ctx := context.Background()

	// No secret enrolled yet: every code fails.
	valid, err := fx.svc.IsTwoFactorCodeValid(ctx, account.ID, "123456")
	require.NoError(t, err)
	assert.False(t, valid)

	secret, uri, err := fx.svc.GenerateTwoFactorSecret(ctx, account.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.Contains(t, uri, "otpauth://totp/")

	code, err := totp.GenerateCode(secret, time.Now().UTC())
	require.NoError(t, err)

	valid, err = fx.svc.IsTwoFactorCodeValid(ctx, account.ID, code)
	require.NoError(t, err)
	assert.True(t, valid)

	require.NoError(t, fx.svc.EnableTwoFactor(ctx, account.ID))

	stored, err := fx.repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, stored.TwoFactorOn)
	assert.Equal(t, secret, stored.TwoFactorSecret)

	// Signin tokens now carry the enabled flag but are not 2FA-confirmed.
	_, signed, err := fx.svc.Signin(ctx, "ada@example.com", "long-enough-password")
	require.NoError(t, err)
	claims, err := fx.tokens.Verify(signed)
	require.NoError(t, err)
	assert.True(t, claims.TwoFactorEnabled)
	assert.False(t, claims.TwoFactorAuthenticated)

	confirmed, err := fx.svc.IssueTwoFactorToken(ctx, account.ID)
	require.NoError(t, err)
	claims, err = fx.tokens.Verify(confirmed)
	require.NoError(t, err)
	assert.True(t, claims.TwoFactorAuthenticated)

	// Disabling clears flag and secret together.
	require.NoError(t, fx.svc.DisableTwoFactor(ctx, account.ID))
	stored, err = fx.repo.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, stored.TwoFactorOn)
	assert.Empty(t, stored.TwoFactorSecret)

	valid, err = fx.svc.IsTwoFactorCodeValid(ctx, account.ID, code)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestEnableTwoFactor_WithoutEnrollment(t *testing.T) {
	fx := newAuthFixture(t)
	account := fx.signup(t, "ada@example.com")

	err := fx.svc.EnableTwoFactor(context.Background(), account.ID)
	assert.ErrorIs(t, err, ErrTwoFactorNotEnrolled)
}

func TestEnableTwoFactor_UnknownAccount(t *testing.T) {
	fx := newAuthFixture(t)

	err := fx.svc.EnableTwoFactor(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestEnrollmentQRCode(t *testing.T) {
	fx := newAuthFixture(t)
	account := fx.signup(t, "ada@example.com")

	_, uri, err := fx.svc.GenerateTwoFactorSecret(context.Background(), account.ID)
	require.NoError(t, err)

	qr, err := fx.svc.EnrollmentQRCode(uri)
	require.NoError(t, err)
	assert.Contains(t, qr, "data:image/png;base64,")
}
