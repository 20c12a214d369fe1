package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"identity-service/internal/models"
)

var (
	// ErrNotFound is returned when no account matches the lookup key.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateEmail is the translated unique-constraint violation on email.
	ErrDuplicateEmail = errors.New("email already registered")
)

// AccountRepository exposes only the keyed operations the orchestrator needs.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	MarkEmailVerified(ctx context.Context, email string) error
	SetTwoFactorSecret(ctx context.Context, id uuid.UUID, secret string) error
	EnableTwoFactor(ctx context.Context, id uuid.UUID) error
	DisableTwoFactor(ctx context.Context, id uuid.UUID) error
	UpdateProfile(ctx context.Context, id uuid.UUID, update *models.ProfileUpdate) (*models.Account, error)
	HealthCheck(ctx context.Context) error
}
