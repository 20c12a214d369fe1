package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"identity-service/internal/models"
	"identity-service/internal/util"
)

var _ AccountRepository = (*PgAccountRepository)(nil)

const uniqueViolation = "23505"

const accountColumns = `id, email, password_hash, first_name, last_name, phone_number,
	email_verified, two_factor_on, two_factor_secret, created_at, updated_at`

// PgAccountRepository is the Postgres-backed AccountRepository.
type PgAccountRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAccountRepository(db *sql.DB, logger *zap.Logger) *PgAccountRepository {
	return &PgAccountRepository{db: db, logger: logger}
}

func (r *PgAccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (id, email, password_hash, first_name, last_name, phone_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		account.ID, account.Email, account.PasswordHash,
		account.FirstName, account.LastName, account.PhoneNumber,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		r.logger.Error("failed to insert account", util.ErrorField(err))
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PgAccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return r.scanAccount(r.db.QueryRowContext(ctx, query, email))
}

func (r *PgAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *PgAccountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PgAccountRepository) MarkEmailVerified(ctx context.Context, email string) error {
	return r.exec(ctx,
		`UPDATE accounts SET email_verified = TRUE, updated_at = NOW() WHERE email = $1`, email)
}

func (r *PgAccountRepository) SetTwoFactorSecret(ctx context.Context, id uuid.UUID, secret string) error {
	return r.exec(ctx,
		`UPDATE accounts SET two_factor_secret = $2, updated_at = NOW() WHERE id = $1`, id, secret)
}

func (r *PgAccountRepository) EnableTwoFactor(ctx context.Context, id uuid.UUID) error {
	// The secret must already be enrolled; the schema check enforces it.
	return r.exec(ctx,
		`UPDATE accounts SET two_factor_on = TRUE, updated_at = NOW()
		 WHERE id = $1 AND two_factor_secret IS NOT NULL`, id)
}

func (r *PgAccountRepository) DisableTwoFactor(ctx context.Context, id uuid.UUID) error {
	// Flag and secret are cleared in one statement so the invariant
	// "enabled implies secret present" can never be observed broken.
	return r.exec(ctx,
		`UPDATE accounts SET two_factor_on = FALSE, two_factor_secret = NULL, updated_at = NOW()
		 WHERE id = $1`, id)
}

func (r *PgAccountRepository) UpdateProfile(ctx context.Context, id uuid.UUID, update *models.ProfileUpdate) (*models.Account, error) {
	query := `
		UPDATE accounts SET
			first_name   = COALESCE($2::text, first_name),
			last_name    = COALESCE($3::text, last_name),
			phone_number = COALESCE($4::text, phone_number),
			updated_at   = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns

	return r.scanAccount(r.db.QueryRowContext(ctx, query,
		id, update.FirstName, update.LastName, update.PhoneNumber))
}

func (r *PgAccountRepository) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.db.PingContext(ctx); err != nil {
		r.logger.Error("postgres health check failed", util.ErrorField(err))
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (r *PgAccountRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgAccountRepository) scanAccount(row *sql.Row) (*models.Account, error) {
	account := &models.Account{}
	var secret sql.NullString
	err := row.Scan(
		&account.ID, &account.Email, &account.PasswordHash,
		&account.FirstName, &account.LastName, &account.PhoneNumber,
		&account.EmailVerified, &account.TwoFactorOn, &secret,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	account.TwoFactorSecret = secret.String
	return account, nil
}
