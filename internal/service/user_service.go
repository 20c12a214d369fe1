package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-service/internal/models"
	repo "identity-service/internal/repository/postgres"
	"identity-service/internal/util"
)

// UserService handles profile reads and edits.
type UserService struct {
	accounts repo.AccountRepository
	logger   *zap.Logger
}

func NewUserService(accounts repo.AccountRepository, logger *zap.Logger) *UserService {
	return &UserService{accounts: accounts, logger: logger}
}

// Profile returns the account for the given ID.
func (s *UserService) Profile(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	return account, nil
}

// UpdateProfile applies a partial profile edit and returns the updated
// account. An empty update is a no-op read.
func (s *UserService) UpdateProfile(ctx context.Context, accountID uuid.UUID, update *models.ProfileUpdate) (*models.Account, error) {
	if update.Empty() {
		return s.Profile(ctx, accountID)
	}

	account, err := s.accounts.UpdateProfile(ctx, accountID, update)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	s.logger.Info("profile updated",
		util.String("account_id", accountID.String()))
	return account, nil
}
