package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"identity-service/internal/client"
	"identity-service/internal/util"
)

const (
	verifyPrefix        = "verify:"
	verifyAttemptPrefix = "verify_attempts:"
)

// ErrCodeNotFound means no verification code is stored for the email,
// either because none was issued or because the TTL elapsed.
var ErrCodeNotFound = errors.New("verification code not found")

// VerificationCache stores hashed email verification codes in Redis.
// Only the bcrypt hash of a code is ever stored; the TTL is the single
// source of truth for expiry.
type VerificationCache struct {
	client *client.RedisClient
}

func NewVerificationCache(client *client.RedisClient) *VerificationCache {
	return &VerificationCache{client: client}
}

// SetCode stores the hash for an email, replacing any previous code.
func (c *VerificationCache) SetCode(ctx context.Context, email, codeHash string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := verifyPrefix + email
	if err := c.client.Set(ctx, key, codeHash, ttl); err != nil {
		util.Error("failed to cache verification code",
			util.String("email", email),
			util.Duration("ttl", ttl),
			util.ErrorField(err))
		return fmt.Errorf("failed to cache verification code: %w", err)
	}
	util.Debug("verification code cached",
		util.String("email", email),
		util.Duration("ttl", ttl))
	return nil
}

// GetCodeHash returns the stored hash, or ErrCodeNotFound if none exists.
func (c *VerificationCache) GetCodeHash(ctx context.Context, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := verifyPrefix + email
	hash, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", ErrCodeNotFound
		}
		util.Error("failed to get verification code",
			util.String("email", email),
			util.ErrorField(err))
		return "", fmt.Errorf("failed to get verification code: %w", err)
	}
	return hash, nil
}

// DeleteCode consumes the code so it cannot be replayed.
func (c *VerificationCache) DeleteCode(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := verifyPrefix + email
	if err := c.client.Del(ctx, key); err != nil {
		util.Error("failed to delete verification code",
			util.String("email", email),
			util.ErrorField(err))
		return fmt.Errorf("failed to delete verification code: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the per-email failed attempt counter,
// refreshing its TTL on each call.
func (c *VerificationCache) IncrementAttempts(ctx context.Context, email string, ttl time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := verifyAttemptPrefix + email
	count, err := c.client.IncrWithExpire(ctx, key, ttl)
	if err != nil {
		util.Error("failed to increment verification attempts",
			util.String("email", email),
			util.ErrorField(err))
		return 0, fmt.Errorf("failed to increment verification attempts: %w", err)
	}
	return int(count), nil
}

// ResetAttempts clears the failure counter after a successful verification.
func (c *VerificationCache) ResetAttempts(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := verifyAttemptPrefix + email
	if err := c.client.Del(ctx, key); err != nil {
		return fmt.Errorf("failed to reset verification attempts: %w", err)
	}
	return nil
}

// CodeTTL reports the remaining lifetime of a pending code.
func (c *VerificationCache) CodeTTL(ctx context.Context, email string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := verifyPrefix + email
	ttl, err := c.client.TTL(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to get verification code TTL: %w", err)
	}
	return ttl, nil
}
