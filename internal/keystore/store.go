// Package keystore manages the lifecycle of access keys: issuing, validating
// with lazy expiry, revoking, rotating and deleting.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdg-garage/number-info-api/internal/models"
	"github.com/sirupsen/logrus"
)

// MaxIssueAttempts bounds how many tokens Issue generates before giving up.
const MaxIssueAttempts = 5

// DefaultRotateDays is the validity of a rotated key when none is given.
const DefaultRotateDays = 30

// MaxDays is the longest validity a key can be issued with.
const MaxDays = 36500

// Repository persists access keys. Implementations must enforce uniqueness of
// Key at the storage layer and perform ExpireIfActive as a single conditional
// update.
type Repository interface {
	Insert(ctx context.Context, key *models.AccessKey) error
	FindByKey(ctx context.Context, key string) (*models.AccessKey, error)
	// ExpireIfActive sets active=false on an active key whose expiry is at or
	// before now. It reports whether this call changed the record.
	ExpireIfActive(ctx context.Context, key string, now time.Time) (bool, error)
	DeactivateByName(ctx context.Context, name string) (int64, error)
	DeleteByKey(ctx context.Context, key string) (int64, error)
	DeleteByName(ctx context.Context, name string) (int64, error)
	// List returns every record ordered by created_at, then key.
	List(ctx context.Context) ([]models.AccessKey, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// DeleteResult describes what Delete removed.
type DeleteResult struct {
	// ByKey is true when the target matched a key exactly.
	ByKey bool
	Count int64
}

type Store struct {
	repo     Repository
	now      func() time.Time
	newToken TokenGenerator
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTokenGenerator replaces NewToken.
func WithTokenGenerator(gen TokenGenerator) Option {
	return func(s *Store) { s.newToken = gen }
}

func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo:     repo,
		now:      time.Now,
		newToken: NewToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates an active key named name that expires days from now.
func (s *Store) Issue(ctx context.Context, name string, days int) (*models.AccessKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if days < 0 || days > MaxDays {
		return nil, ErrInvalidDuration
	}

	now := s.now().UTC()
	for attempt := 1; attempt <= MaxIssueAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}

		key := &models.AccessKey{
			Key:       token,
			Name:      name,
			CreatedAt: now,
			ExpiresAt: now.AddDate(0, 0, days),
			Active:    true,
		}
		err = s.repo.Insert(ctx, key)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrDuplicateKey) {
			return nil, fmt.Errorf("insert key: %w", err)
		}
		logrus.WithField("attempt", attempt).Warn("Generated access key collided, retrying")
	}

	return nil, ErrKeyGenerationExhausted
}

// Validate returns the record for token if it is usable. An active key found
// past its expiry is deactivated before ErrExpired is returned.
func (s *Store) Validate(ctx context.Context, token string) (*models.AccessKey, error) {
	key, err := s.repo.FindByKey(ctx, token)
	if err != nil {
		return nil, err
	}
	if !key.Active {
		return nil, ErrInactive
	}

	now := s.now().UTC()
	if key.Expired(now) {
		changed, err := s.repo.ExpireIfActive(ctx, token, now)
		if err != nil {
			return nil, fmt.Errorf("expire key: %w", err)
		}
		if changed {
			logrus.WithField("name", key.Name).Info("Access key expired")
		}
		return nil, ErrExpired
	}

	return key, nil
}

// Revoke deactivates every active key named name.
func (s *Store) Revoke(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrInvalidName
	}
	return s.repo.DeactivateByName(ctx, name)
}

// Rotate revokes the keys named name and issues a replacement.
func (s *Store) Rotate(ctx context.Context, name string, days int) (*models.AccessKey, int64, error) {
	if days < 0 || days > MaxDays {
		return nil, 0, ErrInvalidDuration
	}
	revoked, err := s.Revoke(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	key, err := s.Issue(ctx, name, days)
	if err != nil {
		return nil, revoked, err
	}
	return key, revoked, nil
}

// Delete removes the key equal to target or, when there is none, every key
// named target.
func (s *Store) Delete(ctx context.Context, target string) (DeleteResult, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return DeleteResult{}, ErrInvalidName
	}

	n, err := s.repo.DeleteByKey(ctx, target)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete by key: %w", err)
	}
	if n > 0 {
		return DeleteResult{ByKey: true, Count: n}, nil
	}

	n, err = s.repo.DeleteByName(ctx, target)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete by name: %w", err)
	}
	return DeleteResult{Count: n}, nil
}

// List returns every key with display timestamps.
func (s *Store) List(ctx context.Context) ([]models.AccessKeyListing, error) {
	keys, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.AccessKeyListing, 0, len(keys))
	for i := range keys {
		out = append(out, keys[i].Listing())
	}
	return out, nil
}
