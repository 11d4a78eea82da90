// Package session issues, validates and revokes opaque bearer tokens.
//
// The relational store is authoritative. An optional cache holds
// token -> {user, expiry} for at most the remaining lifetime of a session;
// cache read failures fall back to the store.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-auth/internal/autherr"
	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/repository"
)

// DefaultTTL is the lifetime of an issued session.
const DefaultTTL = 120 * time.Second

const cacheKeyPrefix = "session:"

// Repository is the session persistence used by the issuer.
type Repository interface {
	Create(ctx context.Context, session *repository.Session) error
	FindByToken(ctx context.Context, token string) (*repository.Session, error)
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserLookup resolves the owner of a session.
type UserLookup interface {
	FindByID(ctx context.Context, id uint) (*repository.User, error)
}

// Issued is a freshly minted session.
type Issued struct {
	Token     string
	UserID    uint
	ExpiresAt time.Time
}

type cachedSession struct {
	UserID    uint      `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer implements the session lifecycle.
type Issuer struct {
	repo           Repository
	users          UserLookup
	cache          Cache
	logger         *zap.Logger
	ttl            time.Duration
	now            func() time.Time
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option customises an Issuer.
type Option func(*Issuer)

// WithCache enables the read-through cache.
func WithCache(cache Cache) Option {
	return func(i *Issuer) { i.cache = cache }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer constructs a new issuer.
func NewIssuer(repo Repository, users UserLookup, logger *zap.Logger, opts ...Option) *Issuer {
	i := &Issuer{
		repo:           repo,
		users:          users,
		logger:         logger.Named("session_issuer"),
		ttl:            DefaultTTL,
		now:            time.Now,
		retryAttempts:  3,
		initialBackoff: 20 * time.Millisecond,
		maxBackoff:     200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue creates a session for userID with the default lifetime.
func (i *Issuer) Issue(ctx context.Context, userID uint) (*Issued, error) {
	return i.IssueWithTTL(ctx, userID, i.ttl)
}

// IssueWithTTL creates a session for userID that expires after ttl.
// A token collision is reported as an integrity violation and never retried.
func (i *Issuer) IssueWithTTL(ctx context.Context, userID uint, ttl time.Duration) (*Issued, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, logging.NewOperationError("session.issue", "", err)
	}
	now := i.now().UTC()
	s := &repository.Session{
		UserID:     userID,
		Token:      token,
		CreatedAt:  now,
		UpdatedAt:  now,
		Expiration: now.Add(ttl),
	}
	if err := i.repo.Create(ctx, s); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			i.logger.Error("session token collision", zap.Uint("user_id", userID))
			return nil, autherr.Wrap(autherr.KindIntegrityViolation, "session token collision", err)
		}
		return nil, logging.NewOperationError("session.issue", "", err)
	}
	i.store(ctx, token, cachedSession{UserID: userID, ExpiresAt: s.Expiration}, now)

	return &Issued{Token: token, UserID: userID, ExpiresAt: s.Expiration}, nil
}

// Validate reports whether token belongs to a live session. Unknown and
// expired tokens both yield false.
func (i *Issuer) Validate(ctx context.Context, token string) (bool, error) {
	_, ok, err := i.lookup(ctx, token)
	return ok, err
}

// ResolveUser returns the owner of a live session.
func (i *Issuer) ResolveUser(ctx context.Context, token string) (*repository.User, error) {
	s, ok, err := i.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, autherr.New(autherr.KindNotAuthenticated, "not authenticated")
	}
	user, err := i.users.FindByID(ctx, s.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, autherr.New(autherr.KindNotAuthenticated, "not authenticated")
	}
	if err != nil {
		return nil, logging.NewOperationError("session.resolve_user", "", err)
	}
	return user, nil
}

// Invalidate deletes the session for token and reports whether one existed.
// An empty token is not an error.
func (i *Issuer) Invalidate(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	removed, err := i.repo.DeleteByToken(ctx, token)
	if err != nil {
		return false, logging.NewOperationError("session.invalidate", "", err)
	}
	if i.cache != nil {
		key := cacheKeyPrefix + token
		if err := i.withCacheRetry(ctx, "cache.del.session", func() error {
			return i.cache.Del(ctx, key)
		}); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// PurgeExpired deletes every session that has expired.
func (i *Issuer) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := i.repo.DeleteExpired(ctx, i.now().UTC())
	if err != nil {
		return 0, logging.NewOperationError("session.purge_expired", "", err)
	}
	return n, nil
}

// RunJanitor purges expired sessions every interval until ctx is done.
func (i *Issuer) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := i.PurgeExpired(ctx)
			if err != nil {
				i.logger.Warn("failed to purge expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				i.logger.Info("purged expired sessions", zap.Int64("count", n))
			}
		}
	}
}

func (i *Issuer) lookup(ctx context.Context, token string) (cachedSession, bool, error) {
	if token == "" {
		return cachedSession{}, false, nil
	}
	now := i.now().UTC()

	if s, ok := i.load(ctx, token); ok {
		return s, now.Before(s.ExpiresAt), nil
	}

	row, err := i.repo.FindByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return cachedSession{}, false, nil
	}
	if err != nil {
		return cachedSession{}, false, logging.NewOperationError("session.lookup", "", err)
	}
	if !row.Live(now) {
		return cachedSession{}, false, nil
	}
	s := cachedSession{UserID: row.UserID, ExpiresAt: row.Expiration.UTC()}
	i.store(ctx, token, s, now)
	return s, true, nil
}

// load reads a cached session. Any failure counts as a miss.
func (i *Issuer) load(ctx context.Context, token string) (cachedSession, bool) {
	if i.cache == nil {
		return cachedSession{}, false
	}
	var raw string
	err := i.withCacheRetry(ctx, "cache.get.session", func() error {
		v, err := i.cache.Get(ctx, cacheKeyPrefix+token)
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			i.logger.Warn("failed to read session cache", zap.Error(err))
		}
		return cachedSession{}, false
	}
	var s cachedSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		i.logger.Warn("failed to decode cached session", zap.Error(err))
		return cachedSession{}, false
	}
	return s, true
}

// store caches s for its remaining lifetime. Failures are logged only.
func (i *Issuer) store(ctx context.Context, token string, s cachedSession, now time.Time) {
	if i.cache == nil {
		return
	}
	remaining := s.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return
	}
	payload, err := json.Marshal(s)
	if err != nil {
		i.logger.Warn("failed to encode session for cache", zap.Error(err))
		return
	}
	if err := i.withCacheRetry(ctx, "cache.set.session", func() error {
		return i.cache.Set(ctx, cacheKeyPrefix+token, string(payload), remaining)
	}); err != nil {
		i.logger.Warn("failed to cache session", zap.Error(err))
	}
}
