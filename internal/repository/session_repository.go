package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionRepository provides persistence APIs for sessions.
type SessionRepository struct {
	db *gorm.DB
	retrier
}

// NewSessionRepository creates a new repository instance.
func NewSessionRepository(db *gorm.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{db: db, retrier: newRetrier(logger.Named("session_repository"))}
}

// Create inserts a session. A token collision returns ErrDuplicate.
func (r *SessionRepository) Create(ctx context.Context, session *Session) error {
	return translateError(r.db.WithContext(ctx).Create(session).Error)
}

// FindByToken loads the session with the given token regardless of expiry.
func (r *SessionRepository) FindByToken(ctx context.Context, token string) (*Session, error) {
	var session Session
	err := r.executeWithRetry(ctx, "repository.find_session", "", func() error {
		return translateError(r.db.WithContext(ctx).First(&session, "session_token = ?", token).Error)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteByToken removes the session with the given token and reports
// whether a row existed.
func (r *SessionRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	var affected int64
	err := r.executeWithRetry(ctx, "repository.delete_session", "", func() error {
		res := r.db.WithContext(ctx).Where("session_token = ?", token).Delete(&Session{})
		if res.Error != nil {
			return translateError(res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteExpired removes sessions whose expiration is at or before cutoff.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := r.executeWithRetry(ctx, "repository.delete_expired_sessions", "", func() error {
		res := r.db.WithContext(ctx).Where("expiration <= ?", cutoff).Delete(&Session{})
		if res.Error != nil {
			return translateError(res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	return affected, err
}
