package repository

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserWriter is the set of user writes allowed inside a transaction.
type UserWriter interface {
	Create(ctx context.Context, user *User) error
	Save(ctx context.Context, user *User) error
}

// UserRepository provides persistence APIs for users.
type UserRepository struct {
	db *gorm.DB
	retrier
}

// NewUserRepository creates a new repository instance.
func NewUserRepository(db *gorm.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, retrier: newRetrier(logger.Named("user_repository"))}
}

// FindByNaturalKey loads the user with the given key, compared case-insensitively.
func (r *UserRepository) FindByNaturalKey(ctx context.Context, key NaturalKey) (*User, error) {
	n := key.Normalized()
	var user User
	err := r.executeWithRetry(ctx, "repository.find_user_by_key", "", func() error {
		return translateError(r.db.WithContext(ctx).
			First(&user, "student_id_key = ? AND matriculation_key = ?", n.StudentID, n.MatriculationNumber).Error)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID loads a user by primary key.
func (r *UserRepository) FindByID(ctx context.Context, id uint) (*User, error) {
	var user User
	err := r.executeWithRetry(ctx, "repository.find_user_by_id", "", func() error {
		return translateError(r.db.WithContext(ctx).First(&user, id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Transaction runs fn in a database transaction. The transaction commits
// when fn returns nil and rolls back otherwise; fn's error is returned as is.
func (r *UserRepository) Transaction(ctx context.Context, fn func(tx UserWriter) error) error {
	return translateError(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&userTx{tx: tx})
	}))
}

type userTx struct {
	tx *gorm.DB
}

func (t *userTx) Create(ctx context.Context, user *User) error {
	return translateError(t.tx.WithContext(ctx).Omit(clause.Associations).Create(user).Error)
}

func (t *userTx) Save(ctx context.Context, user *User) error {
	return translateError(t.tx.WithContext(ctx).Omit(clause.Associations).Save(user).Error)
}
