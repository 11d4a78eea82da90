package repository

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MetricsAggregation is the raw aggregate over the verification log.
type MetricsAggregation struct {
	TotalCount     int64
	SuccessCount   int64
	AverageMatches float64
}

// VerificationRepository provides persistence APIs for verification logs.
type VerificationRepository struct {
	db *gorm.DB
	retrier
}

// NewVerificationRepository creates a new repository instance.
func NewVerificationRepository(db *gorm.DB, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{db: db, retrier: newRetrier(logger.Named("verification_repository"))}
}

// SaveLog persists a verification log entry.
func (r *VerificationRepository) SaveLog(ctx context.Context, log *VerificationLog) error {
	return translateError(r.db.WithContext(ctx).Create(log).Error)
}

// FindByAttemptIDAndUser retrieves the verification log of one attempt by its owner.
func (r *VerificationRepository) FindByAttemptIDAndUser(ctx context.Context, attemptID string, userID uint) (*VerificationLog, error) {
	var log VerificationLog
	err := r.executeWithRetry(ctx, "repository.find_verification_log", "", func() error {
		return translateError(r.db.WithContext(ctx).First(&log, "attempt_id = ? AND user_id = ?", attemptID, userID).Error)
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarises every logged attempt.
func (r *VerificationRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&VerificationLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count, " +
				"COALESCE(AVG(matches), 0) AS average_matches").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// AutoMigrate ensures the schema for every model is available.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&User{}, &Session{}, &VerificationLog{})
}
