package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-auth/internal/autherr"
	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/imageprocessor"
	"github.com/example/face-auth/internal/imaging"
	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/repository"
	"github.com/example/face-auth/internal/session"
)

// UserRepository defines the user lookups needed by the login flow.
type UserRepository interface {
	FindByNaturalKey(ctx context.Context, key repository.NaturalKey) (*repository.User, error)
}

// VerificationRepository defines the persistence operations for the attempt log.
type VerificationRepository interface {
	SaveLog(ctx context.Context, log *repository.VerificationLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
	FindByAttemptIDAndUser(ctx context.Context, attemptID string, userID uint) (*repository.VerificationLog, error)
}

// SessionIssuer mints a session after a successful verification.
type SessionIssuer interface {
	Issue(ctx context.Context, userID uint) (*session.Issued, error)
}

// LoginResult is a successful face login.
type LoginResult struct {
	RequestID string
	AttemptID string
	User      *repository.User
	Session   *session.Issued
	Decision  biometric.Decision
}

// LoginUseCase encapsulates the face login flow.
type LoginUseCase struct {
	users     UserRepository
	logs      VerificationRepository
	extractor imageprocessor.Extractor
	decoder   imaging.Decoder
	verifier  *biometric.Verifier
	sessions  SessionIssuer
	logger    *zap.Logger
	now       func() time.Time
}

// NewLoginUseCase constructs a new use case instance.
func NewLoginUseCase(users UserRepository, logs VerificationRepository, extractor imageprocessor.Extractor, decoder imaging.Decoder, verifier *biometric.Verifier, sessions SessionIssuer, logger *zap.Logger) *LoginUseCase {
	return &LoginUseCase{
		users:     users,
		logs:      logs,
		extractor: extractor,
		decoder:   decoder,
		verifier:  verifier,
		sessions:  sessions,
		logger:    logger.Named("login_usecase"),
		now:       time.Now,
	}
}

// Authenticate verifies a probe image against the stored vectors of the
// user identified by key and issues a session when it matches. requestID
// correlates logs; anything other than a UUID is replaced by a fresh one.
// Every attempt gets its own server-generated attempt id.
func (uc *LoginUseCase) Authenticate(ctx context.Context, requestID string, key repository.NaturalKey, payload string) (*LoginResult, error) {
	if id, err := uuid.Parse(requestID); err == nil {
		requestID = id.String()
	} else {
		requestID = uuid.NewString()
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.authenticate", requestID)

	if !key.Valid() {
		return nil, autherr.New(autherr.KindInvalidRequest, "student_id and matriculation_number are required")
	}

	user, err := uc.users.FindByNaturalKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, autherr.New(autherr.KindUserNotFound, "user not found")
	}
	if err != nil {
		wrapped := logging.NewOperationError("usecase.find_user", requestID, err)
		opLogger.Error("failed to load user", zap.Error(wrapped))
		return nil, wrapped
	}

	attempt := &repository.VerificationLog{AttemptID: uuid.NewString(), RequestID: requestID, UserID: user.ID}
	defer func() { uc.recordAttempt(ctx, opLogger, attempt) }()

	img, err := uc.decodeProbe(payload, attempt)
	if err != nil {
		attempt.Details = string(autherr.KindOf(err))
		return nil, err
	}

	probes, err := uc.extractor.Extract(ctx, img)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.extract", requestID, err)
		opLogger.Error("feature extraction failed", zap.Error(wrapped))
		attempt.Details = "extraction_failed"
		return nil, wrapped
	}
	attempt.ProbeFaces = len(probes)

	decision, err := uc.verifier.Verify(user.FaceEncodings, probes)
	attempt.Matches = decision.Matches
	if !math.IsInf(decision.BestDistance, 0) {
		attempt.BestDistance = decision.BestDistance
	}
	switch {
	case errors.Is(err, autherr.ErrNoFaceDetected):
		attempt.Details = string(autherr.KindNoFaceDetected)
		return nil, autherr.New(autherr.KindNoFaceDetected, "no faces detected in the image")
	case errors.Is(err, biometric.ErrNoReferenceVectors):
		attempt.Details = "no_reference_vectors"
		opLogger.Warn("user has no reference vectors", zap.Uint("user_id", user.ID))
		return nil, autherr.New(autherr.KindVerificationFailed, "facial biometrics failed, retry")
	case err != nil:
		wrapped := logging.NewOperationError("usecase.verify", requestID, err)
		opLogger.Error("verification failed", zap.Error(wrapped))
		attempt.Details = "verification_error"
		return nil, wrapped
	}

	if !decision.Accepted {
		attempt.Details = string(autherr.KindVerificationFailed)
		opLogger.Info("face did not match", zap.Uint("user_id", user.ID), zap.Int("matches", decision.Matches))
		return nil, autherr.New(autherr.KindVerificationFailed, "facial biometrics failed, retry")
	}

	issued, err := uc.sessions.Issue(ctx, user.ID)
	if err != nil {
		attempt.Details = "session_issue_failed"
		opLogger.Error("failed to issue session", zap.Error(err))
		return nil, err
	}

	attempt.Success = true
	attempt.Details = fmt.Sprintf("accepted probe=%d matches=%d", decision.ProbeIndex, decision.Matches)
	opLogger.Info("face login succeeded", zap.Uint("user_id", user.ID), zap.Int("matches", decision.Matches))

	return &LoginResult{RequestID: requestID, AttemptID: attempt.AttemptID, User: user, Session: issued, Decision: decision}, nil
}

func (uc *LoginUseCase) decodeProbe(payload string, attempt *repository.VerificationLog) (image.Image, error) {
	data, err := imaging.DecodePayload(payload)
	if err != nil {
		return nil, autherr.InvalidEncoding(0, err)
	}
	sum := sha1.Sum(data)
	attempt.SHA1Hash = hex.EncodeToString(sum[:])

	img, err := uc.decoder.Decode(data)
	if err != nil {
		return nil, autherr.UnsupportedImageFormat(0, err)
	}
	return img, nil
}

// recordAttempt persists the attempt log. Failures never affect the login outcome.
func (uc *LoginUseCase) recordAttempt(ctx context.Context, logger *zap.Logger, attempt *repository.VerificationLog) {
	if uc.logs == nil {
		return
	}
	attempt.CreatedAt = uc.now().UTC()
	if err := uc.logs.SaveLog(context.WithoutCancel(ctx), attempt); err != nil {
		logger.Warn("failed to persist verification log", zap.Error(err))
	}
}

// GetAttempt returns the attempt log entry for attemptID owned by userID.
func (uc *LoginUseCase) GetAttempt(ctx context.Context, attemptID string, userID uint) (*repository.VerificationLog, error) {
	log, err := uc.logs.FindByAttemptIDAndUser(ctx, attemptID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, autherr.New(autherr.KindNotFound, "attempt not found")
	}
	if err != nil {
		return nil, logging.NewOperationError("usecase.get_attempt", "", err)
	}
	return log, nil
}
