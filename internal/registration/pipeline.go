// Package registration enrols a user from five reference face images.
//
// A registration is all or nothing: the user row, its five reference
// vectors and the passport reference are written in one transaction, so a
// reader never observes a user with a partial vector collection.
package registration

import (
	"context"
	"errors"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-auth/internal/autherr"
	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/imageprocessor"
	"github.com/example/face-auth/internal/imaging"
	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/passport"
	"github.com/example/face-auth/internal/repository"
)

// DefaultPassportPadding grows the detected face box by half its size on each side.
const DefaultPassportPadding = 0.5

// UserStore is the user persistence used by the pipeline.
type UserStore interface {
	FindByNaturalKey(ctx context.Context, key repository.NaturalKey) (*repository.User, error)
	Transaction(ctx context.Context, fn func(tx repository.UserWriter) error) error
}

// Request is a registration submission. Images are base64 payloads,
// optionally prefixed with a data URI marker.
type Request struct {
	RequestID string
	Key       repository.NaturalKey
	Profile   repository.Profile
	Images    []string
}

// Outcome is the result of a registration. AlreadyRegistered is set, and
// nothing was written, when the natural key already exists.
type Outcome struct {
	User              *repository.User
	AlreadyRegistered bool
}

// Pipeline validates and persists registrations.
type Pipeline struct {
	users     UserStore
	extractor imageprocessor.Extractor
	passports passport.Store
	decoder   imaging.Decoder
	padding   float64
	logger    *zap.Logger
	now       func() time.Time
}

// NewPipeline constructs a new pipeline. A negative padding falls back to
// DefaultPassportPadding.
func NewPipeline(users UserStore, extractor imageprocessor.Extractor, passports passport.Store, decoder imaging.Decoder, padding float64, logger *zap.Logger) *Pipeline {
	if padding < 0 {
		padding = DefaultPassportPadding
	}
	return &Pipeline{
		users:     users,
		extractor: extractor,
		passports: passports,
		decoder:   decoder,
		padding:   padding,
		logger:    logger.Named("registration"),
		now:       time.Now,
	}
}

// Register enrols the user described by req.
func (p *Pipeline) Register(ctx context.Context, req Request) (*Outcome, error) {
	opLogger := logging.WithOperation(p.logger, "registration.register", req.RequestID).
		With(zap.String("student_id", req.Key.StudentID))

	if !req.Key.Valid() {
		return nil, autherr.New(autherr.KindInvalidRequest, "student_id and matriculation_number are required")
	}

	existing, err := p.users.FindByNaturalKey(ctx, req.Key)
	switch {
	case err == nil:
		opLogger.Info("user already registered")
		return &Outcome{User: existing, AlreadyRegistered: true}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, logging.NewOperationError("registration.find_user", req.RequestID, err)
	}

	if len(req.Images) != repository.ReferenceVectorCount {
		return nil, autherr.InvalidImageCount(len(req.Images), repository.ReferenceVectorCount)
	}

	user := &repository.User{
		StudentID:           strings.TrimSpace(req.Key.StudentID),
		MatriculationNumber: strings.TrimSpace(req.Key.MatriculationNumber),
		Profile:             req.Profile,
	}

	var passportRef string
	err = p.users.Transaction(ctx, func(tx repository.UserWriter) error {
		if err := tx.Create(ctx, user); err != nil {
			return err
		}

		encodings := make([]biometric.Vector, 0, repository.ReferenceVectorCount)
		var portrait image.Image
		for i, payload := range req.Images {
			img, err := p.decodeImage(i, payload)
			if err != nil {
				return err
			}
			vector, err := p.firstVector(ctx, i, img)
			if err != nil {
				return err
			}
			encodings = append(encodings, vector)

			if i == 0 {
				if portrait, err = p.cropPassport(ctx, img); err != nil {
					return err
				}
			}
		}

		ref, err := p.storePassport(ctx, user.StudentID, portrait)
		if err != nil {
			return err
		}
		passportRef = ref

		user.FaceEncodings = encodings
		user.Passport = ref
		return tx.Save(ctx, user)
	})
	if err != nil {
		p.discardPassport(ctx, opLogger, passportRef)
		if errors.Is(err, repository.ErrDuplicate) {
			return p.concurrentRegistration(ctx, opLogger, req)
		}
		var domainErr *autherr.Error
		if errors.As(err, &domainErr) {
			opLogger.Info("registration rejected", zap.String("kind", string(domainErr.Kind)), zap.Int("image_index", domainErr.Index))
			return nil, err
		}
		wrapped := logging.NewOperationError("registration.register", req.RequestID, err)
		opLogger.Error("registration failed", zap.Error(wrapped))
		return nil, wrapped
	}

	opLogger.Info("user registered", zap.Uint("user_id", user.ID))
	return &Outcome{User: user}, nil
}

func (p *Pipeline) decodeImage(index int, payload string) (*image.RGBA, error) {
	data, err := imaging.DecodePayload(payload)
	if err != nil {
		return nil, autherr.InvalidEncoding(index, err)
	}
	img, err := p.decoder.Decode(data)
	if err != nil {
		return nil, autherr.UnsupportedImageFormat(index, err)
	}
	return img, nil
}

// firstVector returns the first face found in img.
func (p *Pipeline) firstVector(ctx context.Context, index int, img image.Image) (biometric.Vector, error) {
	vectors, err := p.extractor.Extract(ctx, img)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, autherr.NoFaceDetected(index)
	}
	return vectors[0], nil
}

func (p *Pipeline) cropPassport(ctx context.Context, img image.Image) (image.Image, error) {
	boxes, err := p.extractor.LocateFaces(ctx, img)
	if err != nil {
		return nil, err
	}
	if len(boxes) == 0 {
		return nil, autherr.NoFaceDetected(0)
	}
	rect := imaging.PadRect(boxes[0].Rect(), img.Bounds(), p.padding)
	if rect.Empty() {
		return nil, autherr.NoFaceDetected(0)
	}
	return imaging.Crop(img, rect), nil
}

func (p *Pipeline) storePassport(ctx context.Context, studentID string, portrait image.Image) (string, error) {
	data, err := imaging.EncodePNG(portrait)
	if err != nil {
		return "", err
	}
	return p.passports.Save(ctx, passport.NewKey(studentID, p.now().UTC()), data)
}

func (p *Pipeline) discardPassport(ctx context.Context, logger *zap.Logger, ref string) {
	if ref == "" {
		return
	}
	if err := p.passports.Delete(context.WithoutCancel(ctx), ref); err != nil {
		logger.Warn("failed to remove passport of rolled back registration", zap.String("passport", ref), zap.Error(err))
	}
}

// concurrentRegistration handles a unique-key violation raised because
// another request registered the same key first.
func (p *Pipeline) concurrentRegistration(ctx context.Context, logger *zap.Logger, req Request) (*Outcome, error) {
	logger.Info("natural key registered concurrently")
	existing, err := p.users.FindByNaturalKey(ctx, req.Key)
	if err != nil {
		logger.Warn("failed to load concurrently registered user", zap.Error(err))
		return &Outcome{AlreadyRegistered: true}, nil
	}
	return &Outcome{User: existing, AlreadyRegistered: true}, nil
}
