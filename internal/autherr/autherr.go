// Package autherr defines the caller-visible error taxonomy of the
// registration, verification and session flows. The HTTP boundary maps a
// Kind to a status code; nothing in an Error carries biometric data.
package autherr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine readable error category.
type Kind string

const (
	KindInvalidRequest         Kind = "invalid_request"
	KindInvalidImageCount      Kind = "invalid_image_count"
	KindInvalidEncoding        Kind = "invalid_encoding"
	KindUnsupportedImageFormat Kind = "unsupported_image_format"
	KindNoFaceDetected         Kind = "no_face_detected"
	KindNotAuthenticated       Kind = "not_authenticated"
	KindVerificationFailed     Kind = "verification_failed"
	KindUserNotFound           Kind = "user_not_found"
	KindNotFound               Kind = "not_found"
	KindIntegrityViolation     Kind = "integrity_violation"
	KindInternal               Kind = "internal"
)

// NoIndex marks an Error that is not tied to a submitted image.
const NoIndex = -1

// Error is a typed failure. Index is the zero-based position of the image
// that caused it, or NoIndex.
type Error struct {
	Kind    Kind
	Index   int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. A target with an
// Index other than NoIndex must also match the index.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Index == NoIndex || t.Index == e.Index
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidRequest         = &Error{Kind: KindInvalidRequest, Index: NoIndex}
	ErrInvalidImageCount      = &Error{Kind: KindInvalidImageCount, Index: NoIndex}
	ErrInvalidEncoding        = &Error{Kind: KindInvalidEncoding, Index: NoIndex}
	ErrUnsupportedImageFormat = &Error{Kind: KindUnsupportedImageFormat, Index: NoIndex}
	ErrNoFaceDetected         = &Error{Kind: KindNoFaceDetected, Index: NoIndex}
	ErrNotAuthenticated       = &Error{Kind: KindNotAuthenticated, Index: NoIndex}
	ErrVerificationFailed     = &Error{Kind: KindVerificationFailed, Index: NoIndex}
	ErrUserNotFound           = &Error{Kind: KindUserNotFound, Index: NoIndex}
	ErrNotFound               = &Error{Kind: KindNotFound, Index: NoIndex}
	ErrIntegrityViolation     = &Error{Kind: KindIntegrityViolation, Index: NoIndex}
)

// New builds an Error that is not tied to an image.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Index: NoIndex, Message: message}
}

// Wrap builds an Error around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Index: NoIndex, Message: message, Err: err}
}

// InvalidImageCount reports a batch with the wrong number of images.
func InvalidImageCount(got, want int) *Error {
	return New(KindInvalidImageCount, fmt.Sprintf("exactly %d images are required, got %d", want, got))
}

// InvalidEncoding reports an image whose transport encoding could not be decoded.
func InvalidEncoding(index int, err error) *Error {
	return &Error{Kind: KindInvalidEncoding, Index: index, Message: fmt.Sprintf("invalid base64 encoding in image %d", index+1), Err: err}
}

// UnsupportedImageFormat reports an image whose bytes are not a known format.
func UnsupportedImageFormat(index int, err error) *Error {
	return &Error{Kind: KindUnsupportedImageFormat, Index: index, Message: fmt.Sprintf("cannot identify image %d, ensure the image is valid and supported", index+1), Err: err}
}

// NoFaceDetected reports an image without a detectable face.
func NoFaceDetected(index int) *Error {
	return &Error{Kind: KindNoFaceDetected, Index: index, Message: fmt.Sprintf("no faces detected in image %d, ensure the image clearly shows a face", index+1)}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns a message that is safe to show to a caller. Errors
// outside the taxonomy collapse to a generic message.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "an unexpected error occurred"
}
