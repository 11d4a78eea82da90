package autherr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKindAndOptionalIndex(t *testing.T) {
	err := fmt.Errorf("register: %w", NoFaceDetected(2))

	if !errors.Is(err, ErrNoFaceDetected) {
		t.Fatal("expected kind sentinel to match")
	}
	if !errors.Is(err, NoFaceDetected(2)) {
		t.Fatal("expected same index to match")
	}
	if errors.Is(err, NoFaceDetected(0)) {
		t.Fatal("expected different index not to match")
	}
	if errors.Is(err, ErrInvalidEncoding) {
		t.Fatal("expected different kind not to match")
	}
}

func TestKindOfAndMessageOf(t *testing.T) {
	if got := KindOf(errors.New("db down")); got != KindInternal {
		t.Fatalf("expected internal, got %s", got)
	}
	if got := MessageOf(errors.New("pq: connection refused")); got != "an unexpected error occurred" {
		t.Fatalf("internal details leaked: %q", got)
	}

	err := InvalidImageCount(4, 5)
	if got := KindOf(err); got != KindInvalidImageCount {
		t.Fatalf("unexpected kind %s", got)
	}
	if got := MessageOf(err); got != "exactly 5 images are required, got 4" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestMessagesUseOneBasedImageNumbers(t *testing.T) {
	if got := InvalidEncoding(0, nil).Message; got != "invalid base64 encoding in image 1" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestNotFoundKind(t *testing.T) {
	err := fmt.Errorf("get attempt: %w", New(KindNotFound, "attempt not found"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected not found sentinel to match")
	}
	if got := MessageOf(err); got != "attempt not found" {
		t.Fatalf("unexpected message %q", got)
	}
}
