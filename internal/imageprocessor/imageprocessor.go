package imageprocessor

import (
	"context"
	"image"

	"github.com/example/face-auth/internal/biometric"
)

// BoundingBox is a detected face location in pixel coordinates, in
// top, right, bottom, left order.
type BoundingBox struct {
	Top    int
	Right  int
	Bottom int
	Left   int
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// Extractor exposes the face-recognition capability used by registration
// and login. Extract returns one vector per detected face, in detection
// order; an image without faces yields an empty slice and no error.
type Extractor interface {
	Extract(ctx context.Context, img image.Image) ([]biometric.Vector, error)
	LocateFaces(ctx context.Context, img image.Image) ([]BoundingBox, error)
}
