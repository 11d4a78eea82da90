package imageprocessor

import (
	"image"
	"testing"
)

func TestBoundingBoxRect(t *testing.T) {
	box := BoundingBox{Top: 10, Right: 50, Bottom: 60, Left: 20}
	want := image.Rect(20, 10, 50, 60)
	if got := box.Rect(); got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if box.Rect().Dx() != 30 || box.Rect().Dy() != 50 {
		t.Fatalf("unexpected size %v", box.Rect().Size())
	}
}
