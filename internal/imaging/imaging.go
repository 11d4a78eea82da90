// Package imaging decodes submitted face images and derives passport crops.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels bounds width*height of one decoded image.
const DefaultMaxPixels = 16 << 20

// ErrUnsupportedFormat is returned when image bytes are not a known format.
var ErrUnsupportedFormat = errors.New("imaging: unsupported image format")

// ErrTooLarge is returned when an image header declares more pixels than allowed.
var ErrTooLarge = errors.New("imaging: image dimensions exceed limit")

// ErrEmptyPayload is returned for an empty transport payload.
var ErrEmptyPayload = errors.New("imaging: empty payload")

var dataURIPrefixes = []string{
	"data:image/jpeg;base64,",
	"data:image/jpg;base64,",
	"data:image/png;base64,",
	"data:image/gif;base64,",
	"data:image/webp;base64,",
}

// DecodePayload decodes a base64 image payload. A leading data URI marker is
// stripped and missing padding is restored before decoding.
func DecodePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	for _, prefix := range dataURIPrefixes {
		if strings.HasPrefix(payload, prefix) {
			payload = payload[len(prefix):]
			break
		}
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t', ' ':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, ErrEmptyPayload
	}
	if rem := len(payload) % 4; rem != 0 {
		payload += strings.Repeat("=", 4-rem)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("imaging: decode base64: %w", err)
	}
	return data, nil
}

// Decoder decodes images of at most MaxPixels pixels. A zero MaxPixels
// means DefaultMaxPixels.
type Decoder struct {
	MaxPixels int
}

// Decode checks the declared dimensions before decoding any pixel data,
// then returns an opaque RGB copy of the image.
func (d Decoder) Decode(data []byte) (*image.RGBA, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, unsupported(err)
	}
	limit := int64(d.MaxPixels)
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > limit {
		return nil, fmt.Errorf("%w: %w: %dx%d", ErrUnsupportedFormat, ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, unsupported(err)
	}
	return ToRGB(img), nil
}

// Decode decodes data with the default limit.
func Decode(data []byte) (*image.RGBA, error) {
	return Decoder{}.Decode(data)
}

func unsupported(err error) error {
	if errors.Is(err, image.ErrFormat) {
		return ErrUnsupportedFormat
	}
	return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
}

// ToRGB copies img onto an opaque canvas. Colour values are taken
// unpremultiplied and the alpha channel is discarded.
func ToRGB(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := out.PixOffset(x-bounds.Min.X, y-bounds.Min.Y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

// PadRect grows rect by fraction of its height on the top and bottom and by
// fraction of its width on the left and right, then clamps it to bounds.
func PadRect(rect, bounds image.Rectangle, fraction float64) image.Rectangle {
	rect = rect.Canon()
	if fraction < 0 {
		fraction = 0
	}
	padY := int(float64(rect.Dy()) * fraction)
	padX := int(float64(rect.Dx()) * fraction)
	padded := image.Rect(rect.Min.X-padX, rect.Min.Y-padY, rect.Max.X+padX, rect.Max.Y+padY)
	return padded.Intersect(bounds)
}

// Crop copies rect out of img.
func Crop(img image.Image, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
