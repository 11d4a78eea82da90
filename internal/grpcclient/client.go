package grpcclient

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/imageprocessor"
	"github.com/example/face-auth/internal/imaging"
	"github.com/example/face-auth/internal/logging"
)

// DialExtractor returns a ready-to-use client for the face-recognition service.
// Extra dial options are appended after the defaults.
func DialExtractor(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*Extractor, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_extractor", "", err)
		logger.Error("failed to dial face extractor", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewExtractor(conn, logger), conn, nil
}

// Extractor implements imageprocessor.Extractor over gRPC.
type Extractor struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

var _ imageprocessor.Extractor = (*Extractor)(nil)

// NewExtractor wraps an existing connection.
func NewExtractor(conn grpc.ClientConnInterface, logger *zap.Logger) *Extractor {
	return &Extractor{conn: conn, logger: logger.Named("face_extractor")}
}

// Extract returns one feature vector per face found in img.
func (e *Extractor) Extract(ctx context.Context, img image.Image) ([]biometric.Vector, error) {
	req, err := newImageRequest(img)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.extract", "", err)
	}
	resp := &structpb.ListValue{}
	if err := e.conn.Invoke(ctx, extractMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.extract", "", err)
		e.logger.Error("extract call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	vectors, err := DecodeVectors(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.extract", "", err)
	}
	return vectors, nil
}

// LocateFaces returns the bounding box of every face found in img.
func (e *Extractor) LocateFaces(ctx context.Context, img image.Image) ([]imageprocessor.BoundingBox, error) {
	req, err := newImageRequest(img)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.locate_faces", "", err)
	}
	resp := &structpb.ListValue{}
	if err := e.conn.Invoke(ctx, locateFacesMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.locate_faces", "", err)
		e.logger.Error("locate faces call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	boxes, err := DecodeBoxes(resp)
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.locate_faces", "", err)
	}
	return boxes, nil
}

func newImageRequest(img image.Image) (*wrapperspb.BytesValue, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(data), nil
}

// EncodeVectors is the wire form of an Extract response.
func EncodeVectors(vectors []biometric.Vector) *structpb.ListValue {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(vectors))}
	for _, v := range vectors {
		row := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(v))}
		for _, f := range v {
			row.Values = append(row.Values, structpb.NewNumberValue(f))
		}
		out.Values = append(out.Values, structpb.NewListValue(row))
	}
	return out
}

// DecodeVectors parses an Extract response.
func DecodeVectors(list *structpb.ListValue) ([]biometric.Vector, error) {
	vectors := make([]biometric.Vector, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		row := item.GetListValue()
		if row == nil {
			return nil, fmt.Errorf("grpcclient: face %d: expected list of numbers", i)
		}
		vec := make(biometric.Vector, 0, len(row.GetValues()))
		for j, n := range row.GetValues() {
			num, ok := n.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("grpcclient: face %d component %d: expected number", i, j)
			}
			vec = append(vec, num.NumberValue)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

var boxFields = [...]string{"top", "right", "bottom", "left"}

// EncodeBoxes is the wire form of a LocateFaces response.
func EncodeBoxes(boxes []imageprocessor.BoundingBox) *structpb.ListValue {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(boxes))}
	for _, b := range boxes {
		out.Values = append(out.Values, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"top":    structpb.NewNumberValue(float64(b.Top)),
			"right":  structpb.NewNumberValue(float64(b.Right)),
			"bottom": structpb.NewNumberValue(float64(b.Bottom)),
			"left":   structpb.NewNumberValue(float64(b.Left)),
		}}))
	}
	return out
}

// DecodeBoxes parses a LocateFaces response.
func DecodeBoxes(list *structpb.ListValue) ([]imageprocessor.BoundingBox, error) {
	boxes := make([]imageprocessor.BoundingBox, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		s := item.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("grpcclient: box %d: expected struct", i)
		}
		var coords [4]int
		for k, name := range boxFields {
			v, ok := s.GetFields()[name]
			if !ok {
				return nil, fmt.Errorf("grpcclient: box %d: missing %s", i, name)
			}
			num, ok := v.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return nil, fmt.Errorf("grpcclient: box %d: %s is not a number", i, name)
			}
			coords[k] = int(num.NumberValue)
		}
		boxes = append(boxes, imageprocessor.BoundingBox{Top: coords[0], Right: coords[1], Bottom: coords[2], Left: coords[3]})
	}
	return boxes, nil
}
