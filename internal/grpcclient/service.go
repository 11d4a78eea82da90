package grpcclient

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName       = "faceextract.v1.FaceExtractor"
	extractMethod     = "/faceextract.v1.FaceExtractor/Extract"
	locateFacesMethod = "/faceextract.v1.FaceExtractor/LocateFaces"
)

// FaceExtractorServer is the server side of the face-recognition service.
// Requests carry a PNG image; responses use the EncodeVectors and
// EncodeBoxes wire forms.
type FaceExtractorServer interface {
	Extract(context.Context, *wrapperspb.BytesValue) (*structpb.ListValue, error)
	LocateFaces(context.Context, *wrapperspb.BytesValue) (*structpb.ListValue, error)
}

// RegisterFaceExtractorServer registers srv with s.
func RegisterFaceExtractorServer(s grpc.ServiceRegistrar, srv FaceExtractorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the face-recognition service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FaceExtractorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Extract", Handler: extractHandler},
		{MethodName: "LocateFaces", Handler: locateFacesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "faceextract/v1/faceextract.proto",
}

func extractHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FaceExtractorServer).Extract(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: extractMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FaceExtractorServer).Extract(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func locateFacesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FaceExtractorServer).LocateFaces(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: locateFacesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FaceExtractorServer).LocateFaces(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}
