// Package grpc exposes the timeline engine over gRPC.
//
// Messages are google.protobuf.Struct values carrying the same JSON shapes
// the HTTP API returns, so no generated stubs are needed.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "spanlens.v1.TimelineService"

// Method names.
const (
	MethodImport           = "Import"
	MethodSetFilter        = "SetFilter"
	MethodGetFilteredSpans = "GetFilteredSpans"
	MethodGetTimeRange     = "GetTimeRange"
	MethodGetStatistics    = "GetStatistics"
	MethodGetGroups        = "GetGroups"
	MethodGetNumericSeries = "GetNumericSeries"
)

// TimelineServiceServer is the server API for the timeline service.
type TimelineServiceServer interface {
	Import(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetFilter(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFilteredSpans(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTimeRange(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatistics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetGroups(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNumericSeries(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(TimelineServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// TimelineServiceDesc describes the service for grpc.Server.RegisterService.
var TimelineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TimelineServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodImport, Handler: unaryHandler(MethodImport, TimelineServiceServer.Import)},
		{MethodName: MethodSetFilter, Handler: unaryHandler(MethodSetFilter, TimelineServiceServer.SetFilter)},
		{MethodName: MethodGetFilteredSpans, Handler: unaryHandler(MethodGetFilteredSpans, TimelineServiceServer.GetFilteredSpans)},
		{MethodName: MethodGetTimeRange, Handler: unaryHandler(MethodGetTimeRange, TimelineServiceServer.GetTimeRange)},
		{MethodName: MethodGetStatistics, Handler: unaryHandler(MethodGetStatistics, TimelineServiceServer.GetStatistics)},
		{MethodName: MethodGetGroups, Handler: unaryHandler(MethodGetGroups, TimelineServiceServer.GetGroups)},
		{MethodName: MethodGetNumericSeries, Handler: unaryHandler(MethodGetNumericSeries, TimelineServiceServer.GetNumericSeries)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spanlens/v1/timeline.proto",
}

// RegisterTimelineServiceServer registers srv on s.
func RegisterTimelineServiceServer(s grpc.ServiceRegistrar, srv TimelineServiceServer) {
	s.RegisterService(&TimelineServiceDesc, srv)
}

// FullMethod returns the invoke path for a method name.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string, call unaryMethod) grpc.MethodHandler {
	fullMethod := FullMethod(method)
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TimelineServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TimelineServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
