package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"tomlkit-schema-service/internal/resolver"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tomlkit.schema.v1.DocumentService"

// Full method names.
const (
	MethodOpenDocument     = "/" + ServiceName + "/OpenDocument"
	MethodChangeDocument   = "/" + ServiceName + "/ChangeDocument"
	MethodActivateDocument = "/" + ServiceName + "/ActivateDocument"
	MethodCloseDocument    = "/" + ServiceName + "/CloseDocument"
	MethodValidateDocument = "/" + ServiceName + "/ValidateDocument"
	MethodGetDiagnostics   = "/" + ServiceName + "/GetDiagnostics"
	MethodLookupSchema     = "/" + ServiceName + "/LookupSchema"
	MethodWatchDiagnostics = "/" + ServiceName + "/WatchDiagnostics"
)

// DocumentServiceServer is the editor-host API.
type DocumentServiceServer interface {
	OpenDocument(context.Context, *DocumentRequest) (*Ack, error)
	ChangeDocument(context.Context, *DocumentRequest) (*Ack, error)
	ActivateDocument(context.Context, *URIRequest) (*Ack, error)
	CloseDocument(context.Context, *URIRequest) (*Ack, error)
	ValidateDocument(context.Context, *DocumentRequest) (*DiagnosticsResponse, error)
	GetDiagnostics(context.Context, *URIRequest) (*DiagnosticsResponse, error)
	LookupSchema(context.Context, *LookupRequest) (*resolver.LookupReport, error)
	WatchDiagnostics(*WatchRequest, grpc.ServerStream) error
}

// ServiceDesc describes DocumentService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocumentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenDocument", Handler: unary(MethodOpenDocument, DocumentServiceServer.OpenDocument)},
		{MethodName: "ChangeDocument", Handler: unary(MethodChangeDocument, DocumentServiceServer.ChangeDocument)},
		{MethodName: "ActivateDocument", Handler: unary(MethodActivateDocument, DocumentServiceServer.ActivateDocument)},
		{MethodName: "CloseDocument", Handler: unary(MethodCloseDocument, DocumentServiceServer.CloseDocument)},
		{MethodName: "ValidateDocument", Handler: unary(MethodValidateDocument, DocumentServiceServer.ValidateDocument)},
		{MethodName: "GetDiagnostics", Handler: unary(MethodGetDiagnostics, DocumentServiceServer.GetDiagnostics)},
		{MethodName: "LookupSchema", Handler: unary(MethodLookupSchema, DocumentServiceServer.LookupSchema)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchDiagnostics",
			Handler:       watchDiagnosticsHandler,
			ServerStreams: true,
		},
	},
}

// unary adapts a typed method to a grpc.MethodDesc handler.
func unary[Req, Resp any](
	fullMethod string,
	call func(DocumentServiceServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DocumentServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DocumentServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchDiagnosticsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DocumentServiceServer).WatchDiagnostics(in, stream)
}
