package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"tomlkit-schema-service/internal/resolver"
)

// Client calls DocumentService over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *Client) OpenDocument(ctx context.Context, in *DocumentRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.invoke(ctx, MethodOpenDocument, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ChangeDocument(ctx context.Context, in *DocumentRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.invoke(ctx, MethodChangeDocument, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ActivateDocument(ctx context.Context, in *URIRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.invoke(ctx, MethodActivateDocument, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CloseDocument(ctx context.Context, in *URIRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.invoke(ctx, MethodCloseDocument, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ValidateDocument(ctx context.Context, in *DocumentRequest, opts ...grpc.CallOption) (*DiagnosticsResponse, error) {
	out := new(DiagnosticsResponse)
	if err := c.invoke(ctx, MethodValidateDocument, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetDiagnostics(ctx context.Context, in *URIRequest, opts ...grpc.CallOption) (*DiagnosticsResponse, error) {
	out := new(DiagnosticsResponse)
	if err := c.invoke(ctx, MethodGetDiagnostics, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LookupSchema(ctx context.Context, in *LookupRequest, opts ...grpc.CallOption) (*resolver.LookupReport, error) {
	out := new(resolver.LookupReport)
	if err := c.invoke(ctx, MethodLookupSchema, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// DiagnosticsWatcher receives the WatchDiagnostics stream.
type DiagnosticsWatcher struct {
	stream grpc.ClientStream
}

// Recv blocks for the next publication. It returns io.EOF when the server
// ends the stream.
func (w *DiagnosticsWatcher) Recv() (*DiagnosticsResponse, error) {
	out := new(DiagnosticsResponse)
	if err := w.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchDiagnostics opens a diagnostics stream. Cancel ctx to stop it.
func (c *Client) WatchDiagnostics(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (*DiagnosticsWatcher, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodWatchDiagnostics, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &DiagnosticsWatcher{stream: stream}, nil
}
