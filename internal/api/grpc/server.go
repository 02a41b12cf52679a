// Package grpcapi serves the editor-host API over gRPC with a JSON codec.
package grpcapi

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tomlkit-schema-service/internal/editor"
	"tomlkit-schema-service/internal/observability/logging"
	"tomlkit-schema-service/internal/resolver"
	"tomlkit-schema-service/internal/service/orchestrator"
	"tomlkit-schema-service/internal/service/validator"
)

// Documents tracks open documents; implemented by editor.Hub.
type Documents interface {
	Open(doc editor.Document)
	Change(doc editor.Document)
	Activate(uri string) error
	Close(uri string) error
}

// Diagnostics exposes published diagnostics; implemented by editor.Collection.
type Diagnostics interface {
	Publication(uri string) (editor.Publication, bool)
	Watch(ctx context.Context) <-chan editor.Publication
}

// SchemaLookup reports how a file resolves; implemented by resolver.Resolver.
type SchemaLookup interface {
	Lookup(ctx context.Context, path string) resolver.LookupReport
}

// DocumentValidator validates a document synchronously; implemented by
// orchestrator.Orchestrator.
type DocumentValidator interface {
	Validate(ctx context.Context, doc editor.Document) (editor.Publication, error)
}

var _ DocumentServiceServer = (*Server)(nil)

// Server implements DocumentServiceServer.
type Server struct {
	docs     Documents
	diags    Diagnostics
	lookup   SchemaLookup
	validate DocumentValidator
	log      zerolog.Logger
}

// NewServer creates the editor-host API server.
func NewServer(docs Documents, diags Diagnostics, lookup SchemaLookup, validate DocumentValidator) *Server {
	return &Server{
		docs:     docs,
		diags:    diags,
		lookup:   lookup,
		validate: validate,
		log:      logging.WithComponent("grpc"),
	}
}

// Register registers s on g.
func Register(g *grpc.Server, s *Server) {
	g.RegisterService(&ServiceDesc, s)
}

func (s *Server) OpenDocument(_ context.Context, req *DocumentRequest) (*Ack, error) {
	if req.URI == "" {
		return nil, status.Error(codes.InvalidArgument, "uri is required")
	}
	s.docs.Open(req.document())
	return &Ack{URI: req.URI, Event: editor.KindOpened.String()}, nil
}

func (s *Server) ChangeDocument(_ context.Context, req *DocumentRequest) (*Ack, error) {
	if req.URI == "" {
		return nil, status.Error(codes.InvalidArgument, "uri is required")
	}
	s.docs.Change(req.document())
	return &Ack{URI: req.URI, Event: editor.KindChanged.String()}, nil
}

func (s *Server) ActivateDocument(_ context.Context, req *URIRequest) (*Ack, error) {
	if req.URI == "" {
		return nil, status.Error(codes.InvalidArgument, "uri is required")
	}
	if err := s.docs.Activate(req.URI); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{URI: req.URI, Event: editor.KindActiveEditorChanged.String()}, nil
}

func (s *Server) CloseDocument(_ context.Context, req *URIRequest) (*Ack, error) {
	if req.URI == "" {
		return nil, status.Error(codes.InvalidArgument, "uri is required")
	}
	if err := s.docs.Close(req.URI); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{URI: req.URI, Event: editor.KindClosed.String()}, nil
}

// ValidateDocument validates the document on the request goroutine and
// returns the published diagnostics.
func (s *Server) ValidateDocument(ctx context.Context, req *DocumentRequest) (*DiagnosticsResponse, error) {
	if req.URI == "" {
		return nil, status.Error(codes.InvalidArgument, "uri is required")
	}
	pub, err := s.validate.Validate(ctx, req.document())
	if err != nil {
		return nil, toStatus(err)
	}
	return fromPublication(pub), nil
}

// GetDiagnostics returns the current diagnostics of a document; a document
// without diagnostics yields an empty set.
func (s *Server) GetDiagnostics(_ context.Context, req *URIRequest) (*DiagnosticsResponse, error) {
	if req.URI == "" {
		return nil, status.Error(codes.InvalidArgument, "uri is required")
	}
	pub, ok := s.diags.Publication(req.URI)
	if !ok {
		pub = editor.Publication{URI: req.URI}
	}
	return fromPublication(pub), nil
}

func (s *Server) LookupSchema(ctx context.Context, req *LookupRequest) (*resolver.LookupReport, error) {
	if req.File == "" {
		return nil, status.Error(codes.InvalidArgument, "file is required")
	}
	report := s.lookup.Lookup(ctx, req.File)
	return &report, nil
}

// WatchDiagnostics streams publications until the client goes away. When a
// URI is given, the document's current diagnostics are sent first.
func (s *Server) WatchDiagnostics(req *WatchRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	updates := s.diags.Watch(ctx)

	if req.URI != "" {
		if pub, ok := s.diags.Publication(req.URI); ok {
			if err := stream.SendMsg(fromPublication(pub)); err != nil {
				return err
			}
		}
	}

	for pub := range updates {
		if req.URI != "" && pub.URI != req.URI {
			continue
		}
		if err := stream.SendMsg(fromPublication(pub)); err != nil {
			s.log.Debug().Err(err).Str("uri", pub.URI).Msg("Watch send failed")
			return err
		}
	}
	return nil
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, editor.ErrUnknownDocument):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, orchestrator.ErrNotRecognized):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, validator.ErrUnavailable), errors.Is(err, orchestrator.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, validator.ErrFault):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, orchestrator.ErrSuperseded):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
