// Package observability provides gRPC interceptors and the metrics/health server.
package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tomlkit-schema-service/internal/observability/logging"
	"tomlkit-schema-service/internal/observability/metrics"
)

// Targeted is implemented by requests that name a document or file. The
// target is attached to the call's log line.
type Targeted interface {
	Target() string
}

func target(msg any) string {
	if t, ok := msg.(Targeted); ok {
		return t.Target()
	}
	return ""
}

// callLevel picks the log level for a finished call: server-side failures
// are warnings, everything else is logged at routine.
func callLevel(code codes.Code, routine zerolog.Level) zerolog.Level {
	switch code {
	case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
		return zerolog.WarnLevel
	default:
		return routine
	}
}

// UnaryServerInterceptor returns a gRPC unary interceptor for metrics and logging.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	log := logging.WithComponent("grpc")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		st, _ := status.FromError(err)
		m.RecordUnaryCall(info.FullMethod, st.Code().String())

		ev := log.WithLevel(callLevel(st.Code(), zerolog.DebugLevel)).
			Str("method", info.FullMethod).
			Str("code", st.Code().String()).
			Dur("duration", time.Since(start))
		if t := target(req); t != "" {
			ev = ev.Str("target", t)
		}
		if err != nil {
			ev = ev.Str("error", st.Message())
		}
		ev.Msg("gRPC unary call")

		return resp, err
	}
}

// targetStream remembers the target of the first request message.
type targetStream struct {
	grpc.ServerStream
	target string
}

func (s *targetStream) RecvMsg(m any) error {
	err := s.ServerStream.RecvMsg(m)
	if err == nil && s.target == "" {
		s.target = target(m)
	}
	return err
}

// StreamServerInterceptor returns a gRPC stream interceptor for metrics and logging.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	log := logging.WithComponent("grpc")
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		m.RecordStreamStart()

		ts := &targetStream{ServerStream: ss}
		err := handler(srv, ts)

		m.RecordStreamEnd()
		st, _ := status.FromError(err)

		ev := log.WithLevel(callLevel(st.Code(), zerolog.InfoLevel)).
			Str("method", info.FullMethod).
			Str("code", st.Code().String()).
			Dur("duration", time.Since(start)).
			Bool("success", err == nil)
		if ts.target != "" {
			ev = ev.Str("target", ts.target)
		}
		ev.Msg("gRPC stream completed")

		return err
	}
}
