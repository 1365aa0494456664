package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/solatis/propfilter/internal/core/api"
	"github.com/solatis/propfilter/internal/types"
)

// RequestIDHeader is the metadata key carrying a client supplied request id.
const RequestIDHeader = "x-request-id"

// RequestIDInterceptor attaches a request id to every call. A valid UUID in
// x-request-id metadata is reused; otherwise a UUIDv7 is generated.
// The id is echoed back in the response header.
func RequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		id := types.NewRequestID()
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(RequestIDHeader); len(values) > 0 {
				if parsed, err := types.ParseRequestID(values[0]); err == nil {
					id = parsed
				}
			}
		}

		// header is best effort; a failed send must not fail the call
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, string(id)))

		return handler(api.WithRequestID(ctx, string(id)), req)
	}
}

// LoggingInterceptor logs one line per call with its method, code and duration.
// Must run after RequestIDInterceptor to include the request id.
func LoggingInterceptor(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		entry := log.WithFields(logrus.Fields{
			"method":      info.FullMethod,
			"request_id":  api.RequestIDFromContext(ctx),
			"code":        status.Code(err).String(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			entry.WithError(err).Warn("Request failed")
		} else {
			entry.Info("Request completed")
		}
		return resp, err
	}
}
