package server

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/example/netsettle/pkg/logger"
)

// CorrelationIDKey is the metadata key carrying the request correlation id.
const CorrelationIDKey = "x-correlation-id"

type correlationIDKey struct{}

// CorrelationUnaryInterceptor threads a correlation id through every RPC:
// incoming metadata wins, a fresh uuid is minted otherwise. The id is echoed
// in the response header and attached to the request context for logging.
func CorrelationUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler) (interface{}, error) {

		cid := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(CorrelationIDKey); len(vals) > 0 {
				cid = vals[0]
			}
		}
		if cid == "" {
			cid = uuid.NewString()
		}

		ctx = context.WithValue(ctx, correlationIDKey{}, cid)
		if err := grpc.SetHeader(ctx, metadata.Pairs(CorrelationIDKey, cid)); err != nil {
			logger.L().WithError(err).Debug("failed to set correlation header")
		}

		return handler(ctx, req)
	}
}

// CorrelationIDFromContext returns the request's correlation id, if any.
func CorrelationIDFromContext(ctx context.Context) string {
	if v := ctx.Value(correlationIDKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
