package admin

import (
	"context"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/uspagent/internal/logging"
	"github.com/jeeves-cluster-organization/uspagent/internal/observability"
)

// loggingInterceptor logs every admin RPC's start, duration, and result
// and records it to the adminRequestsTotal metric (adapted from the
// teacher's LoggingInterceptor, coreengine/grpc/interceptors.go).
func loggingInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		st, _ := status.FromError(err)
		if err != nil {
			logger.Error("admin request failed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
				"code", st.Code().String(),
				"error", err.Error(),
			)
		} else {
			logger.Debug("admin request completed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
			)
		}
		observability.RecordAdminRequest(info.FullMethod, st.Code().String())

		return resp, err
	}
}

// recoveryInterceptor converts a panicking handler into an Internal
// error instead of crashing the agent process (adapted from the
// teacher's RecoveryInterceptor).
func recoveryInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("admin panic recovered",
					"method", info.FullMethod,
					"panic", p,
					"stack", string(debug.Stack()),
				)
				err = status.Errorf(codes.Internal, "panic recovered: %v", p)
			}
		}()
		return handler(ctx, req)
	}
}

// chainUnary composes interceptors so the first listed runs outermost
// (adapted from the teacher's ChainUnaryInterceptors).
func chainUnary(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			next := chain
			chain = func(ctx context.Context, req any) (any, error) {
				return interceptor(ctx, req, info, next)
			}
		}
		return chain(ctx, req)
	}
}

// serverOptions returns the admin surface's standard gRPC server
// options: the recovery and logging interceptors, chained into one
// unary interceptor.
func serverOptions(logger logging.Logger) []grpc.ServerOption {
	unary := chainUnary(
		recoveryInterceptor(logger),
		loggingInterceptor(logger),
	)
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(unary),
	}
}
