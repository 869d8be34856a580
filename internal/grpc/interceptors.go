package grpc

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/jobs"
	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/observability"
)

// recoverUnary reports a handler panic as codes.Internal.
func recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("gRPC handler panicked", "method", info.FullMethod, "panic", r)
			err = status.Errorf(codes.Internal, "internal error: %v", r)
		}
	}()
	return next(ctx, req)
}

// observeUnary runs the call inside a server span and logs its outcome.
func observeUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	ctx, span := observability.StartServerSpan(ctx, info.FullMethod,
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.method", info.FullMethod),
	)
	defer span.End()

	began := time.Now()
	resp, err := next(ctx, req)
	elapsed := time.Since(began)
	if err != nil {
		observability.SetSpanError(span, err)
		logging.Op().Warn("gRPC call failed", "method", info.FullMethod, "duration", elapsed, "error", err)
		return resp, err
	}
	observability.SetSpanOK(span)
	logging.Op().Debug("gRPC call", "method", info.FullMethod, "duration", elapsed)
	return resp, nil
}

// statusUnary maps domain errors onto gRPC status codes.
func statusUnary(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	resp, err := next(ctx, req)
	switch {
	case err == nil:
		return resp, nil
	case isStatus(err):
		return nil, err
	default:
		return nil, status.Error(codeFor(err), err.Error())
	}
}

func isStatus(err error) bool {
	_, ok := status.FromError(err)
	return ok
}

func codeFor(err error) codes.Code {
	var (
		missing *domain.MissingParamError
		invalid *domain.InvalidParamError
	)
	switch {
	case errors.Is(err, domain.ErrUnknownFunction), errors.Is(err, domain.ErrUnknownJob), errors.Is(err, jobs.ErrRunNotFound):
		return codes.NotFound
	case errors.As(err, &missing), errors.As(err, &invalid):
		return codes.InvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}
