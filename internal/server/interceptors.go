package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"connectrpc.com/connect"
)

// ErrPanicRecovered indicates an RPC handler panicked and was recovered.
var ErrPanicRecovered = errors.New("panic recovered in rpc handler")

// LoggingInterceptor logs every RPC with its procedure, peer, duration and
// outcome. Dumps are polled by tooling, so successful calls log at Debug;
// failures log at Warn with the Connect error code.
func LoggingInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	logger = logger.With(slog.String("component", "server.rpc"))
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := []slog.Attr{
				slog.String("procedure", req.Spec().Procedure),
				slog.String("peer", req.Peer().Addr),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs,
					slog.String("code", connect.CodeOf(err).String()),
					slog.String("error", err.Error()),
				)
				logger.LogAttrs(ctx, slog.LevelWarn, "rpc failed", attrs...)
				return resp, err
			}
			logger.LogAttrs(ctx, slog.LevelDebug, "rpc completed", attrs...)
			return resp, nil
		}
	}
}

// RecoveryInterceptor turns a handler panic into a CodeInternal error and
// logs the panic value with its stack.
func RecoveryInterceptor(logger *slog.Logger) connect.UnaryInterceptorFunc {
	logger = logger.With(slog.String("component", "server.rpc"))
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, retErr error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)

				logger.ErrorContext(ctx, "panic recovered in rpc handler",
					slog.String("procedure", req.Spec().Procedure),
					slog.Any("panic", r),
					slog.String("stack", string(buf[:n])),
				)
				retErr = connect.NewError(connect.CodeInternal,
					fmt.Errorf("%s: %w", req.Spec().Procedure, ErrPanicRecovered))
			}()

			return next(ctx, req)
		}
	}
}

// LoggingInterceptorOption installs LoggingInterceptor on a handler.
func LoggingInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(LoggingInterceptor(logger))
}

// RecoveryInterceptorOption installs RecoveryInterceptor on a handler.
func RecoveryInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(RecoveryInterceptor(logger))
}
