package buildsys

import (
	"context"

	"github.com/rs/zerolog"
)

type (
	logKey     struct{}
	runtimeKey struct{}
	runtimeCtx struct {
		dryRun bool
	}
)

// Log returns the logger attached to the context. Without one, logging is disabled.
func Log(ctx context.Context) *zerolog.Logger {
	logger, ok := ctx.Value(logKey{}).(*zerolog.Logger)
	if !ok {
		nop := zerolog.Nop()
		return &nop
	}

	return logger
}

// WithLogger attaches the given logger to the context
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

// WithDryRun marks all tasks executed with the returned context as dry runs. Leaves only log what they
// would do.
func WithDryRun(ctx context.Context, dryRun bool) context.Context {
	return context.WithValue(ctx, runtimeKey{}, &runtimeCtx{dryRun: dryRun})
}

// IsDryRun reports whether the context belongs to a dry run
func IsDryRun(ctx context.Context) bool {
	rctx, ok := ctx.Value(runtimeKey{}).(*runtimeCtx)
	return ok && rctx.dryRun
}
