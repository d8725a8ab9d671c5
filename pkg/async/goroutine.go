package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// SafeGo runs fn in a goroutine bounded by timeout. Panics are recovered and
// errors are logged through the logger carried by parentCtx; neither reaches
// the caller.
//
// Example:
//
//	SafeGo(r.Context(), 5*time.Second, "refresh plan cache", func(ctx context.Context) error {
//	    return cache.Refresh(ctx, orgID)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, timeout, taskName, fn)
}

// GoDetached is SafeGo for work that must outlive the request that started
// it. The task keeps the values of parentCtx (logger, request id, trace span)
// but ignores its cancellation.
//
// Example:
//
//	GoDetached(r.Context(), 10*time.Second, "usage limit notification", func(ctx context.Context) error {
//	    return notifier.UsageLimitReached(ctx, notice)
//	})
func GoDetached(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	SafeGo(context.WithoutCancel(parentCtx), timeout, taskName, fn)
}

func run(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	logger := observability.FromContext(ctx).WithField("task", taskName)

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).
				WithField("stack", string(debug.Stack())).
				Error("Background task panicked")
		}
	}()

	if err := fn(ctx); err != nil {
		logger.WithError(err).Warn("Background task failed")
	}
}
