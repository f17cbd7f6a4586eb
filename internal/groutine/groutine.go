// Package groutine starts named goroutines so pprof profiles and panic logs
// show which session component they belong to.
package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strconv"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name.
//
//	groutine.Go(ctx, "session-monitor", func(ctx context.Context) {
//	    <-gatt.Disconnected()
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GoSafe is Go with a recover that logs the panic instead of crashing the process.
// done, if non-nil, runs after fn returns or panics.
func GoSafe(parentCtx context.Context, name string, logger *logrus.Logger, fn func(ctx context.Context), done func()) {
	Go(parentCtx, name, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil && logger != nil {
				logger.WithFields(logrus.Fields{
					"goroutine": name,
					"panic":     r,
				}).Errorf("goroutine panicked\n%s", debug.Stack())
			}
			if done != nil {
				done()
			}
		}()
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetGID returns the numeric id of the calling goroutine. The session
// dispatcher uses it to recognise listeners calling back in on the
// goroutine that is delivering to them.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}
