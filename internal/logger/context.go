package logger

import (
	"context"
	"log/slog"
)

// ctxKey keys the values this package stores in a context. Unexported so
// no other package can collide with it.
type ctxKey int

const keyRequestID ctxKey = iota

// WithRequestID stamps ctx with the correlation ID for one API call.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID reports the correlation ID stamped on ctx. Empty when the
// call never passed through the request-ID middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(keyRequestID).(string)
	return id
}

// ctxHandler appends the request ID carried by the log call's context to
// each record, so call sites correlate without threading the ID by hand.
// It resolves the ID on the calling goroutine, before any async hand-off.
type ctxHandler struct {
	next slog.Handler
}

func (h ctxHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h ctxHandler) Handle(ctx context.Context, rec slog.Record) error {
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	return h.next.Handle(ctx, rec)
}

func (h ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ctxHandler{next: h.next.WithAttrs(attrs)}
}

func (h ctxHandler) WithGroup(name string) slog.Handler {
	return ctxHandler{next: h.next.WithGroup(name)}
}
