package observability

import (
	"context"
	"log/slog"
	"os"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyConsultationID
)

// contextFields are copied from the context onto every derived logger, in order.
var contextFields = []struct {
	key  ctxKey
	attr string
}{
	{ctxKeyRequestID, "request_id"},
	{ctxKeyConsultationID, "consultation_id"},
}

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

func Logger() *slog.Logger {
	return logger
}

// SetLogger replaces the process logger. Tests use it to capture or silence output.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// WithRequestID tags ctx with the chi request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, ctxKeyRequestID, requestID)
}

// WithConsultation tags ctx with the consultation every log line under it belongs to.
func WithConsultation(ctx context.Context, consultationID string) context.Context {
	return withValue(ctx, ctxKeyConsultationID, consultationID)
}

func withValue(ctx context.Context, key ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	if cur, _ := ctx.Value(key).(string); cur == v {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

// LoggerFromContext returns the process logger carrying whichever of
// request_id and consultation_id are set on ctx.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	var attrs []any
	for _, f := range contextFields {
		if v, _ := ctx.Value(f.key).(string); v != "" {
			attrs = append(attrs, f.attr, v)
		}
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}
