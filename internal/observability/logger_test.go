package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := Logger()
	buf := &bytes.Buffer{}
	SetLogger(slog.New(slog.NewJSONHandler(buf, nil)))
	t.Cleanup(func() { SetLogger(prev) })
	return buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var rec map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &rec); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	return rec
}

func TestLoggerFromContextFields(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		wantReq  string
		wantCons string
	}{
		{
			name: "bare context",
			ctx:  context.Background(),
		},
		{
			name:    "request only",
			ctx:     WithRequestID(context.Background(), "req-1"),
			wantReq: "req-1",
		},
		{
			name:     "consultation only",
			ctx:      WithConsultation(context.Background(), "c-42"),
			wantCons: "c-42",
		},
		{
			name:     "both",
			ctx:      WithConsultation(WithRequestID(context.Background(), "req-2"), "c-7"),
			wantReq:  "req-2",
			wantCons: "c-7",
		},
		{
			name:     "empty id leaves context untouched",
			ctx:      WithConsultation(WithConsultation(context.Background(), "c-1"), ""),
			wantCons: "c-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			LoggerFromContext(tt.ctx).Info("hello")
			rec := lastLine(t, buf)

			got, _ := rec["request_id"].(string)
			if got != tt.wantReq {
				t.Errorf("request_id = %q, want %q", got, tt.wantReq)
			}
			got, _ = rec["consultation_id"].(string)
			if got != tt.wantCons {
				t.Errorf("consultation_id = %q, want %q", got, tt.wantCons)
			}
		})
	}
}

func TestWithConsultationSameIDReusesContext(t *testing.T) {
	ctx := WithConsultation(context.Background(), "c-9")
	if again := WithConsultation(ctx, "c-9"); again != ctx {
		t.Fatal("re-tagging with the same id should not wrap the context")
	}
	if other := WithConsultation(ctx, "c-10"); other == ctx {
		t.Fatal("a different id must produce a new context")
	}
}
