package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var line map[string]any
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("decode log line %q: %v", raw, err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, InfoLevel).With(RoomID("room-1"))

	logger.Debug("hidden")
	logger.Info("player joined", PlayerID("p-1"), Int("lap", 2), Duration("elapsed", 1500*time.Millisecond), Error(errors.New("boom")))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected a single line above the level threshold, got %d", len(lines))
	}
	line := lines[0]
	if line["message"] != "player joined" || line["level"] != "info" {
		t.Fatalf("unexpected envelope: %+v", line)
	}
	if line["room_id"] != "room-1" || line["player_id"] != "p-1" {
		t.Fatalf("expected room and player fields, got %+v", line)
	}
	if line["elapsed"] != float64(1500) {
		t.Fatalf("expected elapsed in milliseconds, got %v", line["elapsed"])
	}
	if line["error"] != "boom" {
		t.Fatalf("expected error text, got %v", line["error"])
	}
	if line["service"] != ServiceName {
		t.Fatalf("expected service field, got %v", line["service"])
	}
}

func TestParseLevel(t *testing.T) {
	if level, err := ParseLevel("WARNING"); err != nil || level != WarnLevel {
		t.Fatalf("expected warn level, got %v %v", level, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestWithTracePrefersActiveSpan(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	ctx, _, tid := WithTrace(ctx, NewTestLogger(), "")
	if tid != traceID.String() {
		t.Fatalf("expected span trace id, got %q", tid)
	}
	if TraceIDFromContext(ctx) != tid {
		t.Fatalf("expected trace id to round trip through context")
	}

	_, _, explicit := WithTrace(context.Background(), NewTestLogger(), "abc")
	if explicit != "abc" {
		t.Fatalf("expected explicit trace id to win, got %q", explicit)
	}
}

func TestHTTPTraceMiddlewareEchoesHeader(t *testing.T) {
	var seen string
	handler := HTTPTraceMiddleware(NewTestLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(TraceIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "trace-123" {
		t.Fatalf("expected handler to observe trace id, got %q", seen)
	}
	if rec.Header().Get(TraceIDHeader) != "trace-123" {
		t.Fatalf("expected trace header to be echoed")
	}
}

func TestRotatingWriterCompressesRotatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "race.log")
	writer, err := newRotatingWriter(config.LoggingConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2, Compress: true})
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	defer writer.Close()
	writer.maxSize = 64

	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writer.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	chunk := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 4; i++ {
		if _, err := writer.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var compressed int
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".gz") {
			compressed++
		}
	}
	if compressed == 0 || compressed > 2 {
		t.Fatalf("expected between one and two compressed backups, got %d", compressed)
	}
}
