package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode log entry %q: %v", buf.String(), err)
	}
	return payload
}

func TestNewRespectsFormatAndWriter(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer
	New(Config{Writer: &jsonBuf}).Info("json line")
	New(Config{Writer: &textBuf, Format: "TEXT"}).Info("text line")

	if !strings.HasPrefix(jsonBuf.String(), "{") {
		t.Fatalf("expected JSON output by default, got %q", jsonBuf.String())
	}
	if !strings.Contains(textBuf.String(), "msg=\"text line\"") {
		t.Fatalf("expected text output, got %q", textBuf.String())
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{" DeBuG ", slog.LevelDebug},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := parseLevel(tc.input).Level(); got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	WithComponent(logger, "realtime").Info("component set")

	if payload := decodeEntry(t, &buf); payload["component"] != "realtime" {
		t.Fatalf("expected component realtime, got %v", payload["component"])
	}
	if WithComponent(nil, "storage") == nil {
		t.Fatalf("expected nil logger to fall back to the default")
	}
}

func TestWithContextAnnotatesLogger(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithConnectionID(ctx, "conn-1")
	ctx = ContextWithConnectionID(ctx, "   ")

	var buf bytes.Buffer
	WithContext(ctx, slog.New(slog.NewJSONHandler(&buf, nil))).Info("hello")

	payload := decodeEntry(t, &buf)
	if payload["request_id"] != "req-1" {
		t.Fatalf("expected request_id, got %v", payload["request_id"])
	}
	if payload["connection_id"] != "conn-1" {
		t.Fatalf("expected connection_id, got %v", payload["connection_id"])
	}
}

func TestRecoverLogsPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	func() {
		defer Recover(logger, "tick")
		panic("boom")
	}()

	payload := decodeEntry(t, &buf)
	if payload["task"] != "tick" || payload["panic"] != "boom" {
		t.Fatalf("unexpected recovery entry %v", payload)
	}
	if stack, _ := payload["stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Fatalf("expected stack trace, got %q", stack)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	middleware := RequestLogger(RequestLoggerConfig{Logger: logger, SkipPaths: []string{"/healthz"}})
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/readyz", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	payload := decodeEntry(t, &buf)
	if payload["status"] != float64(http.StatusAccepted) {
		t.Fatalf("expected status %d, got %v", http.StatusAccepted, payload["status"])
	}
	if payload["remote_addr"] != "127.0.0.1:1234" {
		t.Fatalf("expected remote_addr, got %v", payload["remote_addr"])
	}

	buf.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected probe request to be logged below info, got %q", buf.String())
	}
}
