package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	recorder := New()
	handler := HTTPMiddleware(recorder)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/widgets/abc123", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var buf bytes.Buffer
	recorder.Write(&buf)
	expected := `blogane_http_requests_total{method="GET",path="/widgets/:id",status="418"} 1`
	if !strings.Contains(buf.String(), expected) {
		t.Fatalf("expected metrics output to contain %q, got %q", expected, buf.String())
	}
}

func TestResponseRecorderHijackUnsupported(t *testing.T) {
	rr := NewResponseRecorder(httptest.NewRecorder())
	if _, _, err := rr.Hijack(); err != http.ErrNotSupported {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
	if rr.Status() != http.StatusOK {
		t.Fatalf("expected default status 200, got %d", rr.Status())
	}
}
