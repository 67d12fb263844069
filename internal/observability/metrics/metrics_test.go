package metrics

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/healthz", "/healthz"},
		{"/uploads/1718000000000-ab12cd34.mp4", "/uploads/:id"},
		{"/users/123/", "/users/:id"},
		{"ws", "/ws"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			if got := normalizePath(tc.in); got != tc.want {
				t.Fatalf("normalizePath(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRecorderWritesPrometheusText(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/readyz", 200, 20*time.Millisecond)
	recorder.ObserveRealtimeEvent("Login")
	recorder.ObserveRealtimeEvent("login")
	recorder.ObserveDelivery("unicast", true)
	recorder.ObserveDelivery("unicast", false)
	recorder.ObserveUpload("complete")
	recorder.AddUploadBytes(2560)
	recorder.ObserveSnapshotSave(true)
	recorder.ObserveSnapshotSave(false)
	recorder.ObserveAssistantReply(true)
	recorder.ObserveMirror(true)
	recorder.SessionOpened()

	var buf bytes.Buffer
	recorder.Write(&buf)
	body := buf.String()

	for _, want := range []string{
		`blogane_http_requests_total{method="GET",path="/readyz",status="200"} 1`,
		`blogane_realtime_events_total{event="login"} 2`,
		`blogane_fanout_deliveries_total{scope="unicast",outcome="delivered"} 1`,
		`blogane_fanout_deliveries_total{scope="unicast",outcome="dropped"} 1`,
		`blogane_uploads_total{stage="complete"} 1`,
		`blogane_upload_bytes_total 2560`,
		`blogane_snapshot_saves_total{outcome="error"} 1`,
		`blogane_snapshot_saves_total{outcome="ok"} 1`,
		`blogane_assistant_replies_total{source="fallback"} 1`,
		`blogane_media_mirror_total{outcome="ok"} 1`,
		`blogane_active_sessions 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected output to contain %q\n%s", want, body)
		}
	}
}

func TestSessionGaugeNeverNegative(t *testing.T) {
	recorder := New()
	recorder.SessionClosed()
	if got := recorder.ActiveSessions(); got != 0 {
		t.Fatalf("expected gauge to stay at 0, got %d", got)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.SessionOpened()
			recorder.SessionClosed()
		}()
	}
	wg.Wait()
	if got := recorder.ActiveSessions(); got != 0 {
		t.Fatalf("expected balanced gauge, got %d", got)
	}
}

func TestResetClearsCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveUpload("start")
	recorder.AddUploadBytes(10)
	recorder.Reset()

	if recorder.Counter("upload", "start") != 0 || recorder.UploadBytes() != 0 {
		t.Fatalf("expected counters to be cleared")
	}
}
