package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type outcomeLabel struct {
	name    string
	outcome string
}

// Recorder aggregates in-memory counters for HTTP traffic, realtime events,
// fan-out deliveries, media ingestion, snapshot persistence and the assistant.
// Maps are guarded by mu; the session gauge is atomic.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	realtimeEvents  map[string]uint64
	deliveries      map[outcomeLabel]uint64
	uploads         map[string]uint64
	uploadBytes     atomic.Int64
	snapshotSaves   map[string]uint64
	assistant       map[string]uint64
	mirror          map[string]uint64
	activeSessions  atomic.Int64
}

var defaultRecorder = New()

func New() *Recorder {
	r := &Recorder{}
	r.resetLocked()
	return r
}

// Default returns the process-wide Recorder.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates count and duration by method, normalized path and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveRealtimeEvent counts an inbound realtime event by name.
func (r *Recorder) ObserveRealtimeEvent(event string) {
	r.increment(r.realtimeEvents, normalizeName(event))
}

// SessionOpened increments the connected sessions gauge.
func (r *Recorder) SessionOpened() {
	r.activeSessions.Add(1)
}

// SessionClosed decrements the connected sessions gauge without going negative.
func (r *Recorder) SessionClosed() {
	for {
		current := r.activeSessions.Load()
		if current <= 0 {
			return
		}
		if r.activeSessions.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// ObserveDelivery counts a fan-out attempt for scope ("broadcast", "unicast",
// "relay") and whether it reached a session.
func (r *Recorder) ObserveDelivery(scope string, delivered bool) {
	r.mu.Lock()
	r.deliveries[outcomeLabel{name: normalizeName(scope), outcome: outcome(delivered, "delivered", "dropped")}]++
	r.mu.Unlock()
}

// ObserveUpload counts an ingestion lifecycle stage such as "start",
// "complete", "failed" or "write_error".
func (r *Recorder) ObserveUpload(stage string) {
	r.increment(r.uploads, normalizeName(stage))
}

func (r *Recorder) AddUploadBytes(n int) {
	if n > 0 {
		r.uploadBytes.Add(int64(n))
	}
}

func (r *Recorder) ObserveSnapshotSave(ok bool) {
	r.increment(r.snapshotSaves, outcome(ok, "ok", "error"))
}

// ObserveAssistantReply counts generated replies and canned fallbacks.
func (r *Recorder) ObserveAssistantReply(fallback bool) {
	r.increment(r.assistant, outcome(!fallback, "generated", "fallback"))
}

// ObserveMirror counts object storage mirror uploads.
func (r *Recorder) ObserveMirror(ok bool) {
	r.increment(r.mirror, outcome(ok, "ok", "error"))
}

func (r *Recorder) increment(counter map[string]uint64, key string) {
	r.mu.Lock()
	counter[key]++
	r.mu.Unlock()
}

// Counter returns the value of a single named counter family entry. It exists
// for tests and the readiness report; family is one of "realtime", "upload",
// "snapshot", "assistant" or "mirror".
func (r *Recorder) Counter(family, key string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch family {
	case "realtime":
		return r.realtimeEvents[key]
	case "upload":
		return r.uploads[key]
	case "snapshot":
		return r.snapshotSaves[key]
	case "assistant":
		return r.assistant[key]
	case "mirror":
		return r.mirror[key]
	}
	return 0
}

// Deliveries returns the delivery count for scope and outcome.
func (r *Recorder) Deliveries(scope string, delivered bool) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deliveries[outcomeLabel{name: normalizeName(scope), outcome: outcome(delivered, "delivered", "dropped")}]
}

func (r *Recorder) UploadBytes() int64 {
	return r.uploadBytes.Load()
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Recorder) resetLocked() {
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.realtimeEvents = make(map[string]uint64)
	r.deliveries = make(map[outcomeLabel]uint64)
	r.uploads = make(map[string]uint64)
	r.snapshotSaves = make(map[string]uint64)
	r.assistant = make(map[string]uint64)
	r.mirror = make(map[string]uint64)
	r.uploadBytes.Store(0)
	r.activeSessions.Store(0)
}

// Handler exposes the Recorder in Prometheus text exposition format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders every metric family with sorted label sets so scrapes are
// stable.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()

	fmt.Fprintln(w, "# HELP blogane_http_requests_total Total number of HTTP requests processed")
	fmt.Fprintln(w, "# TYPE blogane_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "blogane_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP blogane_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE blogane_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "blogane_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	writeCounterFamily(w, "blogane_realtime_events_total", "Inbound realtime events by name", "event", r.realtimeEvents)

	fmt.Fprintln(w, "# HELP blogane_active_sessions Current number of connected realtime sessions")
	fmt.Fprintln(w, "# TYPE blogane_active_sessions gauge")
	fmt.Fprintf(w, "blogane_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP blogane_fanout_deliveries_total Fan-out delivery attempts by scope and outcome")
	fmt.Fprintln(w, "# TYPE blogane_fanout_deliveries_total counter")
	for _, label := range sortedOutcomeLabels(r.deliveries) {
		fmt.Fprintf(w, "blogane_fanout_deliveries_total{scope=\"%s\",outcome=\"%s\"} %d\n", label.name, label.outcome, r.deliveries[label])
	}

	writeCounterFamily(w, "blogane_uploads_total", "Media ingestion lifecycle events by stage", "stage", r.uploads)

	fmt.Fprintln(w, "# HELP blogane_upload_bytes_total Media bytes received through chunked uploads")
	fmt.Fprintln(w, "# TYPE blogane_upload_bytes_total counter")
	fmt.Fprintf(w, "blogane_upload_bytes_total %d\n", r.uploadBytes.Load())

	writeCounterFamily(w, "blogane_snapshot_saves_total", "Snapshot saves by outcome", "outcome", r.snapshotSaves)
	writeCounterFamily(w, "blogane_assistant_replies_total", "Assistant replies by source", "source", r.assistant)
	writeCounterFamily(w, "blogane_media_mirror_total", "Object storage mirror uploads by outcome", "outcome", r.mirror)
}

func writeCounterFamily(w io.Writer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "%s{%s=\"%s\"} %d\n", name, label, key, values[key])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedOutcomeLabels(values map[outcomeLabel]uint64) []outcomeLabel {
	labels := make([]outcomeLabel, 0, len(values))
	for label := range values {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].name != labels[j].name {
			return labels[i].name < labels[j].name
		}
		return labels[i].outcome < labels[j].outcome
	})
	return labels
}

// normalizePath collapses identifier-like segments (upload file names, ids) so
// label cardinality stays bounded.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part != "" && looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 8 {
		return true
	}
	digits := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
