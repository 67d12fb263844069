package metrics

import (
	"bufio"
	"net"
	"net/http"
	"time"
)

// ResponseRecorder captures the status code written by a handler. It keeps
// Hijacker and Flusher reachable so websocket upgrades pass through.
type ResponseRecorder struct {
	http.ResponseWriter
	status int
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rr *ResponseRecorder) Status() int {
	return rr.status
}

func (rr *ResponseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *ResponseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack hands the connection over; a hijacked request is reported as 101.
func (rr *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, rw, err := hijacker.Hijack()
	if err == nil {
		rr.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (rr *ResponseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// HTTPMiddleware returns router middleware that records request metrics on
// recorder, falling back to Default when nil.
func HTTPMiddleware(recorder *Recorder) func(http.Handler) http.Handler {
	rec := recorder
	if rec == nil {
		rec = Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rr := NewResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(rr, r)
			rec.ObserveRequest(r.Method, r.URL.Path, rr.Status(), time.Since(start))
		})
	}
}
