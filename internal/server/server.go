// Package server exposes the realtime endpoint, uploaded media, probes and the
// bundled web client behind one chi router.
package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"blogane-live/internal/observability/logging"
	"blogane-live/internal/observability/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultShutdownTimeout bounds graceful shutdown when the context is cancelled.
const DefaultShutdownTimeout = 10 * time.Second

const defaultCheckTimeout = 2 * time.Second

// TLSConfig defines certificate and key paths for enabling TLS listeners.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Config struct {
	Addr    string
	TLS     TLSConfig
	Logger  *slog.Logger
	Metrics *metrics.Recorder

	// Realtime serves the websocket upgrade on /ws.
	Realtime  http.Handler
	UploadDir string
	// Static holds the web client; index.html is served for unknown paths.
	Static fs.FS

	Checks []ReadinessCheck
	// Status adds free-form fields to the /readyz body.
	Status func() map[string]any

	Security        SecurityConfig
	ShutdownTimeout time.Duration
	CheckTimeout    time.Duration
	// Ready is closed once the listener accepts connections.
	Ready chan<- struct{}
}

type Server struct {
	httpServer      *http.Server
	tls             TLSConfig
	shutdownTimeout time.Duration
	checkTimeout    time.Duration
	checks          []ReadinessCheck
	status          func() map[string]any
	logger          *slog.Logger
	ready           chan<- struct{}

	mu   sync.Mutex
	addr net.Addr
}

func New(cfg Config) (*Server, error) {
	if cfg.Realtime == nil {
		return nil, errors.New("realtime handler is required")
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return nil, errors.New("both TLS cert file and key file must be provided")
	}
	logger := logging.WithComponent(cfg.Logger, "http")
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	s := &Server{
		tls:             cfg.TLS,
		shutdownTimeout: cfg.ShutdownTimeout,
		checkTimeout:    cfg.CheckTimeout,
		checks:          cfg.Checks,
		status:          cfg.Status,
		logger:          logger,
		ready:           cfg.Ready,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = DefaultShutdownTimeout
	}
	if s.checkTimeout <= 0 {
		s.checkTimeout = defaultCheckTimeout
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestContext)
	router.Use(middleware.Recoverer)
	router.Use(logging.RequestLogger(logging.RequestLoggerConfig{
		Logger:    logger,
		SkipPaths: []string{"/healthz", "/readyz", "/metrics"},
	}))
	router.Use(metrics.HTTPMiddleware(recorder))
	router.Use(func(next http.Handler) http.Handler {
		return securityHeadersMiddleware(cfg.Security, next)
	})

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("alive"))
	})
	router.Get("/readyz", s.handleReady)
	router.Method(http.MethodGet, "/metrics", recorder.Handler())
	router.Method(http.MethodGet, "/ws", cfg.Realtime)

	if dir := strings.TrimSpace(cfg.UploadDir); dir != "" {
		router.Handle("/uploads/*", http.StripPrefix("/uploads/", uploadsHandler(http.Dir(dir))))
	}

	if cfg.Static != nil {
		index, err := fs.ReadFile(cfg.Static, "index.html")
		if err != nil {
			return nil, fmt.Errorf("read index.html: %w", err)
		}
		router.Handle("/*", spaHandler(cfg.Static, index, http.FileServer(http.FS(cfg.Static))))
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s, nil
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the bound listener address once Run is serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Run serves until ctx is cancelled, then shuts down gracefully bounded by the
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	if s.tls.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(s.tls.CertFile, s.tls.KeyFile)
		if err != nil {
			ln.Close()
			return err
		}
		tlsCfg := s.httpServer.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
		} else {
			tlsCfg = tlsCfg.Clone()
		}
		tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
		s.httpServer.TLSConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.logger.Info("listening", "addr", ln.Addr().String(), "tls", s.tls.CertFile != "")
	if s.ready != nil {
		close(s.ready)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	shutdownErr := s.httpServer.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			return shutdownErr
		}
		return shutdownCtx.Err()
	}
	return shutdownErr
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Info   map[string]any    `json:"info,omitempty"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	body := readiness{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for _, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), s.checkTimeout)
		err := check.Check(ctx)
		cancel()
		if err != nil {
			body.Checks[check.Name] = err.Error()
			body.Status = "unavailable"
			status = http.StatusServiceUnavailable
			logging.WithContext(r.Context(), s.logger).Warn("readiness check failed", "check", check.Name, "error", err)
			continue
		}
		body.Checks[check.Name] = "ok"
	}
	if s.status != nil {
		body.Info = s.status()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// uploadsHandler serves finished media files without directory listings.
func uploadsHandler(root http.FileSystem) http.Handler {
	fileServer := http.FileServer(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func spaHandler(staticFS fs.FS, index []byte, fileServer http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, fmt.Sprintf("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
			return
		}

		requested := strings.TrimPrefix(r.URL.Path, "/")
		if requested != "" {
			file, err := staticFS.Open(requested)
			if err == nil {
				defer file.Close()
				info, statErr := file.Stat()
				if statErr == nil && !info.IsDir() {
					fileServer.ServeHTTP(w, r)
					return
				}
				if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
					http.Error(w, statErr.Error(), http.StatusInternalServerError)
					return
				}
			} else if !errors.Is(err, fs.ErrNotExist) {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write(index)
	}
}
