// Package realtime serves the websocket channel: it decodes inbound events,
// applies them to the store and fans the results out to connected sessions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"blogane-live/internal/assistant"
	"blogane-live/internal/media"
	"blogane-live/internal/observability/logging"
	"blogane-live/internal/observability/metrics"
	"blogane-live/internal/ratelimit"
	"blogane-live/internal/session"
	"blogane-live/internal/social"
	"blogane-live/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultMaxMessageBytes    = 10 << 20
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultAutoReplyDelay     = 2 * time.Second
	DefaultDirectHistoryLimit = 200
)

var (
	errLoginRequired  = errors.New("login required")
	errInvalidPayload = errors.New("invalid payload")
)

type HubConfig struct {
	Store     *storage.Storage
	Registry  *session.Registry
	Uploads   *media.Pipeline
	Mirror    *media.Mirror
	Assistant *assistant.Responder
	// Limiter throttles login and register per client address. Nil disables
	// throttling.
	Limiter ratelimit.Limiter
	// Relay mirrors dispatched events to other instances. Nil keeps delivery
	// local.
	Relay  Queue
	Origin string

	Logger  *slog.Logger
	Metrics *metrics.Recorder

	MaxMessageBytes    int64
	HeartbeatInterval  time.Duration
	AutoAcceptDelay    time.Duration
	AutoReplyDelay     time.Duration
	DirectHistoryLimit int
	// AllowedOrigins restricts the Origin header of upgrade requests. Empty
	// accepts any origin.
	AllowedOrigins []string
	// Schedule runs deferred work; time.AfterFunc when nil.
	Schedule social.Scheduler
}

type handlerFunc func(ctx context.Context, c *client, data json.RawMessage) error

// Hub owns every websocket channel of this instance.
type Hub struct {
	store      *storage.Storage
	registry   *session.Registry
	uploads    *media.Pipeline
	mirror     *media.Mirror
	assistant  *assistant.Responder
	limiter    ratelimit.Limiter
	graph      *social.Graph
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Recorder
	schedule   social.Scheduler

	upgrader        websocket.Upgrader
	maxMessageBytes int64
	heartbeat       time.Duration
	autoReplyDelay  time.Duration
	historyLimit    int
	allowedOrigins  map[string]struct{}

	// eventMu serializes every non-chunk event so a mutation and its fan-out
	// are observed atomically.
	eventMu  sync.Mutex
	handlers map[string]handlerFunc
}

func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Store == nil {
		return nil, errors.New("realtime hub requires a store")
	}
	if cfg.Uploads == nil {
		return nil, errors.New("realtime hub requires an upload pipeline")
	}
	h := &Hub{
		store:           cfg.Store,
		registry:        cfg.Registry,
		uploads:         cfg.Uploads,
		mirror:          cfg.Mirror,
		assistant:       cfg.Assistant,
		limiter:         cfg.Limiter,
		logger:          logging.WithComponent(cfg.Logger, "realtime"),
		metrics:         cfg.Metrics,
		schedule:        cfg.Schedule,
		maxMessageBytes: cfg.MaxMessageBytes,
		heartbeat:       cfg.HeartbeatInterval,
		autoReplyDelay:  cfg.AutoReplyDelay,
		historyLimit:    cfg.DirectHistoryLimit,
	}
	if h.registry == nil {
		h.registry = session.NewRegistry()
	}
	if h.metrics == nil {
		h.metrics = metrics.Default()
	}
	if h.assistant == nil {
		h.assistant = assistant.NewResponder(assistant.ResponderConfig{Logger: cfg.Logger, Metrics: h.metrics})
	}
	if h.schedule == nil {
		h.schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	if h.maxMessageBytes <= 0 {
		h.maxMessageBytes = DefaultMaxMessageBytes
	}
	if h.heartbeat <= 0 {
		h.heartbeat = DefaultHeartbeatInterval
	}
	if h.autoReplyDelay <= 0 {
		h.autoReplyDelay = DefaultAutoReplyDelay
	}
	if h.historyLimit <= 0 {
		h.historyLimit = DefaultDirectHistoryLimit
	}
	origin := strings.TrimSpace(cfg.Origin)
	if origin == "" {
		origin = uuid.NewString()
	}
	if len(cfg.AllowedOrigins) > 0 {
		h.allowedOrigins = make(map[string]struct{}, len(cfg.AllowedOrigins))
		for _, allowed := range cfg.AllowedOrigins {
			if allowed = strings.ToLower(strings.TrimSpace(allowed)); allowed != "" {
				h.allowedOrigins[allowed] = struct{}{}
			}
		}
	}

	h.dispatcher = newDispatcher(h.registry, cfg.Relay, origin, cfg.Logger, h.metrics)
	graph, err := social.NewGraph(social.Config{
		Store:           h.store,
		Presence:        h.registry,
		Notifier:        h.dispatcher,
		Logger:          cfg.Logger,
		AutoAcceptDelay: cfg.AutoAcceptDelay,
		Locker:          &h.eventMu,
		Schedule:        h.schedule,
	})
	if err != nil {
		return nil, fmt.Errorf("build social graph: %w", err)
	}
	h.graph = graph
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	h.registerHandlers()
	return h, nil
}

func (h *Hub) Registry() *session.Registry { return h.registry }

func (h *Hub) Dispatcher() *Dispatcher { return h.dispatcher }

func (h *Hub) Graph() *social.Graph { return h.graph }

// Run consumes relay traffic until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	return h.dispatcher.Run(ctx)
}

// Close disconnects every channel.
func (h *Hub) Close() {
	h.dispatcher.close()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	_, ok := h.allowedOrigins[strings.ToLower(parsed.Host)]
	if !ok {
		_, ok = h.allowedOrigins[strings.ToLower(origin)]
	}
	return ok
}

// ServeHTTP upgrades the request to a realtime channel.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	id := uuid.NewString()
	c := &client{
		id:       id,
		hub:      h,
		conn:     conn,
		remoteIP: clientIP(r),
		logger:   h.logger.With("connection_id", id),
		send:     make(chan []byte, sendBufferSize),
	}
	h.dispatcher.add(c)
	h.metrics.SessionOpened()
	c.logger.Debug("channel connected", "remote_ip", c.remoteIP)

	go c.writePump(h.heartbeat)
	go c.readPump(h.maxMessageBytes, h.heartbeat*5/2)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handle runs one inbound event. Chunk events only take their upload's lock;
// everything else runs under the hub event lock.
func (h *Hub) handle(c *client, envelope Envelope) {
	defer logging.Recover(c.logger, "realtime event "+envelope.Event)
	h.metrics.ObserveRealtimeEvent(envelope.Event)

	ctx := logging.ContextWithConnectionID(context.Background(), c.id)
	if envelope.Event == EventUploadChunk {
		h.report(c, envelope.Event, h.handleUploadChunk(ctx, c, envelope.Data))
		return
	}
	handler, ok := h.handlers[envelope.Event]
	if !ok {
		c.emitError("unknown event " + envelope.Event)
		return
	}

	h.eventMu.Lock()
	err := handler(ctx, c, envelope.Data)
	h.eventMu.Unlock()
	h.report(c, envelope.Event, err)
}

// report maps a handler error onto the channel: validation failures go back
// to the sender, missing references are ignored, anything else is logged.
func (h *Hub) report(c *client, event string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, errLoginRequired):
		c.emitError(errLoginRequired.Error())
	case errors.Is(err, storage.ErrValidation):
		c.emitError(err.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, media.ErrUnknownUpload):
		c.logger.Debug("event referenced a missing entity", "event", event, "error", err)
	case errors.Is(err, errInvalidPayload):
		c.emitError(errInvalidPayload.Error())
	default:
		c.logger.Error("event failed", "event", event, "error", err)
		c.emitError("internal error")
	}
}

// disconnect runs once when a channel's read loop ends.
func (h *Hub) disconnect(c *client) {
	h.eventMu.Lock()
	identity, bound := h.registry.Unbind(c)
	h.dispatcher.remove(c)
	released := h.uploads.ReleaseOwner(c.id)
	if bound {
		h.graph.IdentityDisconnected(identity)
	}
	h.eventMu.Unlock()

	c.close()
	h.metrics.SessionClosed()
	c.logger.Debug("channel disconnected", "identity", identity, "released_uploads", released)
}

// actor returns the identity bound to c.
func (h *Hub) actor(c *client) (string, error) {
	identity, ok := h.registry.IdentityOf(c)
	if !ok {
		return "", errLoginRequired
	}
	return identity, nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errInvalidPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return nil
}
