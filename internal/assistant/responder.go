package assistant

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"blogane-live/internal/observability/logging"
	"blogane-live/internal/observability/metrics"
)

const (
	DefaultFallback     = "I'm having trouble answering right now. Please try again in a moment."
	DefaultSystemPrompt = "You are a friendly member of the Blogane community. Reply briefly and helpfully."
	DefaultTimeout      = 30 * time.Second
)

type ResponderConfig struct {
	Generator    TextGenerator
	SystemPrompt string
	Fallback     string
	Timeout      time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

// Responder turns prompts into replies. It never fails: upstream errors,
// empty answers and a missing generator all resolve to the fallback text.
type Responder struct {
	generator    TextGenerator
	systemPrompt string
	fallback     string
	timeout      time.Duration
	logger       *slog.Logger
	metrics      *metrics.Recorder
}

func NewResponder(cfg ResponderConfig) *Responder {
	r := &Responder{
		generator:    cfg.Generator,
		systemPrompt: cfg.SystemPrompt,
		fallback:     strings.TrimSpace(cfg.Fallback),
		timeout:      cfg.Timeout,
		logger:       logging.WithComponent(cfg.Logger, "assistant"),
		metrics:      cfg.Metrics,
	}
	if r.systemPrompt == "" {
		r.systemPrompt = DefaultSystemPrompt
	}
	if r.fallback == "" {
		r.fallback = DefaultFallback
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.metrics == nil {
		r.metrics = metrics.Default()
	}
	return r
}

// Reply asks the generator for an answer to prompt within the configured
// timeout.
func (r *Responder) Reply(ctx context.Context, prompt string) string {
	return r.ReplyAs(ctx, "", prompt)
}

// ReplyAs answers prompt in the voice of persona, a display name prepended to
// the system prompt.
func (r *Responder) ReplyAs(ctx context.Context, persona, prompt string) string {
	if r.generator == nil || strings.TrimSpace(prompt) == "" {
		r.metrics.ObserveAssistantReply(true)
		return r.fallback
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	system := r.systemPrompt
	if persona = strings.TrimSpace(persona); persona != "" {
		system = "Your name is " + persona + ". " + system
	}
	text, err := r.generator.GenerateText(ctx, system, prompt)
	if err != nil {
		r.logger.Warn("text generation failed, using fallback", "error", err)
		r.metrics.ObserveAssistantReply(true)
		return r.fallback
	}
	if text = strings.TrimSpace(text); text == "" {
		r.metrics.ObserveAssistantReply(true)
		return r.fallback
	}
	r.metrics.ObserveAssistantReply(false)
	return text
}

// ReplyAsync generates a reply off the caller's goroutine and hands it to
// deliver. A panic in the generator or deliver is recovered and logged.
func (r *Responder) ReplyAsync(persona, prompt string, deliver func(string)) {
	go func() {
		defer logging.Recover(r.logger, "assistant reply")
		deliver(r.ReplyAs(context.Background(), persona, prompt))
	}()
}

// Fallback returns the canned reply.
func (r *Responder) Fallback() string {
	return r.fallback
}
