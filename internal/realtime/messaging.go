package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"blogane-live/internal/models"
	"blogane-live/internal/observability/logging"
	"blogane-live/internal/storage"
)

func (h *Hub) handlePrivateMessage(_ context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload privateMessagePayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	msg, err := h.store.AppendDirectMessage(storage.DirectParams{
		From:  email,
		To:    payload.To,
		Text:  payload.Text,
		Image: payload.Image,
	})
	if err != nil {
		return err
	}
	h.dispatcher.Unicast(msg.To, EventReceivePrivateMessage, msg)
	c.emit(EventReceivePrivateMessage, msg)

	if recipient, ok := h.store.GetIdentity(msg.To); ok && recipient.Automated {
		h.scheduleAutoReply(recipient, email, msg.Text)
	}
	return nil
}

// scheduleAutoReply answers a direct message sent to an automated identity.
// Generation happens outside the event lock; the reply is stored and
// delivered under it.
func (h *Hub) scheduleAutoReply(bot models.Identity, human, prompt string) {
	h.schedule(h.autoReplyDelay, func() {
		defer logging.Recover(h.logger, "automated reply")
		text := h.assistant.ReplyAs(context.Background(), bot.Name, prompt)

		h.eventMu.Lock()
		defer h.eventMu.Unlock()
		reply, err := h.store.AppendDirectMessage(storage.DirectParams{
			From: bot.Email,
			To:   human,
			Text: text,
		})
		if err != nil {
			h.logger.Warn("failed to store automated reply", "bot", bot.Email, "to", human, "error", err)
			return
		}
		h.dispatcher.Unicast(human, EventReceivePrivateMessage, reply)
	})
}

func (h *Hub) handlePrivateHistory(_ context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload historyPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	c.emit(EventPrivateHistory, h.store.DirectMessagesBetween(email, payload.With, h.historyLimit))
	return nil
}

// handleAIChat answers asynchronously; the reply is dropped if the channel is
// gone by then.
func (h *Hub) handleAIChat(_ context.Context, c *client, data json.RawMessage) error {
	var payload aiChatPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	prompt := strings.TrimSpace(payload.Prompt)
	if prompt == "" {
		c.emitError("prompt is required")
		return nil
	}
	h.assistant.ReplyAsync("", prompt, func(text string) {
		c.emit(EventAIReply, aiReplyPayload{Text: text})
	})
	return nil
}
