package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"blogane-live/internal/media"
	"blogane-live/internal/models"
	"blogane-live/internal/storage"
)

func (h *Hub) handleUploadStart(_ context.Context, c *client, data json.RawMessage) error {
	if _, err := h.actor(c); err != nil {
		c.emit(EventUploadError, uploadErrorPayload{Message: err.Error()})
		return nil
	}
	var payload uploadStartPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	token, err := h.uploads.Start(c.id, payload.Name)
	if err != nil {
		c.logger.Error("failed to start upload", "name", payload.Name, "error", err)
		c.emit(EventUploadError, uploadErrorPayload{Message: "could not start upload"})
		return nil
	}
	c.emit(EventUploadReady, uploadReadyPayload{Token: token})
	return nil
}

// handleUploadChunk runs without the hub event lock; only the upload's own
// lock is held while the chunk is applied.
func (h *Hub) handleUploadChunk(_ context.Context, c *client, data json.RawMessage) error {
	var payload uploadChunkPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	err := h.uploads.Chunk(c.id, payload.Token, payload.Seq, payload.Data)
	if errors.Is(err, media.ErrBufferFull) {
		c.emit(EventUploadError, uploadErrorPayload{Token: payload.Token, Message: err.Error()})
		return nil
	}
	return err
}

// handleUploadEnd finalises the file, publishes the record and always tells
// the uploader how it went.
func (h *Hub) handleUploadEnd(_ context.Context, c *client, data json.RawMessage) error {
	var payload uploadEndPayload
	if err := decode(data, &payload); err != nil {
		h.abortUpload(c, data, err)
		return nil
	}
	complete := uploadCompletePayload{Token: payload.Token}

	email, err := h.actor(c)
	if err != nil {
		complete.Error = err.Error()
		c.emit(EventUploadComplete, complete)
		return nil
	}

	result, err := h.uploads.End(c.id, payload.Token, media.EndParams{TotalChunks: payload.TotalChunks})
	if err != nil {
		c.logger.Warn("upload did not complete", "token", payload.Token, "error", err)
		complete.Error = err.Error()
		c.emit(EventUploadComplete, complete)
		return nil
	}
	if result.FailedWrites > 0 {
		c.logger.Warn("upload finished with failed writes", "token", result.Token, "failed_writes", result.FailedWrites)
	}

	kind := models.MediaKindReel
	if strings.EqualFold(strings.TrimSpace(payload.Kind), string(models.MediaKindPost)) {
		kind = models.MediaKindPost
	}
	var record models.MediaRecord
	if kind == models.MediaKindPost {
		record, err = h.store.CreatePost(storage.PostParams{
			OwnerEmail: email,
			Text:       payload.Desc,
			MediaPath:  result.Path,
			Context:    payload.Context,
			ContextID:  payload.ContextID,
		})
	} else {
		record, err = h.store.CreateReel(storage.ReelParams{
			OwnerEmail: email,
			MediaPath:  result.Path,
			Text:       payload.Desc,
		})
	}
	if err != nil {
		c.logger.Error("failed to store uploaded media", "token", result.Token, "error", err)
		complete.Error = err.Error()
		c.emit(EventUploadComplete, complete)
		return nil
	}

	if kind == models.MediaKindPost {
		h.dispatcher.Broadcast(EventReceivePost, record)
	} else {
		h.dispatcher.Broadcast(EventReceiveReel, record)
	}
	complete.OK = true
	complete.Path = result.Path
	c.emit(EventUploadComplete, complete)

	h.mirror.Enqueue(media.MirrorJob{Kind: kind, RecordID: record.ID, FilePath: result.FilePath})
	return nil
}

// abortUpload answers an undecodable upload_reel_end. The token is recovered
// when possible so the upload is closed and the uploader still gets its
// upload_complete.
func (h *Hub) abortUpload(c *client, data json.RawMessage, cause error) {
	var ref struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(data, &ref)
	c.logger.Warn("malformed upload end", "token", ref.Token, "error", cause)
	if ref.Token != "" {
		if _, err := h.uploads.End(c.id, ref.Token, media.EndParams{}); err != nil && !errors.Is(err, media.ErrUnknownUpload) {
			c.logger.Warn("failed to close aborted upload", "token", ref.Token, "error", err)
		}
	}
	c.emit(EventUploadComplete, uploadCompletePayload{Token: ref.Token, Error: errInvalidPayload.Error()})
}
