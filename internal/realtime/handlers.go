package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"blogane-live/internal/models"
	"blogane-live/internal/storage"
)

func (h *Hub) registerHandlers() {
	h.handlers = map[string]handlerFunc{
		EventRegister:             h.handleRegister,
		EventLogin:                h.handleLogin,
		EventUpdateProfile:        h.handleUpdateProfile,
		EventGetUserPosts:         h.handleGetUserPosts,
		EventNewPost:              h.handleNewPost,
		EventToggleLike:           h.handleToggleLike,
		EventAddComment:           h.handleAddComment,
		EventNewReel:              h.handleNewReel,
		EventUploadStart:          h.handleUploadStart,
		EventUploadEnd:            h.handleUploadEnd,
		EventCreateGroup:          h.handleCreateGroup,
		EventCreatePage:           h.handleCreatePage,
		EventGetContextPosts:      h.handleGetContextPosts,
		EventSendGlobalMessage:    h.handleGlobalMessage,
		EventSendFriendRequest:    h.handleFriendRequest,
		EventRespondFriendRequest: h.handleRespondFriendRequest,
		EventSendPrivateMessage:   h.handlePrivateMessage,
		EventPrivateMessageAlias:  h.handlePrivateMessage,
		EventGetPrivateHistory:    h.handlePrivateHistory,
		EventAIChat:               h.handleAIChat,
		EventGetFriends:           h.handleGetFriends,
		EventGetRequests:          h.handleGetRequests,
	}
}

// allow consults the limiter for a credential attempt. Limiter failures fail
// open.
func (h *Hub) allow(ctx context.Context, c *client, action string) (bool, string) {
	if h.limiter == nil {
		return true, ""
	}
	allowed, retryAfter, err := h.limiter.Allow(ctx, action+":"+c.remoteIP)
	if err != nil {
		c.logger.Warn("rate limiter unavailable", "action", action, "error", err)
		return true, ""
	}
	if allowed {
		return true, ""
	}
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return false, fmt.Sprintf("too many attempts, retry in %ds", seconds)
}

func (h *Hub) handleRegister(ctx context.Context, c *client, data json.RawMessage) error {
	var payload credentialsPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	if ok, message := h.allow(ctx, c, EventRegister); !ok {
		c.emit(EventAuthError, messagePayload{Message: message})
		return nil
	}
	identity, err := h.store.RegisterIdentity(storage.RegisterParams{
		Email:    payload.Email,
		Name:     payload.Name,
		Password: payload.Password,
	})
	if err != nil {
		if errors.Is(err, storage.ErrValidation) {
			c.emit(EventAuthError, messagePayload{Message: err.Error()})
			return nil
		}
		return err
	}
	h.startSession(c, identity)
	return nil
}

func (h *Hub) handleLogin(ctx context.Context, c *client, data json.RawMessage) error {
	var payload credentialsPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	if ok, message := h.allow(ctx, c, EventLogin); !ok {
		c.emit(EventAuthError, messagePayload{Message: message})
		return nil
	}
	identity, err := h.store.Authenticate(payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, storage.ErrValidation) {
			c.emit(EventAuthError, messagePayload{Message: storage.ErrInvalidCredentials.Error()})
			return nil
		}
		return err
	}
	h.startSession(c, identity)
	return nil
}

// startSession binds identity to c and sends the initial state.
func (h *Hub) startSession(c *client, identity models.Identity) {
	previous, hadPrevious := h.registry.IdentityOf(c)
	if replaced := h.registry.Bind(identity.Email, c); replaced != nil {
		c.logger.Info("identity moved to a new channel", "identity", identity.Email, "replaced", replaced.ID())
	}
	if hadPrevious && previous != identity.Email {
		h.graph.IdentityDisconnected(previous)
	}

	c.emit(EventAuthSuccess, identity.Public())
	c.emit(EventInitData, initDataPayload{
		Groups:         h.store.ListGroups(),
		Pages:          h.store.ListPages(),
		Reels:          h.store.ListReels(),
		GlobalMessages: h.store.GlobalMessages(),
	})
	c.emit(EventLoadPosts, h.store.ListPosts(models.ContextGeneral, ""))
	h.graph.IdentityConnected(identity.Email)
	h.graph.RefreshRequests(identity.Email)
}

func (h *Hub) handleUpdateProfile(_ context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload profilePayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	identity, err := h.store.UpdateProfile(email, storage.ProfileUpdate{
		Name:   payload.Name,
		Bio:    payload.Bio,
		Avatar: payload.Avatar,
	})
	if err != nil {
		return err
	}
	c.emit(EventProfileUpdated, identity.Public())
	// Friends render this identity's name and avatar.
	h.graph.IdentityConnected(email)
	return nil
}

func (h *Hub) handleGetUserPosts(_ context.Context, c *client, data json.RawMessage) error {
	email, err := decodeEmail(data)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	c.emit(EventLoadProfilePosts, h.store.ListPostsByOwner(email))
	return nil
}

func (h *Hub) handleNewPost(_ context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload newPostPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	post, err := h.store.CreatePost(storage.PostParams{
		OwnerEmail: email,
		Text:       payload.Text,
		Image:      payload.Image,
		MediaPath:  payload.Video,
		Context:    payload.Context,
		ContextID:  payload.ContextID,
	})
	if err != nil {
		return err
	}
	h.dispatcher.Broadcast(EventReceivePost, post)
	return nil
}

func (h *Hub) handleToggleLike(_ context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload likePayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	kind := models.ParseMediaKind(payload.Type)
	likes, err := h.store.ToggleLike(kind, payload.ID, email)
	if err != nil {
		return err
	}
	h.dispatcher.Broadcast(EventUpdateLikes, likesPayload{ID: payload.ID, Type: string(kind), Likes: likes})
	return nil
}

func (h *Hub) handleAddComment(_ context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload commentPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	kind := models.ParseMediaKind(payload.Type)
	comments, err := h.store.AddComment(kind, payload.PostID, storage.CommentParams{
		AuthorEmail: email,
		Text:        payload.Text,
	})
	if err != nil {
		return err
	}
	h.dispatcher.Broadcast(EventUpdateComments, commentsPayload{PostID: payload.PostID, Type: string(kind), Comments: comments})
	return nil
}

func (h *Hub) handleNewReel(_ context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload reelPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	reel, err := h.store.CreateReel(storage.ReelParams{
		OwnerEmail: email,
		MediaPath:  payload.URL,
		Text:       payload.Desc,
	})
	if err != nil {
		return err
	}
	h.dispatcher.Broadcast(EventReceiveReel, reel)
	return nil
}

func (h *Hub) handleCreateGroup(_ context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload groupPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	group, err := h.store.CreateGroup(payload.Name, payload.Desc, email)
	if err != nil {
		return err
	}
	h.dispatcher.Broadcast(EventUpdateGroups, h.store.ListGroups())
	c.emit(EventGroupCreated, group)
	return nil
}

func (h *Hub) handleCreatePage(_ context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload pagePayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	page, err := h.store.CreatePage(payload.Name, email)
	if err != nil {
		return err
	}
	h.dispatcher.Broadcast(EventUpdatePages, h.store.ListPages())
	c.emit(EventPageCreated, page)
	return nil
}

func (h *Hub) handleGetContextPosts(_ context.Context, c *client, data json.RawMessage) error {
	var payload contextPostsPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	c.emit(EventLoadPosts, h.store.ListPosts(payload.Context, payload.ContextID))
	return nil
}

func (h *Hub) handleGlobalMessage(_ context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload chatPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	msg, err := h.store.AppendGlobalMessage(storage.ChatParams{
		AuthorEmail: email,
		Text:        payload.Text,
		Image:       payload.Image,
	})
	if err != nil {
		return err
	}
	h.dispatcher.Broadcast(EventReceiveGlobalMessage, msg)
	return nil
}

func (h *Hub) handleFriendRequest(ctx context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload friendRequestPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	return h.graph.SendRequest(ctx, email, payload.ToEmail)
}

func (h *Hub) handleRespondFriendRequest(ctx context.Context, c *client, data json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	var payload respondPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	return h.graph.Respond(ctx, email, payload.RequesterEmail, payload.Accept)
}

func (h *Hub) handleGetFriends(_ context.Context, c *client, _ json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	c.emit(EventUpdateFriends, h.graph.FriendsOf(email))
	return nil
}

func (h *Hub) handleGetRequests(_ context.Context, c *client, _ json.RawMessage) error {
	email, err := h.actor(c)
	if err != nil {
		return err
	}
	c.emit(EventUpdateRequests, h.graph.PendingRequestsFor(email))
	return nil
}
