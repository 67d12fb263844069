package realtime

import (
	"encoding/json"
	"fmt"

	"blogane-live/internal/social"
)

// Envelope is the frame exchanged in both directions on the channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound events.
const (
	EventRegister             = "register"
	EventLogin                = "login"
	EventUpdateProfile        = "update_profile"
	EventGetUserPosts         = "get_user_posts"
	EventNewPost              = "new_post"
	EventToggleLike           = "toggle_like"
	EventAddComment           = "add_comment"
	EventNewReel              = "new_reel"
	EventUploadStart          = "upload_reel_start"
	EventUploadChunk          = "upload_reel_chunk"
	EventUploadEnd            = "upload_reel_end"
	EventCreateGroup          = "create_group"
	EventCreatePage           = "create_page"
	EventGetContextPosts      = "get_context_posts"
	EventSendGlobalMessage    = "send_global_msg"
	EventSendFriendRequest    = "send_friend_request"
	EventRespondFriendRequest = "respond_friend_request"
	EventSendPrivateMessage   = "send_private_msg"
	EventPrivateMessageAlias  = "private_message"
	EventGetPrivateHistory    = "get_private_history"
	EventAIChat               = "ai_chat"
	EventGetFriends           = "get_friends"
	EventGetRequests          = "get_requests"
)

// Outbound events.
const (
	EventAuthSuccess           = "auth_success"
	EventAuthError             = "auth_error"
	EventInitData              = "init_data"
	EventLoadPosts             = "load_posts"
	EventProfileUpdated        = "profile_updated_success"
	EventLoadProfilePosts      = "load_profile_posts"
	EventReceivePost           = "receive_post"
	EventUpdateLikes           = "update_likes"
	EventUpdateComments        = "update_comments"
	EventReceiveReel           = "receive_reel"
	EventUploadReady           = "upload_ready"
	EventUploadError           = "upload_error"
	EventUploadComplete        = "upload_complete"
	EventUpdateGroups          = "update_groups"
	EventUpdatePages           = "update_pages"
	EventGroupCreated          = "group_created_success"
	EventPageCreated           = "page_created_success"
	EventReceiveGlobalMessage  = "receive_global_msg"
	EventReceivePrivateMessage = "receive_private_msg"
	EventPrivateHistory        = "private_history"
	EventAIReply               = "ai_reply"
	EventError                 = "error"

	EventNewRequestAlert = social.EventNewRequestAlert
	EventUpdateRequests  = social.EventUpdateRequests
	EventUpdateFriends   = social.EventUpdateFriends
)

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type profilePayload struct {
	Name   *string `json:"name"`
	Bio    *string `json:"bio"`
	Avatar *string `json:"avatar"`
}

type emailPayload struct {
	Email string `json:"email"`
}

type newPostPayload struct {
	Text      string `json:"text"`
	Image     string `json:"image"`
	Video     string `json:"video"`
	Context   string `json:"context"`
	ContextID string `json:"contextId"`
}

type likePayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type commentPayload struct {
	PostID string `json:"postId"`
	Type   string `json:"type"`
	Text   string `json:"text"`
}

type reelPayload struct {
	URL  string `json:"url"`
	Desc string `json:"desc"`
}

type uploadStartPayload struct {
	Name string `json:"name"`
}

type uploadChunkPayload struct {
	Token string `json:"token"`
	Seq   *int64 `json:"seq"`
	Data  []byte `json:"data"`
}

type uploadEndPayload struct {
	Token       string `json:"token"`
	TotalChunks int64  `json:"totalChunks"`
	Desc        string `json:"desc"`
	Kind        string `json:"kind"`
	Context     string `json:"context"`
	ContextID   string `json:"contextId"`
}

type groupPayload struct {
	Name string `json:"name"`
	Desc string `json:"desc"`
}

type pagePayload struct {
	Name string `json:"name"`
}

type contextPostsPayload struct {
	Context   string `json:"context"`
	ContextID string `json:"contextId"`
}

type chatPayload struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

type friendRequestPayload struct {
	ToEmail string `json:"toEmail"`
}

type respondPayload struct {
	RequesterEmail string `json:"requesterEmail"`
	Accept         bool   `json:"accept"`
}

type privateMessagePayload struct {
	To    string `json:"to"`
	Text  string `json:"text"`
	Image string `json:"image"`
}

type historyPayload struct {
	With string `json:"with"`
}

type aiChatPayload struct {
	Prompt string `json:"prompt"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type uploadReadyPayload struct {
	Token string `json:"token"`
}

type uploadErrorPayload struct {
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

type uploadCompletePayload struct {
	OK    bool   `json:"ok"`
	Token string `json:"token"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

type likesPayload struct {
	ID    string   `json:"id"`
	Type  string   `json:"type"`
	Likes []string `json:"likes"`
}

type commentsPayload struct {
	PostID   string `json:"postId"`
	Type     string `json:"type"`
	Comments any    `json:"comments"`
}

type initDataPayload struct {
	Groups         any `json:"groups"`
	Pages          any `json:"pages"`
	Reels          any `json:"reels"`
	GlobalMessages any `json:"globalMessages"`
}

type aiReplyPayload struct {
	Text string `json:"text"`
}

// decodeEmail accepts either a bare JSON string or an object with an email
// field.
func decodeEmail(data json.RawMessage) (string, error) {
	var email string
	if err := json.Unmarshal(data, &email); err == nil {
		return email, nil
	}
	var payload emailPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", err
	}
	return payload.Email, nil
}

// encodeFrame renders an outbound envelope.
func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return encodeRawFrame(event, data)
}

func encodeRawFrame(event string, data json.RawMessage) ([]byte, error) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return frame, nil
}
