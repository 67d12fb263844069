package models

import (
	"strings"
	"time"
)

// MediaKind names the history collection a MediaRecord lives in.
type MediaKind string

const (
	MediaKindPost MediaKind = "post"
	MediaKindReel MediaKind = "reel"
)

// ParseMediaKind maps client supplied kinds onto a collection, defaulting to
// posts for anything that is not a reel.
func ParseMediaKind(raw string) MediaKind {
	if strings.EqualFold(strings.TrimSpace(raw), string(MediaKindReel)) {
		return MediaKindReel
	}
	return MediaKindPost
}

// Feed contexts a post can be published into.
const (
	ContextGeneral = "general"
	ContextGroup   = "group"
	ContextPage    = "page"
)

type Identity struct {
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Avatar       string    `json:"avatar"`
	Bio          string    `json:"bio"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	Wallet       int64     `json:"wallet"`
	Automated    bool      `json:"automated"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Public strips the credential so the identity can be sent to clients.
func (i Identity) Public() Identity {
	i.PasswordHash = ""
	return i
}

type FriendRequest struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	CreatedAt time.Time `json:"createdAt"`
}

// Friendship is an undirected edge; User1 is the requester that was accepted.
type Friendship struct {
	User1     string    `json:"user1"`
	User2     string    `json:"user2"`
	CreatedAt time.Time `json:"createdAt"`
}

// Involves reports whether email is either endpoint of the edge.
func (f Friendship) Involves(email string) bool {
	return f.User1 == email || f.User2 == email
}

// Other returns the endpoint opposite to email.
func (f Friendship) Other(email string) string {
	if f.User1 == email {
		return f.User2
	}
	return f.User1
}

// Connects reports whether the edge joins a and b in either direction.
func (f Friendship) Connects(a, b string) bool {
	return (f.User1 == a && f.User2 == b) || (f.User1 == b && f.User2 == a)
}

type Comment struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	AuthorEmail  string    `json:"userEmail"`
	AuthorName   string    `json:"userName"`
	AuthorAvatar string    `json:"userAvatar"`
	CreatedAt    time.Time `json:"date"`
}

// MediaRecord is a feed post or reel. Likes has set semantics; Comments keeps
// insertion order.
type MediaRecord struct {
	ID           string    `json:"id"`
	Kind         MediaKind `json:"type"`
	OwnerEmail   string    `json:"email"`
	AuthorName   string    `json:"author"`
	AuthorAvatar string    `json:"avatar"`
	Text         string    `json:"text,omitempty"`
	Image        string    `json:"image,omitempty"`
	MediaPath    string    `json:"url,omitempty"`
	RemoteURL    string    `json:"remoteUrl,omitempty"`
	Context      string    `json:"context,omitempty"`
	ContextID    string    `json:"contextId,omitempty"`
	Likes        []string  `json:"likes"`
	Comments     []Comment `json:"comments"`
	CreatedAt    time.Time `json:"date"`
}

// ToggleLike adds email to the likers or removes it when already present and
// reports whether the record is liked by email afterwards.
func (m *MediaRecord) ToggleLike(email string) bool {
	for i, liker := range m.Likes {
		if liker == email {
			m.Likes = append(m.Likes[:i:i], m.Likes[i+1:]...)
			return false
		}
	}
	m.Likes = append(m.Likes, email)
	return true
}

type ChatMessage struct {
	ID           string    `json:"id"`
	Text         string    `json:"text,omitempty"`
	Image        string    `json:"image,omitempty"`
	AuthorEmail  string    `json:"email"`
	AuthorName   string    `json:"author"`
	AuthorAvatar string    `json:"avatar"`
	CreatedAt    time.Time `json:"date"`
}

type DirectMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text,omitempty"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"date"`
}

type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Members     []string  `json:"members"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Page struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Followers []string  `json:"followers"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
}

// FriendSummary is one entry of a friend list pushed to a session.
type FriendSummary struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
	IsOnline bool   `json:"isOnline"`
}

// RequestSummary is one pending friend request joined with sender display data.
type RequestSummary struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}
