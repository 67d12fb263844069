// Package social drives the friend request lifecycle and keeps connected
// sessions' friend and request lists current.
package social

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"blogane-live/internal/models"
	"blogane-live/internal/observability/logging"
)

// Events pushed to sessions.
const (
	EventNewRequestAlert = "new_req_alert"
	EventUpdateRequests  = "update_requests"
	EventUpdateFriends   = "update_friends"
)

// DefaultAutoAcceptDelay is how long an automated identity waits before
// accepting a request addressed to it.
const DefaultAutoAcceptDelay = 3 * time.Second

const unknownName = "Unknown"

// Store is the persistence surface the graph needs.
type Store interface {
	GetIdentity(email string) (models.Identity, bool)
	AddFriendRequest(from, to string) (bool, error)
	RespondFriendRequest(to, from string, accept bool) bool
	PendingRequestsTo(email string) []models.FriendRequest
	FriendEmails(email string) []string
}

// Presence answers whether an identity currently has a bound session.
type Presence interface {
	IsOnline(identity string) bool
}

// Notifier delivers an event to the session bound to identity, if any.
type Notifier interface {
	Unicast(identity, event string, payload any) bool
}

// Scheduler runs fn once after d. time.AfterFunc is the production scheduler.
type Scheduler func(d time.Duration, fn func())

func afterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

type Config struct {
	Store    Store
	Presence Presence
	Notifier Notifier
	Logger   *slog.Logger
	// AutoAcceptDelay defaults to DefaultAutoAcceptDelay.
	AutoAcceptDelay time.Duration
	// Locker, when set, is held while a deferred auto-accept runs so it is
	// ordered with other realtime mutations.
	Locker   sync.Locker
	Schedule Scheduler
}

// Graph is the friend request state machine. Per ordered pair the states are
// none, pending(from, to) and friends.
type Graph struct {
	store    Store
	presence Presence
	notifier Notifier
	logger   *slog.Logger
	delay    time.Duration
	locker   sync.Locker
	schedule Scheduler
}

func NewGraph(cfg Config) (*Graph, error) {
	if cfg.Store == nil {
		return nil, errors.New("social graph requires a store")
	}
	if cfg.Presence == nil {
		return nil, errors.New("social graph requires a presence source")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("social graph requires a notifier")
	}
	g := &Graph{
		store:    cfg.Store,
		presence: cfg.Presence,
		notifier: cfg.Notifier,
		logger:   logging.WithComponent(cfg.Logger, "social"),
		delay:    cfg.AutoAcceptDelay,
		locker:   cfg.Locker,
		schedule: cfg.Schedule,
	}
	if g.delay <= 0 {
		g.delay = DefaultAutoAcceptDelay
	}
	if g.schedule == nil {
		g.schedule = afterFunc
	}
	return g, nil
}

// SendRequest moves (from, to) from none to pending. Self requests return a
// storage validation error; repeats and requests between friends are no-ops.
func (g *Graph) SendRequest(ctx context.Context, from, to string) error {
	created, err := g.store.AddFriendRequest(from, to)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	target, _ := g.store.GetIdentity(to)
	if target.Automated {
		g.scheduleAutoAccept(target.Email, from)
		return nil
	}

	g.notifier.Unicast(target.Email, EventNewRequestAlert, g.requestSummary(from))
	g.RefreshRequests(target.Email)
	return nil
}

func (g *Graph) scheduleAutoAccept(bot, requester string) {
	g.schedule(g.delay, func() {
		defer logging.Recover(g.logger, "auto-accept friend request")
		if g.locker != nil {
			g.locker.Lock()
			defer g.locker.Unlock()
		}
		if err := g.Respond(context.Background(), bot, requester, true); err != nil {
			g.logger.Warn("auto-accept failed", "bot", bot, "requester", requester, "error", err)
		}
	})
}

// Respond resolves pending(from, to). Without a pending record nothing
// happens. Both friend lists are refreshed either way; a decline sends no
// event of its own.
func (g *Graph) Respond(ctx context.Context, to, from string, accept bool) error {
	if !g.store.RespondFriendRequest(to, from, accept) {
		return nil
	}
	g.RefreshFriends(to)
	g.RefreshFriends(from)
	g.RefreshRequests(to)
	return nil
}

// PendingRequestsFor joins the requests addressed to identity with sender
// display data.
func (g *Graph) PendingRequestsFor(identity string) []models.RequestSummary {
	requests := g.store.PendingRequestsTo(identity)
	summaries := make([]models.RequestSummary, 0, len(requests))
	for _, req := range requests {
		summaries = append(summaries, g.requestSummary(req.From))
	}
	return summaries
}

func (g *Graph) requestSummary(sender string) models.RequestSummary {
	identity, ok := g.store.GetIdentity(sender)
	if !ok {
		return models.RequestSummary{Email: sender, Name: unknownName}
	}
	return models.RequestSummary{Email: identity.Email, Name: identity.Name, Avatar: identity.Avatar}
}

// FriendsOf lists identity's friends with their online status. Automated
// identities always count as online.
func (g *Graph) FriendsOf(identity string) []models.FriendSummary {
	emails := g.store.FriendEmails(identity)
	friends := make([]models.FriendSummary, 0, len(emails))
	for _, email := range emails {
		friend, ok := g.store.GetIdentity(email)
		if !ok {
			continue
		}
		friends = append(friends, models.FriendSummary{
			Name:     friend.Name,
			Email:    friend.Email,
			Avatar:   friend.Avatar,
			IsOnline: friend.Automated || g.presence.IsOnline(friend.Email),
		})
	}
	return friends
}

// RefreshRequests pushes identity's pending list to its session, if any.
func (g *Graph) RefreshRequests(identity string) {
	if !g.presence.IsOnline(identity) {
		return
	}
	g.notifier.Unicast(identity, EventUpdateRequests, g.PendingRequestsFor(identity))
}
