package social

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"blogane-live/internal/models"
	"blogane-live/internal/session"
	"blogane-live/internal/storage"
)

type delivery struct {
	identity string
	event    string
	payload  any
}

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (n *recordingNotifier) Unicast(identity, event string, payload any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, delivery{identity: identity, event: event, payload: payload})
	return true
}

func (n *recordingNotifier) take() []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.deliveries
	n.deliveries = nil
	return out
}

type conn string

func (c conn) ID() string { return string(c) }

type manualScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (s *manualScheduler) schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.pending = append(s.pending, fn)
}

func (s *manualScheduler) fire() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

type fixture struct {
	store     *storage.Storage
	registry  *session.Registry
	notifier  *recordingNotifier
	scheduler *manualScheduler
	graph     *Graph
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewJSONStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewJSONStorage: %v", err)
	}
	f := &fixture{
		store:     store,
		registry:  session.NewRegistry(),
		notifier:  &recordingNotifier{},
		scheduler: &manualScheduler{},
	}
	f.graph, err = NewGraph(Config{
		Store:    store,
		Presence: f.registry,
		Notifier: f.notifier,
		Schedule: f.scheduler.schedule,
	})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	for _, email := range []string{"ana@example.com", "ben@example.com", "cy@example.com"} {
		if _, err := store.RegisterIdentity(storage.RegisterParams{Email: email, Name: email[:3], Password: "pw"}); err != nil {
			t.Fatalf("RegisterIdentity: %v", err)
		}
	}
	return f
}

func (f *fixture) connect(identity string) {
	f.registry.Bind(identity, conn(identity))
}

func eventsFor(deliveries []delivery, identity string) []string {
	var events []string
	for _, d := range deliveries {
		if d.identity == identity {
			events = append(events, d.event)
		}
	}
	return events
}

func TestSendRequestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.graph.SendRequest(ctx, "ana@example.com", "ben@example.com"); err != nil {
			t.Fatalf("SendRequest %d: %v", i, err)
		}
	}
	if got := len(f.store.PendingRequestsTo("ben@example.com")); got != 1 {
		t.Fatalf("expected exactly one pending record, got %d", got)
	}
}

func TestSendRequestRejectsSelf(t *testing.T) {
	f := newFixture(t)
	f.connect("ana@example.com")

	err := f.graph.SendRequest(context.Background(), "ana@example.com", "ana@example.com")
	if !errors.Is(err, storage.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.store.Counts().FriendRequests != 0 {
		t.Fatalf("expected no record")
	}
	if len(f.notifier.take()) != 0 {
		t.Fatalf("expected graph to leave error delivery to the caller")
	}
}

func TestSendRequestNotifiesOnlyTarget(t *testing.T) {
	f := newFixture(t)
	f.connect("ana@example.com")
	f.connect("ben@example.com")
	f.connect("cy@example.com")

	if err := f.graph.SendRequest(context.Background(), "ana@example.com", "ben@example.com"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	deliveries := f.notifier.take()
	if got := eventsFor(deliveries, "ben@example.com"); len(got) != 2 || got[0] != EventNewRequestAlert || got[1] != EventUpdateRequests {
		t.Fatalf("unexpected events for target: %v", got)
	}
	if len(deliveries) != 2 {
		t.Fatalf("expected deliveries only to the target, got %+v", deliveries)
	}
	summaries, ok := deliveries[1].payload.([]models.RequestSummary)
	if !ok || len(summaries) != 1 || summaries[0].Email != "ana@example.com" || summaries[0].Name != "ana" {
		t.Fatalf("unexpected request summaries %+v", deliveries[1].payload)
	}
}

func TestRespondAcceptRefreshesBothSides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect("ana@example.com")
	f.connect("ben@example.com")
	if err := f.graph.SendRequest(ctx, "ana@example.com", "ben@example.com"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	f.notifier.take()

	if err := f.graph.Respond(ctx, "ben@example.com", "ana@example.com", true); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	deliveries := f.notifier.take()
	if got := eventsFor(deliveries, "ana@example.com"); len(got) != 1 || got[0] != EventUpdateFriends {
		t.Fatalf("expected requester friend refresh, got %v", got)
	}
	if got := eventsFor(deliveries, "ben@example.com"); len(got) != 2 || got[0] != EventUpdateFriends || got[1] != EventUpdateRequests {
		t.Fatalf("expected responder friend and request refresh, got %v", got)
	}

	anaFriends := f.graph.FriendsOf("ana@example.com")
	benFriends := f.graph.FriendsOf("ben@example.com")
	if len(anaFriends) != 1 || anaFriends[0].Email != "ben@example.com" || !anaFriends[0].IsOnline {
		t.Fatalf("unexpected friends of ana: %+v", anaFriends)
	}
	if len(benFriends) != 1 || benFriends[0].Email != "ana@example.com" {
		t.Fatalf("unexpected friends of ben: %+v", benFriends)
	}
}

func TestRespondDeclineRefreshesBothFriendLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect("ana@example.com")
	f.connect("ben@example.com")
	if err := f.graph.SendRequest(ctx, "ana@example.com", "ben@example.com"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	f.notifier.take()

	if err := f.graph.Respond(ctx, "ben@example.com", "ana@example.com", false); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	deliveries := f.notifier.take()
	if got := eventsFor(deliveries, "ana@example.com"); len(got) != 1 || got[0] != EventUpdateFriends {
		t.Fatalf("expected only a friend list refresh for the requester, got %v", got)
	}
	benEvents := eventsFor(deliveries, "ben@example.com")
	if len(benEvents) != 2 || benEvents[0] != EventUpdateFriends || benEvents[1] != EventUpdateRequests {
		t.Fatalf("expected friend and request refresh for the responder, got %v", benEvents)
	}
	for _, d := range deliveries {
		if d.identity == "ana@example.com" {
			if friends, ok := d.payload.([]models.FriendSummary); !ok || len(friends) != 0 {
				t.Fatalf("expected an empty friend list after decline, got %#v", d.payload)
			}
		}
	}
	if f.store.AreFriends("ana@example.com", "ben@example.com") {
		t.Fatalf("expected no friendship after decline")
	}

	if err := f.graph.Respond(ctx, "ben@example.com", "ana@example.com", true); err != nil {
		t.Fatalf("Respond without pending: %v", err)
	}
	if len(f.notifier.take()) != 0 {
		t.Fatalf("expected response without pending request to be silent")
	}
}

func TestAutomatedTargetAcceptsAfterDelay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.store.EnsureIdentity(storage.RegisterParams{Email: "bot@example.com", Name: "Bot", Automated: true}); err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}
	f.connect("ana@example.com")

	if err := f.graph.SendRequest(ctx, "ana@example.com", "bot@example.com"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if f.store.AreFriends("ana@example.com", "bot@example.com") {
		t.Fatalf("expected acceptance to wait for the delay")
	}
	if len(f.scheduler.delays) != 1 || f.scheduler.delays[0] != DefaultAutoAcceptDelay {
		t.Fatalf("expected auto-accept scheduled after %v, got %v", DefaultAutoAcceptDelay, f.scheduler.delays)
	}

	f.scheduler.fire()
	if !f.store.AreFriends("ana@example.com", "bot@example.com") {
		t.Fatalf("expected automated identity to accept")
	}
	friends := f.graph.FriendsOf("ana@example.com")
	if len(friends) != 1 || !friends[0].IsOnline {
		t.Fatalf("expected bot to be listed online, got %+v", friends)
	}
	if got := eventsFor(f.notifier.take(), "ana@example.com"); len(got) != 1 || got[0] != EventUpdateFriends {
		t.Fatalf("expected requester friend refresh, got %v", got)
	}
}

func TestPendingRequestsForUnknownSender(t *testing.T) {
	f := newFixture(t)
	summary := f.graph.requestSummary("ghost@example.com")
	if summary.Name != "Unknown" || summary.Avatar != "" {
		t.Fatalf("expected unknown sender placeholder, got %+v", summary)
	}
}
