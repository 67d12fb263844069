package social

import (
	"context"
	"testing"

	"blogane-live/internal/models"
)

func befriend(t *testing.T, f *fixture, a, b string) {
	t.Helper()
	ctx := context.Background()
	if err := f.graph.SendRequest(ctx, a, b); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if err := f.graph.Respond(ctx, b, a, true); err != nil {
		t.Fatalf("Respond: %v", err)
	}
}

func TestRefreshFriendsSkipsOffline(t *testing.T) {
	f := newFixture(t)
	f.graph.RefreshFriends("ana@example.com")
	if len(f.notifier.take()) != 0 {
		t.Fatalf("expected no delivery to an offline identity")
	}
}

func TestIdentityDisconnectedUpdatesOnlineFriends(t *testing.T) {
	f := newFixture(t)
	befriend(t, f, "ana@example.com", "ben@example.com")
	befriend(t, f, "ana@example.com", "cy@example.com")
	f.connect("ana@example.com")
	f.connect("ben@example.com")
	f.notifier.take()

	f.registry.Unbind(conn("ana@example.com"))
	f.graph.IdentityDisconnected("ana@example.com")

	deliveries := f.notifier.take()
	if len(deliveries) != 1 || deliveries[0].identity != "ben@example.com" || deliveries[0].event != EventUpdateFriends {
		t.Fatalf("expected a single friend refresh for ben, got %+v", deliveries)
	}
	friends := deliveries[0].payload.([]models.FriendSummary)
	if len(friends) != 1 || friends[0].Email != "ana@example.com" || friends[0].IsOnline {
		t.Fatalf("expected ana to be listed offline, got %+v", friends)
	}
}

func TestIdentityConnectedRefreshesSelfAndFriends(t *testing.T) {
	f := newFixture(t)
	befriend(t, f, "ana@example.com", "ben@example.com")
	f.connect("ben@example.com")
	f.notifier.take()

	f.connect("ana@example.com")
	f.graph.IdentityConnected("ana@example.com")

	deliveries := f.notifier.take()
	if got := eventsFor(deliveries, "ana@example.com"); len(got) != 1 {
		t.Fatalf("expected ana to receive her own list, got %v", got)
	}
	benEvents := eventsFor(deliveries, "ben@example.com")
	if len(benEvents) != 1 {
		t.Fatalf("expected ben to be told ana is online, got %v", benEvents)
	}
	for _, d := range deliveries {
		if d.identity == "ben@example.com" {
			friends := d.payload.([]models.FriendSummary)
			if !friends[0].IsOnline {
				t.Fatalf("expected ana online in ben's list")
			}
		}
	}
	if eventsFor(deliveries, "cy@example.com") != nil {
		t.Fatalf("expected non-friends to be left alone")
	}
}
