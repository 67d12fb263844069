package social

// RefreshFriends pushes identity's friend list to its own session. Offline
// identities are skipped.
func (g *Graph) RefreshFriends(identity string) {
	if !g.presence.IsOnline(identity) {
		return
	}
	g.notifier.Unicast(identity, EventUpdateFriends, g.FriendsOf(identity))
}

// IdentityConnected refreshes identity and each online friend so both sides
// see the new status.
func (g *Graph) IdentityConnected(identity string) {
	g.RefreshFriends(identity)
	g.refreshOnlineFriends(identity)
}

// IdentityDisconnected refreshes each online friend of identity. Call it after
// the session has been unbound.
func (g *Graph) IdentityDisconnected(identity string) {
	g.refreshOnlineFriends(identity)
}

func (g *Graph) refreshOnlineFriends(identity string) {
	for _, friend := range g.store.FriendEmails(identity) {
		if g.presence.IsOnline(friend) {
			g.RefreshFriends(friend)
		}
	}
}
