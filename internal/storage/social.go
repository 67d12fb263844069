package storage

import "blogane-live/internal/models"

// AddFriendRequest records PENDING(from→to). It reports false without error
// when the request is already pending or the pair are already friends.
func (s *Storage) AddFriendRequest(from, to string) (bool, error) {
	from, to = normalizeEmail(from), normalizeEmail(to)
	if from == to {
		return false, ErrSelfRequest
	}

	s.mu.Lock()
	if s.identityIndexLocked(from) < 0 || s.identityIndexLocked(to) < 0 {
		s.mu.Unlock()
		return false, ErrIdentityNotFound
	}
	if s.pendingIndexLocked(from, to) >= 0 || s.friendsLocked(from, to) {
		s.mu.Unlock()
		return false, nil
	}
	s.data.FriendRequests = append(s.data.FriendRequests, models.FriendRequest{
		From:      from,
		To:        to,
		CreatedAt: s.now(),
	})
	s.mu.Unlock()

	s.commit()
	return true, nil
}

// RespondFriendRequest resolves PENDING(from→to). Without a matching request it
// does nothing and reports false. Accepting creates the friendship edge in the
// same critical section that removes the request.
func (s *Storage) RespondFriendRequest(to, from string, accept bool) bool {
	to, from = normalizeEmail(to), normalizeEmail(from)

	s.mu.Lock()
	idx := s.pendingIndexLocked(from, to)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.data.FriendRequests = append(s.data.FriendRequests[:idx], s.data.FriendRequests[idx+1:]...)
	if accept && !s.friendsLocked(from, to) {
		s.data.Friendships = append(s.data.Friendships, models.Friendship{
			User1:     from,
			User2:     to,
			CreatedAt: s.now(),
		})
	}
	s.mu.Unlock()

	s.commit()
	return true
}

// PendingRequestsTo lists requests addressed to email in creation order.
func (s *Storage) PendingRequestsTo(email string) []models.FriendRequest {
	email = normalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var requests []models.FriendRequest
	for _, req := range s.data.FriendRequests {
		if req.To == email {
			requests = append(requests, req)
		}
	}
	return requests
}

func (s *Storage) HasPendingRequest(from, to string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingIndexLocked(normalizeEmail(from), normalizeEmail(to)) >= 0
}

// FriendEmails returns the other endpoint of every edge touching email.
func (s *Storage) FriendEmails(email string) []string {
	email = normalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var friends []string
	for _, edge := range s.data.Friendships {
		if edge.Involves(email) {
			friends = append(friends, edge.Other(email))
		}
	}
	return friends
}

func (s *Storage) AreFriends(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.friendsLocked(normalizeEmail(a), normalizeEmail(b))
}

func (s *Storage) pendingIndexLocked(from, to string) int {
	for i, req := range s.data.FriendRequests {
		if req.From == from && req.To == to {
			return i
		}
	}
	return -1
}

func (s *Storage) friendsLocked(a, b string) bool {
	for _, edge := range s.data.Friendships {
		if edge.Connects(a, b) {
			return true
		}
	}
	return false
}
