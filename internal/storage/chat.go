package storage

import (
	"strings"

	"blogane-live/internal/models"
	"github.com/google/uuid"
)

// ChatParams describes a message posted to the global room.
type ChatParams struct {
	AuthorEmail string
	Text        string
	Image       string
}

// DirectParams describes a private message between two identities.
type DirectParams struct {
	From  string
	To    string
	Text  string
	Image string
}

// AppendGlobalMessage appends to the global chat log. The log is trimmed to the
// configured retention on the following save.
func (s *Storage) AppendGlobalMessage(params ChatParams) (models.ChatMessage, error) {
	text, image := strings.TrimSpace(params.Text), strings.TrimSpace(params.Image)
	if text == "" && image == "" {
		return models.ChatMessage{}, invalid("message is empty")
	}
	email := normalizeEmail(params.AuthorEmail)

	s.mu.Lock()
	idx := s.identityIndexLocked(email)
	if idx < 0 {
		s.mu.Unlock()
		return models.ChatMessage{}, ErrIdentityNotFound
	}
	author := s.data.Identities[idx]
	msg := models.ChatMessage{
		ID:           uuid.NewString(),
		Text:         text,
		Image:        image,
		AuthorEmail:  author.Email,
		AuthorName:   author.Name,
		AuthorAvatar: author.Avatar,
		CreatedAt:    s.now(),
	}
	s.data.GlobalMessages = append(s.data.GlobalMessages, msg)
	s.mu.Unlock()

	s.commit()
	return msg, nil
}

// GlobalMessages returns the retained global chat log, oldest first.
func (s *Storage) GlobalMessages() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ChatMessage{}, s.data.GlobalMessages...)
}

func (s *Storage) AppendDirectMessage(params DirectParams) (models.DirectMessage, error) {
	from, to := normalizeEmail(params.From), normalizeEmail(params.To)
	text, image := strings.TrimSpace(params.Text), strings.TrimSpace(params.Image)
	if text == "" && image == "" {
		return models.DirectMessage{}, invalid("message is empty")
	}
	if from == to {
		return models.DirectMessage{}, invalid("cannot message yourself")
	}

	s.mu.Lock()
	if s.identityIndexLocked(from) < 0 || s.identityIndexLocked(to) < 0 {
		s.mu.Unlock()
		return models.DirectMessage{}, ErrIdentityNotFound
	}
	msg := models.DirectMessage{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Text:      text,
		Image:     image,
		CreatedAt: s.now(),
	}
	s.data.DirectMessages = append(s.data.DirectMessages, msg)
	s.mu.Unlock()

	s.commit()
	return msg, nil
}

// DirectMessagesBetween returns the conversation between a and b, oldest
// first. A positive limit keeps only the newest limit messages.
func (s *Storage) DirectMessagesBetween(a, b string, limit int) []models.DirectMessage {
	a, b = normalizeEmail(a), normalizeEmail(b)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conversation := []models.DirectMessage{}
	for _, msg := range s.data.DirectMessages {
		if (msg.From == a && msg.To == b) || (msg.From == b && msg.To == a) {
			conversation = append(conversation, msg)
		}
	}
	return keepLastAppended(conversation, limit)
}
