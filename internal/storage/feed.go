package storage

import (
	"strings"

	"blogane-live/internal/models"
	"github.com/google/uuid"
)

// PostParams describes a feed post published by OwnerEmail.
type PostParams struct {
	OwnerEmail string
	Text       string
	Image      string
	MediaPath  string
	Context    string
	ContextID  string
}

// ReelParams describes a short video published by OwnerEmail.
type ReelParams struct {
	OwnerEmail string
	MediaPath  string
	Text       string
}

// CommentParams describes a comment appended to a media record.
type CommentParams struct {
	AuthorEmail string
	Text        string
}

// CreatePost prepends a new post to the feed.
func (s *Storage) CreatePost(params PostParams) (models.MediaRecord, error) {
	if strings.TrimSpace(params.Text) == "" && strings.TrimSpace(params.Image) == "" && strings.TrimSpace(params.MediaPath) == "" {
		return models.MediaRecord{}, ErrInvalidMedia
	}
	context := strings.ToLower(strings.TrimSpace(params.Context))
	if context == "" {
		context = models.ContextGeneral
	}
	return s.AddMediaRecord(models.MediaRecord{
		Kind:       models.MediaKindPost,
		OwnerEmail: params.OwnerEmail,
		Text:       strings.TrimSpace(params.Text),
		Image:      strings.TrimSpace(params.Image),
		MediaPath:  strings.TrimSpace(params.MediaPath),
		Context:    context,
		ContextID:  strings.TrimSpace(params.ContextID),
	})
}

// CreateReel prepends a new reel to the reel collection.
func (s *Storage) CreateReel(params ReelParams) (models.MediaRecord, error) {
	if strings.TrimSpace(params.MediaPath) == "" {
		return models.MediaRecord{}, ErrInvalidMedia
	}
	return s.AddMediaRecord(models.MediaRecord{
		Kind:       models.MediaKindReel,
		OwnerEmail: params.OwnerEmail,
		MediaPath:  strings.TrimSpace(params.MediaPath),
		Text:       strings.TrimSpace(params.Text),
	})
}

// AddMediaRecord finalises record (id, author snapshot, empty likes and
// comments, timestamp) and prepends it to the collection named by its kind.
func (s *Storage) AddMediaRecord(record models.MediaRecord) (models.MediaRecord, error) {
	if record.Kind != models.MediaKindPost && record.Kind != models.MediaKindReel {
		return models.MediaRecord{}, ErrInvalidMedia
	}
	owner := normalizeEmail(record.OwnerEmail)

	s.mu.Lock()
	idx := s.identityIndexLocked(owner)
	if idx < 0 {
		s.mu.Unlock()
		return models.MediaRecord{}, ErrIdentityNotFound
	}
	author := s.data.Identities[idx]
	record.ID = uuid.NewString()
	record.OwnerEmail = owner
	record.AuthorName = author.Name
	record.AuthorAvatar = author.Avatar
	record.Likes = []string{}
	record.Comments = []models.Comment{}
	record.CreatedAt = s.now()
	if record.Kind == models.MediaKindPost && record.Context == "" {
		record.Context = models.ContextGeneral
	}

	collection := s.collectionLocked(record.Kind)
	*collection = append([]models.MediaRecord{record}, *collection...)
	s.mu.Unlock()

	s.commit()
	return cloneRecord(record), nil
}

// ToggleLike flips email's like on the record and returns the resulting likers.
func (s *Storage) ToggleLike(kind models.MediaKind, id, email string) ([]string, error) {
	email = normalizeEmail(email)
	s.mu.Lock()
	record := s.recordLocked(kind, id)
	if record == nil {
		s.mu.Unlock()
		return nil, ErrRecordNotFound
	}
	record.ToggleLike(email)
	likes := append([]string(nil), record.Likes...)
	s.mu.Unlock()

	s.commit()
	return likes, nil
}

// AddComment appends a comment and returns the record's full comment list.
func (s *Storage) AddComment(kind models.MediaKind, id string, params CommentParams) ([]models.Comment, error) {
	text := strings.TrimSpace(params.Text)
	if text == "" {
		return nil, invalid("comment text is required")
	}
	authorEmail := normalizeEmail(params.AuthorEmail)

	s.mu.Lock()
	authorIdx := s.identityIndexLocked(authorEmail)
	if authorIdx < 0 {
		s.mu.Unlock()
		return nil, ErrIdentityNotFound
	}
	record := s.recordLocked(kind, id)
	if record == nil {
		s.mu.Unlock()
		return nil, ErrRecordNotFound
	}
	author := s.data.Identities[authorIdx]
	record.Comments = append(record.Comments, models.Comment{
		ID:           uuid.NewString(),
		Text:         text,
		AuthorEmail:  author.Email,
		AuthorName:   author.Name,
		AuthorAvatar: author.Avatar,
		CreatedAt:    s.now(),
	})
	comments := append([]models.Comment(nil), record.Comments...)
	s.mu.Unlock()

	s.commit()
	return comments, nil
}

// SetMediaRemoteURL records where a record's media was mirrored to.
func (s *Storage) SetMediaRemoteURL(kind models.MediaKind, id, remoteURL string) error {
	s.mu.Lock()
	record := s.recordLocked(kind, id)
	if record == nil {
		s.mu.Unlock()
		return ErrRecordNotFound
	}
	record.RemoteURL = remoteURL
	s.mu.Unlock()

	s.commit()
	return nil
}

func (s *Storage) GetMediaRecord(kind models.MediaKind, id string) (models.MediaRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record := s.recordLocked(kind, id)
	if record == nil {
		return models.MediaRecord{}, false
	}
	return cloneRecord(*record), true
}

// ListPosts returns posts of a feed context, newest first. The general context
// ignores contextID.
func (s *Storage) ListPosts(context, contextID string) []models.MediaRecord {
	context = strings.ToLower(strings.TrimSpace(context))
	if context == "" {
		context = models.ContextGeneral
	}
	return s.filterPosts(func(post models.MediaRecord) bool {
		if post.Context != context {
			return false
		}
		return context == models.ContextGeneral || post.ContextID == contextID
	})
}

// ListPostsByOwner returns every post authored by email, newest first.
func (s *Storage) ListPostsByOwner(email string) []models.MediaRecord {
	email = normalizeEmail(email)
	return s.filterPosts(func(post models.MediaRecord) bool {
		return post.OwnerEmail == email
	})
}

func (s *Storage) ListReels() []models.MediaRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reels := make([]models.MediaRecord, 0, len(s.data.Reels))
	for _, reel := range s.data.Reels {
		reels = append(reels, cloneRecord(reel))
	}
	return reels
}

func (s *Storage) filterPosts(keep func(models.MediaRecord) bool) []models.MediaRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	posts := []models.MediaRecord{}
	for _, post := range s.data.Posts {
		if keep(post) {
			posts = append(posts, cloneRecord(post))
		}
	}
	return posts
}

func (s *Storage) collectionLocked(kind models.MediaKind) *[]models.MediaRecord {
	if kind == models.MediaKindReel {
		return &s.data.Reels
	}
	return &s.data.Posts
}

func (s *Storage) recordLocked(kind models.MediaKind, id string) *models.MediaRecord {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	collection := *s.collectionLocked(kind)
	for i := range collection {
		if collection[i].ID == id {
			return &collection[i]
		}
	}
	return nil
}

func cloneRecord(record models.MediaRecord) models.MediaRecord {
	record.Likes = append([]string{}, record.Likes...)
	record.Comments = append([]models.Comment{}, record.Comments...)
	return record
}
