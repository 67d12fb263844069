package storage

import (
	"strings"

	"blogane-live/internal/models"
	"github.com/google/uuid"
)

// CreateGroup registers a community group owned by owner, who becomes its
// first member.
func (s *Storage) CreateGroup(name, description, owner string) (models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Group{}, invalid("group name is required")
	}
	owner = normalizeEmail(owner)

	s.mu.Lock()
	if s.identityIndexLocked(owner) < 0 {
		s.mu.Unlock()
		return models.Group{}, ErrIdentityNotFound
	}
	group := models.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Members:     []string{owner},
		Owner:       owner,
		CreatedAt:   s.now(),
	}
	s.data.Groups = append(s.data.Groups, group)
	s.mu.Unlock()

	s.commit()
	return cloneGroup(group), nil
}

func (s *Storage) CreatePage(name, owner string) (models.Page, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Page{}, invalid("page name is required")
	}
	owner = normalizeEmail(owner)

	s.mu.Lock()
	if s.identityIndexLocked(owner) < 0 {
		s.mu.Unlock()
		return models.Page{}, ErrIdentityNotFound
	}
	page := models.Page{
		ID:        uuid.NewString(),
		Name:      name,
		Followers: []string{owner},
		Owner:     owner,
		CreatedAt: s.now(),
	}
	s.data.Pages = append(s.data.Pages, page)
	s.mu.Unlock()

	s.commit()
	return clonePage(page), nil
}

func (s *Storage) ListGroups() []models.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := make([]models.Group, 0, len(s.data.Groups))
	for _, group := range s.data.Groups {
		groups = append(groups, cloneGroup(group))
	}
	return groups
}

func (s *Storage) ListPages() []models.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := make([]models.Page, 0, len(s.data.Pages))
	for _, page := range s.data.Pages {
		pages = append(pages, clonePage(page))
	}
	return pages
}

func cloneGroup(group models.Group) models.Group {
	group.Members = append([]string{}, group.Members...)
	return group
}

func clonePage(page models.Page) models.Page {
	page.Followers = append([]string{}, page.Followers...)
	return page
}
