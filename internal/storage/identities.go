package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"blogane-live/internal/models"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000

	defaultBio = "New member"
)

// RegisterParams captures the attributes accepted when creating an identity.
type RegisterParams struct {
	Email     string
	Name      string
	Password  string
	Avatar    string
	Bio       string
	Automated bool
}

// ProfileUpdate lists the mutable profile fields. Nil leaves a field untouched;
// an empty Avatar is ignored as well.
type ProfileUpdate struct {
	Name   *string
	Bio    *string
	Avatar *string
}

// RegisterIdentity creates a new identity keyed by email.
func (s *Storage) RegisterIdentity(params RegisterParams) (models.Identity, error) {
	identity, err := s.prepareIdentity(params)
	if err != nil {
		return models.Identity{}, err
	}

	s.mu.Lock()
	if s.identityIndexLocked(identity.Email) >= 0 {
		s.mu.Unlock()
		return models.Identity{}, ErrDuplicateIdentity
	}
	s.data.Identities = append(s.data.Identities, identity)
	s.mu.Unlock()

	s.commit()
	return identity, nil
}

// EnsureIdentity registers the identity unless the email is already taken, in
// which case the existing record is returned. It reports whether a record was
// created.
func (s *Storage) EnsureIdentity(params RegisterParams) (models.Identity, bool, error) {
	if existing, ok := s.GetIdentity(params.Email); ok {
		return existing, false, nil
	}
	identity, err := s.RegisterIdentity(params)
	if errors.Is(err, ErrDuplicateIdentity) {
		existing, _ := s.GetIdentity(params.Email)
		return existing, false, nil
	}
	if err != nil {
		return models.Identity{}, false, err
	}
	return identity, true, nil
}

func (s *Storage) prepareIdentity(params RegisterParams) (models.Identity, error) {
	email := normalizeEmail(params.Email)
	if email == "" || !strings.Contains(email, "@") {
		return models.Identity{}, invalid("a valid email is required")
	}
	name, err := normalizeDisplayName(params.Name)
	if err != nil {
		return models.Identity{}, err
	}
	if !params.Automated && params.Password == "" {
		return models.Identity{}, invalid("password is required")
	}

	if _, exists := s.GetIdentity(email); exists {
		return models.Identity{}, ErrDuplicateIdentity
	}

	var passwordHash string
	if params.Password != "" {
		passwordHash, err = hashPassword(params.Password)
		if err != nil {
			return models.Identity{}, fmt.Errorf("hash password: %w", err)
		}
	}

	avatar := strings.TrimSpace(params.Avatar)
	if avatar == "" {
		avatar = defaultAvatarURL(name)
	}
	bio := strings.TrimSpace(params.Bio)
	if bio == "" {
		bio = defaultBio
	}

	return models.Identity{
		Email:        email,
		Name:         name,
		Avatar:       avatar,
		Bio:          bio,
		PasswordHash: passwordHash,
		Automated:    params.Automated,
		CreatedAt:    s.now(),
	}, nil
}

// Authenticate matches an identity by email and password.
func (s *Storage) Authenticate(email, password string) (models.Identity, error) {
	if password == "" {
		return models.Identity{}, ErrInvalidCredentials
	}
	identity, ok := s.GetIdentity(email)
	if !ok || identity.PasswordHash == "" {
		return models.Identity{}, ErrInvalidCredentials
	}
	if err := verifyPassword(identity.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.Identity{}, ErrInvalidCredentials
		}
		return models.Identity{}, err
	}
	return identity, nil
}

// UpdateProfile applies update to the identity keyed by email.
func (s *Storage) UpdateProfile(email string, update ProfileUpdate) (models.Identity, error) {
	var name string
	if update.Name != nil {
		normalized, err := normalizeDisplayName(*update.Name)
		if err != nil {
			return models.Identity{}, err
		}
		name = normalized
	}

	s.mu.Lock()
	idx := s.identityIndexLocked(normalizeEmail(email))
	if idx < 0 {
		s.mu.Unlock()
		return models.Identity{}, ErrIdentityNotFound
	}
	identity := &s.data.Identities[idx]
	if update.Name != nil {
		identity.Name = name
	}
	if update.Bio != nil {
		identity.Bio = strings.TrimSpace(*update.Bio)
	}
	if update.Avatar != nil && strings.TrimSpace(*update.Avatar) != "" {
		identity.Avatar = strings.TrimSpace(*update.Avatar)
	}
	updated := *identity
	s.mu.Unlock()

	s.commit()
	return updated, nil
}

func (s *Storage) GetIdentity(email string) (models.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.identityIndexLocked(normalizeEmail(email))
	if idx < 0 {
		return models.Identity{}, false
	}
	return s.data.Identities[idx], true
}

// IsAutomated reports whether email belongs to a scripted identity.
func (s *Storage) IsAutomated(email string) bool {
	identity, ok := s.GetIdentity(email)
	return ok && identity.Automated
}

func (s *Storage) ListIdentities() []models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Identity(nil), s.data.Identities...)
}

func (s *Storage) identityIndexLocked(email string) int {
	for i := range s.data.Identities {
		if s.data.Identities[i].Email == email {
			return i
		}
	}
	return -1
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeDisplayName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", invalid("name is required")
	}
	normalized, err := precis.Nickname.String(name)
	if err != nil {
		return "", invalid("name contains unsupported characters")
	}
	if len([]rune(normalized)) > 64 {
		return "", invalid("name exceeds 64 characters")
	}
	return normalized, nil
}

func defaultAvatarURL(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, passwordHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", passwordHashIterations, encodedSalt, encodedKey), nil
}

func verifyPassword(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify password: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
