// Package accounts resolves users and API keys from the storage backend
// and verifies their secrets.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/org/authbroker/internal/storage"
	"github.com/org/authbroker/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// RootUsername is the account that unix socket root peers map to.
const RootUsername = "root"

// dummyHash keeps failed lookups as slow as a real comparison.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Store resolves identities for the auth layer. Lookups that find no
// matching account return (nil, nil).
type Store struct {
	backend storage.StorageBackend
}

// NewStore creates a Store over backend.
func NewStore(backend storage.StorageBackend) *Store {
	return &Store{backend: backend}
}

// ResolveRootIdentity returns the root account.
func (s *Store) ResolveRootIdentity(ctx context.Context) (*models.User, error) {
	return s.lookup(s.backend.GetUserByUsername(ctx, RootUsername))
}

// ResolveLocalUser returns the unlocked account with the given uid.
func (s *Store) ResolveLocalUser(ctx context.Context, uid int) (*models.User, error) {
	user, err := s.lookup(s.backend.GetUserByUID(ctx, uid))
	if err != nil || user == nil || user.Locked {
		return nil, err
	}
	return user, nil
}

// Authenticate checks a username and password against the stored bcrypt
// hash. Locked accounts and accounts without a password never match.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.lookup(s.backend.GetUserByUsername(ctx, username))
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	if user.Locked {
		return nil, nil
	}
	return user, nil
}

// AuthenticateAPIKey checks a key presented as "<id>-<secret>".
func (s *Store) AuthenticateAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	idPart, secret, ok := strings.Cut(key, "-")
	if !ok || secret == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return nil, nil
	}

	apiKey, err := s.backend.GetAPIKey(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(secret))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching api key %d: %w", id, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(apiKey.KeyHash), []byte(secret)); err != nil {
		return nil, nil
	}
	return apiKey, nil
}

func (s *Store) lookup(user *models.User, err error) (*models.User, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return user, nil
}

