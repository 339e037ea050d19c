package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// DefaultProfile is used when no profile is named
const DefaultProfile = "default"

// Token is a stored API credential
type Token struct {
	Profile     string `json:"profile"`
	AccessToken string `json:"access_token"`
	// TokenType is informational; requests always send a bearer header
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Expired reports whether the token has a known expiry at or before now
func (t *Token) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}

// TokenStore is the interface for storing and retrieving tokens
type TokenStore interface {
	// Store saves the token under its profile
	Store(token *Token) error

	// Retrieve gets the token for a profile
	Retrieve(profile string) (*Token, error)

	// List returns all stored tokens
	List() ([]*Token, error)

	// Delete removes the token for a profile
	Delete(profile string) error

	// Exists checks if a token exists for a profile
	Exists(profile string) bool
}

// Manager handles token storage with fallback stores. The first store that
// accepts a write wins; reads try every store in order.
type Manager struct {
	stores  []TokenStore
	profile string
	now     func() time.Time
}

// NewManager creates a manager backed by the system keyring when available,
// an encrypted file under configDir, and the environment. An empty configDir
// uses the per-user config directory.
func NewManager(profile, configDir string) (*Manager, error) {
	var stores []TokenStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	if configDir == "" {
		dir, err := getConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		configDir = dir
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "tokens.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return NewManagerWithStores(profile, stores...), nil
}

// NewManagerWithStores creates a manager over the given stores
func NewManagerWithStores(profile string, stores ...TokenStore) *Manager {
	if profile == "" {
		profile = DefaultProfile
	}
	return &Manager{stores: stores, profile: profile, now: time.Now}
}

// Profile returns the profile Token reads
func (m *Manager) Profile() string {
	return m.profile
}

// Store saves a token using the first store that accepts it
func (m *Manager) Store(token *Token) error {
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return fmt.Errorf("%w: access token is required", ErrInvalidCredentials)
	}
	if token.Profile == "" {
		token.Profile = m.profile
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}
	token.LastModified = m.now()

	var errList []error
	for _, store := range m.stores {
		err := store.Store(token)
		if err == nil {
			return nil
		}
		errList = append(errList, err)
	}

	if len(errList) > 0 {
		return fmt.Errorf("failed to store token: %w", errors.Join(errList...))
	}
	return ErrStoreUnavailable
}

// Retrieve gets the token for profile from the first store that has it
func (m *Manager) Retrieve(profile string) (*Token, error) {
	for _, store := range m.stores {
		if token, err := store.Retrieve(profile); err == nil && token != nil {
			return token, nil
		}
	}
	return nil, fmt.Errorf("%w for profile %s", ErrCredentialsNotFound, profile)
}

// Token returns the access token of the manager's profile.
// Expired tokens are reported as ErrTokenExpired.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	token, err := m.Retrieve(m.profile)
	if err != nil {
		return "", err
	}
	if token.Expired(m.now()) {
		return "", fmt.Errorf("%w: profile %s expired at %s", ErrTokenExpired, m.profile, token.Expiry.Format(time.RFC3339))
	}
	return token.AccessToken, nil
}

// List returns the most recently modified token per profile across all stores
func (m *Manager) List() ([]*Token, error) {
	byProfile := make(map[string]*Token)

	for _, store := range m.stores {
		tokens, err := store.List()
		if err != nil {
			continue
		}
		for _, token := range tokens {
			if existing, ok := byProfile[token.Profile]; !ok || token.LastModified.After(existing.LastModified) {
				byProfile[token.Profile] = token
			}
		}
	}

	result := make([]*Token, 0, len(byProfile))
	for _, token := range byProfile {
		result = append(result, token)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Profile < result[j].Profile })
	return result, nil
}

// Delete removes the profile's token from every store
func (m *Manager) Delete(profile string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(profile); err == nil {
			deleted = true
		} else if !errors.Is(err, ErrCredentialsNotFound) && !errors.Is(err, ErrStoreUnavailable) {
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete token: %w", lastErr)
	}
	return fmt.Errorf("%w for profile %s", ErrCredentialsNotFound, profile)
}

// DeleteAll removes every stored token
func (m *Manager) DeleteAll() error {
	tokens, err := m.List()
	if err != nil {
		return err
	}
	for _, token := range tokens {
		_ = m.Delete(token.Profile)
	}
	return nil
}

// getConfigDir returns the per-user configuration directory, creating it
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "apikit")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "apikit")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "apikit")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "apikit")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// Sanitize returns a copy of token with the secret masked
func Sanitize(token *Token) *Token {
	if token == nil {
		return nil
	}
	masked := *token
	masked.AccessToken = maskString(token.AccessToken)
	return &masked
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
	ErrTokenExpired        = errors.New("token expired")
)
