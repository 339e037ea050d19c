package auth

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "apikit"
	keyringPrefix  = "token_"
	keyringIndex   = "profiles"
)

// KeyringStore keeps tokens in the system keychain, one entry per profile
// plus an index entry so profiles can be listed.
type KeyringStore struct{}

// NewKeyringStore checks the keychain with a throwaway entry and fails when it is unusable
func NewKeyringStore() (*KeyringStore, error) {
	check := "availability_check"
	if err := keyring.Set(keyringService, check, "ok"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, check)
	return &KeyringStore{}, nil
}

func (k *KeyringStore) Store(token *Token) error {
	if token == nil || token.Profile == "" {
		return ErrInvalidCredentials
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := keyring.Set(keyringService, keyringPrefix+token.Profile, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return k.updateIndex(func(profiles map[string]bool) { profiles[token.Profile] = true })
}

func (k *KeyringStore) Retrieve(profile string) (*Token, error) {
	if profile == "" {
		return nil, ErrInvalidCredentials
	}

	data, err := keyring.Get(keyringService, keyringPrefix+profile)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var token Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

// List reads the profiles recorded in the index entry
func (k *KeyringStore) List() ([]*Token, error) {
	profiles, err := k.index()
	if err != nil {
		return nil, err
	}

	tokens := make([]*Token, 0, len(profiles))
	for profile := range profiles {
		if token, err := k.Retrieve(profile); err == nil {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

func (k *KeyringStore) Delete(profile string) error {
	if profile == "" {
		return ErrInvalidCredentials
	}

	err := keyring.Delete(keyringService, keyringPrefix+profile)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return k.updateIndex(func(profiles map[string]bool) { delete(profiles, profile) })
}

func (k *KeyringStore) Exists(profile string) bool {
	if profile == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+profile)
	return err == nil
}

func (k *KeyringStore) index() (map[string]bool, error) {
	profiles := make(map[string]bool)
	data, err := keyring.Get(keyringService, keyringIndex)
	if errors.Is(err, keyring.ErrNotFound) {
		return profiles, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse keyring index: %w", err)
	}
	return profiles, nil
}

func (k *KeyringStore) updateIndex(change func(map[string]bool)) error {
	profiles, err := k.index()
	if err != nil {
		return err
	}
	change(profiles)
	data, err := json.Marshal(profiles)
	if err != nil {
		return err
	}
	return keyring.Set(keyringService, keyringIndex, string(data))
}
