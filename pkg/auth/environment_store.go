package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	AccessTokenEnv = "APIKIT_ACCESS_TOKEN"
	TokenTypeEnv   = "APIKIT_TOKEN_TYPE"
)

// EnvironmentStore is a read-only store serving APIKIT_ACCESS_TOKEN for any profile
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(token *Token) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(profile string) (*Token, error) {
	access := os.Getenv(AccessTokenEnv)
	if access == "" {
		return nil, ErrCredentialsNotFound
	}
	if profile == "" {
		profile = DefaultProfile
	}

	tokenType := os.Getenv(TokenTypeEnv)
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Token{
		Profile:      profile,
		AccessToken:  access,
		TokenType:    tokenType,
		LastModified: time.Now(),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Token, error) {
	token, err := e.Retrieve("")
	if err != nil {
		return []*Token{}, nil
	}
	return []*Token{token}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(profile string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(profile string) bool {
	return os.Getenv(AccessTokenEnv) != ""
}
