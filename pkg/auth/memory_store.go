package auth

import "sync"

// MemoryStore keeps tokens in process memory. Errors can be injected for tests.
type MemoryStore struct {
	tokens map[string]*Token
	mu     sync.RWMutex

	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]*Token)}
}

func (m *MemoryStore) Store(token *Token) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if token == nil || token.Profile == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t := *token
	m.tokens[token.Profile] = &t
	return nil
}

func (m *MemoryStore) Retrieve(profile string) (*Token, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}
	if profile == "" {
		return nil, ErrInvalidCredentials
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	token, ok := m.tokens[profile]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	t := *token
	return &t, nil
}

func (m *MemoryStore) List() ([]*Token, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	tokens := make([]*Token, 0, len(m.tokens))
	for _, token := range m.tokens {
		t := *token
		tokens = append(tokens, &t)
	}
	return tokens, nil
}

func (m *MemoryStore) Delete(profile string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[profile]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.tokens, profile)
	return nil
}

func (m *MemoryStore) Exists(profile string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tokens[profile]
	return ok
}

// Count returns the number of stored tokens
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tokens)
}
