package smartslydr

import (
	"errors"
	"sync"

	"golang.org/x/oauth2"
)

var errNoAccessToken = errors.New("smartslydr: not authenticated")

// TokenStore holds the account credentials and the current token pair.
// Credentials are fixed at construction; tokens are replaced on every
// authenticate or refresh. Nothing is persisted.
type TokenStore struct {
	username string
	password string

	mu    sync.RWMutex
	token oauth2.Token
}

func NewTokenStore(username, password string) *TokenStore {
	return &TokenStore{username: username, password: password}
}

func (s *TokenStore) Username() string {
	return s.username
}

func (s *TokenStore) credentials() authRequest {
	return authRequest{Username: s.username, Password: s.password}
}

func (s *TokenStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.AccessToken
}

func (s *TokenStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.RefreshToken
}

// SetTokens replaces both tokens.
func (s *TokenStore) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = oauth2.Token{AccessToken: access, RefreshToken: refresh}
}

// SetAccessToken replaces the access token only. The refresh token is not rotated upstream.
func (s *TokenStore) SetAccessToken(access string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token.AccessToken = access
}

// Clear drops both tokens.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = oauth2.Token{}
}

// Token implements oauth2.TokenSource.
func (s *TokenStore) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token.AccessToken == "" {
		return nil, errNoAccessToken
	}
	tok := s.token
	return &tok, nil
}

var _ oauth2.TokenSource = (*TokenStore)(nil)
