package dam

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Credentials identify the gateway to the DAM. Either the login triple
// (Username, Password, Platform) or a previously issued token must be set;
// with both, the token is adopted and the triple is used to refresh it.
type Credentials struct {
	Username string
	Password string
	Platform string

	APIKey   string
	UserUUID string
	Tracking string
}

// CanLogin reports whether the credentials allow a fresh login.
func (c Credentials) CanLogin() bool {
	return c.Username != "" && c.Password != "" && c.Platform != ""
}

// HasToken reports whether a cached token was supplied.
func (c Credentials) HasToken() bool {
	return c.APIKey != "" && c.UserUUID != ""
}

func (c Credentials) token() Token {
	return Token{APIKey: c.APIKey, UserUUID: c.UserUUID, Tracking: c.Tracking}
}

// Token is an established DAM session.
type Token struct {
	APIKey   string
	UserUUID string
	Tracking string // Cookie header value
}

// Valid reports whether the token can authenticate a call.
func (t Token) Valid() bool {
	return t.APIKey != "" && t.UserUUID != ""
}

// LoginFunc performs a login and returns the resulting token.
type LoginFunc func(ctx context.Context, creds Credentials) (Token, error)

// Session holds the shared DAM token. It is safe for concurrent use;
// concurrent logins are coalesced into one.
type Session struct {
	mu     sync.RWMutex
	creds  Credentials
	token  Token
	flight singleflight.Group
}

// NewSession creates a session. A cached token in creds is adopted as-is.
func NewSession(creds Credentials) *Session {
	s := &Session{creds: creds}
	if creds.HasToken() {
		s.token = creds.token()
	}
	return s
}

// Credentials returns the configured credentials.
func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// SetCredentials replaces the credentials used for future logins.
func (s *Session) SetCredentials(creds Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
}

// Token returns the current token, if any.
func (s *Session) Token() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token.Valid()
}

// Set installs a token.
func (s *Session) Set(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = tok
}

// Invalidate drops the current token if it is still stale. It returns false
// when another caller already replaced it.
func (s *Session) Invalidate(stale Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != stale {
		return false
	}
	s.token = Token{}
	return true
}

// Ensure returns the current token, logging in first when there is none.
func (s *Session) Ensure(ctx context.Context, login LoginFunc) (Token, error) {
	if tok, ok := s.Token(); ok {
		return tok, nil
	}

	v, err, _ := s.flight.Do("login", func() (any, error) {
		if tok, ok := s.Token(); ok {
			return tok, nil
		}
		// The login is shared by every waiter; one caller going away must
		// not fail it for the rest.
		tok, err := login(context.WithoutCancel(ctx), s.Credentials())
		if err != nil {
			return Token{}, err
		}
		s.Set(tok)
		return tok, nil
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}
