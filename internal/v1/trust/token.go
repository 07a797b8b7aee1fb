package trust

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TempTokenTTL is the lifetime of an OTP-issued admin token.
const TempTokenTTL = 4 * time.Hour

type tempToken struct {
	expiresAt time.Time
	boundIP   string
}

// TokenStore holds temp admin tokens bound to the IP that redeemed the OTP.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]tempToken
	now    func() time.Time
}

// NewTokenStore returns an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: map[string]tempToken{}, now: time.Now}
}

// Issue mints a token bound to ip, valid for TempTokenTTL.
func (s *TokenStore) Issue(ip string) (token string, ttl time.Duration) {
	token = uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = tempToken{expiresAt: s.now().Add(TempTokenTTL), boundIP: ip}
	s.mu.Unlock()
	return token, TempTokenTTL
}

// Validate checks a presented token against ip. Expired tokens are evicted;
// so are tokens presented from the wrong address. A token bound to a
// loopback address matches any loopback address.
func (s *TokenStore) Validate(token, ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[token]
	if !ok {
		return false
	}
	if s.now().After(tok.expiresAt) || !ipMatches(tok.boundIP, ip) {
		delete(s.tokens, token)
		return false
	}
	return true
}

func ipMatches(bound, presented string) bool {
	if bound == presented {
		return true
	}
	return isLoopback(bound) && isLoopback(presented)
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
