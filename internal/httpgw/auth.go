package httpgw

import (
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TokenSet is a small bearer-token allowlist. Tokens are opaque
// uuid.UUID strings minted by Issue; callers present them in an
// "Authorization: Token <t>" header.
type TokenSet struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewTokenSet returns an empty token set.
func NewTokenSet() *TokenSet {
	return &TokenSet{tokens: make(map[string]struct{})}
}

// Issue mints and stores a fresh token.
func (s *TokenSet) Issue() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	tok := id.String()
	s.mu.Lock()
	s.tokens[tok] = struct{}{}
	s.mu.Unlock()
	return tok, nil
}

// Revoke removes a token from the set.
func (s *TokenSet) Revoke(tok string) {
	s.mu.Lock()
	delete(s.tokens, tok)
	s.mu.Unlock()
}

// Check reports whether tok is currently valid.
func (s *TokenSet) Check(tok string) bool {
	if tok == "" {
		return false
	}
	s.mu.RLock()
	_, ok := s.tokens[tok]
	s.mu.RUnlock()
	return ok
}

const authHeaderPrefix = "Token "

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, authHeaderPrefix) {
		return ""
	}
	return strings.TrimPrefix(h, authHeaderPrefix)
}

// requireWrite wraps next so every write route rejects requests lacking
// a valid bearer token, regardless of ReadAnon.
func (h *Handler) requireWrite(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			writeError(w, http.StatusUnauthorized, "a valid bearer token is required for write operations")
			return
		}
		next(w, r)
	}
}

// requireRead wraps next so read routes reject unauthenticated requests
// unless the gateway was configured with ReadAnon.
func (h *Handler) requireRead(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.readAnon && !h.authorized(r) {
			writeError(w, http.StatusUnauthorized, "a valid bearer token is required")
			return
		}
		next(w, r)
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.tokens == nil {
		// No token set configured: the embedding application has opted
		// out of gateway-level auth and handles it upstream.
		return true
	}
	return h.tokens.Check(bearerToken(r))
}
