package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	albumCookie = "caderneta_session"
	albumTTL    = 14 * 24 * time.Hour
)

// sessionStore remembers which browsers unlocked the album.
type sessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	expires map[string]time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{ttl: ttl, expires: make(map[string]time.Time)}
}

// issue returns a fresh token and drops every expired one.
func (s *sessionStore) issue() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for t, exp := range s.expires {
		if now.After(exp) {
			delete(s.expires, t)
		}
	}
	s.expires[token] = now.Add(s.ttl)
	return token, nil
}

func (s *sessionStore) valid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[token]
	if ok && time.Now().After(exp) {
		delete(s.expires, token)
		return false
	}
	return ok
}

func (s *sessionStore) revoke(token string) {
	s.mu.Lock()
	delete(s.expires, token)
	s.mu.Unlock()
}

// passwordMatches compares in constant time; an empty guess never matches.
func passwordMatches(guess, password string) bool {
	return guess != "" && subtle.ConstantTimeCompare([]byte(guess), []byte(password)) == 1
}

// isAPI reports whether r targets the JSON surface.
func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// sameOrigin rejects cookie-authenticated writes sent from another site.
// Requests without an Origin header (scripts, old browsers) pass.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

func isWrite(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// authMiddleware guards the album. The page needs a session cookie; the
// JSON API also takes HTTP Basic credentials so scripts can import and
// reset. An empty password disables the check.
func authMiddleware(password string, sessions *sessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if password == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie(albumCookie); err == nil && sessions.valid(c.Value) {
				if isWrite(r) && !sameOrigin(r) {
					http.Error(w, "cross-origin request refused", http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if isAPI(r) {
				if _, pass, ok := r.BasicAuth(); ok && passwordMatches(pass, password) {
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("WWW-Authenticate", `Basic realm="caderneta album"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			http.Redirect(w, r, "/login?redirect="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
		})
	}
}

// safeRedirect keeps post-login redirects on this host.
func safeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	return target
}
