package auth

import (
	"context"
	"crypto/sha256"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"github.com/Pia-pr/meine-website/models"
)

const (
	SessionName = "site-session"

	// RememberCookie carries the plain username for persistent login.
	// This mirrors the historic wire contract of the site; the cookie holds
	// no secret, which is a known weakness (see DESIGN.md).
	RememberCookie   = "rememberMe"
	RememberDuration = 30 * 24 * time.Hour
)

// UserFinder looks up an account during remember-me resolution.
type UserFinder interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
}

// Manager owns the cookie session store. It is constructed once at startup
// and handed to the route layer; nothing here is package-level state.
type Manager struct {
	store *sessions.CookieStore
}

func NewManager(sessionKey string) *Manager {
	// Derive two 32-byte keys from the session key:
	// auth key for signing (HMAC), encryption key for content encryption (AES)
	authKey := sha256.Sum256([]byte(sessionKey + "auth"))
	encKey := sha256.Sum256([]byte(sessionKey + "encryption"))

	store := sessions.NewCookieStore(authKey[:], encKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Manager{store: store}
}

// CurrentUser returns the signed-in identity for the request, if any.
func (m *Manager) CurrentUser(r *http.Request) (username, role string, ok bool) {
	session, _ := m.store.Get(r, SessionName)
	username, userOK := session.Values["username"].(string)
	role, roleOK := session.Values["role"].(string)
	if !userOK || !roleOK || username == "" {
		return "", "", false
	}
	return username, role, true
}

func (m *Manager) SignIn(w http.ResponseWriter, r *http.Request, username, role string) error {
	session, _ := m.store.Get(r, SessionName)
	session.Values["username"] = username
	session.Values["role"] = role
	return session.Save(r, w)
}

// SignOut drops the identity from the session and expires the cookie.
// The values must be cleared as well: an expired cookie can still be
// replayed by the client, and a replayed cookie that carries the old
// identity would authenticate again.
func (m *Manager) SignOut(w http.ResponseWriter, r *http.Request) {
	session, _ := m.store.Get(r, SessionName)
	for k := range session.Values {
		delete(session.Values, k)
	}
	session.Options.MaxAge = -1
	session.Save(r, w)
}

// SetRememberCookie stores the username for persistent login. If the name
// contains bytes that http.SetCookie would strip, no cookie is set at all:
// a sanitized value would name a different account on the way back in.
func (m *Manager) SetRememberCookie(w http.ResponseWriter, username string) {
	if !validCookieValue(username) {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RememberCookie,
		Value:    username,
		Path:     "/",
		Expires:  time.Now().Add(RememberDuration),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) ClearRememberCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RememberCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// validCookieValue mirrors the byte set net/http accepts in cookie values.
func validCookieValue(v string) bool {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if b <= 0x20 || b >= 0x7f || b == '"' || b == ';' || b == '\\' {
			return false
		}
	}
	return true
}

// Remember re-establishes a session from the remember-me cookie when no
// session is active. It runs before route dispatch, only populates identity
// and never blocks a request. A cookie naming an unknown user is ignored.
func (m *Manager) Remember(users UserFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, _, ok := m.CurrentUser(r); !ok {
				if cookie, err := r.Cookie(RememberCookie); err == nil && cookie.Value != "" {
					if user, err := users.GetUser(r.Context(), cookie.Value); err == nil {
						if err := m.SignIn(w, r, user.Username, user.Role); err != nil {
							log.Printf("Error restoring session for %q: %v", user.Username, err)
						}
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
