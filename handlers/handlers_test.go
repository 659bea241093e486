package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Pia-pr/meine-website/auth"
	"github.com/Pia-pr/meine-website/config"
	"github.com/Pia-pr/meine-website/crypto"
	"github.com/Pia-pr/meine-website/models"
)

type testSite struct {
	h     *Handlers
	store *fakeStore
	mux   http.Handler
	cfg   config.Config
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()
	return newTestSiteWithConfig(t, config.Config{})
}

func newTestSiteWithConfig(t *testing.T, cfg config.Config) *testSite {
	t.Helper()

	dir := t.TempDir()
	cfg.AppName = "TestSite"
	cfg.SessionKey = "test-secret-key-12345678901234567890123456789012"
	cfg.PagesDir = filepath.Join(dir, "pages")
	cfg.DownloadsDir = filepath.Join(dir, "downloads")
	if cfg.LoginHistoryCap == 0 {
		cfg.LoginHistoryCap = 100
	}

	pages := map[string]string{
		"index.html":     "landing page",
		"dashboard.html": "member dashboard",
		"admin.html":     "admin dashboard",
		"liste.html":     "protected list",
	}
	if err := os.MkdirAll(cfg.PagesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range pages {
		if err := os.WriteFile(filepath.Join(cfg.PagesDir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(cfg.DownloadsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.DownloadsDir, "info.txt"), []byte("download me"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	sessions := auth.NewManager(cfg.SessionKey)
	h := New(cfg, store, sessions)

	mux := http.NewServeMux()
	h.RegisterPages(mux)
	h.RegisterAPI(mux)

	return &testSite{
		h:     h,
		store: store,
		mux:   sessions.Remember(store)(mux),
		cfg:   cfg,
	}
}

// addUser creates an account directly in the backing store.
func (s *testSite) addUser(t *testing.T, username, password, role string) {
	t.Helper()
	hash, err := crypto.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.store.CreateUser(context.Background(), username, hash, role); err != nil {
		t.Fatal(err)
	}
}

// sessionFor mints session cookies for an already existing identity.
func (s *testSite) sessionFor(t *testing.T, username, role string) []*http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	if err := s.h.sessions.SignIn(w, r, username, role); err != nil {
		t.Fatal(err)
	}
	return w.Result().Cookies()
}

func (s *testSite) do(method, path string, form url.Values, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func loginForm(username, password string, remember bool) url.Values {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	if remember {
		form.Set("rememberMe", "on")
	}
	return form
}

func registerForm(username, password, confirm string) url.Values {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("passwordConfirm", confirm)
	return form
}

func TestLandingPage(t *testing.T) {
	site := newTestSite(t)
	site.addUser(t, "alice", "wonderland1", models.RoleUser)

	w := site.do("GET", "/", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for anonymous landing, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "landing page") {
		t.Error("Landing page content not served")
	}

	w = site.do("GET", "/", nil, site.sessionFor(t, "alice", models.RoleUser))
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/dashboard" {
		t.Errorf("Expected redirect to /dashboard for signed-in user, got %d %s", w.Code, w.Header().Get("Location"))
	}
}

func TestDashboardAccess(t *testing.T) {
	site := newTestSite(t)

	w := site.do("GET", "/dashboard", nil, nil)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Errorf("Expected anonymous dashboard request to redirect to landing, got %d %s", w.Code, w.Header().Get("Location"))
	}

	w = site.do("GET", "/dashboard", nil, site.sessionFor(t, "alice", models.RoleUser))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "member dashboard") {
		t.Errorf("Expected member view for regular user, got %d %q", w.Code, w.Body.String())
	}

	w = site.do("GET", "/dashboard", nil, site.sessionFor(t, "chef", models.RoleAdmin))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "admin dashboard") {
		t.Errorf("Expected admin view for admin user, got %d %q", w.Code, w.Body.String())
	}
}

func TestProtectedPages(t *testing.T) {
	site := newTestSite(t)

	w := site.do("GET", "/pages/liste.html", nil, nil)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Errorf("Expected anonymous page request to redirect to landing, got %d", w.Code)
	}

	cookies := site.sessionFor(t, "alice", models.RoleUser)
	w = site.do("GET", "/pages/liste.html", nil, cookies)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "protected list") {
		t.Errorf("Expected protected page for signed-in user, got %d", w.Code)
	}

	w = site.do("GET", "/pages/missing.html", nil, cookies)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing page, got %d", w.Code)
	}
}

func TestAdminPageRequiresAdminRole(t *testing.T) {
	site := newTestSite(t)

	w := site.do("GET", "/pages/admin.html", nil, site.sessionFor(t, "alice", models.RoleUser))
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/dashboard" {
		t.Errorf("Expected regular user to be redirected away from admin page, got %d %s", w.Code, w.Header().Get("Location"))
	}

	w = site.do("GET", "/pages/admin.html", nil, site.sessionFor(t, "chef", models.RoleAdmin))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "admin dashboard") {
		t.Errorf("Expected admin page for admin user, got %d %q", w.Code, w.Body.String())
	}
}

func TestLoginSuccess(t *testing.T) {
	site := newTestSite(t)
	site.addUser(t, "alice", "wonderland1", models.RoleUser)

	w := site.do("POST", "/login", loginForm("alice", "wonderland1", false), nil)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/dashboard" {
		t.Fatalf("Expected redirect to /dashboard, got %d %s", w.Code, w.Header().Get("Location"))
	}

	user, _ := site.store.GetUser(context.Background(), "alice")
	if len(user.LoginHistory) != 1 {
		t.Errorf("Expected exactly 1 login history entry, got %d", len(user.LoginHistory))
	}

	// The returned session cookie must open the dashboard
	w2 := site.do("GET", "/dashboard", nil, w.Result().Cookies())
	if w2.Code != http.StatusOK {
		t.Errorf("Session cookie did not grant dashboard access, got %d", w2.Code)
	}

	// No remember-me cookie without the flag
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.RememberCookie {
			t.Error("Remember cookie set although the flag was not sent")
		}
	}
}

func TestLoginFailure(t *testing.T) {
	site := newTestSite(t)
	site.addUser(t, "alice", "wonderland1", models.RoleUser)

	wrongPassword := site.do("POST", "/login", loginForm("alice", "wrong-password", false), nil)
	unknownUser := site.do("POST", "/login", loginForm("nobody", "wrong-password", false), nil)

	if wrongPassword.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong password, got %d", wrongPassword.Code)
	}
	if unknownUser.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unknown user, got %d", unknownUser.Code)
	}
	// Same body for both, so responses cannot be used to enumerate usernames
	if wrongPassword.Body.String() != unknownUser.Body.String() {
		t.Error("Wrong-password and unknown-user responses differ")
	}

	user, _ := site.store.GetUser(context.Background(), "alice")
	if len(user.LoginHistory) != 0 {
		t.Errorf("Failed login modified login history: %d entries", len(user.LoginHistory))
	}

	w := site.do("GET", "/dashboard", nil, wrongPassword.Result().Cookies())
	if w.Code != http.StatusSeeOther {
		t.Error("Failed login established a session")
	}
}

func TestLoginMissingFields(t *testing.T) {
	site := newTestSite(t)
	w := site.do("POST", "/login", loginForm("alice", "", false), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing password, got %d", w.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	site := newTestSite(t)
	site.addUser(t, "alice", "wonderland1", models.RoleUser)

	for i := 0; i < 5; i++ {
		site.do("POST", "/login", loginForm("alice", "wrong-password", false), nil)
	}
	w := site.do("POST", "/login", loginForm("alice", "wonderland1", false), nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after repeated failures, got %d", w.Code)
	}
}

func TestRememberMe(t *testing.T) {
	site := newTestSite(t)
	site.addUser(t, "alice", "wonderland1", models.RoleUser)

	w := site.do("POST", "/login", loginForm("alice", "wonderland1", true), nil)

	var remember *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.RememberCookie {
			remember = c
		}
	}
	if remember == nil {
		t.Fatal("Remember cookie was not set")
	}
	if remember.Value != "alice" {
		t.Errorf("Expected remember cookie value 'alice', got '%s'", remember.Value)
	}
	if !remember.HttpOnly {
		t.Error("Remember cookie must be HttpOnly")
	}

	// A fresh client with only the remember cookie reaches the dashboard
	w2 := site.do("GET", "/dashboard", nil, []*http.Cookie{remember})
	if w2.Code != http.StatusOK {
		t.Errorf("Remember cookie did not re-establish the session, got %d", w2.Code)
	}

	// A remember cookie naming a nonexistent user stays anonymous
	w3 := site.do("GET", "/dashboard", nil, []*http.Cookie{{Name: auth.RememberCookie, Value: "nobody"}})
	if w3.Code != http.StatusSeeOther {
		t.Errorf("Unknown-user remember cookie was honored, got %d", w3.Code)
	}
}

func TestLogout(t *testing.T) {
	site := newTestSite(t)
	site.addUser(t, "alice", "wonderland1", models.RoleUser)

	login := site.do("POST", "/login", loginForm("alice", "wonderland1", true), nil)
	cookies := login.Result().Cookies()

	w := site.do("GET", "/logout", nil, cookies)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Errorf("Expected logout redirect to landing, got %d", w.Code)
	}

	// Both the session and the remember cookie must be expired
	for _, c := range w.Result().Cookies() {
		if (c.Name == auth.SessionName || c.Name == auth.RememberCookie) && c.MaxAge >= 0 {
			t.Errorf("Cookie %s not expired on logout", c.Name)
		}
	}

	// Without the remember cookie, the old session cookie no longer works
	var sessionOnly []*http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionName {
			sessionOnly = append(sessionOnly, c)
		}
	}
	w2 := site.do("GET", "/dashboard", nil, sessionOnly)
	if w2.Code != http.StatusSeeOther || w2.Header().Get("Location") != "/" {
		t.Errorf("Protected page still reachable after logout, got %d", w2.Code)
	}
}

func TestRegisterSuccess(t *testing.T) {
	site := newTestSite(t)

	w := site.do("POST", "/register", registerForm("alice", "secret12", "secret12"), nil)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Fatalf("Expected redirect to landing after registration, got %d", w.Code)
	}

	user, err := site.store.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Registered user not found: %v", err)
	}
	if user.Role != models.RoleUser {
		t.Errorf("Expected role '%s', got '%s'", models.RoleUser, user.Role)
	}
	if user.PasswordHash == "secret12" {
		t.Error("Password stored in plaintext")
	}
	if !crypto.CheckPasswordHash("secret12", user.PasswordHash) {
		t.Error("Stored hash does not verify against the password")
	}
	if len(user.LoginHistory) != 0 {
		t.Errorf("New account has %d history entries, expected none", len(user.LoginHistory))
	}
}

func TestRegisterValidation(t *testing.T) {
	site := newTestSite(t)

	cases := []struct {
		name string
		form url.Values
		want int
	}{
		{"missing fields", registerForm("alice", "secret12", ""), http.StatusBadRequest},
		{"password mismatch", registerForm("alice", "secret12", "secret13"), http.StatusBadRequest},
		{"password too short", registerForm("alice", "short", "short"), http.StatusBadRequest},
		{"username with separator", registerForm("al;ice", "secret12", "secret12"), http.StatusBadRequest},
		{"username with space", registerForm("al ice", "secret12", "secret12"), http.StatusBadRequest},
		{"username with slash", registerForm("al/ice", "secret12", "secret12"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := site.do("POST", "/register", tc.form, nil)
			if w.Code != tc.want {
				t.Errorf("Expected %d, got %d", tc.want, w.Code)
			}
		})
	}

	if _, err := site.store.GetUser(context.Background(), "alice"); err == nil {
		t.Error("Invalid registration created an account")
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	site := newTestSite(t)

	first := site.do("POST", "/register", registerForm("alice", "secret12", "secret12"), nil)
	if first.Code != http.StatusSeeOther {
		t.Fatalf("First registration failed: %d", first.Code)
	}
	original, _ := site.store.GetUser(context.Background(), "alice")

	second := site.do("POST", "/register", registerForm("alice", "other-secret1", "other-secret1"), nil)
	if second.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate username, got %d", second.Code)
	}

	// The original account is untouched
	after, _ := site.store.GetUser(context.Background(), "alice")
	if after.PasswordHash != original.PasswordHash {
		t.Error("Duplicate registration altered the original account")
	}
}

func TestDownload(t *testing.T) {
	site := newTestSite(t)

	w := site.do("GET", "/download/info.txt", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for existing file, got %d", w.Code)
	}
	if w.Body.String() != "download me" {
		t.Errorf("Unexpected file content: %q", w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "attachment") {
		t.Error("Download is not served as attachment")
	}

	w = site.do("GET", "/download/missing.txt", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing file, got %d", w.Code)
	}
}
