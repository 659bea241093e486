package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dchest/captcha"
	"github.com/go-playground/validator"
	"github.com/gorilla/csrf"

	"github.com/Pia-pr/meine-website/auth"
	"github.com/Pia-pr/meine-website/config"
	"github.com/Pia-pr/meine-website/crypto"
	"github.com/Pia-pr/meine-website/db"
	"github.com/Pia-pr/meine-website/i18n"
	"github.com/Pia-pr/meine-website/models"
)

// UserStore is the persistence surface the route layer depends on,
// implemented by *db.Store.
type UserStore interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, username, passwordHash, role string) error
	DeleteUser(ctx context.Context, username string) error
	AppendLogin(ctx context.Context, username string, t time.Time) error
	UpdatePassword(ctx context.Context, username, passwordHash string) error
	ListLoginHistory(ctx context.Context) ([]models.UserLogins, error)
}

type Handlers struct {
	cfg      config.Config
	users    UserStore
	sessions *auth.Manager
	validate *validator.Validate

	loginLimiter  *rateLimiter
	signupLimiter *rateLimiter
}

func New(cfg config.Config, users UserStore, sessions *auth.Manager) *Handlers {
	return &Handlers{
		cfg:           cfg,
		users:         users,
		sessions:      sessions,
		validate:      validator.New(),
		loginLimiter:  newRateLimiter(),
		signupLimiter: newRateLimiter(),
	}
}

// RegisterPages mounts the browser-facing routes.
func (h *Handlers) RegisterPages(mux *http.ServeMux) {
	mux.HandleFunc("/", h.IndexHandler)
	mux.HandleFunc("/dashboard", h.DashboardHandler)
	mux.HandleFunc("/login", h.LoginHandler)
	mux.HandleFunc("/register", h.RegisterHandler)
	mux.HandleFunc("/logout", h.LogoutHandler)
	mux.HandleFunc("/pages/", h.PageHandler)
	mux.HandleFunc("/download/", h.DownloadHandler)
	mux.HandleFunc("/csrf", h.CSRFTokenHandler)
	if h.cfg.SignupCaptcha {
		mux.Handle("/captcha/", captcha.Server(captcha.StdWidth, captcha.StdHeight))
	}
}

func (h *Handlers) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if _, _, ok := h.sessions.CurrentUser(r); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.servePage(w, r, "index.html")
}

func (h *Handlers) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	_, role, ok := h.sessions.CurrentUser(r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if role == models.RoleAdmin {
		h.servePage(w, r, "admin.html")
		return
	}
	h.servePage(w, r, "dashboard.html")
}

// PageHandler serves the prebuilt member pages. They are static files but
// require a signed-in session.
func (h *Handlers) PageHandler(w http.ResponseWriter, r *http.Request) {
	_, role, ok := h.sessions.CurrentUser(r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/pages/")
	if name == "admin.html" && role != models.RoleAdmin {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.servePage(w, r, name)
}

func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	ip := getClientIP(r)
	if !h.loginLimiter.Allow(ip) {
		http.Error(w, i18n.T(lang, "TooManyAttempts"), http.StatusTooManyRequests)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	remember := r.FormValue("rememberMe") != ""

	if username == "" || password == "" {
		http.Error(w, i18n.T(lang, "AllFieldsRequired"), http.StatusBadRequest)
		return
	}

	user, err := h.users.GetUser(r.Context(), username)
	if err != nil && !errors.Is(err, db.ErrUserNotFound) {
		log.Printf("Error loading user for login: %v", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	// Timing attack mitigation: always run the bcrypt comparison
	targetHash := crypto.DummyHash
	if user != nil {
		targetHash = user.PasswordHash
	}
	match := crypto.CheckPasswordHash(password, targetHash)

	// One ambiguous answer for both unknown user and wrong password, so the
	// response content cannot be used to enumerate usernames.
	if user == nil || !match {
		h.loginLimiter.RecordFailure(ip)
		http.Error(w, i18n.T(lang, "InvalidCredentials"), http.StatusUnauthorized)
		return
	}

	h.loginLimiter.Reset(ip)

	if err := h.users.AppendLogin(r.Context(), user.Username, time.Now().UTC()); err != nil {
		log.Printf("Error recording login for %q: %v", user.Username, err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	if err := h.sessions.SignIn(w, r, user.Username, user.Role); err != nil {
		log.Printf("Error saving session for %q: %v", user.Username, err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}
	if remember {
		h.sessions.SetRememberCookie(w, user.Username)
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	ip := getClientIP(r)
	if !h.signupLimiter.Allow(ip) {
		http.Error(w, i18n.T(lang, "TooManyAttempts"), http.StatusTooManyRequests)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	confirm := r.FormValue("passwordConfirm")

	if username == "" || password == "" || confirm == "" {
		http.Error(w, i18n.T(lang, "AllFieldsRequired"), http.StatusBadRequest)
		return
	}
	// Same charset rule as the admin API. Anything beyond letters and digits
	// would be mangled by cookie-value sanitization when the remember-me
	// cookie is set, letting one account's cookie name another account.
	if err := h.validate.Var(username, "alphanum"); err != nil {
		http.Error(w, i18n.T(lang, "InvalidUsername"), http.StatusBadRequest)
		return
	}
	if password != confirm {
		http.Error(w, i18n.T(lang, "PasswordsDoNotMatch"), http.StatusBadRequest)
		return
	}
	if err := crypto.ValidatePassword(password); err != nil {
		http.Error(w, i18n.T(lang, "PasswordTooShort"), http.StatusBadRequest)
		return
	}
	if h.cfg.SignupCaptcha {
		if !captcha.VerifyString(r.FormValue("captchaId"), r.FormValue("captchaSolution")) {
			http.Error(w, i18n.T(lang, "WrongCaptcha"), http.StatusBadRequest)
			return
		}
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		log.Printf("Error hashing password: %v", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	err = h.users.CreateUser(r.Context(), username, hash, models.RoleUser)
	if errors.Is(err, db.ErrUsernameTaken) {
		http.Error(w, i18n.T(lang, "UsernameAlreadyExists"), http.StatusConflict)
		return
	}
	if err != nil {
		log.Printf("Error creating user: %v", err)
		http.Error(w, i18n.T(lang, "InternalServerError"), http.StatusInternalServerError)
		return
	}

	// Record signup attempt to limit the rate of account creation per IP
	h.signupLimiter.RecordFailure(ip)

	// Back to the landing page, which carries the login form
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.sessions.SignOut(w, r)
	h.sessions.ClearRememberCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// DownloadHandler serves a file from the downloads directory as an
// attachment. The resolved path is canonicalized and confined to the
// directory, so "../" names cannot escape it.
func (h *Handlers) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	name := strings.TrimPrefix(r.URL.Path, "/download/")

	path, err := securePath(h.cfg.DownloadsDir, name)
	if err != nil {
		http.Error(w, i18n.T(lang, "FileNotFound"), http.StatusNotFound)
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.Error(w, i18n.T(lang, "FileNotFound"), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// CSRFTokenHandler hands the per-request CSRF token to the static front end,
// which sends it back in the X-CSRF-Token header on form submits.
func (h *Handlers) CSRFTokenHandler(w http.ResponseWriter, r *http.Request) {
	sendJSONResponse(w, http.StatusOK, APIResponse{
		Status: "success",
		Data:   map[string]string{"token": csrf.Token(r)},
	})
}

func (h *Handlers) servePage(w http.ResponseWriter, r *http.Request, name string) {
	lang := i18n.DetectLanguage(r)
	path, err := securePath(h.cfg.PagesDir, name)
	if err != nil {
		http.Error(w, i18n.T(lang, "FileNotFound"), http.StatusNotFound)
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.Error(w, i18n.T(lang, "FileNotFound"), http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, path)
}

var errPathOutsideBase = errors.New("path resolves outside base directory")

// securePath resolves a user-supplied name against a base directory.
// Cleaning the name as a rooted path collapses any ".." segments before the
// join; the prefix check guards the absolute result as well.
func securePath(baseDir, name string) (string, error) {
	if name == "" {
		return "", errPathOutsideBase
	}
	cleaned := filepath.Clean("/" + filepath.FromSlash(name))
	path := filepath.Join(baseDir, cleaned)

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if absPath != absBase && !strings.HasPrefix(absPath, absBase+string(os.PathSeparator)) {
		return "", errPathOutsideBase
	}
	return absPath, nil
}
