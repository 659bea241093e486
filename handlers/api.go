package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-playground/validator"

	"github.com/Pia-pr/meine-website/crypto"
	"github.com/Pia-pr/meine-website/db"
	"github.com/Pia-pr/meine-website/i18n"
	"github.com/Pia-pr/meine-website/models"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// RegisterAPI mounts the account administration API. Every route here is
// admin-only.
func (h *Handlers) RegisterAPI(mux *http.ServeMux) {
	mux.HandleFunc("/api/users", h.APIUsersHandler)
	mux.HandleFunc("/api/users/", h.APIUserHandler)
	mux.HandleFunc("/api/logins", h.APILoginsHandler)
}

// requireAdmin rejects callers without an admin session. The rejection body
// is the same whether or not the requested resource exists, and the same for
// anonymous and regular callers.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	lang := i18n.DetectLanguage(r)
	_, role, ok := h.sessions.CurrentUser(r)
	if !ok || role != models.RoleAdmin {
		sendJSONResponse(w, http.StatusForbidden, APIResponse{Status: "error", Message: i18n.T(lang, "Forbidden")})
		return false
	}
	return true
}

func (h *Handlers) APIUsersHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.apiListUsers(w, r)
	case http.MethodPost:
		h.apiCreateUser(w, r)
	default:
		lang := i18n.DetectLanguage(r)
		sendJSONResponse(w, http.StatusMethodNotAllowed, APIResponse{Status: "error", Message: i18n.T(lang, "MethodNotAllowed")})
	}
}

func (h *Handlers) apiListUsers(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		log.Printf("Error listing users (API): %v", err)
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: i18n.T(lang, "InternalServerError")})
		return
	}

	usernames := make([]string, 0, len(users))
	for _, u := range users {
		usernames = append(usernames, u.Username)
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: usernames})
}

func (h *Handlers) apiCreateUser(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)

	var input struct {
		Username string `json:"username" validate:"required,alphanum"`
		Password string `json:"password" validate:"required,min=8"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}
	if err := h.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: validationMessage(verrs)})
			return
		}
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		log.Printf("Error hashing password (API): %v", err)
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: i18n.T(lang, "InternalServerError")})
		return
	}

	err = h.users.CreateUser(r.Context(), input.Username, hash, models.RoleUser)
	if errors.Is(err, db.ErrUsernameTaken) {
		sendJSONResponse(w, http.StatusConflict, APIResponse{Status: "error", Message: i18n.T(lang, "UsernameAlreadyExists")})
		return
	}
	if err != nil {
		log.Printf("Error creating user (API): %v", err)
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: i18n.T(lang, "InternalServerError")})
		return
	}

	sendJSONResponse(w, http.StatusCreated, APIResponse{
		Status: "success",
		Data:   map[string]string{"username": input.Username},
	})
}

// APIUserHandler dispatches /api/users/{username} and
// /api/users/{username}/password.
func (h *Handlers) APIUserHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	lang := i18n.DetectLanguage(r)
	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")

	if username, ok := strings.CutSuffix(rest, "/password"); ok {
		if r.Method != http.MethodPost {
			sendJSONResponse(w, http.StatusMethodNotAllowed, APIResponse{Status: "error", Message: i18n.T(lang, "MethodNotAllowed")})
			return
		}
		h.apiResetPassword(w, r, username)
		return
	}

	if r.Method != http.MethodDelete || rest == "" || strings.Contains(rest, "/") {
		sendJSONResponse(w, http.StatusMethodNotAllowed, APIResponse{Status: "error", Message: i18n.T(lang, "MethodNotAllowed")})
		return
	}
	h.apiDeleteUser(w, r, rest)
}

func (h *Handlers) apiDeleteUser(w http.ResponseWriter, r *http.Request, username string) {
	lang := i18n.DetectLanguage(r)

	user, err := h.users.GetUser(r.Context(), username)
	if errors.Is(err, db.ErrUserNotFound) {
		sendJSONResponse(w, http.StatusNotFound, APIResponse{Status: "error", Message: i18n.T(lang, "UserNotFound")})
		return
	}
	if err != nil {
		log.Printf("Error loading user (API): %v", err)
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: i18n.T(lang, "InternalServerError")})
		return
	}
	if user.IsAdmin() {
		sendJSONResponse(w, http.StatusForbidden, APIResponse{Status: "error", Message: i18n.T(lang, "AdminAccountProtected")})
		return
	}

	if err := h.users.DeleteUser(r.Context(), username); err != nil {
		log.Printf("Error deleting user (API): %v", err)
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: i18n.T(lang, "InternalServerError")})
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(lang, "UserDeleted")})
}

func (h *Handlers) apiResetPassword(w http.ResponseWriter, r *http.Request, username string) {
	lang := i18n.DetectLanguage(r)

	var input struct {
		Password string `json:"password" validate:"required,min=8"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}
	if err := h.validate.Struct(input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "PasswordTooShort")})
		return
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		log.Printf("Error hashing password (API): %v", err)
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: i18n.T(lang, "InternalServerError")})
		return
	}

	err = h.users.UpdatePassword(r.Context(), username, hash)
	if errors.Is(err, db.ErrUserNotFound) {
		sendJSONResponse(w, http.StatusNotFound, APIResponse{Status: "error", Message: i18n.T(lang, "UserNotFound")})
		return
	}
	if err != nil {
		log.Printf("Error resetting password (API): %v", err)
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: i18n.T(lang, "InternalServerError")})
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(lang, "PasswordUpdated")})
}

func (h *Handlers) APILoginsHandler(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodGet {
		sendJSONResponse(w, http.StatusMethodNotAllowed, APIResponse{Status: "error", Message: i18n.T(lang, "MethodNotAllowed")})
		return
	}

	logins, err := h.users.ListLoginHistory(r.Context())
	if err != nil {
		log.Printf("Error listing login history (API): %v", err)
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: i18n.T(lang, "InternalServerError")})
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: logins})
}

func validationMessage(errs validator.ValidationErrors) string {
	var msgs []string
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, "field "+err.Field()+" is required")
		case "alphanum":
			msgs = append(msgs, "field "+err.Field()+" may contain only letters and numbers")
		case "min":
			msgs = append(msgs, "field "+err.Field()+" is too short")
		default:
			msgs = append(msgs, "field "+err.Field()+" is not valid")
		}
	}
	return strings.Join(msgs, ", ")
}
