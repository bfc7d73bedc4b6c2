package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/ameliade/crosspost/internal/auth"
	"github.com/ameliade/crosspost/internal/crypto"
	"github.com/ameliade/crosspost/internal/db"
	"github.com/ameliade/crosspost/internal/models"
)

// UserStore is the slice of the relational store the auth endpoints need.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	UpdateUserPassword(ctx context.Context, userID string, passwordHash []byte) error
	GetAccounts(ctx context.Context, userID string) ([]*models.Account, error)
	UpdateAccountCredentials(ctx context.Context, accountID string, encrypted []byte) error
}

// AuthHandler handles registration, login, and password changes.
type AuthHandler struct {
	store    UserStore
	sessions *auth.SessionStore
	vault    *crypto.Vault
}

// NewAuthHandler creates a new AuthHandler instance.
func NewAuthHandler(store UserStore, sessions *auth.SessionStore, vault *crypto.Vault) *AuthHandler {
	return &AuthHandler{store: store, sessions: sessions, vault: vault}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Register creates a new user and opens a session for it.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !ReadJSONBody(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		http.Error(w, "A valid email is required", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		http.Error(w, "A username is required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	if _, err := h.store.GetUserByEmail(r.Context(), req.Email); err == nil {
		http.Error(w, "An account with this email already exists", http.StatusConflict)
		return
	} else if !errors.Is(err, db.ErrUserNotFound) {
		log.Printf("AuthHandler: Failed to check for existing user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("AuthHandler: Failed to hash password: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	user := &models.User{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		log.Printf("AuthHandler: Failed to create user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.openSession(w, user, req.Password)
}

// Login verifies the password and opens a session. The plaintext password
// becomes the session's vault key; it is never written anywhere.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !ReadJSONBody(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if errors.Is(err, db.ErrUserNotFound) {
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		log.Printf("AuthHandler: Failed to look up user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	h.openSession(w, user, req.Password)
}

func (h *AuthHandler) openSession(w http.ResponseWriter, user *models.User, password string) {
	session, err := h.sessions.Create(user.ID, password)
	if err != nil {
		log.Printf("AuthHandler: Failed to create session: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSONResponse(w, sessionResponse{Token: session.Token, User: *user})
}

// Logout ends the current session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSessionFromContext(w, r)
	if !ok {
		return
	}

	h.sessions.Delete(session.Token)
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword updates the login hash and re-wraps every stored
// credential blob under the new password, since the password keys the
// credential vault. Live sessions of the user pick up the new key.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSessionFromContext(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !ReadJSONBody(w, r, &req) {
		return
	}
	if len(req.NewPassword) < 8 {
		http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUser(r.Context(), session.UserID)
	if err != nil {
		log.Printf("AuthHandler: Failed to look up user: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		http.Error(w, "Current password is incorrect", http.StatusUnauthorized)
		return
	}

	accounts, err := h.store.GetAccounts(r.Context(), session.UserID)
	if err != nil {
		log.Printf("AuthHandler: Failed to list accounts for re-wrap: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Re-wrap before the hash update so a failure leaves every blob still
	// readable under the old password.
	for _, account := range accounts {
		rewrapped, err := h.vault.Rewrap(req.CurrentPassword, req.NewPassword, account.EncryptedCredentials)
		if err != nil {
			log.Printf("AuthHandler: Failed to re-wrap credentials for account %s: %v", account.ID, err)
			http.Error(w, "Failed to re-encrypt stored credentials", http.StatusInternalServerError)
			return
		}
		if err := h.store.UpdateAccountCredentials(r.Context(), account.ID, rewrapped); err != nil {
			log.Printf("AuthHandler: Failed to store re-wrapped credentials for account %s: %v", account.ID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		log.Printf("AuthHandler: Failed to hash new password: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := h.store.UpdateUserPassword(r.Context(), session.UserID, hash); err != nil {
		log.Printf("AuthHandler: Failed to update password: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.sessions.UpdateSecret(session.UserID, req.NewPassword)
	w.WriteHeader(http.StatusNoContent)
}
