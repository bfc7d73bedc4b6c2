package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/ameliade/crosspost/internal/auth"
	"github.com/ameliade/crosspost/internal/crypto"
	"github.com/ameliade/crosspost/internal/db"
	"github.com/ameliade/crosspost/internal/models"
	"github.com/ameliade/crosspost/internal/sites"
)

// AccountsStore is the slice of the relational store the account
// endpoints need.
type AccountsStore interface {
	GetAccounts(ctx context.Context, userID string) ([]*models.Account, error)
	GetAccount(ctx context.Context, userID, accountID string) (*models.Account, error)
	DeleteAccount(ctx context.Context, userID, accountID string) error
	GetAllAccountConfig(ctx context.Context, accountID string) (map[string]string, error)
	SetAccountConfig(ctx context.Context, accountID, key, value string) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// SiteAdapters resolves site ids to adapters. Implemented by
// sites.Registry.
type SiteAdapters interface {
	Sites() []models.Site
	Capabilities(site models.Site) (sites.Capabilities, bool)
	Bare(site models.Site, userID, sessionSecret string) (sites.Adapter, error)
	ForAccount(account *models.Account, credentials, sessionSecret string) (sites.Adapter, error)
}

// LinkNotifier sends the optional account-linked notification mail.
// Implemented by mail.Sender.
type LinkNotifier interface {
	Enabled() bool
	SendAccountLinked(to string, account *models.Account) error
}

// AccountsHandler handles linked-account management: the site catalog,
// linking, per-account settings, and the folder cache.
type AccountsHandler struct {
	store    AccountsStore
	adapters SiteAdapters
	vault    *crypto.Vault
	mail     LinkNotifier
}

// NewAccountsHandler creates a new AccountsHandler instance.
func NewAccountsHandler(store AccountsStore, adapters SiteAdapters, vault *crypto.Vault, mail LinkNotifier) *AccountsHandler {
	return &AccountsHandler{store: store, adapters: adapters, vault: vault, mail: mail}
}

type siteResponse struct {
	Site    models.Site `json:"site"`
	Name    string      `json:"name"`
	Group   bool        `json:"group"`
	Folders bool        `json:"folders"`
}

// HandleSites serves GET /api/sites: the catalog of supported sites with
// their capability flags.
func (h *AccountsHandler) HandleSites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	all := h.adapters.Sites()
	response := make([]siteResponse, 0, len(all))
	for _, site := range all {
		caps, _ := h.adapters.Capabilities(site)
		response = append(response, siteResponse{
			Site:    site,
			Name:    site.String(),
			Group:   caps.Group,
			Folders: caps.Folders,
		})
	}

	WriteJSONResponse(w, response)
}

// HandleSite serves /api/sites/{id}/link: GET performs the pre-link step
// (OAuth redirect or form data), POST takes the filled add-account form
// and links the account.
func (h *AccountsHandler) HandleSite(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSessionFromContext(w, r)
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/sites/")
	siteStr, action, found := strings.Cut(rest, "/")
	if !found || action != "link" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	siteID, err := strconv.Atoi(siteStr)
	if err != nil || !models.Site(siteID).Known() {
		http.Error(w, "Unknown site", http.StatusNotFound)
		return
	}
	site := models.Site(siteID)

	adapter, err := h.adapters.Bare(site, session.UserID, session.Secret)
	if err != nil {
		http.Error(w, "Unknown site", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.preLink(w, r, adapter)
	case http.MethodPost:
		h.link(w, r, session.UserID, adapter)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AccountsHandler) preLink(w http.ResponseWriter, r *http.Request, adapter sites.Adapter) {
	result, err := adapter.PreAddAccount(r.Context())
	if err != nil {
		WriteAdapterError(w, err)
		return
	}
	if result == nil {
		result = &sites.PreAddResult{}
	}
	WriteJSONResponse(w, result)
}

func (h *AccountsHandler) link(w http.ResponseWriter, r *http.Request, userID string, adapter sites.Adapter) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	data, err := adapter.ParseAddForm(r.PostForm)
	if err != nil {
		WriteAdapterError(w, err)
		return
	}

	accounts, err := adapter.AddAccount(r.Context(), data)
	if err != nil {
		WriteAdapterError(w, err)
		return
	}

	h.notifyLinked(r.Context(), userID, accounts)

	response := make([]models.AccountResponse, 0, len(accounts))
	for _, account := range accounts {
		response = append(response, account.ToResponse())
	}
	WriteJSONResponse(w, response)
}

// notifyLinked mails the user about each newly linked account. Mail
// trouble never fails the link itself.
func (h *AccountsHandler) notifyLinked(ctx context.Context, userID string, accounts []*models.Account) {
	if !h.mail.Enabled() {
		return
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		log.Printf("AccountsHandler: Failed to look up user for link notification: %v", err)
		return
	}

	for _, account := range accounts {
		if err := h.mail.SendAccountLinked(user.Email, account); err != nil {
			log.Printf("AccountsHandler: Failed to send link notification: %v", err)
		}
	}
}

// HandleAccounts serves GET /api/accounts: every linked account of the
// user, credentials omitted.
func (h *AccountsHandler) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, ok := GetSessionFromContext(w, r)
	if !ok {
		return
	}

	accounts, err := h.store.GetAccounts(r.Context(), session.UserID)
	if err != nil {
		log.Printf("AccountsHandler: Failed to list accounts: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := make([]models.AccountResponse, 0, len(accounts))
	for _, account := range accounts {
		response = append(response, account.ToResponse())
	}
	WriteJSONResponse(w, response)
}

// HandleAccount serves /api/accounts/{id} and its subresources:
// DELETE /api/accounts/{id}, GET/PUT /api/accounts/{id}/config, and
// GET /api/accounts/{id}/folders.
func (h *AccountsHandler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSessionFromContext(w, r)
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
	accountID, sub, _ := strings.Cut(rest, "/")
	if accountID == "" {
		http.Error(w, "Account ID is required", http.StatusBadRequest)
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.deleteAccount(w, r, session.UserID, accountID)
	case "config":
		switch r.Method {
		case http.MethodGet:
			h.getConfig(w, r, session.UserID, accountID)
		case http.MethodPut:
			h.setConfig(w, r, session.UserID, accountID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "folders":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.getFolders(w, r, session, accountID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *AccountsHandler) deleteAccount(w http.ResponseWriter, r *http.Request, userID, accountID string) {
	if err := h.store.DeleteAccount(r.Context(), userID, accountID); err != nil {
		if errors.Is(err, db.ErrAccountNotFound) {
			http.Error(w, "Account not found", http.StatusNotFound)
			return
		}
		log.Printf("AccountsHandler: Failed to delete account %s: %v", accountID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountsHandler) getConfig(w http.ResponseWriter, r *http.Request, userID, accountID string) {
	if _, err := h.store.GetAccount(r.Context(), userID, accountID); err != nil {
		h.accountLookupError(w, accountID, err)
		return
	}

	config, err := h.store.GetAllAccountConfig(r.Context(), accountID)
	if err != nil {
		log.Printf("AccountsHandler: Failed to load config for account %s: %v", accountID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	WriteJSONResponse(w, config)
}

func (h *AccountsHandler) setConfig(w http.ResponseWriter, r *http.Request, userID, accountID string) {
	if _, err := h.store.GetAccount(r.Context(), userID, accountID); err != nil {
		h.accountLookupError(w, accountID, err)
		return
	}

	var config map[string]string
	if !ReadJSONBody(w, r, &config) {
		return
	}

	for key, value := range config {
		if err := h.store.SetAccountConfig(r.Context(), accountID, key, value); err != nil {
			log.Printf("AccountsHandler: Failed to save config for account %s: %v", accountID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountsHandler) getFolders(w http.ResponseWriter, r *http.Request, session *auth.Session, accountID string) {
	account, err := h.store.GetAccount(r.Context(), session.UserID, accountID)
	if err != nil {
		h.accountLookupError(w, accountID, err)
		return
	}

	if caps, ok := h.adapters.Capabilities(account.Site); !ok || !caps.Folders {
		WriteJSONResponse(w, []models.Folder{})
		return
	}

	credentials, err := h.vault.Decrypt(session.Secret, account.EncryptedCredentials)
	if err != nil {
		log.Printf("AccountsHandler: Failed to decrypt credentials for account %s: %v", accountID, err)
		http.Error(w, "Stored credentials could not be decrypted", http.StatusInternalServerError)
		return
	}

	adapter, err := h.adapters.ForAccount(account, credentials, session.Secret)
	if err != nil {
		log.Printf("AccountsHandler: No adapter for account %s: %v", accountID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	update := r.URL.Query().Get("update") == "true"
	folders, err := adapter.GetFolders(r.Context(), update)
	if err != nil {
		WriteAdapterError(w, err)
		return
	}
	if folders == nil {
		folders = []models.Folder{}
	}
	WriteJSONResponse(w, folders)
}

func (h *AccountsHandler) accountLookupError(w http.ResponseWriter, accountID string, err error) {
	if errors.Is(err, db.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	log.Printf("AccountsHandler: Failed to load account %s: %v", accountID, err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}
