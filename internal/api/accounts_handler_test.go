package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ameliade/crosspost/internal/crypto"
	"github.com/ameliade/crosspost/internal/models"
	"github.com/ameliade/crosspost/internal/sites"
)

func newAccountsFixture(adapters *fakeAdapters) (*AccountsHandler, *fakeStore, *fakeNotifier) {
	store := newFakeStore()
	notifier := &fakeNotifier{enabled: true}
	handler := NewAccountsHandler(store, adapters, crypto.NewVault(), notifier)
	return handler, store, notifier
}

func singleSiteAdapters(site models.Site, adapter *scriptedAdapter, caps sites.Capabilities) *fakeAdapters {
	return &fakeAdapters{
		adapters: map[models.Site]*scriptedAdapter{site: adapter},
		caps:     map[models.Site]sites.Capabilities{site: caps},
	}
}

func TestHandleSites(t *testing.T) {
	adapters := &fakeAdapters{
		adapters: map[models.Site]*scriptedAdapter{
			models.SiteWeasyl:   {site: models.SiteWeasyl},
			models.SiteMastodon: {site: models.SiteMastodon},
		},
		caps: map[models.Site]sites.Capabilities{
			models.SiteWeasyl:   {Folders: true},
			models.SiteMastodon: {Group: true},
		},
	}
	handler, _, _ := newAccountsFixture(adapters)

	req := authedRequest(t, http.MethodGet, "/api/sites", nil, testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleSites(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp []siteResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(resp))
	}
	if resp[0].Site != models.SiteWeasyl || resp[0].Name != "Weasyl" || !resp[0].Folders {
		t.Errorf("unexpected first site entry: %+v", resp[0])
	}
	if resp[1].Site != models.SiteMastodon || !resp[1].Group {
		t.Errorf("unexpected second site entry: %+v", resp[1])
	}
}

func TestLinkAccount(t *testing.T) {
	adapter := &scriptedAdapter{
		site: models.SiteWeasyl,
		parseForm: func(form url.Values) (map[string]string, error) {
			if form.Get("api_key") == "" {
				return nil, &sites.BadDataError{Field: "api_key", Reason: "is required"}
			}
			return map[string]string{"api_key": form.Get("api_key")}, nil
		},
		addAccount: func(_ context.Context, data map[string]string) ([]*models.Account, error) {
			return []*models.Account{{
				ID:       "account-1",
				UserID:   "user-1",
				Site:     models.SiteWeasyl,
				Username: "amy",
			}}, nil
		},
	}
	handler, store, notifier := newAccountsFixture(singleSiteAdapters(models.SiteWeasyl, adapter, sites.Capabilities{}))
	store.users["user-1"] = &models.User{ID: "user-1", Email: "amy@example.com"}

	form := url.Values{"api_key": {"secret-key"}}
	req := authedRequest(t, http.MethodPost, "/api/sites/2/link", strings.NewReader(form.Encode()), testSession("user-1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	handler.HandleSite(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp []models.AccountResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Username != "amy" || resp[0].SiteName != "Weasyl" {
		t.Errorf("unexpected response: %+v", resp)
	}

	if len(notifier.sent) != 1 || notifier.sent[0] != "amy@example.com:amy" {
		t.Errorf("unexpected notifications: %v", notifier.sent)
	}
}

func TestLinkAccountErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad credentials", sites.ErrBadCredentials, http.StatusUnauthorized},
		{"already linked", sites.ErrAccountExists, http.StatusConflict},
		{"site error", &sites.SiteError{Message: "maintenance"}, http.StatusBadGateway},
		{"http error", &sites.HTTPError{StatusCode: 502, URL: "https://example.com"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &scriptedAdapter{
				site: models.SiteWeasyl,
				addAccount: func(context.Context, map[string]string) ([]*models.Account, error) {
					return nil, tt.err
				},
			}
			handler, _, _ := newAccountsFixture(singleSiteAdapters(models.SiteWeasyl, adapter, sites.Capabilities{}))

			req := authedRequest(t, http.MethodPost, "/api/sites/2/link", strings.NewReader(""), testSession("user-1"))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			handler.HandleSite(w, req)

			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestLinkAccountBadForm(t *testing.T) {
	adapter := &scriptedAdapter{
		site: models.SiteWeasyl,
		parseForm: func(url.Values) (map[string]string, error) {
			return nil, &sites.BadDataError{Field: "api_key", Reason: "is required"}
		},
	}
	handler, _, _ := newAccountsFixture(singleSiteAdapters(models.SiteWeasyl, adapter, sites.Capabilities{}))

	req := authedRequest(t, http.MethodPost, "/api/sites/2/link", strings.NewReader(""), testSession("user-1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	handler.HandleSite(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestPreLink(t *testing.T) {
	adapter := &scriptedAdapter{
		site: models.SiteTumblr,
		preAdd: func(context.Context) (*sites.PreAddResult, error) {
			return &sites.PreAddResult{RedirectURL: "https://www.tumblr.com/oauth2/authorize"}, nil
		},
	}
	handler, _, _ := newAccountsFixture(singleSiteAdapters(models.SiteTumblr, adapter, sites.Capabilities{}))

	req := authedRequest(t, http.MethodGet, "/api/sites/7/link", nil, testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleSite(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp sites.PreAddResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.HasPrefix(resp.RedirectURL, "https://www.tumblr.com/") {
		t.Errorf("unexpected redirect URL %q", resp.RedirectURL)
	}
}

func TestHandleSiteUnknown(t *testing.T) {
	handler, _, _ := newAccountsFixture(&fakeAdapters{})

	req := authedRequest(t, http.MethodGet, "/api/sites/999/link", nil, testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleSite(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestHandleAccounts(t *testing.T) {
	handler, store, _ := newAccountsFixture(&fakeAdapters{})
	store.accounts["account-1"] = &models.Account{
		ID: "account-1", UserID: "user-1", Site: models.SiteWeasyl, Username: "amy",
		EncryptedCredentials: []byte("sealed"),
	}
	store.accounts["account-2"] = &models.Account{
		ID: "account-2", UserID: "someone-else", Site: models.SiteWeasyl, Username: "other",
	}

	req := authedRequest(t, http.MethodGet, "/api/accounts", nil, testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleAccounts(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp []models.AccountResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("expected 1 account, got %d", len(resp))
	}
	if resp[0].ID != "account-1" {
		t.Errorf("unexpected account %q", resp[0].ID)
	}
	if strings.Contains(w.Body.String(), "sealed") {
		t.Error("credentials leaked into the account list")
	}
}

func TestDeleteAccount(t *testing.T) {
	handler, store, _ := newAccountsFixture(&fakeAdapters{})
	store.accounts["account-1"] = &models.Account{ID: "account-1", UserID: "user-1"}

	req := authedRequest(t, http.MethodDelete, "/api/accounts/account-1", nil, testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleAccount(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	if len(store.accounts) != 0 {
		t.Error("account was not deleted")
	}

	req = authedRequest(t, http.MethodDelete, "/api/accounts/account-1", nil, testSession("user-1"))
	w = httptest.NewRecorder()

	handler.HandleAccount(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for missing account, got %d", w.Code)
	}
}

func TestAccountConfigRoundTrip(t *testing.T) {
	handler, store, _ := newAccountsFixture(&fakeAdapters{})
	store.accounts["account-1"] = &models.Account{ID: "account-1", UserID: "user-1"}

	body := `{"resize":"no"}`
	req := authedRequest(t, http.MethodPut, "/api/accounts/account-1/config", strings.NewReader(body), testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleAccount(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", w.Code, w.Body.String())
	}

	req = authedRequest(t, http.MethodGet, "/api/accounts/account-1/config", nil, testSession("user-1"))
	w = httptest.NewRecorder()

	handler.HandleAccount(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var config map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &config); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if config["resize"] != "no" {
		t.Errorf("config round trip lost the value: %v", config)
	}
}

func TestGetFolders(t *testing.T) {
	var sawUpdate bool
	adapter := &scriptedAdapter{
		site: models.SiteWeasyl,
		folders: func(_ context.Context, update bool) ([]models.Folder, error) {
			sawUpdate = update
			return []models.Folder{{Name: "Scraps", ID: "12"}}, nil
		},
	}
	handler, store, _ := newAccountsFixture(singleSiteAdapters(models.SiteWeasyl, adapter, sites.Capabilities{Folders: true}))

	encrypted, err := handler.vault.Encrypt("hunter2", "api-key")
	if err != nil {
		t.Fatalf("failed to encrypt credentials: %v", err)
	}
	store.accounts["account-1"] = &models.Account{
		ID: "account-1", UserID: "user-1", Site: models.SiteWeasyl,
		EncryptedCredentials: encrypted,
	}

	req := authedRequest(t, http.MethodGet, "/api/accounts/account-1/folders?update=true", nil, testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleAccount(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if !sawUpdate {
		t.Error("update flag was not forwarded")
	}

	var folders []models.Folder
	if err := json.Unmarshal(w.Body.Bytes(), &folders); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(folders) != 1 || folders[0].Name != "Scraps" {
		t.Errorf("unexpected folders: %v", folders)
	}
}

func TestGetFoldersNoCapability(t *testing.T) {
	handler, store, _ := newAccountsFixture(singleSiteAdapters(models.SiteTwitter, &scriptedAdapter{site: models.SiteTwitter}, sites.Capabilities{}))
	store.accounts["account-1"] = &models.Account{ID: "account-1", UserID: "user-1", Site: models.SiteTwitter}

	req := authedRequest(t, http.MethodGet, "/api/accounts/account-1/folders", nil, testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleAccount(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("expected empty folder list, got %q", body)
	}
}
