package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"testing"

	"github.com/google/uuid"

	"github.com/ameliade/crosspost/internal/auth"
	"github.com/ameliade/crosspost/internal/db"
	"github.com/ameliade/crosspost/internal/images"
	"github.com/ameliade/crosspost/internal/models"
	"github.com/ameliade/crosspost/internal/sites"
)

// fakeStore is an in-memory stand-in for db.Store covering every store
// interface the handlers consume.
type fakeStore struct {
	users    map[string]*models.User
	accounts map[string]*models.Account
	config   map[string]map[string]string
	drafts   map[string]*models.SavedSubmission
	groups   map[string]*models.SubmissionGroup

	deletedAccounts []string
	deletedDrafts   []string
	deletedGroups   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*models.User),
		accounts: make(map[string]*models.Account),
		config:   make(map[string]map[string]string),
		drafts:   make(map[string]*models.SavedSubmission),
		groups:   make(map[string]*models.SubmissionGroup),
	}
}

func (f *fakeStore) CreateUser(_ context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, db.ErrUserNotFound
}

func (f *fakeStore) GetUser(_ context.Context, userID string) (*models.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID string, hash []byte) error {
	user, ok := f.users[userID]
	if !ok {
		return db.ErrUserNotFound
	}
	user.PasswordHash = hash
	return nil
}

func (f *fakeStore) GetAccounts(_ context.Context, userID string) ([]*models.Account, error) {
	var out []*models.Account
	for _, account := range f.accounts {
		if account.UserID == userID {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetAccount(_ context.Context, userID, accountID string) (*models.Account, error) {
	account, ok := f.accounts[accountID]
	if !ok || account.UserID != userID {
		return nil, db.ErrAccountNotFound
	}
	return account, nil
}

func (f *fakeStore) DeleteAccount(_ context.Context, userID, accountID string) error {
	account, ok := f.accounts[accountID]
	if !ok || account.UserID != userID {
		return db.ErrAccountNotFound
	}
	delete(f.accounts, accountID)
	f.deletedAccounts = append(f.deletedAccounts, accountID)
	return nil
}

func (f *fakeStore) UpdateAccountCredentials(_ context.Context, accountID string, encrypted []byte) error {
	account, ok := f.accounts[accountID]
	if !ok {
		return db.ErrAccountNotFound
	}
	account.EncryptedCredentials = encrypted
	return nil
}

func (f *fakeStore) GetAllAccountConfig(_ context.Context, accountID string) (map[string]string, error) {
	config := make(map[string]string, len(f.config[accountID]))
	for key, value := range f.config[accountID] {
		config[key] = value
	}
	return config, nil
}

func (f *fakeStore) SetAccountConfig(_ context.Context, accountID, key, value string) error {
	if f.config[accountID] == nil {
		f.config[accountID] = make(map[string]string)
	}
	f.config[accountID][key] = value
	return nil
}

func (f *fakeStore) SaveDraft(_ context.Context, draft *models.SavedSubmission) error {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	f.drafts[draft.ID] = draft
	return nil
}

func (f *fakeStore) GetDraft(_ context.Context, userID, draftID string) (*models.SavedSubmission, error) {
	draft, ok := f.drafts[draftID]
	if !ok || draft.UserID != userID {
		return nil, db.ErrDraftNotFound
	}
	return draft, nil
}

func (f *fakeStore) GetDrafts(_ context.Context, userID string) ([]*models.SavedSubmission, error) {
	var out []*models.SavedSubmission
	for _, draft := range f.drafts {
		if draft.UserID == userID {
			out = append(out, draft)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) DeleteDraft(_ context.Context, userID, draftID string) ([]string, error) {
	draft, ok := f.drafts[draftID]
	if !ok || draft.UserID != userID {
		return nil, db.ErrDraftNotFound
	}
	delete(f.drafts, draftID)
	f.deletedDrafts = append(f.deletedDrafts, draftID)
	return []string{draft.ImageName}, nil
}

func (f *fakeStore) SaveGroup(_ context.Context, group *models.SubmissionGroup) error {
	f.groups[group.ID] = group
	return nil
}

func (f *fakeStore) GetGroup(_ context.Context, userID, groupID string) (*models.SubmissionGroup, error) {
	group, ok := f.groups[groupID]
	if !ok || group.UserID != userID {
		return nil, db.ErrDraftNotFound
	}
	return group, nil
}

func (f *fakeStore) DeleteGroup(_ context.Context, userID, groupID string) ([]string, error) {
	group, ok := f.groups[groupID]
	if !ok || group.UserID != userID {
		return nil, db.ErrDraftNotFound
	}
	delete(f.groups, groupID)
	f.deletedGroups = append(f.deletedGroups, groupID)

	names := []string{group.Master.ImageName}
	for _, variant := range group.Variants {
		names = append(names, variant.ImageName)
	}
	return names, nil
}

// memoryImages is an in-memory images.Store.
type memoryImages struct {
	stored map[string]models.Image
}

func newMemoryImages() *memoryImages {
	return &memoryImages{stored: make(map[string]models.Image)}
}

func (m *memoryImages) Save(image models.Image) (string, error) {
	name := uuid.NewString()
	m.stored[name] = image
	return name, nil
}

func (m *memoryImages) Load(name string) (models.Image, error) {
	image, ok := m.stored[name]
	if !ok {
		return models.Image{}, images.ErrImageNotFound
	}
	return image, nil
}

func (m *memoryImages) Delete(name string) error {
	if _, ok := m.stored[name]; !ok {
		return images.ErrImageNotFound
	}
	delete(m.stored, name)
	return nil
}

// scriptedAdapter is a minimal sites.Adapter whose behavior tests script
// per call.
type scriptedAdapter struct {
	site       models.Site
	preAdd     func(ctx context.Context) (*sites.PreAddResult, error)
	parseForm  func(form url.Values) (map[string]string, error)
	addAccount func(ctx context.Context, data map[string]string) ([]*models.Account, error)
	folders    func(ctx context.Context, update bool) ([]models.Folder, error)
}

func (a *scriptedAdapter) Site() models.Site { return a.site }

func (a *scriptedAdapter) PreAddAccount(ctx context.Context) (*sites.PreAddResult, error) {
	if a.preAdd == nil {
		return nil, nil
	}
	return a.preAdd(ctx)
}

func (a *scriptedAdapter) ParseAddForm(form url.Values) (map[string]string, error) {
	if a.parseForm == nil {
		return map[string]string{}, nil
	}
	return a.parseForm(form)
}

func (a *scriptedAdapter) AddAccount(ctx context.Context, data map[string]string) ([]*models.Account, error) {
	return a.addAccount(ctx, data)
}

func (a *scriptedAdapter) ValidateSubmission(models.Submission) []string { return nil }

func (a *scriptedAdapter) SubmitArtwork(context.Context, models.Submission, sites.Extra) (string, error) {
	return "", nil
}

func (a *scriptedAdapter) UploadGroup(context.Context, []models.Submission, sites.Extra) (string, error) {
	return "", nil
}

func (a *scriptedAdapter) GetFolders(ctx context.Context, update bool) ([]models.Folder, error) {
	if a.folders == nil {
		return nil, nil
	}
	return a.folders(ctx, update)
}

func (a *scriptedAdapter) MapRating(models.Rating) string { return "" }

// fakeAdapters implements SiteAdapters over a fixed adapter map.
type fakeAdapters struct {
	adapters map[models.Site]*scriptedAdapter
	caps     map[models.Site]sites.Capabilities
}

func (f *fakeAdapters) Sites() []models.Site {
	var out []models.Site
	for site := range f.adapters {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f *fakeAdapters) Capabilities(site models.Site) (sites.Capabilities, bool) {
	caps, ok := f.caps[site]
	return caps, ok
}

func (f *fakeAdapters) Bare(site models.Site, _, _ string) (sites.Adapter, error) {
	adapter, ok := f.adapters[site]
	if !ok {
		return nil, sites.ErrMissingAccount
	}
	return adapter, nil
}

func (f *fakeAdapters) ForAccount(account *models.Account, _, _ string) (sites.Adapter, error) {
	adapter, ok := f.adapters[account.Site]
	if !ok {
		return nil, sites.ErrMissingAccount
	}
	return adapter, nil
}

// fakeNotifier records account-linked notification mails.
type fakeNotifier struct {
	enabled bool
	sent    []string
}

func (f *fakeNotifier) Enabled() bool { return f.enabled }

func (f *fakeNotifier) SendAccountLinked(to string, account *models.Account) error {
	f.sent = append(f.sent, to+":"+account.Username)
	return nil
}

// authedRequest builds a request carrying an authenticated session, the
// way RequireSession would hand it to the handler.
func authedRequest(t *testing.T, method, target string, body io.Reader, session *auth.Session) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	ctx := context.WithValue(req.Context(), auth.SessionKey, session)
	return req.WithContext(ctx)
}

func testSession(userID string) *auth.Session {
	return &auth.Session{Token: "test-token", UserID: userID, Secret: "hunter2"}
}

// multipartBody assembles a multipart form with the given fields and image
// file parts, returning the body and content type.
func multipartBody(t *testing.T, fields map[string][]string, imageParts map[string][][]byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for key, values := range fields {
		for _, value := range values {
			if err := writer.WriteField(key, value); err != nil {
				t.Fatalf("failed to write field %s: %v", key, err)
			}
		}
	}
	for key, files := range imageParts {
		for i, data := range files {
			part, err := writer.CreateFormFile(key, "art.png")
			if err != nil {
				t.Fatalf("failed to create file part %d: %v", i, err)
			}
			if _, err := part.Write(data); err != nil {
				t.Fatalf("failed to write file part %d: %v", i, err)
			}
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}
