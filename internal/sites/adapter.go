package sites

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ameliade/crosspost/internal/crypto"
	"github.com/ameliade/crosspost/internal/models"
)

// Store is the slice of the relational store the adapters need: account
// persistence during linking, credential rotation, the folder cache, and
// per-account settings. Implemented by db.Store.
type Store interface {
	AccountExists(ctx context.Context, userID string, site models.Site, username string) (bool, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	UpdateAccountCredentials(ctx context.Context, accountID string, encrypted []byte) error
	GetAccountData(ctx context.Context, accountID, key string) ([]byte, bool, error)
	SetAccountData(ctx context.Context, accountID, key string, payload []byte) error
	GetAccountConfig(ctx context.Context, accountID, key, fallback string) (string, error)
}

// ImageResizeFunc scales image bytes down to fit maxW×maxH, preserving
// aspect ratio. Decoding internals live behind this function.
type ImageResizeFunc func(data []byte, maxW, maxH int) ([]byte, error)

// OAuthApp holds the registered application credentials for one
// OAuth-linked destination site.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Deps carries everything adapters share: the HTTP client, the credential
// vault, store access, the image resizer, and per-site OAuth apps.
type Deps struct {
	Client *http.Client
	Vault  *crypto.Vault
	Store  Store
	Resize ImageResizeFunc
	OAuth  map[models.Site]OAuthApp
}

func (d *Deps) httpClient() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

// Binding is the per-call identity an adapter operates under. Bare
// adapters (account-linking flows) have no Account and no Credentials;
// bound adapters carry one account's decrypted credential blob. The
// session secret is present in both modes so AddAccount can encrypt new
// credentials and SubmitArtwork can persist rotated ones.
type Binding struct {
	UserID        string
	SessionSecret string
	Account       *models.Account
	Credentials   string
}

// PreAddResult is the site-specific first step of linking an account:
// either a redirect the user must follow (OAuth sites) or extra data for
// the add-account form (e.g. a login captcha), or neither.
type PreAddResult struct {
	RedirectURL string            `json:"redirect_url,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// LinkBack is one earlier upload of the same submission whose URL later
// sites may embed.
type LinkBack struct {
	Site models.Site
	URL  string
}

// Extra carries per-attempt options into an adapter call: the selected
// destination folder, the running link-back list, and the draft's
// site-specific extras.
type Extra struct {
	Folder    string
	LinkBacks []LinkBack
	Params    map[string]string
}

// FolderCacheKey is the account_data key under which GetFolders caches.
const FolderCacheKey = "folders"

// Adapter is the common capability surface every destination site
// implements. An instance is either bare or bound to one account's
// decrypted credentials; see Binding.
type Adapter interface {
	Site() models.Site

	// PreAddAccount performs the site-specific first step of linking.
	PreAddAccount(ctx context.Context) (*PreAddResult, error)

	// ParseAddForm extracts credentials from the add-account form.
	// Returns a *BadDataError on malformed input.
	ParseAddForm(form url.Values) (map[string]string, error)

	// AddAccount authenticates against the remote site and persists one
	// account per identity it returns. Fails with ErrAccountExists or
	// ErrBadCredentials.
	AddAccount(ctx context.Context, data map[string]string) ([]*models.Account, error)

	// ValidateSubmission is a pure pre-check run before any network I/O.
	// A non-empty result blocks the upload for this account.
	ValidateSubmission(sub models.Submission) []string

	// SubmitArtwork performs the full site-specific upload sequence and
	// returns the destination URL. Implementations refresh rotating
	// tokens transparently and persist them back through the vault
	// before returning.
	SubmitArtwork(ctx context.Context, sub models.Submission, extra Extra) (string, error)

	// UploadGroup submits all variants as one multi-image post. Only
	// valid on adapters whose registry entry declares Group support.
	UploadGroup(ctx context.Context, variants []models.Submission, extra Extra) (string, error)

	// GetFolders returns cached folder metadata, fetching from the site
	// when update is true or nothing is cached yet.
	GetFolders(ctx context.Context, update bool) ([]models.Folder, error)

	// MapRating maps the canonical rating to the site-native token.
	MapRating(rating models.Rating) string
}

// Capabilities are the static per-adapter predicates the orchestrator
// consults; they are properties of the site, not of any instance.
type Capabilities struct {
	Folders bool
	Group   bool
}

type factory func(deps *Deps, binding Binding) Adapter

type registryEntry struct {
	capabilities Capabilities
	newAdapter   factory
}

// Registry maps each site id to its adapter implementation. Selection is
// always by lookup, never by branching on the site at call sites.
type Registry struct {
	deps    *Deps
	entries map[models.Site]registryEntry
}

// NewRegistry builds the fixed adapter set over the given dependencies.
func NewRegistry(deps *Deps) *Registry {
	r := &Registry{
		deps:    deps,
		entries: make(map[models.Site]registryEntry),
	}

	r.register(models.SiteFurAffinity, Capabilities{Folders: true}, newFurAffinity)
	r.register(models.SiteWeasyl, Capabilities{Folders: true}, newWeasyl)
	r.register(models.SiteFurryNetwork, Capabilities{Folders: true}, newFurryNetwork)
	r.register(models.SiteInkbunny, Capabilities{Group: true}, newInkbunny)
	r.register(models.SiteSoFurry, Capabilities{Folders: true}, newSoFurry)
	r.register(models.SiteTumblr, Capabilities{Group: true}, newTumblr)
	r.register(models.SiteDeviantArt, Capabilities{Folders: true}, newDeviantArt)
	r.register(models.SiteTwitter, Capabilities{Group: true}, newTwitter)
	r.register(models.SiteMastodon, Capabilities{Group: true}, newMastodon)

	return r
}

func (r *Registry) register(site models.Site, caps Capabilities, newAdapter factory) {
	r.entries[site] = registryEntry{capabilities: caps, newAdapter: newAdapter}
}

// Sites returns every registered site in ascending id order.
func (r *Registry) Sites() []models.Site {
	out := make([]models.Site, 0, len(r.entries))
	for site := range r.entries {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Capabilities returns the static capability flags for a site.
func (r *Registry) Capabilities(site models.Site) (Capabilities, bool) {
	entry, ok := r.entries[site]
	return entry.capabilities, ok
}

// Bare constructs an adapter without an account, for linking flows.
func (r *Registry) Bare(site models.Site, userID, sessionSecret string) (Adapter, error) {
	entry, ok := r.entries[site]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for site %d", site)
	}
	return entry.newAdapter(r.deps, Binding{UserID: userID, SessionSecret: sessionSecret}), nil
}

// ForAccount constructs an adapter bound to one account's decrypted
// credentials, for submission flows.
func (r *Registry) ForAccount(account *models.Account, credentials, sessionSecret string) (Adapter, error) {
	entry, ok := r.entries[account.Site]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for site %d", account.Site)
	}
	return entry.newAdapter(r.deps, Binding{
		UserID:        account.UserID,
		SessionSecret: sessionSecret,
		Account:       account,
		Credentials:   credentials,
	}), nil
}

// base carries the shared state and helpers every adapter embeds.
type base struct {
	deps    *Deps
	binding Binding
}

// requireAccount guards operations that need a bound account.
func (b *base) requireAccount() error {
	if b.binding.Account == nil {
		return ErrMissingAccount
	}
	if b.binding.Credentials == "" {
		return ErrMissingCredentials
	}
	return nil
}

// encryptCredentials wraps a plaintext credential blob for persistence.
func (b *base) encryptCredentials(plaintext string) ([]byte, error) {
	return b.deps.Vault.Encrypt(b.binding.SessionSecret, plaintext)
}

// rotateCredentials re-wraps and persists a rotated credential blob, then
// updates the live binding so later calls in the same batch use it. Sites
// that rotate tokens mid-protocol call this before returning from
// SubmitArtwork.
func (b *base) rotateCredentials(ctx context.Context, plaintext string) error {
	if b.binding.Account == nil {
		return ErrMissingAccount
	}

	encrypted, err := b.encryptCredentials(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt rotated credentials: %w", err)
	}
	if err := b.deps.Store.UpdateAccountCredentials(ctx, b.binding.Account.ID, encrypted); err != nil {
		return fmt.Errorf("failed to persist rotated credentials: %w", err)
	}

	b.binding.Credentials = plaintext
	b.binding.Account.EncryptedCredentials = encrypted
	return nil
}

// configValue reads one per-account setting with an adapter-defined
// default for absence.
func (b *base) configValue(ctx context.Context, key, fallback string) string {
	if b.binding.Account == nil {
		return fallback
	}
	value, err := b.deps.Store.GetAccountConfig(ctx, b.binding.Account.ID, key, fallback)
	if err != nil {
		return fallback
	}
	return value
}

// appendLinkBacks appends the running list of earlier canonical uploads to
// a description. Plain URLs render on every destination syntax.
func appendLinkBacks(desc string, extra Extra) string {
	if len(extra.LinkBacks) == 0 {
		return desc
	}

	var sb strings.Builder
	sb.WriteString(desc)
	sb.WriteString("\n")
	for _, linkBack := range extra.LinkBacks {
		sb.WriteString("\n")
		sb.WriteString(linkBack.Site.String())
		sb.WriteString(": ")
		sb.WriteString(linkBack.URL)
	}
	return sb.String()
}

// saveAccount persists one newly linked identity, enforcing the
// one-identity-once rule.
func (b *base) saveAccount(ctx context.Context, site models.Site, username, plaintextCreds string) (*models.Account, error) {
	exists, err := b.deps.Store.AccountExists(ctx, b.binding.UserID, site, username)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing account: %w", err)
	}
	if exists {
		return nil, ErrAccountExists
	}

	encrypted, err := b.encryptCredentials(plaintextCreds)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}

	account := &models.Account{
		UserID:               b.binding.UserID,
		Site:                 site,
		Username:             username,
		EncryptedCredentials: encrypted,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}
	if err := b.deps.Store.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to persist account: %w", err)
	}
	return account, nil
}
