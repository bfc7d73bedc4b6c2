package uploader

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/ameliade/crosspost/internal/crypto"
	"github.com/ameliade/crosspost/internal/models"
	"github.com/ameliade/crosspost/internal/sites"
)

// Store is the slice of the relational store the orchestrator needs:
// resolving the batch's accounts and the draft bookkeeping afterwards.
// Implemented by db.Store.
type Store interface {
	GetAccountsByIDs(ctx context.Context, userID string, ids []string) ([]*models.Account, error)
	MarkAccountsUsed(ctx context.Context, userID string, ids []string) error
	UpdateDraftAccounts(ctx context.Context, draftID string, accounts []string) error
	DeleteDraft(ctx context.Context, userID, draftID string) ([]string, error)
	DeleteGroup(ctx context.Context, userID, groupID string) ([]string, error)
}

// Images is the slice of the image store the orchestrator needs: removing a
// finished draft's stored files. Implemented by images.FileStore.
type Images interface {
	Delete(name string) error
}

// Adapters resolves accounts to their site adapters. Implemented by
// sites.Registry.
type Adapters interface {
	ForAccount(account *models.Account, credentials, sessionSecret string) (sites.Adapter, error)
	Capabilities(site models.Site) (sites.Capabilities, bool)
}

// Batch is one upload request: a submission (or a group of variants), the
// target account ids, and the draft rows to clean up or narrow afterwards.
type Batch struct {
	UserID        string
	SessionSecret string
	AccountIDs    []string

	// LinkSources flags the accounts whose destination URLs later uploads
	// embed as back-links. Flagged accounts are attempted first.
	LinkSources map[string]bool

	// Single mode: exactly one submission.
	Submission models.Submission

	// Group mode: the shared metadata is already merged into each variant.
	// Empty Variants means single mode.
	Variants []models.Submission

	// Per-account destination folder ids and per-draft extras, forwarded
	// into the adapter calls.
	Folders map[string]string
	Params  map[string]string

	// When set, a fully successful batch deletes the draft (or the whole
	// group) and a partial failure narrows the draft's account list to the
	// accounts that did not succeed.
	DraftID string
	GroupID string
}

func (b *Batch) grouped() bool {
	return len(b.Variants) > 0
}

// Orchestrator drives one batch of per-account uploads sequentially,
// converting every outcome into progress events. No account's failure
// aborts the rest of the batch.
type Orchestrator struct {
	store    Store
	vault    *crypto.Vault
	adapters Adapters
	images   Images
	cooldown time.Duration
}

// New creates an Orchestrator. The cooldown is the pause inserted between
// consecutive variant posts to a site that cannot take them as one group.
func New(store Store, vault *crypto.Vault, adapters Adapters, imageStore Images, cooldown time.Duration) *Orchestrator {
	return &Orchestrator{
		store:    store,
		vault:    vault,
		adapters: adapters,
		images:   imageStore,
		cooldown: cooldown,
	}
}

// Run starts the batch and returns its ordered event stream. The channel is
// closed after the terminal done event. The caller must drain the channel;
// a disconnected client keeps draining and discards, so the in-flight batch
// and its draft bookkeeping always complete.
func (o *Orchestrator) Run(ctx context.Context, batch Batch) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.run(ctx, batch, events)
	}()
	return events
}

func (o *Orchestrator) run(ctx context.Context, batch Batch, events chan<- Event) {
	defer func() { events <- Event{Name: EventDone, Data: EventDone} }()

	accounts, err := o.store.GetAccountsByIDs(ctx, batch.UserID, batch.AccountIDs)
	if err != nil {
		log.Printf("Uploader: failed to resolve accounts: %v", err)
		return
	}
	orderAccounts(accounts, batch.LinkSources)

	events <- Event{Name: EventCount, Data: CountData{Count: len(accounts)}}

	if err := o.store.MarkAccountsUsed(ctx, batch.UserID, batch.AccountIDs); err != nil {
		log.Printf("Uploader: failed to mark accounts used: %v", err)
	}

	var linkBacks []sites.LinkBack
	succeeded := make(map[string]bool, len(accounts))

	for _, account := range accounts {
		url, ok := o.attemptAccount(ctx, batch, account, linkBacks, events)
		if ok {
			succeeded[account.ID] = true
			if batch.LinkSources[account.ID] && url != "" {
				linkBacks = append(linkBacks, sites.LinkBack{Site: account.Site, URL: url})
			}
		}
	}

	o.finishDraft(ctx, batch, accounts, succeeded)
}

// attemptAccount runs one account's full upload and reports whether it
// succeeded. The returned URL is the account's first destination link.
func (o *Orchestrator) attemptAccount(ctx context.Context, batch Batch, account *models.Account, linkBacks []sites.LinkBack, events chan<- Event) (string, bool) {
	credentials, err := o.vault.Decrypt(batch.SessionSecret, account.EncryptedCredentials)
	if err != nil {
		log.Printf("Uploader: failed to decrypt credentials for %s account %s: %v", account.Site, account.Username, err)
		events <- Event{Name: EventSiteError, Data: FailureData{
			Site:    account.Site.String(),
			Account: account.Username,
			Message: "stored credentials could not be decrypted; log out and back in, then relink the account if this persists",
		}}
		return "", false
	}

	adapter, err := o.adapters.ForAccount(account, credentials, batch.SessionSecret)
	if err != nil {
		log.Printf("Uploader: no adapter for account %s: %v", account.ID, err)
		events <- Event{Name: EventSiteError, Data: FailureData{
			Site:    account.Site.String(),
			Account: account.Username,
			Message: err.Error(),
		}}
		return "", false
	}

	extra := sites.Extra{
		Folder:    batch.Folders[account.ID],
		LinkBacks: linkBacks,
		Params:    batch.Params,
	}

	if problems := o.validate(adapter, batch); len(problems) > 0 {
		events <- Event{Name: EventValidationError, Data: FailureData{
			Site:    account.Site.String(),
			Account: account.Username,
			Message: strings.Join(problems, "; "),
		}}
		return "", false
	}

	if !batch.grouped() {
		url, err := adapter.SubmitArtwork(ctx, batch.Submission, extra)
		if err != nil {
			events <- o.classify(account, err)
			return "", false
		}
		events <- Event{Name: EventUpload, Data: UploadData{Link: url, Name: account.Username}}
		return url, true
	}

	return o.attemptGroup(ctx, batch, account, adapter, extra, events)
}

// attemptGroup posts a group to one account: a single multi-image post on
// sites that support it, otherwise one post per variant with a cooldown in
// between. The first variant failure ends the account's attempt so a retry
// narrows to it cleanly.
func (o *Orchestrator) attemptGroup(ctx context.Context, batch Batch, account *models.Account, adapter sites.Adapter, extra sites.Extra, events chan<- Event) (string, bool) {
	capabilities, _ := o.adapters.Capabilities(account.Site)

	if capabilities.Group {
		url, err := adapter.UploadGroup(ctx, batch.Variants, extra)
		if err != nil {
			events <- o.classify(account, err)
			return "", false
		}
		events <- Event{Name: EventUpload, Data: UploadData{Link: url, Name: account.Username}}
		events <- Event{Name: EventGroupDone, Data: EventGroupDone}
		return url, true
	}

	var firstURL string
	for i, variant := range batch.Variants {
		if i > 0 {
			o.pause(ctx, account.Site, events)
		}

		url, err := adapter.SubmitArtwork(ctx, variant, extra)
		if err != nil {
			events <- o.classify(account, err)
			return "", false
		}
		events <- Event{Name: EventUpload, Data: UploadData{Link: url, Name: account.Username}}
		if firstURL == "" {
			firstURL = url
		}
	}

	events <- Event{Name: EventGroupDone, Data: EventGroupDone}
	return firstURL, true
}

func (o *Orchestrator) validate(adapter sites.Adapter, batch Batch) []string {
	if !batch.grouped() {
		return adapter.ValidateSubmission(batch.Submission)
	}
	for _, variant := range batch.Variants {
		if problems := adapter.ValidateSubmission(variant); len(problems) > 0 {
			return problems
		}
	}
	return nil
}

// pause waits out the cooldown between variant posts, bracketing it with
// delay events so the client can show a countdown.
func (o *Orchestrator) pause(ctx context.Context, site models.Site, events chan<- Event) {
	if o.cooldown <= 0 {
		return
	}

	events <- Event{Name: EventDelay, Data: DelayData{State: DelayStart, Site: site.String()}}

	timer := time.NewTimer(o.cooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	events <- Event{Name: EventDelay, Data: DelayData{State: DelayEnd, Site: site.String()}}
}

// classify converts one failed attempt into its progress event. The error
// taxonomy out of the adapters is the only failure channel, so this is the
// single catch point for the whole batch.
func (o *Orchestrator) classify(account *models.Account, err error) Event {
	log.Printf("Uploader: %s upload failed for %s: %v", account.Site, account.Username, err)

	data := FailureData{
		Site:    account.Site.String(),
		Account: account.Username,
	}

	var siteErr *sites.SiteError
	var httpErr *sites.HTTPError
	switch {
	case errors.Is(err, sites.ErrBadCredentials):
		return Event{Name: EventBadCredentials, Data: data}
	case errors.As(err, &siteErr):
		data.Message = siteErr.Message
		return Event{Name: EventSiteError, Data: data}
	case errors.As(err, &httpErr):
		data.Code = httpErr.StatusCode
		return Event{Name: EventHTTPError, Data: data}
	default:
		data.Message = err.Error()
		return Event{Name: EventSiteError, Data: data}
	}
}

// finishDraft deletes a fully successful batch's draft, or narrows the
// draft's account list to what still needs a retry. Deleting the rows alone
// would strand the draft's files in the image store, so the returned image
// names are removed too.
func (o *Orchestrator) finishDraft(ctx context.Context, batch Batch, accounts []*models.Account, succeeded map[string]bool) {
	if batch.DraftID == "" && batch.GroupID == "" {
		return
	}

	var remaining []string
	for _, account := range accounts {
		if !succeeded[account.ID] {
			remaining = append(remaining, account.ID)
		}
	}

	if len(remaining) == 0 {
		var imageNames []string
		var err error
		if batch.GroupID != "" {
			imageNames, err = o.store.DeleteGroup(ctx, batch.UserID, batch.GroupID)
		} else {
			imageNames, err = o.store.DeleteDraft(ctx, batch.UserID, batch.DraftID)
		}
		if err != nil {
			log.Printf("Uploader: failed to delete finished draft: %v", err)
			return
		}
		for _, name := range imageNames {
			if name == "" {
				continue
			}
			if err := o.images.Delete(name); err != nil {
				log.Printf("Uploader: failed to delete draft image %s: %v", name, err)
			}
		}
		return
	}

	if batch.DraftID != "" {
		if err := o.store.UpdateDraftAccounts(ctx, batch.DraftID, remaining); err != nil {
			log.Printf("Uploader: failed to narrow draft accounts: %v", err)
		}
	}
}

// orderAccounts sorts the batch: link-source accounts first so their URLs
// exist before any account that embeds them, then the rest; both segments
// in ascending site-id order, ties by username.
func orderAccounts(accounts []*models.Account, linkSources map[string]bool) {
	sort.SliceStable(accounts, func(i, j int) bool {
		a, b := accounts[i], accounts[j]
		if linkSources[a.ID] != linkSources[b.ID] {
			return linkSources[a.ID]
		}
		if a.Site != b.Site {
			return a.Site < b.Site
		}
		return a.Username < b.Username
	})
}
