package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/ameliade/crosspost/internal/db"
	"github.com/ameliade/crosspost/internal/images"
	"github.com/ameliade/crosspost/internal/models"
	"github.com/ameliade/crosspost/internal/uploader"
)

// SubmitStore is the slice of the relational store the submit endpoints
// need: resolving drafts and groups into batches.
type SubmitStore interface {
	GetDraft(ctx context.Context, userID, draftID string) (*models.SavedSubmission, error)
	GetGroup(ctx context.Context, userID, groupID string) (*models.SubmissionGroup, error)
}

// BatchRunner starts one upload batch. Implemented by
// uploader.Orchestrator.
type BatchRunner interface {
	Run(ctx context.Context, batch uploader.Batch) <-chan uploader.Event
}

// EventMirror fans progress events out to the user's live websocket
// connections. Implemented by websocket.Hub.
type EventMirror interface {
	SendEvent(userID, name string, data any)
}

// SubmitHandler handles upload submission: direct multipart uploads,
// draft retries, and group uploads, each streamed back as server-sent
// events.
type SubmitHandler struct {
	store  SubmitStore
	images images.Store
	runner BatchRunner
	hub    EventMirror
}

// NewSubmitHandler creates a new SubmitHandler instance.
func NewSubmitHandler(store SubmitStore, imageStore images.Store, runner BatchRunner, hub EventMirror) *SubmitHandler {
	return &SubmitHandler{store: store, images: imageStore, runner: runner, hub: hub}
}

// HandleSubmit serves POST /api/submit: a direct upload from the multipart
// submission form, streamed back as SSE progress events.
func (h *SubmitHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSessionFromContext(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	form, err := parseSubmissionForm(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if form.Image == nil {
		http.Error(w, "An image is required", http.StatusBadRequest)
		return
	}
	if !form.Rating.Valid() {
		http.Error(w, "A valid rating is required", http.StatusBadRequest)
		return
	}
	if len(form.Accounts) == 0 {
		http.Error(w, "At least one account is required", http.StatusBadRequest)
		return
	}

	batch := uploader.Batch{
		UserID:        session.UserID,
		SessionSecret: session.Secret,
		AccountIDs:    form.Accounts,
		LinkSources:   form.LinkSources,
		Submission:    models.NewSubmission(form.Title, form.Description, form.RawTags, form.Rating, *form.Image),
		Folders:       form.Folders,
		Params:        form.Extras,
	}

	h.stream(w, r, session.UserID, batch)
}

// HandleSubmitSaved serves POST /api/submit/draft/{id} and
// POST /api/submit/group/{id}: uploading a stored draft or group. A
// narrowed draft retries only the accounts that have not yet succeeded.
func (h *SubmitHandler) HandleSubmitSaved(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSessionFromContext(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/submit/")
	kind, id, found := strings.Cut(rest, "/")
	if !found || id == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	switch kind {
	case "draft":
		h.submitDraft(w, r, session.UserID, session.Secret, id)
	case "group":
		h.submitGroup(w, r, session.UserID, session.Secret, id)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *SubmitHandler) submitDraft(w http.ResponseWriter, r *http.Request, userID, secret, draftID string) {
	draft, err := h.store.GetDraft(r.Context(), userID, draftID)
	if err != nil {
		h.lookupError(w, draftID, err)
		return
	}

	image, err := h.images.Load(draft.ImageName)
	if err != nil {
		log.Printf("SubmitHandler: Failed to load image for draft %s: %v", draftID, err)
		http.Error(w, "Stored image is missing", http.StatusConflict)
		return
	}

	accounts := formAccounts(r, draft.Accounts)
	if len(accounts) == 0 {
		http.Error(w, "At least one account is required", http.StatusBadRequest)
		return
	}

	batch := uploader.Batch{
		UserID:        userID,
		SessionSecret: secret,
		AccountIDs:    accounts,
		LinkSources:   formSet(r, "linksource"),
		Submission:    draft.Submission(image),
		Folders:       formFolders(r),
		Params:        draft.Extras,
		DraftID:       draft.ID,
	}

	h.stream(w, r, userID, batch)
}

func (h *SubmitHandler) submitGroup(w http.ResponseWriter, r *http.Request, userID, secret, groupID string) {
	group, err := h.store.GetGroup(r.Context(), userID, groupID)
	if err != nil {
		h.lookupError(w, groupID, err)
		return
	}

	drafts := append([]*models.SavedSubmission{group.Master}, group.Variants...)
	variants := make([]models.Submission, 0, len(drafts))
	for _, draft := range drafts {
		image, err := h.images.Load(draft.ImageName)
		if err != nil {
			log.Printf("SubmitHandler: Failed to load image for group %s: %v", groupID, err)
			http.Error(w, "Stored image is missing", http.StatusConflict)
			return
		}
		variants = append(variants, draft.Submission(image))
	}

	accounts := formAccounts(r, group.Master.Accounts)
	if len(accounts) == 0 {
		http.Error(w, "At least one account is required", http.StatusBadRequest)
		return
	}

	batch := uploader.Batch{
		UserID:        userID,
		SessionSecret: secret,
		AccountIDs:    accounts,
		LinkSources:   formSet(r, "linksource"),
		Variants:      variants,
		Folders:       formFolders(r),
		Params:        group.Master.Extras,
		DraftID:       group.Master.ID,
		GroupID:       group.ID,
	}

	h.stream(w, r, userID, batch)
}

// stream runs the batch and relays its events as SSE, mirroring each one
// to the user's websocket connections. The batch runs on a context that
// survives the request: once started, an upload finishes (and its draft
// bookkeeping lands) even if the client goes away mid-stream.
func (h *SubmitHandler) stream(w http.ResponseWriter, r *http.Request, userID string, batch uploader.Batch) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.runner.Run(context.WithoutCancel(r.Context()), batch)

	clientGone := false
	for event := range events {
		h.hub.SendEvent(userID, event.Name, event.Data)

		if clientGone {
			continue
		}
		if err := writeSSEEvent(w, event); err != nil {
			log.Printf("SubmitHandler: Client went away mid-stream: %v", err)
			clientGone = true
			continue
		}
		flusher.Flush()
	}
}

func writeSSEEvent(w io.Writer, event uploader.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		data = []byte("{}")
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, data)
	return err
}

// formAccounts reads the optional "accounts" override, falling back to the
// stored draft's pending account list.
func formAccounts(r *http.Request, fallback []string) []string {
	accounts := formValues(r, "accounts")
	if len(accounts) == 0 {
		return fallback
	}
	return accounts
}

func formSet(r *http.Request, key string) map[string]bool {
	set := make(map[string]bool)
	for _, id := range formValues(r, key) {
		set[id] = true
	}
	return set
}

func formFolders(r *http.Request) map[string]string {
	folders := make(map[string]string)
	for key, values := range r.Form {
		if accountID, ok := strings.CutPrefix(key, "folder_"); ok && len(values) > 0 {
			folders[accountID] = values[0]
		}
	}
	return folders
}

func formValues(r *http.Request, key string) []string {
	var out []string
	for _, value := range r.Form[key] {
		for _, id := range strings.Split(value, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func (h *SubmitHandler) lookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, db.ErrDraftNotFound) {
		http.Error(w, "Draft not found", http.StatusNotFound)
		return
	}
	log.Printf("SubmitHandler: Failed to load draft %s: %v", id, err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}
