package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ameliade/crosspost/internal/db"
	"github.com/ameliade/crosspost/internal/images"
	"github.com/ameliade/crosspost/internal/models"
)

// maxGroupVariants caps the variant drafts one group may carry.
const maxGroupVariants = 4

// DraftsStore is the slice of the relational store the draft endpoints
// need.
type DraftsStore interface {
	SaveDraft(ctx context.Context, draft *models.SavedSubmission) error
	GetDraft(ctx context.Context, userID, draftID string) (*models.SavedSubmission, error)
	GetDrafts(ctx context.Context, userID string) ([]*models.SavedSubmission, error)
	DeleteDraft(ctx context.Context, userID, draftID string) ([]string, error)
	SaveGroup(ctx context.Context, group *models.SubmissionGroup) error
	GetGroup(ctx context.Context, userID, groupID string) (*models.SubmissionGroup, error)
	DeleteGroup(ctx context.Context, userID, groupID string) ([]string, error)
}

// DraftsHandler handles saved-draft and submission-group CRUD. Draft
// images live in the image store; the draft row carries only the stored
// name.
type DraftsHandler struct {
	store  DraftsStore
	images images.Store
}

// NewDraftsHandler creates a new DraftsHandler instance.
func NewDraftsHandler(store DraftsStore, imageStore images.Store) *DraftsHandler {
	return &DraftsHandler{store: store, images: imageStore}
}

// HandleDrafts serves /api/drafts: GET lists the user's drafts, POST saves
// a new one from the multipart submission form.
func (h *DraftsHandler) HandleDrafts(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSessionFromContext(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		drafts, err := h.store.GetDrafts(r.Context(), session.UserID)
		if err != nil {
			log.Printf("DraftsHandler: Failed to list drafts: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		WriteJSONResponse(w, drafts)
	case http.MethodPost:
		h.saveDraft(w, r, session.UserID)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DraftsHandler) saveDraft(w http.ResponseWriter, r *http.Request, userID string) {
	form, err := parseSubmissionForm(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !form.Rating.Valid() {
		http.Error(w, "A valid rating is required", http.StatusBadRequest)
		return
	}

	draft := &models.SavedSubmission{
		ID:          r.FormValue("id"),
		UserID:      userID,
		Title:       form.Title,
		Description: form.Description,
		RawTags:     form.RawTags,
		Rating:      form.Rating,
		Accounts:    form.Accounts,
		Extras:      form.Extras,
	}

	// A re-save without a new image keeps the stored one.
	if draft.ID != "" {
		existing, err := h.store.GetDraft(r.Context(), userID, draft.ID)
		if err != nil {
			h.draftLookupError(w, draft.ID, err)
			return
		}
		draft.ImageName = existing.ImageName
	}

	if form.Image != nil {
		name, err := h.images.Save(*form.Image)
		if err != nil {
			log.Printf("DraftsHandler: Failed to store draft image: %v", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if draft.ImageName != "" {
			h.deleteImage(draft.ImageName)
		}
		draft.ImageName = name
	}
	if draft.ImageName == "" {
		http.Error(w, "An image is required", http.StatusBadRequest)
		return
	}

	if err := h.store.SaveDraft(r.Context(), draft); err != nil {
		log.Printf("DraftsHandler: Failed to save draft: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	WriteJSONResponse(w, draft)
}

// HandleDraft serves GET and DELETE /api/drafts/{id}.
func (h *DraftsHandler) HandleDraft(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSessionFromContext(w, r)
	if !ok {
		return
	}

	draftID := strings.TrimPrefix(r.URL.Path, "/api/drafts/")
	if draftID == "" || strings.Contains(draftID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		draft, err := h.store.GetDraft(r.Context(), session.UserID, draftID)
		if err != nil {
			h.draftLookupError(w, draftID, err)
			return
		}
		WriteJSONResponse(w, draft)
	case http.MethodDelete:
		imageNames, err := h.store.DeleteDraft(r.Context(), session.UserID, draftID)
		if err != nil {
			h.draftLookupError(w, draftID, err)
			return
		}
		for _, name := range imageNames {
			h.deleteImage(name)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleGroups serves POST /api/groups: saving a submission group from the
// multipart form. The first "images" part is the master's, the rest become
// variants sharing the master's metadata.
func (h *DraftsHandler) HandleGroups(w http.ResponseWriter, r *http.Request) {
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
	if !form.Rating.Valid() {
		http.Error(w, "A valid rating is required", http.StatusBadRequest)
		return
	}
	if len(form.Images) < 2 {
		http.Error(w, "A group needs at least two images", http.StatusBadRequest)
		return
	}
	if len(form.Images) > maxGroupVariants+1 {
		http.Error(w, "Too many images for one group", http.StatusBadRequest)
		return
	}

	stored := make([]string, 0, len(form.Images))
	for _, image := range form.Images {
		name, err := h.images.Save(image)
		if err != nil {
			log.Printf("DraftsHandler: Failed to store group image: %v", err)
			for _, prev := range stored {
				h.deleteImage(prev)
			}
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		stored = append(stored, name)
	}

	group := &models.SubmissionGroup{
		ID:     uuid.NewString(),
		UserID: session.UserID,
		Master: &models.SavedSubmission{
			UserID:      session.UserID,
			Title:       form.Title,
			Description: form.Description,
			RawTags:     form.RawTags,
			Rating:      form.Rating,
			ImageName:   stored[0],
			Accounts:    form.Accounts,
			Extras:      form.Extras,
		},
	}
	for _, name := range stored[1:] {
		group.Variants = append(group.Variants, &models.SavedSubmission{
			UserID:      session.UserID,
			Title:       form.Title,
			Description: form.Description,
			RawTags:     form.RawTags,
			Rating:      form.Rating,
			ImageName:   name,
			Accounts:    form.Accounts,
			Extras:      form.Extras,
		})
	}

	if err := h.store.SaveGroup(r.Context(), group); err != nil {
		log.Printf("DraftsHandler: Failed to save group: %v", err)
		for _, name := range stored {
			h.deleteImage(name)
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	WriteJSONResponse(w, group)
}

// HandleGroup serves GET and DELETE /api/groups/{id}.
func (h *DraftsHandler) HandleGroup(w http.ResponseWriter, r *http.Request) {
	session, ok := GetSessionFromContext(w, r)
	if !ok {
		return
	}

	groupID := strings.TrimPrefix(r.URL.Path, "/api/groups/")
	if groupID == "" || strings.Contains(groupID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		group, err := h.store.GetGroup(r.Context(), session.UserID, groupID)
		if err != nil {
			h.draftLookupError(w, groupID, err)
			return
		}
		WriteJSONResponse(w, group)
	case http.MethodDelete:
		imageNames, err := h.store.DeleteGroup(r.Context(), session.UserID, groupID)
		if err != nil {
			h.draftLookupError(w, groupID, err)
			return
		}
		for _, name := range imageNames {
			h.deleteImage(name)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DraftsHandler) draftLookupError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, db.ErrDraftNotFound) {
		http.Error(w, "Draft not found", http.StatusNotFound)
		return
	}
	log.Printf("DraftsHandler: Failed to load draft %s: %v", id, err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

// deleteImage removes a stored image, tolerating images that are already
// gone.
func (h *DraftsHandler) deleteImage(name string) {
	if name == "" {
		return
	}
	if err := h.images.Delete(name); err != nil && !errors.Is(err, images.ErrImageNotFound) {
		log.Printf("DraftsHandler: Failed to delete image %s: %v", name, err)
	}
}
