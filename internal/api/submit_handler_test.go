package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ameliade/crosspost/internal/models"
	"github.com/ameliade/crosspost/internal/uploader"
)

// fakeRunner records the batch it was handed and replays scripted events.
type fakeRunner struct {
	batch  uploader.Batch
	events []uploader.Event
}

func (f *fakeRunner) Run(_ context.Context, batch uploader.Batch) <-chan uploader.Event {
	f.batch = batch
	ch := make(chan uploader.Event, len(f.events))
	for _, event := range f.events {
		ch <- event
	}
	close(ch)
	return ch
}

// fakeMirror records event names fanned out to the websocket hub.
type fakeMirror struct {
	names []string
}

func (f *fakeMirror) SendEvent(_, name string, _ any) {
	f.names = append(f.names, name)
}

func newSubmitFixture(events []uploader.Event) (*SubmitHandler, *fakeStore, *memoryImages, *fakeRunner, *fakeMirror) {
	store := newFakeStore()
	imageStore := newMemoryImages()
	runner := &fakeRunner{events: events}
	mirror := &fakeMirror{}
	handler := NewSubmitHandler(store, imageStore, runner, mirror)
	return handler, store, imageStore, runner, mirror
}

func TestHandleSubmitStreamsEvents(t *testing.T) {
	handler, _, _, runner, mirror := newSubmitFixture([]uploader.Event{
		{Name: uploader.EventCount, Data: uploader.CountData{Count: 1}},
		{Name: uploader.EventUpload, Data: uploader.UploadData{Link: "https://www.weasyl.com/~amy/submissions/1", Name: "amy"}},
		{Name: uploader.EventDone, Data: uploader.EventDone},
	})

	body, contentType := multipartBody(t, map[string][]string{
		"title":            {"Night sky"},
		"description":      {"ink on paper"},
		"tags":             {"fox wolf"},
		"rating":           {"general"},
		"accounts":         {"account-1"},
		"linksource":       {"account-1"},
		"folder_account-1": {"12"},
	}, map[string][][]byte{"image": {tinyPNG}})

	req := authedRequest(t, http.MethodPost, "/api/submit", body, testSession("user-1"))
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handler.HandleSubmit(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("unexpected content type %q", got)
	}

	out := w.Body.String()
	for _, want := range []string{
		"event: count\ndata: {\"count\":1}\n\n",
		"event: upload\n",
		"\"link\":\"https://www.weasyl.com/~amy/submissions/1\"",
		"event: done\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("stream missing %q in:\n%s", want, out)
		}
	}

	batch := runner.batch
	if batch.UserID != "user-1" || batch.SessionSecret != "hunter2" {
		t.Errorf("unexpected batch identity: %+v", batch)
	}
	if len(batch.AccountIDs) != 1 || batch.AccountIDs[0] != "account-1" {
		t.Errorf("unexpected batch accounts: %v", batch.AccountIDs)
	}
	if !batch.LinkSources["account-1"] {
		t.Error("link source flag was not forwarded")
	}
	if batch.Folders["account-1"] != "12" {
		t.Errorf("folder selection was not forwarded: %v", batch.Folders)
	}
	if batch.Submission.Title != "Night sky" || len(batch.Submission.Tags) != 2 {
		t.Errorf("unexpected submission: %+v", batch.Submission)
	}
	if batch.DraftID != "" || batch.GroupID != "" {
		t.Error("direct submit should not carry draft bookkeeping")
	}

	if len(mirror.names) != 3 || mirror.names[0] != "count" || mirror.names[2] != "done" {
		t.Errorf("unexpected mirrored events: %v", mirror.names)
	}
}

func TestHandleSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string][]string
		images map[string][][]byte
	}{
		{
			"missing image",
			map[string][]string{"title": {"x"}, "rating": {"general"}, "accounts": {"account-1"}},
			nil,
		},
		{
			"bad rating",
			map[string][]string{"title": {"x"}, "rating": {"spicy"}, "accounts": {"account-1"}},
			map[string][][]byte{"image": {tinyPNG}},
		},
		{
			"no accounts",
			map[string][]string{"title": {"x"}, "rating": {"general"}},
			map[string][][]byte{"image": {tinyPNG}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _, _, _, _ := newSubmitFixture(nil)

			body, contentType := multipartBody(t, tt.fields, tt.images)
			req := authedRequest(t, http.MethodPost, "/api/submit", body, testSession("user-1"))
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()

			handler.HandleSubmit(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestSubmitDraft(t *testing.T) {
	handler, store, imageStore, runner, _ := newSubmitFixture([]uploader.Event{
		{Name: uploader.EventDone, Data: uploader.EventDone},
	})

	name, err := imageStore.Save(models.Image{Bytes: tinyPNG, MimeType: "image/png", Filename: "art.png"})
	if err != nil {
		t.Fatalf("failed to seed image: %v", err)
	}
	store.drafts["draft-1"] = &models.SavedSubmission{
		ID: "draft-1", UserID: "user-1",
		Title: "Night sky", RawTags: "fox wolf", Rating: models.RatingGeneral,
		ImageName: name,
		Accounts:  []string{"account-1", "account-2"},
		Extras:    map[string]string{"scat": "0"},
	}

	req := authedRequest(t, http.MethodPost, "/api/submit/draft/draft-1", nil, testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleSubmitSaved(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	batch := runner.batch
	if batch.DraftID != "draft-1" {
		t.Errorf("draft id was not forwarded: %q", batch.DraftID)
	}
	if len(batch.AccountIDs) != 2 {
		t.Errorf("expected the draft's pending accounts, got %v", batch.AccountIDs)
	}
	if batch.Submission.Title != "Night sky" {
		t.Errorf("unexpected submission: %+v", batch.Submission)
	}
	if batch.Params["scat"] != "0" {
		t.Errorf("draft extras were not forwarded: %v", batch.Params)
	}
}

func TestSubmitDraftAccountOverride(t *testing.T) {
	handler, store, imageStore, runner, _ := newSubmitFixture(nil)

	name, _ := imageStore.Save(models.Image{Bytes: tinyPNG})
	store.drafts["draft-1"] = &models.SavedSubmission{
		ID: "draft-1", UserID: "user-1", Rating: models.RatingGeneral,
		ImageName: name, Accounts: []string{"account-1", "account-2"},
	}

	form := url.Values{"accounts": {"account-2"}}
	req := authedRequest(t, http.MethodPost, "/api/submit/draft/draft-1", strings.NewReader(form.Encode()), testSession("user-1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	handler.HandleSubmitSaved(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(runner.batch.AccountIDs) != 1 || runner.batch.AccountIDs[0] != "account-2" {
		t.Errorf("account override was not applied: %v", runner.batch.AccountIDs)
	}
}

func TestSubmitDraftMissing(t *testing.T) {
	handler, _, _, _, _ := newSubmitFixture(nil)

	req := authedRequest(t, http.MethodPost, "/api/submit/draft/ghost", nil, testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleSubmitSaved(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestSubmitDraftMissingImage(t *testing.T) {
	handler, store, _, _, _ := newSubmitFixture(nil)

	store.drafts["draft-1"] = &models.SavedSubmission{
		ID: "draft-1", UserID: "user-1", Rating: models.RatingGeneral,
		ImageName: "gone.png", Accounts: []string{"account-1"},
	}

	req := authedRequest(t, http.MethodPost, "/api/submit/draft/draft-1", nil, testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleSubmitSaved(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", w.Code)
	}
}

func TestSubmitGroup(t *testing.T) {
	handler, store, imageStore, runner, _ := newSubmitFixture([]uploader.Event{
		{Name: uploader.EventDone, Data: uploader.EventDone},
	})

	masterImage, _ := imageStore.Save(models.Image{Bytes: tinyPNG})
	variantImage, _ := imageStore.Save(models.Image{Bytes: tinyPNG})
	store.groups["group-1"] = &models.SubmissionGroup{
		ID:     "group-1",
		UserID: "user-1",
		Master: &models.SavedSubmission{
			ID: "draft-1", UserID: "user-1", GroupID: "group-1", Master: true,
			Title: "Triptych", Rating: models.RatingGeneral,
			ImageName: masterImage, Accounts: []string{"account-1"},
		},
		Variants: []*models.SavedSubmission{
			{
				ID: "draft-2", UserID: "user-1", GroupID: "group-1",
				Title: "Triptych", Rating: models.RatingGeneral,
				ImageName: variantImage,
			},
		},
	}

	req := authedRequest(t, http.MethodPost, "/api/submit/group/group-1", nil, testSession("user-1"))
	w := httptest.NewRecorder()

	handler.HandleSubmitSaved(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	batch := runner.batch
	if batch.GroupID != "group-1" || batch.DraftID != "draft-1" {
		t.Errorf("group bookkeeping was not forwarded: %+v", batch)
	}
	if len(batch.Variants) != 2 {
		t.Fatalf("expected 2 variants (master first), got %d", len(batch.Variants))
	}
	if batch.Variants[0].Title != "Triptych" {
		t.Errorf("unexpected master variant: %+v", batch.Variants[0])
	}
	if len(batch.AccountIDs) != 1 || batch.AccountIDs[0] != "account-1" {
		t.Errorf("unexpected accounts: %v", batch.AccountIDs)
	}
}
