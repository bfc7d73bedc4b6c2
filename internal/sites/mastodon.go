package sites

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ameliade/crosspost/internal/models"
)

const (
	mastodonStatusLimit = 500
	// The reference server caps image attachments at 8 MB.
	mastodonImageByteLimit = 8 * 1024 * 1024
)

// mastodon posts statuses to any Mastodon-compatible instance. Accounts
// are instance-qualified (user@instance); credentials are a JSON object of
// the instance hostname and a user-generated access token.
type mastodon struct {
	base
}

func newMastodon(deps *Deps, binding Binding) Adapter {
	return &mastodon{base{deps: deps, binding: binding}}
}

func (m *mastodon) Site() models.Site { return models.SiteMastodon }

// PreAddAccount has no redirect step: the user pastes an access token
// generated in their instance's development settings.
func (m *mastodon) PreAddAccount(_ context.Context) (*PreAddResult, error) {
	return &PreAddResult{}, nil
}

func (m *mastodon) ParseAddForm(form url.Values) (map[string]string, error) {
	instance, err := requireFormValue(form, "instance")
	if err != nil {
		return nil, err
	}
	token, err := requireFormValue(form, "access_token")
	if err != nil {
		return nil, err
	}

	instance = strings.TrimPrefix(strings.TrimPrefix(instance, "https://"), "http://")
	instance = strings.TrimSuffix(instance, "/")
	if strings.ContainsAny(instance, " /") {
		return nil, &BadDataError{Field: "instance", Reason: "must be a bare hostname"}
	}

	return map[string]string{"instance": instance, "access_token": token}, nil
}

func (m *mastodon) AddAccount(ctx context.Context, data map[string]string) ([]*models.Account, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+data["access_token"])

	body, err := m.get(ctx, "https://"+data["instance"]+"/api/v1/accounts/verify_credentials", header)
	if err != nil {
		return nil, err
	}

	acct := gjson.GetBytes(body, "acct").String()
	if acct == "" {
		return nil, ErrBadCredentials
	}
	// Store the fully qualified handle so profile links resolve across
	// instances.
	username := acct
	if !strings.Contains(acct, "@") {
		username = acct + "@" + data["instance"]
	}

	creds := credentialJSON(map[string]string{
		"instance":     data["instance"],
		"access_token": data["access_token"],
	})
	account, err := m.saveAccount(ctx, models.SiteMastodon, username, creds)
	if err != nil {
		return nil, err
	}
	return []*models.Account{account}, nil
}

func (m *mastodon) ValidateSubmission(sub models.Submission) []string {
	var problems []string
	if len(sub.Image.Bytes) == 0 {
		problems = append(problems, "Mastodon requires an image")
	}
	return problems
}

func (m *mastodon) SubmitArtwork(ctx context.Context, sub models.Submission, extra Extra) (string, error) {
	return m.toot(ctx, sub, []models.Submission{sub}, extra)
}

// UploadGroup attaches up to four variants to one status.
func (m *mastodon) UploadGroup(ctx context.Context, variants []models.Submission, extra Extra) (string, error) {
	if len(variants) == 0 {
		return "", &BadDataError{Reason: "a group upload needs at least one variant"}
	}
	if len(variants) > 4 {
		return "", &BadDataError{Reason: "Mastodon takes at most 4 images per status"}
	}
	return m.toot(ctx, variants[0], variants, extra)
}

func (m *mastodon) toot(ctx context.Context, meta models.Submission, variants []models.Submission, extra Extra) (string, error) {
	if err := m.requireAccount(); err != nil {
		return "", err
	}
	creds, err := parseCredentialJSON(m.binding.Credentials)
	if err != nil {
		return "", err
	}

	apiBase := "https://" + creds["instance"]
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds["access_token"])

	mediaIDs := make([]string, 0, len(variants))
	for _, variant := range variants {
		mediaID, err := m.uploadMedia(ctx, apiBase, header, variant)
		if err != nil {
			return "", err
		}
		mediaIDs = append(mediaIDs, mediaID)
	}

	payload := map[string]any{
		"status":     statusText(meta, extra, mastodonStatusLimit),
		"media_ids":  mediaIDs,
		"sensitive":  m.MapRating(meta.Rating) == "true",
		"visibility": "public",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode status: %w", err)
	}

	statusHeader := header.Clone()
	statusHeader.Set("Content-Type", "application/json")
	resp, err := m.request(ctx, http.MethodPost, apiBase+"/api/v1/statuses", bytes.NewReader(body), statusHeader)
	if err != nil {
		return "", err
	}

	link := gjson.GetBytes(resp, "url").String()
	if link == "" {
		if message := gjson.GetBytes(resp, "error").String(); message != "" {
			return "", &SiteError{Message: message}
		}
		return "", &SiteError{Message: "Mastodon did not return a status URL"}
	}
	return link, nil
}

func (m *mastodon) uploadMedia(ctx context.Context, apiBase string, header http.Header, variant models.Submission) (string, error) {
	data := variant.Image.Bytes
	if len(data) > mastodonImageByteLimit && m.configValue(ctx, "resize", "yes") == "yes" && m.deps.Resize != nil {
		resized, err := m.deps.Resize(data, 3840, 3840)
		if err == nil {
			data = resized
		}
	}
	if len(data) > mastodonImageByteLimit {
		return "", &SiteError{Message: fmt.Sprintf("image is %d bytes, over the instance's %d byte limit", len(data), mastodonImageByteLimit)}
	}

	body, err := m.postMultipart(ctx, apiBase+"/api/v2/media", map[string]string{
		"description": variant.Title,
	}, header.Clone(), fileField{
		Field:    "file",
		Filename: variant.Image.Filename,
		MimeType: variant.Image.MimeType,
		Data:     data,
	})
	if err != nil {
		return "", err
	}

	mediaID := gjson.GetBytes(body, "id").String()
	if mediaID == "" {
		return "", &SiteError{Message: "Mastodon did not return a media id"}
	}
	return mediaID, nil
}

func (m *mastodon) GetFolders(_ context.Context, _ bool) ([]models.Folder, error) {
	return nil, fmt.Errorf("mastodon does not support folders")
}

// MapRating maps to the status sensitive flag.
func (m *mastodon) MapRating(rating models.Rating) string {
	if rating == models.RatingGeneral {
		return "false"
	}
	return "true"
}
