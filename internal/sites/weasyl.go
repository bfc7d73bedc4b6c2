package sites

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ameliade/crosspost/internal/description"
	"github.com/ameliade/crosspost/internal/models"
)

const weasylAPIBase = "https://www.weasyl.com/api"

// weasyl talks to the Weasyl JSON API. Credentials are a single API key
// the user generates in their Weasyl settings, stored bare.
type weasyl struct {
	base
}

func newWeasyl(deps *Deps, binding Binding) Adapter {
	return &weasyl{base{deps: deps, binding: binding}}
}

func (w *weasyl) Site() models.Site { return models.SiteWeasyl }

func (w *weasyl) header() http.Header {
	header := http.Header{}
	header.Set("X-Weasyl-API-Key", w.binding.Credentials)
	return header
}

// PreAddAccount has no site-specific first step: the user pastes an API key.
func (w *weasyl) PreAddAccount(_ context.Context) (*PreAddResult, error) {
	return &PreAddResult{}, nil
}

func (w *weasyl) ParseAddForm(form url.Values) (map[string]string, error) {
	apiKey, err := requireFormValue(form, "api_key")
	if err != nil {
		return nil, err
	}
	return map[string]string{"api_key": apiKey}, nil
}

func (w *weasyl) AddAccount(ctx context.Context, data map[string]string) ([]*models.Account, error) {
	apiKey := data["api_key"]
	header := http.Header{}
	header.Set("X-Weasyl-API-Key", apiKey)

	body, err := w.get(ctx, weasylAPIBase+"/whoami", header)
	if err != nil {
		return nil, err
	}

	login := gjson.GetBytes(body, "login").String()
	if login == "" {
		return nil, ErrBadCredentials
	}

	account, err := w.saveAccount(ctx, models.SiteWeasyl, login, apiKey)
	if err != nil {
		return nil, err
	}
	return []*models.Account{account}, nil
}

func (w *weasyl) ValidateSubmission(sub models.Submission) []string {
	var problems []string
	if sub.Title == "" {
		problems = append(problems, "Weasyl requires a title")
	}
	if len(sub.Tags) < 2 {
		problems = append(problems, "Weasyl requires at least 2 tags")
	}
	if len(sub.Image.Bytes) == 0 {
		problems = append(problems, "Weasyl requires an image")
	}
	return problems
}

func (w *weasyl) SubmitArtwork(ctx context.Context, sub models.Submission, extra Extra) (string, error) {
	if err := w.requireAccount(); err != nil {
		return "", err
	}

	fields := map[string]string{
		"title":   sub.Title,
		"content": appendLinkBacks(description.Translate(sub.Description, models.SiteWeasyl), extra),
		"rating":  w.MapRating(sub.Rating),
		"tags":    strings.Join(sub.Tags, " "),
	}
	if extra.Folder != "" {
		fields["folderid"] = extra.Folder
	}

	body, err := w.postMultipart(ctx, weasylAPIBase+"/submissions/create", fields, w.header(), fileField{
		Field:    "submitfile",
		Filename: sub.Image.Filename,
		MimeType: sub.Image.MimeType,
		Data:     sub.Image.Bytes,
	})
	if err != nil {
		return "", err
	}

	if message := gjson.GetBytes(body, "error.message").String(); message != "" {
		return "", &SiteError{Message: message}
	}

	link := gjson.GetBytes(body, "link").String()
	if link == "" {
		return "", &SiteError{Message: "Weasyl did not return a submission link"}
	}
	return link, nil
}

func (w *weasyl) UploadGroup(_ context.Context, _ []models.Submission, _ Extra) (string, error) {
	return "", fmt.Errorf("weasyl does not support grouped uploads")
}

func (w *weasyl) GetFolders(ctx context.Context, update bool) ([]models.Folder, error) {
	return w.cachedFolders(ctx, update, func(ctx context.Context) ([]models.Folder, error) {
		body, err := w.get(ctx, weasylAPIBase+"/user/folders", w.header())
		if err != nil {
			return nil, err
		}

		var folders []models.Folder
		gjson.GetBytes(body, "folders").ForEach(func(_, entry gjson.Result) bool {
			folders = append(folders, models.Folder{
				Name: entry.Get("title").String(),
				ID:   entry.Get("folderid").String(),
			})
			return true
		})
		return folders, nil
	})
}

// MapRating maps to Weasyl's numeric rating scale.
func (w *weasyl) MapRating(rating models.Rating) string {
	switch rating {
	case models.RatingMature:
		return "30"
	case models.RatingExplicit:
		return "40"
	default:
		return "10"
	}
}
