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

const soFurryAPIBase = "https://api2.sofurry.com"

// soFurry talks to SoFurry's second-generation API. Credentials are the
// session token returned at login, stored bare.
type soFurry struct {
	base
}

func newSoFurry(deps *Deps, binding Binding) Adapter {
	return &soFurry{base{deps: deps, binding: binding}}
}

func (sf *soFurry) Site() models.Site { return models.SiteSoFurry }

func (sf *soFurry) header() http.Header {
	header := http.Header{}
	header.Set("Authorization", "Otp "+sf.binding.Credentials)
	return header
}

func (sf *soFurry) PreAddAccount(_ context.Context) (*PreAddResult, error) {
	return &PreAddResult{}, nil
}

func (sf *soFurry) ParseAddForm(form url.Values) (map[string]string, error) {
	username, err := requireFormValue(form, "username")
	if err != nil {
		return nil, err
	}
	password, err := requireFormValue(form, "password")
	if err != nil {
		return nil, err
	}
	return map[string]string{"username": username, "password": password}, nil
}

func (sf *soFurry) AddAccount(ctx context.Context, data map[string]string) ([]*models.Account, error) {
	form := url.Values{}
	form.Set("username", data["username"])
	form.Set("password", data["password"])

	body, err := sf.postForm(ctx, soFurryAPIBase+"/std/sessionLogin", form, nil)
	if err != nil {
		return nil, err
	}

	token := gjson.GetBytes(body, "token").String()
	username := gjson.GetBytes(body, "username").String()
	if token == "" || username == "" {
		return nil, ErrBadCredentials
	}

	account, err := sf.saveAccount(ctx, models.SiteSoFurry, username, token)
	if err != nil {
		return nil, err
	}
	return []*models.Account{account}, nil
}

func (sf *soFurry) ValidateSubmission(sub models.Submission) []string {
	var problems []string
	if sub.Title == "" {
		problems = append(problems, "SoFurry requires a title")
	}
	if len(sub.Image.Bytes) == 0 {
		problems = append(problems, "SoFurry requires an image")
	}
	return problems
}

func (sf *soFurry) SubmitArtwork(ctx context.Context, sub models.Submission, extra Extra) (string, error) {
	if err := sf.requireAccount(); err != nil {
		return "", err
	}

	fields := map[string]string{
		"title":        sub.Title,
		"description":  appendLinkBacks(description.Translate(sub.Description, models.SiteSoFurry), extra),
		"tags":         strings.Join(sub.Tags, ", "),
		"contentLevel": sf.MapRating(sub.Rating),
	}
	if extra.Folder != "" {
		fields["folderId"] = extra.Folder
	}

	body, err := sf.postMultipart(ctx, soFurryAPIBase+"/submit/artwork", fields, sf.header(), fileField{
		Field:    "file",
		Filename: sub.Image.Filename,
		MimeType: sub.Image.MimeType,
		Data:     sub.Image.Bytes,
	})
	if err != nil {
		return "", err
	}

	if message := gjson.GetBytes(body, "error").String(); message != "" {
		return "", &SiteError{Message: message}
	}
	submissionID := gjson.GetBytes(body, "id").String()
	if submissionID == "" {
		return "", &SiteError{Message: "SoFurry did not return a submission id"}
	}
	return "https://www.sofurry.com/view/" + submissionID, nil
}

func (sf *soFurry) UploadGroup(_ context.Context, _ []models.Submission, _ Extra) (string, error) {
	return "", fmt.Errorf("sofurry does not support grouped uploads")
}

func (sf *soFurry) GetFolders(ctx context.Context, update bool) ([]models.Folder, error) {
	return sf.cachedFolders(ctx, update, func(ctx context.Context) ([]models.Folder, error) {
		body, err := sf.get(ctx, soFurryAPIBase+"/browse/folders?contentType=1", sf.header())
		if err != nil {
			return nil, err
		}

		var folders []models.Folder
		gjson.GetBytes(body, "folders").ForEach(func(_, entry gjson.Result) bool {
			folders = append(folders, models.Folder{
				Name: entry.Get("name").String(),
				ID:   entry.Get("id").String(),
			})
			return true
		})
		return folders, nil
	})
}

// MapRating maps to SoFurry's content levels (0 clean, 1 adult, 2 extreme).
func (sf *soFurry) MapRating(rating models.Rating) string {
	switch rating {
	case models.RatingMature:
		return "1"
	case models.RatingExplicit:
		return "2"
	default:
		return "0"
	}
}
