package sites

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ameliade/crosspost/internal/description"
	"github.com/ameliade/crosspost/internal/models"
)

const inkbunnyBase = "https://inkbunny.net"

// inkbunny talks to the Inkbunny API. A login yields a session id which
// the site rotates; the current sid is kept in the credential blob next to
// the login so an expired session can be re-established mid-batch, and the
// fresh sid is persisted back through the vault. Inkbunny submissions take
// multiple files natively, so this adapter supports grouped uploads.
type inkbunny struct {
	base
}

func newInkbunny(deps *Deps, binding Binding) Adapter {
	return &inkbunny{base{deps: deps, binding: binding}}
}

func (ib *inkbunny) Site() models.Site { return models.SiteInkbunny }

func (ib *inkbunny) PreAddAccount(_ context.Context) (*PreAddResult, error) {
	return &PreAddResult{}, nil
}

func (ib *inkbunny) ParseAddForm(form url.Values) (map[string]string, error) {
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

// login performs api_login and returns the fresh sid.
func (ib *inkbunny) login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	body, err := ib.postForm(ctx, inkbunnyBase+"/api_login.php", form, nil)
	if err != nil {
		return "", err
	}
	if message := gjson.GetBytes(body, "error_message").String(); message != "" {
		return "", ErrBadCredentials
	}

	sid := gjson.GetBytes(body, "sid").String()
	if sid == "" {
		return "", ErrBadCredentials
	}
	return sid, nil
}

func (ib *inkbunny) AddAccount(ctx context.Context, data map[string]string) ([]*models.Account, error) {
	sid, err := ib.login(ctx, data["username"], data["password"])
	if err != nil {
		return nil, err
	}

	creds := credentialJSON(map[string]string{
		"username": data["username"],
		"password": data["password"],
		"sid":      sid,
	})
	account, err := ib.saveAccount(ctx, models.SiteInkbunny, data["username"], creds)
	if err != nil {
		return nil, err
	}
	return []*models.Account{account}, nil
}

func (ib *inkbunny) ValidateSubmission(sub models.Submission) []string {
	var problems []string
	if sub.Title == "" {
		problems = append(problems, "Inkbunny requires a title")
	}
	if len(sub.Image.Bytes) == 0 {
		problems = append(problems, "Inkbunny requires an image")
	}
	return problems
}

// sid returns a working session id, re-logging in once if the stored one
// has expired and rotating the credential blob when it changes.
func (ib *inkbunny) sid(ctx context.Context, previous string) (string, error) {
	creds, err := parseCredentialJSON(ib.binding.Credentials)
	if err != nil {
		return "", err
	}
	if previous == "" && creds["sid"] != "" {
		return creds["sid"], nil
	}

	sid, err := ib.login(ctx, creds["username"], creds["password"])
	if err != nil {
		return "", err
	}

	creds["sid"] = sid
	if err := ib.rotateCredentials(ctx, credentialJSON(creds)); err != nil {
		return "", err
	}
	return sid, nil
}

// apiCall posts one Inkbunny API request, retrying once with a fresh sid
// when the session has expired.
func (ib *inkbunny) apiCall(ctx context.Context, path string, form url.Values, files ...fileField) ([]byte, error) {
	sid, err := ib.sid(ctx, "")
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		form.Set("sid", sid)

		var body []byte
		if len(files) > 0 {
			fields := map[string]string{}
			for key := range form {
				fields[key] = form.Get(key)
			}
			body, err = ib.postMultipart(ctx, inkbunnyBase+path, fields, nil, files...)
		} else {
			body, err = ib.postForm(ctx, inkbunnyBase+path, form, nil)
		}
		if err != nil {
			return nil, err
		}

		// Error code 2 is an invalid or expired session id.
		if gjson.GetBytes(body, "error_code").Int() == 2 && attempt == 0 {
			sid, err = ib.sid(ctx, sid)
			if err != nil {
				return nil, err
			}
			continue
		}
		if message := gjson.GetBytes(body, "error_message").String(); message != "" {
			return nil, &SiteError{Message: message}
		}
		return body, nil
	}
	return nil, ErrBadCredentials
}

func (ib *inkbunny) SubmitArtwork(ctx context.Context, sub models.Submission, extra Extra) (string, error) {
	return ib.upload(ctx, sub, []models.Submission{sub}, extra)
}

// UploadGroup posts every variant as one multi-file Inkbunny submission,
// with the first variant supplying the shared metadata.
func (ib *inkbunny) UploadGroup(ctx context.Context, variants []models.Submission, extra Extra) (string, error) {
	if len(variants) == 0 {
		return "", &BadDataError{Reason: "a group upload needs at least one variant"}
	}
	return ib.upload(ctx, variants[0], variants, extra)
}

func (ib *inkbunny) upload(ctx context.Context, meta models.Submission, variants []models.Submission, extra Extra) (string, error) {
	if err := ib.requireAccount(); err != nil {
		return "", err
	}

	files := make([]fileField, 0, len(variants))
	for _, variant := range variants {
		files = append(files, fileField{
			Field:    "uploadedfile[]",
			Filename: variant.Image.Filename,
			MimeType: variant.Image.MimeType,
			Data:     variant.Image.Bytes,
		})
	}

	body, err := ib.apiCall(ctx, "/api_upload.php", url.Values{}, files...)
	if err != nil {
		return "", err
	}
	submissionID := gjson.GetBytes(body, "submission_id").String()
	if submissionID == "" {
		return "", &SiteError{Message: "Inkbunny did not return a submission id"}
	}

	form := url.Values{}
	form.Set("submission_id", submissionID)
	form.Set("title", meta.Title)
	form.Set("desc", appendLinkBacks(description.Translate(meta.Description, models.SiteInkbunny), extra))
	form.Set("keywords", strings.Join(meta.Tags, ","))
	form.Set("rating", ib.MapRating(meta.Rating))
	form.Set("visibility", "yes")

	if _, err := ib.apiCall(ctx, "/api_editsubmission.php", form); err != nil {
		// The files are up but unpublished; report the metadata failure.
		var siteErr *SiteError
		if errors.As(err, &siteErr) {
			return "", siteErr
		}
		return "", err
	}

	return fmt.Sprintf("%s/s/%s", inkbunnyBase, submissionID), nil
}

func (ib *inkbunny) GetFolders(_ context.Context, _ bool) ([]models.Folder, error) {
	return nil, fmt.Errorf("inkbunny does not support folders")
}

// MapRating maps to Inkbunny's 0/1/2 scale.
func (ib *inkbunny) MapRating(rating models.Rating) string {
	switch rating {
	case models.RatingMature:
		return "1"
	case models.RatingExplicit:
		return "2"
	default:
		return "0"
	}
}
