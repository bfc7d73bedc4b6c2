package sites

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ameliade/crosspost/internal/description"
	"github.com/ameliade/crosspost/internal/models"
)

const deviantArtAPIBase = "https://www.deviantart.com"

// deviantArt uploads through sta.sh submit + publish with OAuth2.
// Credentials are a JSON object of access token, refresh token, and the
// access token's expiry; DeviantArt rotates the refresh token on every
// refresh, which is persisted back through the vault.
type deviantArt struct {
	base
}

func newDeviantArt(deps *Deps, binding Binding) Adapter {
	return &deviantArt{base{deps: deps, binding: binding}}
}

func (da *deviantArt) Site() models.Site { return models.SiteDeviantArt }

func (da *deviantArt) app() (OAuthApp, error) {
	app, ok := da.deps.OAuth[models.SiteDeviantArt]
	if !ok || app.ClientID == "" {
		return OAuthApp{}, &SiteError{Message: "DeviantArt OAuth application is not configured"}
	}
	return app, nil
}

func (da *deviantArt) PreAddAccount(_ context.Context) (*PreAddResult, error) {
	app, err := da.app()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("client_id", app.ClientID)
	query.Set("response_type", "code")
	query.Set("scope", "stash publish browse user")
	query.Set("redirect_uri", app.RedirectURL)

	return &PreAddResult{
		RedirectURL: deviantArtAPIBase + "/oauth2/authorize?" + query.Encode(),
	}, nil
}

func (da *deviantArt) ParseAddForm(form url.Values) (map[string]string, error) {
	code, err := requireFormValue(form, "code")
	if err != nil {
		return nil, err
	}
	return map[string]string{"code": code}, nil
}

func (da *deviantArt) AddAccount(ctx context.Context, data map[string]string) ([]*models.Account, error) {
	app, err := da.app()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", data["code"])
	form.Set("client_id", app.ClientID)
	form.Set("client_secret", app.ClientSecret)
	form.Set("redirect_uri", app.RedirectURL)

	creds, err := da.tokenExchange(ctx, form)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds["access_token"])
	whoami, err := da.get(ctx, deviantArtAPIBase+"/api/v1/oauth2/user/whoami", header)
	if err != nil {
		return nil, err
	}

	username := gjson.GetBytes(whoami, "username").String()
	if username == "" {
		return nil, ErrBadCredentials
	}

	account, err := da.saveAccount(ctx, models.SiteDeviantArt, username, credentialJSON(creds))
	if err != nil {
		return nil, err
	}
	return []*models.Account{account}, nil
}

// tokenExchange runs one token-endpoint request and normalizes the result
// into a credential map with an absolute expiry.
func (da *deviantArt) tokenExchange(ctx context.Context, form url.Values) (map[string]string, error) {
	body, err := da.postForm(ctx, deviantArtAPIBase+"/oauth2/token", form, nil)
	if err != nil {
		return nil, err
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	refreshToken := gjson.GetBytes(body, "refresh_token").String()
	if accessToken == "" || refreshToken == "" {
		return nil, ErrBadCredentials
	}

	expiresIn := gjson.GetBytes(body, "expires_in").Int()
	expiry := time.Now().Add(time.Duration(expiresIn) * time.Second).Unix()

	return map[string]string{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_at":    strconv.FormatInt(expiry, 10),
	}, nil
}

// bearer returns an auth header with a live access token, refreshing (and
// persisting the rotated pair) when the stored one has expired.
func (da *deviantArt) bearer(ctx context.Context) (http.Header, error) {
	creds, err := parseCredentialJSON(da.binding.Credentials)
	if err != nil {
		return nil, err
	}

	expiresAt, _ := strconv.ParseInt(creds["expires_at"], 10, 64)
	if time.Now().Unix() >= expiresAt-30 {
		app, err := da.app()
		if err != nil {
			return nil, err
		}

		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", creds["refresh_token"])
		form.Set("client_id", app.ClientID)
		form.Set("client_secret", app.ClientSecret)

		creds, err = da.tokenExchange(ctx, form)
		if err != nil {
			return nil, err
		}
		if err := da.rotateCredentials(ctx, credentialJSON(creds)); err != nil {
			return nil, err
		}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds["access_token"])
	return header, nil
}

func (da *deviantArt) ValidateSubmission(sub models.Submission) []string {
	var problems []string
	if sub.Title == "" {
		problems = append(problems, "DeviantArt requires a title")
	}
	if len(sub.Image.Bytes) == 0 {
		problems = append(problems, "DeviantArt requires an image")
	}
	return problems
}

func (da *deviantArt) SubmitArtwork(ctx context.Context, sub models.Submission, extra Extra) (string, error) {
	if err := da.requireAccount(); err != nil {
		return "", err
	}
	header, err := da.bearer(ctx)
	if err != nil {
		return "", err
	}

	fields := map[string]string{
		"title":           sub.Title,
		"artist_comments": appendLinkBacks(description.Translate(sub.Description, models.SiteDeviantArt), extra),
	}
	for i, tag := range sub.Tags {
		fields[fmt.Sprintf("tags[%d]", i)] = tag
	}

	stash, err := da.postMultipart(ctx, deviantArtAPIBase+"/api/v1/oauth2/stash/submit", fields, header.Clone(), fileField{
		Field:    "file",
		Filename: sub.Image.Filename,
		MimeType: sub.Image.MimeType,
		Data:     sub.Image.Bytes,
	})
	if err != nil {
		return "", err
	}
	if err := da.apiError(stash); err != nil {
		return "", err
	}

	itemID := gjson.GetBytes(stash, "itemid").String()
	if itemID == "" {
		return "", &SiteError{Message: "DeviantArt did not return a sta.sh item id"}
	}

	publish := url.Values{}
	publish.Set("itemid", itemID)
	publish.Set("agree_submission", "1")
	publish.Set("agree_tos", "1")
	if maturity := da.MapRating(sub.Rating); maturity != "" {
		publish.Set("is_mature", "1")
		publish.Set("mature_level", maturity)
	} else {
		publish.Set("is_mature", "0")
	}
	if extra.Folder != "" {
		publish.Set("galleryids[0]", extra.Folder)
	}

	published, err := da.postForm(ctx, deviantArtAPIBase+"/api/v1/oauth2/stash/publish", publish, header.Clone())
	if err != nil {
		return "", err
	}
	if err := da.apiError(published); err != nil {
		return "", err
	}

	link := gjson.GetBytes(published, "url").String()
	if link == "" {
		return "", &SiteError{Message: "DeviantArt did not return a deviation URL"}
	}
	return link, nil
}

func (da *deviantArt) UploadGroup(_ context.Context, _ []models.Submission, _ Extra) (string, error) {
	return "", fmt.Errorf("deviantart does not support grouped uploads")
}

// GetFolders pages through the gallery folder list until the API reports
// no more results.
func (da *deviantArt) GetFolders(ctx context.Context, update bool) ([]models.Folder, error) {
	return da.cachedFolders(ctx, update, func(ctx context.Context) ([]models.Folder, error) {
		header, err := da.bearer(ctx)
		if err != nil {
			return nil, err
		}

		var folders []models.Folder
		offset := 0
		for {
			body, err := da.get(ctx,
				fmt.Sprintf("%s/api/v1/oauth2/gallery/folders?limit=50&offset=%d", deviantArtAPIBase, offset),
				header)
			if err != nil {
				return nil, err
			}
			if err := da.apiError(body); err != nil {
				return nil, err
			}

			gjson.GetBytes(body, "results").ForEach(func(_, entry gjson.Result) bool {
				folders = append(folders, models.Folder{
					Name: entry.Get("name").String(),
					ID:   entry.Get("folderid").String(),
				})
				return true
			})

			if !gjson.GetBytes(body, "has_more").Bool() {
				return folders, nil
			}
			offset = int(gjson.GetBytes(body, "next_offset").Int())
		}
	})
}

// MapRating maps to DeviantArt's maturity levels; general content carries
// no level at all.
func (da *deviantArt) MapRating(rating models.Rating) string {
	switch rating {
	case models.RatingMature:
		return "moderate"
	case models.RatingExplicit:
		return "strict"
	default:
		return ""
	}
}

func (da *deviantArt) apiError(body []byte) error {
	if gjson.GetBytes(body, "status").String() != "error" {
		return nil
	}

	// Token errors mean the stored credentials are dead, not a business
	// failure.
	switch gjson.GetBytes(body, "error").String() {
	case "invalid_token", "invalid_grant":
		return ErrBadCredentials
	}

	message := gjson.GetBytes(body, "error_description").String()
	if message == "" {
		message = gjson.GetBytes(body, "error").String()
	}
	return &SiteError{Message: message}
}
