package sites

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ameliade/crosspost/internal/description"
	"github.com/ameliade/crosspost/internal/models"
)

const tumblrAPIBase = "https://api.tumblr.com"

// tumblr posts photo posts through the Tumblr v2 API with OAuth2. One
// login owns several blogs; each blog becomes its own linked account.
// Credentials are a JSON object of access and refresh token plus the blog
// identifier; Tumblr rotates the refresh token on every refresh, which is
// persisted back through the vault.
type tumblr struct {
	base
}

func newTumblr(deps *Deps, binding Binding) Adapter {
	return &tumblr{base{deps: deps, binding: binding}}
}

func (t *tumblr) Site() models.Site { return models.SiteTumblr }

func (t *tumblr) app() (OAuthApp, error) {
	app, ok := t.deps.OAuth[models.SiteTumblr]
	if !ok || app.ClientID == "" {
		return OAuthApp{}, &SiteError{Message: "Tumblr OAuth application is not configured"}
	}
	return app, nil
}

// PreAddAccount produces the OAuth authorization redirect.
func (t *tumblr) PreAddAccount(_ context.Context) (*PreAddResult, error) {
	app, err := t.app()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("client_id", app.ClientID)
	query.Set("response_type", "code")
	query.Set("scope", "basic write offline_access")
	query.Set("redirect_uri", app.RedirectURL)

	return &PreAddResult{
		RedirectURL: "https://www.tumblr.com/oauth2/authorize?" + query.Encode(),
	}, nil
}

func (t *tumblr) ParseAddForm(form url.Values) (map[string]string, error) {
	code, err := requireFormValue(form, "code")
	if err != nil {
		return nil, err
	}
	return map[string]string{"code": code}, nil
}

func (t *tumblr) AddAccount(ctx context.Context, data map[string]string) ([]*models.Account, error) {
	app, err := t.app()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", data["code"])
	form.Set("client_id", app.ClientID)
	form.Set("client_secret", app.ClientSecret)
	form.Set("redirect_uri", app.RedirectURL)

	body, err := t.postForm(ctx, tumblrAPIBase+"/v2/oauth2/token", form, nil)
	if err != nil {
		return nil, err
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	refreshToken := gjson.GetBytes(body, "refresh_token").String()
	if accessToken == "" {
		return nil, ErrBadCredentials
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	userBody, err := t.get(ctx, tumblrAPIBase+"/v2/user/info", header)
	if err != nil {
		return nil, err
	}

	blogs := gjson.GetBytes(userBody, "response.user.blogs").Array()
	if len(blogs) == 0 {
		return nil, &SiteError{Message: "this Tumblr login has no blogs"}
	}

	accounts := make([]*models.Account, 0, len(blogs))
	for _, blog := range blogs {
		name := blog.Get("name").String()
		creds := credentialJSON(map[string]string{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"blog":          name,
		})

		account, err := t.saveAccount(ctx, models.SiteTumblr, name, creds)
		if err != nil {
			return accounts, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// refresh exchanges the refresh token for a new token pair and persists
// the rotated pair.
func (t *tumblr) refresh(ctx context.Context, creds map[string]string) (map[string]string, error) {
	app, err := t.app()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds["refresh_token"])
	form.Set("client_id", app.ClientID)
	form.Set("client_secret", app.ClientSecret)

	body, err := t.postForm(ctx, tumblrAPIBase+"/v2/oauth2/token", form, nil)
	if err != nil {
		return nil, err
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	if accessToken == "" {
		return nil, ErrBadCredentials
	}
	creds["access_token"] = accessToken
	if rotated := gjson.GetBytes(body, "refresh_token").String(); rotated != "" {
		creds["refresh_token"] = rotated
	}

	if err := t.rotateCredentials(ctx, credentialJSON(creds)); err != nil {
		return nil, err
	}
	return creds, nil
}

func (t *tumblr) ValidateSubmission(sub models.Submission) []string {
	var problems []string
	if len(sub.Image.Bytes) == 0 {
		problems = append(problems, "Tumblr requires an image")
	}
	return problems
}

func (t *tumblr) SubmitArtwork(ctx context.Context, sub models.Submission, extra Extra) (string, error) {
	return t.post(ctx, sub, []models.Submission{sub}, extra)
}

// UploadGroup posts all variants as one photoset.
func (t *tumblr) UploadGroup(ctx context.Context, variants []models.Submission, extra Extra) (string, error) {
	if len(variants) == 0 {
		return "", &BadDataError{Reason: "a group upload needs at least one variant"}
	}
	return t.post(ctx, variants[0], variants, extra)
}

func (t *tumblr) post(ctx context.Context, meta models.Submission, variants []models.Submission, extra Extra) (string, error) {
	if err := t.requireAccount(); err != nil {
		return "", err
	}
	creds, err := parseCredentialJSON(t.binding.Credentials)
	if err != nil {
		return "", err
	}

	caption := meta.Title
	translated := appendLinkBacks(description.Translate(meta.Description, models.SiteTumblr), extra)
	if translated != "" {
		caption += "\n\n" + translated
	}

	form := url.Values{}
	form.Set("type", "photo")
	form.Set("caption", caption)
	form.Set("format", "markdown")
	form.Set("tags", strings.Join(append(append([]string{}, meta.Tags...), hashtagsAsTags(meta.Hashtags)...), ","))
	for i, variant := range variants {
		form.Set(fmt.Sprintf("data[%d]", i), base64.StdEncoding.EncodeToString(variant.Image.Bytes))
	}
	if t.MapRating(meta.Rating) == "nsfw" {
		form.Set("is_nsfw", "true")
	}

	postURL := fmt.Sprintf("%s/v2/blog/%s/post", tumblrAPIBase, url.PathEscape(creds["blog"]))

	body, err := t.authorizedPost(ctx, postURL, form, creds)
	if err != nil {
		return "", err
	}

	postID := gjson.GetBytes(body, "response.id_string").String()
	if postID == "" {
		postID = gjson.GetBytes(body, "response.id").String()
	}
	if postID == "" {
		return "", &SiteError{Message: "Tumblr did not return a post id"}
	}
	return fmt.Sprintf("https://%s.tumblr.com/post/%s", creds["blog"], postID), nil
}

// authorizedPost posts with the stored access token, refreshing the token
// pair once on an auth failure.
func (t *tumblr) authorizedPost(ctx context.Context, rawURL string, form url.Values, creds map[string]string) ([]byte, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds["access_token"])

	body, err := t.postForm(ctx, rawURL, form, header)
	if errors.Is(err, ErrBadCredentials) {
		creds, err = t.refresh(ctx, creds)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+creds["access_token"])
		return t.postForm(ctx, rawURL, form, header)
	}
	return body, err
}

func (t *tumblr) GetFolders(_ context.Context, _ bool) ([]models.Folder, error) {
	return nil, fmt.Errorf("tumblr does not support folders")
}

// MapRating maps to Tumblr's binary community label.
func (t *tumblr) MapRating(rating models.Rating) string {
	if rating == models.RatingGeneral {
		return "sfw"
	}
	return "nsfw"
}

// hashtagsAsTags strips the '#' prefix so hashtags can join a site's
// ordinary tag list.
func hashtagsAsTags(hashtags []string) []string {
	tags := make([]string, 0, len(hashtags))
	for _, hashtag := range hashtags {
		tags = append(tags, strings.TrimPrefix(hashtag, "#"))
	}
	return tags
}
