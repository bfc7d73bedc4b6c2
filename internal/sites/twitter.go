package sites

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/ameliade/crosspost/internal/models"
)

const (
	twitterAPIBase    = "https://api.twitter.com"
	twitterUploadBase = "https://upload.twitter.com"

	twitterStatusLimit = 280
	// Photo uploads above this size are rejected by the media endpoint.
	twitterImageByteLimit = 5 * 1024 * 1024
)

// twitter posts tweets through the v2 API with OAuth2 user context.
// Credentials are a JSON object of access and refresh token; the refresh
// token rotates on every refresh and is persisted back through the vault.
// Twitter is the usual canonical link-back source: its post URL is handed
// to later sites in the batch.
type twitter struct {
	base
}

func newTwitter(deps *Deps, binding Binding) Adapter {
	return &twitter{base{deps: deps, binding: binding}}
}

func (tw *twitter) Site() models.Site { return models.SiteTwitter }

func (tw *twitter) app() (OAuthApp, error) {
	app, ok := tw.deps.OAuth[models.SiteTwitter]
	if !ok || app.ClientID == "" {
		return OAuthApp{}, &SiteError{Message: "Twitter OAuth application is not configured"}
	}
	return app, nil
}

func (tw *twitter) PreAddAccount(_ context.Context) (*PreAddResult, error) {
	app, err := tw.app()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("client_id", app.ClientID)
	query.Set("response_type", "code")
	query.Set("scope", "tweet.read tweet.write users.read offline.access")
	query.Set("redirect_uri", app.RedirectURL)
	query.Set("state", "link")
	query.Set("code_challenge", "challenge")
	query.Set("code_challenge_method", "plain")

	return &PreAddResult{
		RedirectURL: "https://twitter.com/i/oauth2/authorize?" + query.Encode(),
	}, nil
}

func (tw *twitter) ParseAddForm(form url.Values) (map[string]string, error) {
	code, err := requireFormValue(form, "code")
	if err != nil {
		return nil, err
	}
	return map[string]string{"code": code}, nil
}

func (tw *twitter) AddAccount(ctx context.Context, data map[string]string) ([]*models.Account, error) {
	app, err := tw.app()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", data["code"])
	form.Set("client_id", app.ClientID)
	form.Set("redirect_uri", app.RedirectURL)
	form.Set("code_verifier", "challenge")

	body, err := tw.postForm(ctx, twitterAPIBase+"/2/oauth2/token", form, nil)
	if err != nil {
		return nil, err
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	refreshToken := gjson.GetBytes(body, "refresh_token").String()
	if accessToken == "" || refreshToken == "" {
		return nil, ErrBadCredentials
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	me, err := tw.get(ctx, twitterAPIBase+"/2/users/me", header)
	if err != nil {
		return nil, err
	}
	username := gjson.GetBytes(me, "data.username").String()
	if username == "" {
		return nil, ErrBadCredentials
	}

	creds := credentialJSON(map[string]string{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
	account, err := tw.saveAccount(ctx, models.SiteTwitter, username, creds)
	if err != nil {
		return nil, err
	}
	return []*models.Account{account}, nil
}

// refresh mints a new access token from the stored refresh token and
// persists the rotated pair.
func (tw *twitter) refresh(ctx context.Context, creds map[string]string) (map[string]string, error) {
	app, err := tw.app()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds["refresh_token"])
	form.Set("client_id", app.ClientID)

	body, err := tw.postForm(ctx, twitterAPIBase+"/2/oauth2/token", form, nil)
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

	if err := tw.rotateCredentials(ctx, credentialJSON(creds)); err != nil {
		return nil, err
	}
	return creds, nil
}

func (tw *twitter) ValidateSubmission(sub models.Submission) []string {
	var problems []string
	if len(sub.Image.Bytes) == 0 {
		problems = append(problems, "Twitter requires an image")
	}
	return problems
}

func (tw *twitter) SubmitArtwork(ctx context.Context, sub models.Submission, extra Extra) (string, error) {
	return tw.tweet(ctx, sub, []models.Submission{sub}, extra)
}

// UploadGroup attaches up to four variants to a single tweet.
func (tw *twitter) UploadGroup(ctx context.Context, variants []models.Submission, extra Extra) (string, error) {
	if len(variants) == 0 {
		return "", &BadDataError{Reason: "a group upload needs at least one variant"}
	}
	if len(variants) > 4 {
		return "", &BadDataError{Reason: "Twitter takes at most 4 images per tweet"}
	}
	return tw.tweet(ctx, variants[0], variants, extra)
}

func (tw *twitter) tweet(ctx context.Context, meta models.Submission, variants []models.Submission, extra Extra) (string, error) {
	if err := tw.requireAccount(); err != nil {
		return "", err
	}
	creds, err := parseCredentialJSON(tw.binding.Credentials)
	if err != nil {
		return "", err
	}

	mediaIDs := make([]string, 0, len(variants))
	for _, variant := range variants {
		mediaID, refreshed, err := tw.uploadMedia(ctx, creds, variant.Image)
		if err != nil {
			return "", err
		}
		creds = refreshed
		mediaIDs = append(mediaIDs, mediaID)
	}

	payload := map[string]any{
		"text": statusText(meta, extra, twitterStatusLimit),
		"media": map[string]any{
			"media_ids": mediaIDs,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode tweet: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds["access_token"])
	header.Set("Content-Type", "application/json")

	resp, err := tw.request(ctx, http.MethodPost, twitterAPIBase+"/2/tweets", bytes.NewReader(body), header)
	if err != nil {
		return "", err
	}

	tweetID := gjson.GetBytes(resp, "data.id").String()
	if tweetID == "" {
		if message := gjson.GetBytes(resp, "detail").String(); message != "" {
			return "", &SiteError{Message: message}
		}
		return "", &SiteError{Message: "Twitter did not return a tweet id"}
	}
	return fmt.Sprintf("https://twitter.com/%s/status/%s", tw.binding.Account.Username, tweetID), nil
}

// uploadMedia pushes one image through the media endpoint, resizing first
// when the account has resizing enabled and the image is over the limit.
// Returns the media id and the (possibly refreshed) credential map.
func (tw *twitter) uploadMedia(ctx context.Context, creds map[string]string, image models.Image) (string, map[string]string, error) {
	data := image.Bytes
	if len(data) > twitterImageByteLimit && tw.configValue(ctx, "resize", "yes") == "yes" && tw.deps.Resize != nil {
		resized, err := tw.deps.Resize(data, 2048, 2048)
		if err == nil {
			data = resized
		}
	}
	if len(data) > twitterImageByteLimit {
		return "", creds, &SiteError{Message: fmt.Sprintf("image is %d bytes, over Twitter's %d byte limit", len(data), twitterImageByteLimit)}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds["access_token"])

	body, err := tw.postMultipart(ctx, twitterUploadBase+"/1.1/media/upload.json", map[string]string{
		"media_category": "tweet_image",
	}, header, fileField{
		Field:    "media",
		Filename: image.Filename,
		MimeType: image.MimeType,
		Data:     data,
	})
	if errors.Is(err, ErrBadCredentials) {
		creds, err = tw.refresh(ctx, creds)
		if err != nil {
			return "", creds, err
		}
		header.Set("Authorization", "Bearer "+creds["access_token"])
		body, err = tw.postMultipart(ctx, twitterUploadBase+"/1.1/media/upload.json", map[string]string{
			"media_category": "tweet_image",
		}, header, fileField{
			Field:    "media",
			Filename: image.Filename,
			MimeType: image.MimeType,
			Data:     data,
		})
	}
	if err != nil {
		return "", creds, err
	}

	mediaID := gjson.GetBytes(body, "media_id_string").String()
	if mediaID == "" {
		return "", creds, &SiteError{Message: "Twitter did not return a media id"}
	}
	return mediaID, creds, nil
}

func (tw *twitter) GetFolders(_ context.Context, _ bool) ([]models.Folder, error) {
	return nil, fmt.Errorf("twitter does not support folders")
}

// MapRating maps to the possibly_sensitive flag.
func (tw *twitter) MapRating(rating models.Rating) string {
	if rating == models.RatingGeneral {
		return "false"
	}
	return "true"
}

// statusText builds the status body for microblog destinations: title,
// hashtags, then link backs, trimmed at a rune limit without splitting a
// hashtag or URL mid-way.
func statusText(sub models.Submission, extra Extra, limit int) string {
	parts := []string{sub.Title}
	parts = append(parts, sub.Hashtags...)
	for _, linkBack := range extra.LinkBacks {
		parts = append(parts, linkBack.URL)
	}

	status := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		candidate := part
		if status != "" {
			candidate = status + " " + part
		}
		if len([]rune(candidate)) > limit {
			break
		}
		status = candidate
	}

	// A lone overlong title still has to fit.
	if status == "" && sub.Title != "" {
		runes := []rune(sub.Title)
		if len(runes) > limit {
			runes = runes[:limit]
		}
		status = string(runes)
	}
	return status
}
