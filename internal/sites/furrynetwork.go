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

	"github.com/ameliade/crosspost/internal/description"
	"github.com/ameliade/crosspost/internal/models"
)

const furryNetworkBase = "https://furrynetwork.com"

// furryNetwork talks to FurryNetwork's JSON API. One login exposes several
// characters; each becomes its own linked account. Credentials are a JSON
// object of the OAuth refresh token plus the character it posts as; access
// tokens are short-lived and re-minted per batch, and a rotated refresh
// token is persisted back through the vault.
type furryNetwork struct {
	base
}

func newFurryNetwork(deps *Deps, binding Binding) Adapter {
	return &furryNetwork{base{deps: deps, binding: binding}}
}

func (fn *furryNetwork) Site() models.Site { return models.SiteFurryNetwork }

func (fn *furryNetwork) PreAddAccount(_ context.Context) (*PreAddResult, error) {
	return &PreAddResult{}, nil
}

func (fn *furryNetwork) ParseAddForm(form url.Values) (map[string]string, error) {
	email, err := requireFormValue(form, "email")
	if err != nil {
		return nil, err
	}
	password, err := requireFormValue(form, "password")
	if err != nil {
		return nil, err
	}
	return map[string]string{"email": email, "password": password}, nil
}

func (fn *furryNetwork) AddAccount(ctx context.Context, data map[string]string) ([]*models.Account, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", "123")
	form.Set("username", data["email"])
	form.Set("password", data["password"])

	body, err := fn.postForm(ctx, furryNetworkBase+"/api/oauth/token", form, nil)
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
	userBody, err := fn.get(ctx, furryNetworkBase+"/api/user", header)
	if err != nil {
		return nil, err
	}

	characters := gjson.GetBytes(userBody, "characters").Array()
	if len(characters) == 0 {
		return nil, &SiteError{Message: "this FurryNetwork login has no characters"}
	}

	accounts := make([]*models.Account, 0, len(characters))
	for _, character := range characters {
		name := character.Get("name").String()
		creds := credentialJSON(map[string]string{
			"refresh_token": refreshToken,
			"character":     name,
			"character_id":  character.Get("id").String(),
		})

		account, err := fn.saveAccount(ctx, models.SiteFurryNetwork, name, creds)
		if err != nil {
			return accounts, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// bearer mints a fresh access token from the stored refresh token. When
// the site rotates the refresh token it is persisted back before the
// batch continues.
func (fn *furryNetwork) bearer(ctx context.Context) (http.Header, map[string]string, error) {
	creds, err := parseCredentialJSON(fn.binding.Credentials)
	if err != nil {
		return nil, nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", "123")
	form.Set("refresh_token", creds["refresh_token"])

	body, err := fn.postForm(ctx, furryNetworkBase+"/api/oauth/token", form, nil)
	if err != nil {
		return nil, nil, err
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	if accessToken == "" {
		return nil, nil, ErrBadCredentials
	}

	if rotated := gjson.GetBytes(body, "refresh_token").String(); rotated != "" && rotated != creds["refresh_token"] {
		creds["refresh_token"] = rotated
		if err := fn.rotateCredentials(ctx, credentialJSON(creds)); err != nil {
			return nil, nil, err
		}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	return header, creds, nil
}

func (fn *furryNetwork) ValidateSubmission(sub models.Submission) []string {
	var problems []string
	if sub.Title == "" {
		problems = append(problems, "FurryNetwork requires a title")
	}
	if len(sub.Tags) == 0 {
		problems = append(problems, "FurryNetwork requires at least one tag")
	}
	if len(sub.Image.Bytes) == 0 {
		problems = append(problems, "FurryNetwork requires an image")
	}
	for _, tag := range sub.Tags {
		if strings.Contains(tag, " ") {
			problems = append(problems, fmt.Sprintf("FurryNetwork tags cannot contain spaces: %q", tag))
		}
	}
	return problems
}

func (fn *furryNetwork) SubmitArtwork(ctx context.Context, sub models.Submission, extra Extra) (string, error) {
	if err := fn.requireAccount(); err != nil {
		return "", err
	}
	header, creds, err := fn.bearer(ctx)
	if err != nil {
		return "", err
	}

	uploadURL := fmt.Sprintf("%s/api/submission/%s/artwork/upload?name=%s",
		furryNetworkBase, url.PathEscape(creds["character"]), url.QueryEscape(sub.Image.Filename))
	uploadHeader := header.Clone()
	uploadHeader.Set("Content-Type", sub.Image.MimeType)

	body, err := fn.request(ctx, http.MethodPost, uploadURL, bytes.NewReader(sub.Image.Bytes), uploadHeader)
	if err != nil {
		return "", err
	}

	artworkID := gjson.GetBytes(body, "id").String()
	if artworkID == "" {
		return "", &SiteError{Message: "FurryNetwork did not return an artwork id"}
	}

	metadata := map[string]any{
		"title":       sub.Title,
		"description": appendLinkBacks(description.Translate(sub.Description, models.SiteFurryNetwork), extra),
		"tags":        sub.Tags,
		"rating":      fn.MapRating(sub.Rating),
		"status":      "public",
	}
	if extra.Folder != "" {
		metadata["collections"] = []string{extra.Folder}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode artwork metadata: %w", err)
	}

	patchHeader := header.Clone()
	patchHeader.Set("Content-Type", "application/json")
	patchBody, err := fn.request(ctx, http.MethodPatch,
		fmt.Sprintf("%s/api/artwork/%s", furryNetworkBase, artworkID),
		bytes.NewReader(payload), patchHeader)
	if err != nil {
		return "", err
	}
	if message := gjson.GetBytes(patchBody, "errors.0").String(); message != "" {
		return "", &SiteError{Message: message}
	}

	return fmt.Sprintf("%s/artwork/%s", furryNetworkBase, artworkID), nil
}

func (fn *furryNetwork) UploadGroup(_ context.Context, _ []models.Submission, _ Extra) (string, error) {
	return "", fmt.Errorf("furrynetwork does not support grouped uploads")
}

// GetFolders lists the character's collections.
func (fn *furryNetwork) GetFolders(ctx context.Context, update bool) ([]models.Folder, error) {
	return fn.cachedFolders(ctx, update, func(ctx context.Context) ([]models.Folder, error) {
		header, creds, err := fn.bearer(ctx)
		if err != nil {
			return nil, err
		}

		body, err := fn.get(ctx,
			fmt.Sprintf("%s/api/character/%s/artwork/collections", furryNetworkBase, url.PathEscape(creds["character_id"])),
			header)
		if err != nil {
			return nil, err
		}

		var folders []models.Folder
		gjson.ParseBytes(body).ForEach(func(_, entry gjson.Result) bool {
			folders = append(folders, models.Folder{
				Name: entry.Get("name").String(),
				ID:   entry.Get("id").String(),
			})
			return true
		})
		return folders, nil
	})
}

// MapRating maps to FurryNetwork's 0/1/2 scale.
func (fn *furryNetwork) MapRating(rating models.Rating) string {
	switch rating {
	case models.RatingMature:
		return "1"
	case models.RatingExplicit:
		return "2"
	default:
		return "0"
	}
}
