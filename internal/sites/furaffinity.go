package sites

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/ameliade/crosspost/internal/description"
	"github.com/ameliade/crosspost/internal/models"
)

const furAffinityBase = "https://www.furaffinity.net"

// furAffinity drives FurAffinity's HTML forms. There is no API: linking
// scrapes the login form (including its captcha), and submitting walks the
// three-step upload wizard. Credentials are the "a" and "b" session
// cookies as a JSON object.
type furAffinity struct {
	base
}

func newFurAffinity(deps *Deps, binding Binding) Adapter {
	return &furAffinity{base{deps: deps, binding: binding}}
}

func (f *furAffinity) Site() models.Site { return models.SiteFurAffinity }

var (
	faFormKeyPattern  = regexp.MustCompile(`name="key"\s+value="([^"]+)"`)
	faViewLinkPattern = regexp.MustCompile(`href="/view/(\d+)`)
	faUsernamePattern = regexp.MustCompile(`<a id="my-username"[^>]*>[~!]?([^<]+)</a>`)
	faFolderPattern   = regexp.MustCompile(`data-folder-id="(\d+)"[^>]*>\s*([^<]+?)\s*<`)
	faErrorPattern    = regexp.MustCompile(`(?s)<div class="error[^"]*">\s*(.*?)\s*</div>`)
)

func (f *furAffinity) cookieHeader() (http.Header, error) {
	creds, err := parseCredentialJSON(f.binding.Credentials)
	if err != nil {
		return nil, err
	}
	if creds["a"] == "" || creds["b"] == "" {
		return nil, ErrBadCredentials
	}

	header := http.Header{}
	header.Set("Cookie", fmt.Sprintf("a=%s; b=%s", creds["a"], creds["b"]))
	return header, nil
}

// PreAddAccount returns the login captcha for the add-account form.
func (f *furAffinity) PreAddAccount(_ context.Context) (*PreAddResult, error) {
	return &PreAddResult{Data: map[string]string{
		"captcha_url": furAffinityBase + "/captcha.jpg",
	}}, nil
}

func (f *furAffinity) ParseAddForm(form url.Values) (map[string]string, error) {
	username, err := requireFormValue(form, "username")
	if err != nil {
		return nil, err
	}
	password, err := requireFormValue(form, "password")
	if err != nil {
		return nil, err
	}
	captcha, err := requireFormValue(form, "captcha")
	if err != nil {
		return nil, err
	}
	return map[string]string{"username": username, "password": password, "captcha": captcha}, nil
}

func (f *furAffinity) AddAccount(ctx context.Context, data map[string]string) ([]*models.Account, error) {
	form := url.Values{}
	form.Set("action", "login")
	form.Set("name", data["username"])
	form.Set("pass", data["password"])
	form.Set("captcha", data["captcha"])
	form.Set("use_old_captcha", "1")

	cookies, err := f.loginCookies(ctx, form)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Cookie", fmt.Sprintf("a=%s; b=%s", cookies["a"], cookies["b"]))
	body, err := f.get(ctx, furAffinityBase+"/", header)
	if err != nil {
		return nil, err
	}

	match := faUsernamePattern.FindSubmatch(body)
	if match == nil {
		return nil, ErrBadCredentials
	}
	username := strings.TrimSpace(string(match[1]))

	account, err := f.saveAccount(ctx, models.SiteFurAffinity, username, credentialJSON(cookies))
	if err != nil {
		return nil, err
	}
	return []*models.Account{account}, nil
}

// loginCookies posts the login form and collects the session cookies. The
// request is made outside the shared helper because the cookies arrive on
// the response itself.
func (f *furAffinity) loginCookies(ctx context.Context, form url.Values) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, furAffinityBase+"/login/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.deps.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	cookies := map[string]string{}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "a" || cookie.Name == "b" {
			cookies[cookie.Name] = cookie.Value
		}
	}
	if cookies["a"] == "" || cookies["b"] == "" {
		return nil, ErrBadCredentials
	}
	return cookies, nil
}

func (f *furAffinity) ValidateSubmission(sub models.Submission) []string {
	var problems []string
	if sub.Title == "" {
		problems = append(problems, "FurAffinity requires a title")
	}
	if len(sub.Image.Bytes) == 0 {
		problems = append(problems, "FurAffinity requires an image")
	}
	switch sub.Image.MimeType {
	case "", "image/jpeg", "image/png", "image/gif":
	default:
		problems = append(problems, fmt.Sprintf("FurAffinity does not accept %s images", sub.Image.MimeType))
	}
	return problems
}

// SubmitArtwork walks FurAffinity's upload wizard: fetch the form key,
// upload the file, then finalize the metadata. Each step re-checks for the
// site's inline error box.
func (f *furAffinity) SubmitArtwork(ctx context.Context, sub models.Submission, extra Extra) (string, error) {
	if err := f.requireAccount(); err != nil {
		return "", err
	}
	header, err := f.cookieHeader()
	if err != nil {
		return "", err
	}

	page, err := f.get(ctx, furAffinityBase+"/submit/", header)
	if err != nil {
		return "", err
	}
	key, err := f.formKey(page)
	if err != nil {
		return "", err
	}

	uploadPage, err := f.postMultipart(ctx, furAffinityBase+"/submit/upload", map[string]string{
		"key":             key,
		"submission_type": "submission",
	}, f.cloneHeader(header), fileField{
		Field:    "submission",
		Filename: sub.Image.Filename,
		MimeType: sub.Image.MimeType,
		Data:     sub.Image.Bytes,
	})
	if err != nil {
		return "", err
	}
	if err := f.pageError(uploadPage); err != nil {
		return "", err
	}
	key, err = f.formKey(uploadPage)
	if err != nil {
		return "", err
	}

	fields := map[string]string{
		"key":      key,
		"title":    sub.Title,
		"message":  appendLinkBacks(description.Translate(sub.Description, models.SiteFurAffinity), extra),
		"keywords": strings.Join(sub.Tags, " "),
		"rating":   f.MapRating(sub.Rating),
	}
	if extra.Folder != "" {
		fields["folder_ids[]"] = extra.Folder
	}

	finalPage, err := f.postMultipart(ctx, furAffinityBase+"/submit/finalize", fields, f.cloneHeader(header))
	if err != nil {
		return "", err
	}
	if err := f.pageError(finalPage); err != nil {
		return "", err
	}

	match := faViewLinkPattern.FindSubmatch(finalPage)
	if match == nil {
		return "", &SiteError{Message: "FurAffinity did not return a submission link"}
	}
	return fmt.Sprintf("%s/view/%s/", furAffinityBase, match[1]), nil
}

func (f *furAffinity) UploadGroup(_ context.Context, _ []models.Submission, _ Extra) (string, error) {
	return "", fmt.Errorf("furaffinity does not support grouped uploads")
}

func (f *furAffinity) GetFolders(ctx context.Context, update bool) ([]models.Folder, error) {
	return f.cachedFolders(ctx, update, func(ctx context.Context) ([]models.Folder, error) {
		header, err := f.cookieHeader()
		if err != nil {
			return nil, err
		}

		page, err := f.get(ctx, furAffinityBase+"/controls/folders/submissions/", header)
		if err != nil {
			return nil, err
		}

		var folders []models.Folder
		for _, match := range faFolderPattern.FindAllSubmatch(page, -1) {
			folders = append(folders, models.Folder{
				ID:   string(match[1]),
				Name: string(match[2]),
			})
		}
		return folders, nil
	})
}

// MapRating maps to FurAffinity's numeric rating codes (0 general,
// 2 mature, 1 adult).
func (f *furAffinity) MapRating(rating models.Rating) string {
	switch rating {
	case models.RatingMature:
		return "2"
	case models.RatingExplicit:
		return "1"
	default:
		return "0"
	}
}

func (f *furAffinity) formKey(page []byte) (string, error) {
	match := faFormKeyPattern.FindSubmatch(page)
	if match == nil {
		// A missing form key with a valid session means FA changed the
		// form or bounced us to the login page.
		if faUsernamePattern.Find(page) == nil {
			return "", ErrBadCredentials
		}
		return "", &SiteError{Message: "could not find the FurAffinity form key"}
	}
	return string(match[1]), nil
}

func (f *furAffinity) pageError(page []byte) error {
	if match := faErrorPattern.FindSubmatch(page); match != nil {
		return &SiteError{Message: stripTags(string(match[1]))}
	}
	return nil
}

// cloneHeader copies a header so per-request Content-Type values do not
// leak between wizard steps.
func (f *furAffinity) cloneHeader(header http.Header) http.Header {
	return header.Clone()
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripTags flattens scraped HTML fragments to plain text.
func stripTags(fragment string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(fragment, ""))
}
