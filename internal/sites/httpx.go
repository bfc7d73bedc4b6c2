package sites

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/ameliade/crosspost/internal/models"
)

// fileField describes one file part of a multipart upload.
type fileField struct {
	Field    string
	Filename string
	MimeType string
	Data     []byte
}

// multipartBody builds a multipart/form-data body from ordered field pairs
// and files, returning the body and its content type.
func multipartBody(fields map[string]string, files ...fileField) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for field, value := range fields {
		if err := writer.WriteField(field, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %q: %w", field, err)
		}
	}

	for _, file := range files {
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			file.Field, strings.ReplaceAll(file.Filename, `"`, ""))}
		if file.MimeType != "" {
			header["Content-Type"] = []string{file.MimeType}
		}
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create file part %q: %w", file.Field, err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write file part %q: %w", file.Field, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// request performs one HTTP round-trip and returns the response body.
// Non-2xx statuses become *HTTPError except 401/403, which become
// ErrBadCredentials so the orchestrator classifies them as a credential
// failure without each adapter repeating the check.
func (b *base) request(ctx context.Context, method, rawURL string, body io.Reader, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := b.deps.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", rawURL, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return data, ErrBadCredentials
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return data, &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
	}
	return data, nil
}

// get performs a GET with the given headers.
func (b *base) get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	return b.request(ctx, http.MethodGet, rawURL, nil, header)
}

// postForm performs an application/x-www-form-urlencoded POST.
func (b *base) postForm(ctx context.Context, rawURL string, form url.Values, header http.Header) ([]byte, error) {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.request(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), header)
}

// postMultipart performs a multipart/form-data POST.
func (b *base) postMultipart(ctx context.Context, rawURL string, fields map[string]string, header http.Header, files ...fileField) ([]byte, error) {
	body, contentType, err := multipartBody(fields, files...)
	if err != nil {
		return nil, err
	}
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", contentType)
	return b.request(ctx, http.MethodPost, rawURL, body, header)
}

// requireFormValue reads one mandatory add-account form field.
func requireFormValue(form url.Values, field string) (string, error) {
	value := strings.TrimSpace(form.Get(field))
	if value == "" {
		return "", &BadDataError{Field: field, Reason: "is required"}
	}
	return value, nil
}

// credentialJSON encodes a credential map as the plaintext blob the vault
// wraps. Sites with a single token store it bare instead.
func credentialJSON(creds map[string]string) string {
	data, _ := json.Marshal(creds)
	return string(data)
}

// parseCredentialJSON decodes a JSON credential blob. A blob that does not
// parse means it was produced for a different credential format, which the
// orchestrator treats the same as rejected credentials.
func parseCredentialJSON(blob string) (map[string]string, error) {
	var creds map[string]string
	if err := json.Unmarshal([]byte(blob), &creds); err != nil {
		return nil, ErrBadCredentials
	}
	return creds, nil
}

// cachedFolders serves the folder cache for the bound account: the cached
// account_data entry when present and no update is forced, otherwise one
// full fetch from the site, after which the cache entry is replaced.
func (b *base) cachedFolders(ctx context.Context, update bool, fetch func(ctx context.Context) ([]models.Folder, error)) ([]models.Folder, error) {
	if err := b.requireAccount(); err != nil {
		return nil, err
	}
	accountID := b.binding.Account.ID

	if !update {
		payload, found, err := b.deps.Store.GetAccountData(ctx, accountID, FolderCacheKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read folder cache: %w", err)
		}
		if found {
			var folders []models.Folder
			if err := json.Unmarshal(payload, &folders); err == nil {
				return folders, nil
			}
			// A corrupt cache entry falls through to a refetch.
		}
	}

	folders, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(folders)
	if err != nil {
		return nil, fmt.Errorf("failed to encode folder cache: %w", err)
	}
	if err := b.deps.Store.SetAccountData(ctx, accountID, FolderCacheKey, payload); err != nil {
		return nil, fmt.Errorf("failed to write folder cache: %w", err)
	}
	return folders, nil
}
