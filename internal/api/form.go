package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ameliade/crosspost/internal/models"
)

// maxUploadSize caps one multipart submission request.
const maxUploadSize = 64 << 20

// submissionForm is the decoded multipart submission/draft form. Account
// selection, per-account folders, and the link-source flags all key on
// account ids.
type submissionForm struct {
	Title       string
	Description string
	RawTags     string
	Rating      models.Rating
	Accounts    []string
	LinkSources map[string]bool
	Folders     map[string]string
	Extras      map[string]string
	Image       *models.Image
	Images      []models.Image
}

// parseSubmissionForm decodes the multipart form shared by the submit and
// draft endpoints. Field conventions: "accounts" and "linksource" repeat
// per account id, "folder_<accountID>" selects a destination folder, and
// "extra_<key>" carries site-specific extras. The single-image form uses
// the "image" file part; the group form repeats "images".
func parseSubmissionForm(r *http.Request) (*submissionForm, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	form := &submissionForm{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Description: r.FormValue("description"),
		RawTags:     r.FormValue("tags"),
		Rating:      models.Rating(r.FormValue("rating")),
		LinkSources: make(map[string]bool),
		Folders:     make(map[string]string),
		Extras:      make(map[string]string),
	}

	for _, value := range r.MultipartForm.Value["accounts"] {
		for _, id := range strings.Split(value, ",") {
			if id = strings.TrimSpace(id); id != "" {
				form.Accounts = append(form.Accounts, id)
			}
		}
	}
	for _, value := range r.MultipartForm.Value["linksource"] {
		for _, id := range strings.Split(value, ",") {
			if id = strings.TrimSpace(id); id != "" {
				form.LinkSources[id] = true
			}
		}
	}

	for key, values := range r.MultipartForm.Value {
		if len(values) == 0 {
			continue
		}
		if accountID, ok := strings.CutPrefix(key, "folder_"); ok {
			form.Folders[accountID] = values[0]
		}
		if name, ok := strings.CutPrefix(key, "extra_"); ok {
			form.Extras[name] = values[0]
		}
	}

	if headers := r.MultipartForm.File["image"]; len(headers) > 0 {
		image, err := readImagePart(headers[0])
		if err != nil {
			return nil, err
		}
		form.Image = &image
	}
	for _, header := range r.MultipartForm.File["images"] {
		image, err := readImagePart(header)
		if err != nil {
			return nil, err
		}
		form.Images = append(form.Images, image)
	}

	return form, nil
}

func readImagePart(header *multipart.FileHeader) (models.Image, error) {
	file, err := header.Open()
	if err != nil {
		return models.Image{}, fmt.Errorf("invalid image part: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return models.Image{}, fmt.Errorf("failed to read image part: %w", err)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	return models.Image{
		Bytes:    data,
		MimeType: mimeType,
		Filename: header.Filename,
	}, nil
}
