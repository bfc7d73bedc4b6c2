package models

import (
	"strings"
	"time"
)

// Rating is the canonical three-level content rating. Each adapter maps it
// to its site's native token via MapRating.
type Rating string

const (
	RatingGeneral  Rating = "general"
	RatingMature   Rating = "mature"
	RatingExplicit Rating = "explicit"
)

// Valid returns true for one of the three canonical ratings.
func (r Rating) Valid() bool {
	return r == RatingGeneral || r == RatingMature || r == RatingExplicit
}

// Image is the uploaded artwork file.
type Image struct {
	Bytes    []byte `json:"-"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
}

// Submission is the canonical upload payload, built once from raw form or
// draft input and immutable afterwards. Tags and Hashtags partition the
// raw tag string: tokens starting with '#' become hashtags, everything
// else becomes tags, first-appearance order preserved in both.
type Submission struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Hashtags    []string `json:"hashtags"`
	Rating      Rating   `json:"rating"`
	Image       Image    `json:"image"`
}

// NewSubmission builds a Submission from raw input, splitting rawTags into
// the tag/hashtag partition. The raw tag string is comma-separated when it
// contains any comma, whitespace-separated otherwise.
func NewSubmission(title, description, rawTags string, rating Rating, image Image) Submission {
	tags, hashtags := SplitTags(rawTags)
	return Submission{
		Title:       title,
		Description: description,
		Tags:        tags,
		Hashtags:    hashtags,
		Rating:      rating,
		Image:       image,
	}
}

// SplitTags splits a raw tag string into tags and hashtags. Comma-separated
// if any comma is present, else whitespace-separated; empty tokens are
// dropped, duplicates keep their first position only, and tokens starting
// with '#' go to the hashtag bucket.
func SplitTags(raw string) (tags, hashtags []string) {
	var tokens []string
	if strings.Contains(raw, ",") {
		tokens = strings.Split(raw, ",")
	} else {
		tokens = strings.Fields(raw)
	}

	tags = make([]string, 0, len(tokens))
	hashtags = make([]string, 0)
	seen := make(map[string]struct{}, len(tokens))

	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}

		if strings.HasPrefix(token, "#") {
			hashtags = append(hashtags, token)
		} else {
			tags = append(tags, token)
		}
	}

	return tags, hashtags
}

// SavedSubmission is a draft awaiting or recovering from upload. Accounts
// holds the ids of the accounts still pending: after a partially failed
// batch it is narrowed to the accounts that did not succeed, so a retry
// never re-posts to an account that already took the upload.
type SavedSubmission struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	GroupID     string            `json:"group_id,omitempty"`
	Master      bool              `json:"master"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	RawTags     string            `json:"raw_tags"`
	Rating      Rating            `json:"rating"`
	ImageName   string            `json:"image_name"`
	Accounts    []string          `json:"accounts"`
	Extras      map[string]string `json:"extras,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Submission materializes the canonical payload from the draft fields and
// the image read back from the image store.
func (s *SavedSubmission) Submission(image Image) Submission {
	return NewSubmission(s.Title, s.Description, s.RawTags, s.Rating, image)
}

// SubmissionGroup bundles a master draft (shared title/description/tags)
// with up to four variant drafts, each carrying its own image. Grouped
// adapters take the whole group as one multi-image post; the rest receive
// each variant as a separate post.
type SubmissionGroup struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Master    *SavedSubmission   `json:"master"`
	Variants  []*SavedSubmission `json:"variants"`
	CreatedAt time.Time          `json:"created_at"`
}

// Folder is one folder/category entry fetched from a destination site.
type Folder struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}
