package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTags(t *testing.T) {
	testCases := []struct {
		name         string
		raw          string
		wantTags     []string
		wantHashtags []string
	}{
		{
			name:         "whitespace separated",
			raw:          "hello world #test extra tag",
			wantTags:     []string{"hello", "world", "extra", "tag"},
			wantHashtags: []string{"#test"},
		},
		{
			name:         "comma separated keeps multi-word tags",
			raw:          "hello, world, #test, extra tag",
			wantTags:     []string{"hello", "world", "extra tag"},
			wantHashtags: []string{"#test"},
		},
		{
			name:         "empty string",
			raw:          "",
			wantTags:     []string{},
			wantHashtags: []string{},
		},
		{
			name:         "only hashtags",
			raw:          "#one #two",
			wantTags:     []string{},
			wantHashtags: []string{"#one", "#two"},
		},
		{
			name:         "duplicates keep first position",
			raw:          "fox wolf fox #art #art wolf",
			wantTags:     []string{"fox", "wolf"},
			wantHashtags: []string{"#art"},
		},
		{
			name:         "trailing and doubled commas",
			raw:          "fox,,wolf,",
			wantTags:     []string{"fox", "wolf"},
			wantHashtags: []string{},
		},
		{
			name:         "comma separated trims whitespace",
			raw:          "  fox , wolf ",
			wantTags:     []string{"fox", "wolf"},
			wantHashtags: []string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tags, hashtags := SplitTags(tc.raw)
			assert.Equal(t, tc.wantTags, tags)
			assert.Equal(t, tc.wantHashtags, hashtags)
		})
	}
}

func TestSplitTagsIsPartition(t *testing.T) {
	// Every token lands in exactly one bucket.
	tags, hashtags := SplitTags("a b #c d #e f")

	seen := make(map[string]struct{})
	for _, tag := range tags {
		seen[tag] = struct{}{}
	}
	for _, hashtag := range hashtags {
		_, overlap := seen[hashtag]
		assert.False(t, overlap, "token %q appears in both tags and hashtags", hashtag)
	}

	assert.Equal(t, 6, len(tags)+len(hashtags))
}

func TestNewSubmission(t *testing.T) {
	image := Image{Bytes: []byte{1, 2, 3}, MimeType: "image/png", Filename: "art.png"}
	sub := NewSubmission("Title", "desc", "fox, #art", RatingMature, image)

	assert.Equal(t, "Title", sub.Title)
	assert.Equal(t, RatingMature, sub.Rating)
	assert.Equal(t, []string{"fox"}, sub.Tags)
	assert.Equal(t, []string{"#art"}, sub.Hashtags)
	assert.Equal(t, image, sub.Image)
}

func TestRatingValid(t *testing.T) {
	for _, rating := range []Rating{RatingGeneral, RatingMature, RatingExplicit} {
		assert.True(t, rating.Valid(), "expected %q to be valid", rating)
	}
	assert.False(t, Rating("adult").Valid())
}

func TestSiteString(t *testing.T) {
	assert.Equal(t, "FurAffinity", SiteFurAffinity.String())
	assert.Equal(t, "Unknown", Site(42).String())
	assert.True(t, SiteMastodon.Known())
	assert.False(t, Site(42).Known())
}
