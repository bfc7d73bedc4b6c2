package description

import (
	"strings"
	"testing"

	"github.com/ameliade/crosspost/internal/models"
)

func TestTranslateSelfReference(t *testing.T) {
	testCases := []struct {
		name string
		text string
		dest models.Site
		want string
	}{
		{
			name: "furaffinity name link",
			text: "<|Syfaro,1,0|>",
			dest: models.SiteFurAffinity,
			want: ":linkSyfaro:",
		},
		{
			name: "furaffinity icon",
			text: "<|Syfaro,1,1|>",
			dest: models.SiteFurAffinity,
			want: ":Syfaroicon:",
		},
		{
			name: "furaffinity name plus icon",
			text: "<|Syfaro,1,2|>",
			dest: models.SiteFurAffinity,
			want: ":iconSyfaro:",
		},
		{
			name: "weasyl name link",
			text: "<|Syfaro,2,0|>",
			dest: models.SiteWeasyl,
			want: "<~Syfaro>",
		},
		{
			name: "inkbunny name plus icon",
			text: "<|Syfaro,4,2|>",
			dest: models.SiteInkbunny,
			want: "[iconname]Syfaro[/iconname]",
		},
		{
			name: "deviantart name link",
			text: "<|Syfaro,8,0|>",
			dest: models.SiteDeviantArt,
			want: ":devSyfaro:",
		},
		{
			name: "twitter mention",
			text: "<|Syfaro,100,0|>",
			dest: models.SiteTwitter,
			want: "@Syfaro",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Translate(tc.text, tc.dest); got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestTranslateCrossReference(t *testing.T) {
	testCases := []struct {
		name string
		text string
		dest models.Site
		want string
	}{
		{
			name: "furaffinity user on markdown destination",
			text: "<|Syfaro,1,0|>",
			dest: models.SiteWeasyl,
			want: "[Syfaro](https://www.furaffinity.net/user/Syfaro/)",
		},
		{
			name: "weasyl user on furaffinity",
			text: "<|Syfaro,2,0|>",
			dest: models.SiteFurAffinity,
			want: "[url=https://www.weasyl.com/~Syfaro]Syfaro[/url]",
		},
		{
			name: "furaffinity user on inkbunny uses the fa tag",
			text: "<|Syfaro,1,0|>",
			dest: models.SiteInkbunny,
			want: "[fa]Syfaro[/fa]",
		},
		{
			name: "twitter user on inkbunny takes the generic url tag",
			text: "<|Syfaro,100,0|>",
			dest: models.SiteInkbunny,
			want: "[url=https://twitter.com/Syfaro]Syfaro[/url]",
		},
		{
			name: "foreign user on sofurry renders bare",
			text: "<|Syfaro,1,0|>",
			dest: models.SiteSoFurry,
			want: "Syfaro",
		},
		{
			name: "foreign user on deviantart renders an anchor",
			text: "<|Syfaro,2,0|>",
			dest: models.SiteDeviantArt,
			want: `<a href="https://www.weasyl.com/~Syfaro">Syfaro</a>`,
		},
		{
			name: "foreign user on mastodon renders plain",
			text: "<|Syfaro,1,0|>",
			dest: models.SiteMastodon,
			want: "Syfaro (https://www.furaffinity.net/user/Syfaro/)",
		},
		{
			name: "icon type collapses to name link across sites",
			text: "<|Syfaro,1,2|>",
			dest: models.SiteWeasyl,
			want: "[Syfaro](https://www.furaffinity.net/user/Syfaro/)",
		},
		{
			name: "surrounding text preserved",
			text: "art for <|Syfaro,1,0|>!",
			dest: models.SiteWeasyl,
			want: "art for [Syfaro](https://www.furaffinity.net/user/Syfaro/)!",
		},
		{
			name: "multiple markers",
			text: "<|A,1,0|> and <|B,2,0|>",
			dest: models.SiteFurryNetwork,
			want: "[A](https://www.furaffinity.net/user/A/) and [B](https://www.weasyl.com/~B)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Translate(tc.text, tc.dest); got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestTranslateIdempotent(t *testing.T) {
	// Text already in final form (no markers) comes back unchanged, even
	// after repeated translation.
	inputs := []struct {
		text string
		dest models.Site
	}{
		{":linkSyfaro: drew this", models.SiteFurAffinity},
		{"[Syfaro](https://www.furaffinity.net/user/Syfaro/)", models.SiteWeasyl},
		{"[url=https://x]a link[/url]", models.SiteFurAffinity},
		{"plain text, no links at all", models.SiteSoFurry},
	}

	for _, input := range inputs {
		once := Translate(input.text, input.dest)
		twice := Translate(once, input.dest)
		if once != twice {
			t.Errorf("Translate not idempotent for %q on %v: %q != %q", input.text, input.dest, once, twice)
		}
		if input.text != once {
			t.Errorf("Expected already-final text %q unchanged, got %q", input.text, once)
		}
	}
}

func TestMarkdownLinkRewrite(t *testing.T) {
	testCases := []struct {
		name string
		text string
		dest models.Site
		want string
	}{
		{
			name: "unchanged on markdown destination",
			text: "[a link](https://x)",
			dest: models.SiteWeasyl,
			want: "[a link](https://x)",
		},
		{
			name: "bbcode on furaffinity",
			text: "[a link](https://x)",
			dest: models.SiteFurAffinity,
			want: "[url=https://x]a link[/url]",
		},
		{
			name: "bbcode on sofurry",
			text: "[a link](https://x)",
			dest: models.SiteSoFurry,
			want: "[url=https://x]a link[/url]",
		},
		{
			name: "title dropped",
			text: `[a link](https://x "the title")`,
			dest: models.SiteInkbunny,
			want: "[url=https://x]a link[/url]",
		},
		{
			name: "plain on twitter",
			text: "check [my page](https://x) out",
			dest: models.SiteTwitter,
			want: "check my page (https://x) out",
		},
		{
			name: "anchor on deviantart",
			text: "[a link](https://x)",
			dest: models.SiteDeviantArt,
			want: `<a href="https://x">a link</a>`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Translate(tc.text, tc.dest); got != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestTranslateSubstitutionBound(t *testing.T) {
	// More markers than the bound: translation terminates and leaves the
	// excess markers untouched rather than spinning.
	marker := "<|U,1,0|>"
	text := strings.Repeat(marker+" ", maxSubstitutions+10)

	got := Translate(text, models.SiteWeasyl)
	if remaining := strings.Count(got, marker); remaining != 10 {
		t.Errorf("Expected 10 markers left after the bound, got %d", remaining)
	}
}

func TestProfileURL(t *testing.T) {
	testCases := []struct {
		site models.Site
		user string
		want string
	}{
		{models.SiteFurAffinity, "Syfaro", "https://www.furaffinity.net/user/Syfaro/"},
		{models.SiteSoFurry, "Syfaro", "https://Syfaro.sofurry.com/"},
		{models.SiteMastodon, "syfaro@mastodon.example", "https://mastodon.example/@syfaro"},
		{models.SiteMastodon, "syfaro", "https://mastodon.social/@syfaro"},
	}

	for _, tc := range testCases {
		if got := ProfileURL(tc.site, tc.user); got != tc.want {
			t.Errorf("ProfileURL(%v, %q): expected %q, got %q", tc.site, tc.user, got, tc.want)
		}
	}
}
