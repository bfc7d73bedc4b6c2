package description

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ameliade/crosspost/internal/models"
)

// LinkType selects how a profile-link marker renders.
type LinkType int

const (
	// LinkName renders as the username linking to the profile.
	LinkName LinkType = 0
	// LinkIcon renders as the user's avatar where the site has icon syntax.
	LinkIcon LinkType = 1
	// LinkNameIcon renders as avatar plus username where supported.
	LinkNameIcon LinkType = 2
)

// maxSubstitutions bounds both rewrite passes so adversarial input (for
// example a replacement that re-introduces its own pattern) cannot loop
// forever.
const maxSubstitutions = 500

// markerPattern matches one cross-site profile-link marker,
// <|username,sourceSiteID,linkType|>.
var markerPattern = regexp.MustCompile(`<\|([^,<>|]+),(\d+),([0-2])\|>`)

// markdownLinkPattern matches one markdown inline link, with an optional
// quoted title: [text](url) or [text](url "title").
var markdownLinkPattern = regexp.MustCompile(`\[([^]]+)]\(\s*([^)\s]+)(?:\s+"[^"]*")?\s*\)`)

// linkStyle classifies how a destination site expresses inline links.
type linkStyle int

const (
	styleMarkdown linkStyle = iota
	styleBBCode
	styleHTML
	stylePlain
)

var destStyles = map[models.Site]linkStyle{
	models.SiteFurAffinity:  styleBBCode,
	models.SiteWeasyl:       styleMarkdown,
	models.SiteFurryNetwork: styleMarkdown,
	models.SiteInkbunny:     styleBBCode,
	models.SiteSoFurry:      styleBBCode,
	models.SiteTumblr:       styleMarkdown,
	models.SiteDeviantArt:   styleHTML,
	models.SiteTwitter:      stylePlain,
	models.SiteMastodon:     stylePlain,
}

// Translate rewrites a raw description for one destination site: first every
// <|user,site,type|> marker is replaced with the destination's native
// rendering, then, on destinations without markdown support, remaining
// markdown inline links are rewritten into the destination's own syntax.
// Text with no markers and no applicable markdown links passes through
// unchanged, so the function is idempotent on already-translated input.
func Translate(text string, dest models.Site) string {
	text = replaceMarkers(text, dest)
	if destStyles[dest] != styleMarkdown {
		text = rewriteMarkdownLinks(text, dest)
	}
	return text
}

// replaceMarkers substitutes markers one at a time, always the first
// remaining one, up to the substitution bound.
func replaceMarkers(text string, dest models.Site) string {
	for i := 0; i < maxSubstitutions; i++ {
		loc := markerPattern.FindStringSubmatchIndex(text)
		if loc == nil {
			break
		}

		username := text[loc[2]:loc[3]]
		siteID, _ := strconv.Atoi(text[loc[4]:loc[5]])
		linkType, _ := strconv.Atoi(text[loc[6]:loc[7]])

		rendered := renderReference(username, models.Site(siteID), LinkType(linkType), dest)
		text = text[:loc[0]] + rendered + text[loc[1]:]
	}
	return text
}

// renderReference renders one profile reference for the destination site.
func renderReference(username string, source models.Site, linkType LinkType, dest models.Site) string {
	if source == dest {
		if shorthand, ok := selfReference(dest, username, linkType); ok {
			return shorthand
		}
	}
	return crossReference(username, source, dest)
}

// selfReference returns the destination site's own shorthand for a user on
// that same site, when it has one.
func selfReference(site models.Site, username string, linkType LinkType) (string, bool) {
	switch site {
	case models.SiteFurAffinity:
		switch linkType {
		case LinkIcon:
			return ":" + username + "icon:", true
		case LinkNameIcon:
			return ":icon" + username + ":", true
		default:
			return ":link" + username + ":", true
		}
	case models.SiteWeasyl:
		switch linkType {
		case LinkIcon:
			return "<!" + username + ">", true
		case LinkNameIcon:
			return "<!~" + username + ">", true
		default:
			return "<~" + username + ">", true
		}
	case models.SiteInkbunny:
		switch linkType {
		case LinkIcon:
			return "[icon]" + username + "[/icon]", true
		case LinkNameIcon:
			return "[iconname]" + username + "[/iconname]", true
		default:
			return "[name]" + username + "[/name]", true
		}
	case models.SiteDeviantArt:
		if linkType == LinkName {
			return ":dev" + username + ":", true
		}
		return ":icon" + username + ":", true
	case models.SiteTwitter, models.SiteMastodon, models.SiteTumblr:
		// Mentions carry no icon variant on these sites.
		return "@" + username, true
	default:
		return "", false
	}
}

// crossReference renders a reference to a user on a different site (or on a
// site with no self shorthand) in the destination's link syntax. The icon
// variants collapse to a name link here: no destination can embed another
// site's avatars.
func crossReference(username string, source, dest models.Site) string {
	url := ProfileURL(source, username)

	switch destStyles[dest] {
	case styleMarkdown:
		return fmt.Sprintf("[%s](%s)", username, url)
	case styleHTML:
		return fmt.Sprintf(`<a href="%s">%s</a>`, url, username)
	case stylePlain:
		return fmt.Sprintf("%s (%s)", username, url)
	}

	// BBCode destinations. Inkbunny has dedicated tags for a handful of
	// other sites; everything else takes the generic url tag.
	if dest == models.SiteInkbunny {
		switch source {
		case models.SiteFurAffinity:
			return "[fa]" + username + "[/fa]"
		case models.SiteSoFurry:
			return "[sf]" + username + "[/sf]"
		case models.SiteDeviantArt:
			return "[da]" + username + "[/da]"
		case models.SiteWeasyl:
			return "[w]" + username + "[/w]"
		}
	}
	if dest == models.SiteSoFurry {
		// SoFurry descriptions render foreign references as bare text.
		return username
	}
	return fmt.Sprintf("[url=%s]%s[/url]", url, username)
}

// ProfileURL returns the public profile URL for a username on a site.
// Mastodon usernames are instance-qualified (user@instance).
func ProfileURL(site models.Site, username string) string {
	switch site {
	case models.SiteFurAffinity:
		return "https://www.furaffinity.net/user/" + username + "/"
	case models.SiteWeasyl:
		return "https://www.weasyl.com/~" + username
	case models.SiteFurryNetwork:
		return "https://furrynetwork.com/" + username
	case models.SiteInkbunny:
		return "https://inkbunny.net/" + username
	case models.SiteSoFurry:
		return "https://" + username + ".sofurry.com/"
	case models.SiteTumblr:
		return "https://" + username + ".tumblr.com/"
	case models.SiteDeviantArt:
		return "https://www.deviantart.com/" + username
	case models.SiteTwitter:
		return "https://twitter.com/" + username
	case models.SiteMastodon:
		if user, instance, ok := strings.Cut(username, "@"); ok {
			return "https://" + instance + "/@" + user
		}
		return "https://mastodon.social/@" + username
	default:
		return ""
	}
}

// rewriteMarkdownLinks converts leftover markdown inline links into the
// destination's native syntax, bounded like the marker pass.
func rewriteMarkdownLinks(text string, dest models.Site) string {
	style := destStyles[dest]

	for i := 0; i < maxSubstitutions; i++ {
		loc := markdownLinkPattern.FindStringSubmatchIndex(text)
		if loc == nil {
			break
		}

		label := text[loc[2]:loc[3]]
		url := text[loc[4]:loc[5]]

		var rendered string
		switch style {
		case styleHTML:
			rendered = fmt.Sprintf(`<a href="%s">%s</a>`, url, label)
		case stylePlain:
			rendered = fmt.Sprintf("%s (%s)", label, url)
		default:
			rendered = fmt.Sprintf("[url=%s]%s[/url]", url, label)
		}

		text = text[:loc[0]] + rendered + text[loc[1]:]
	}
	return text
}
