package models

// Site identifies one destination site. The numeric values are part of the
// description marker syntax (<|user,siteID,linkType|>) and of persisted
// account rows, so they are fixed forever.
type Site int

const (
	SiteFurAffinity  Site = 1
	SiteWeasyl       Site = 2
	SiteFurryNetwork Site = 3
	SiteInkbunny     Site = 4
	SiteSoFurry      Site = 5
	SiteTumblr       Site = 7
	SiteDeviantArt   Site = 8
	SiteTwitter      Site = 100
	SiteMastodon     Site = 101
)

var siteNames = map[Site]string{
	SiteFurAffinity:  "FurAffinity",
	SiteWeasyl:       "Weasyl",
	SiteFurryNetwork: "FurryNetwork",
	SiteInkbunny:     "Inkbunny",
	SiteSoFurry:      "SoFurry",
	SiteTumblr:       "Tumblr",
	SiteDeviantArt:   "DeviantArt",
	SiteTwitter:      "Twitter",
	SiteMastodon:     "Mastodon",
}

// String returns the human-readable site name, or "Unknown" for values
// outside the fixed enumeration.
func (s Site) String() string {
	if name, ok := siteNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Known returns true if s is one of the fixed site ids.
func (s Site) Known() bool {
	_, ok := siteNames[s]
	return ok
}

// AllSites returns every known site in ascending id order.
func AllSites() []Site {
	return []Site{
		SiteFurAffinity,
		SiteWeasyl,
		SiteFurryNetwork,
		SiteInkbunny,
		SiteSoFurry,
		SiteTumblr,
		SiteDeviantArt,
		SiteTwitter,
		SiteMastodon,
	}
}
