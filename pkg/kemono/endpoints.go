package kemono

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// PageSize is the offset step of creator post listings
	PageSize = 50

	// ChannelPageSize is the skip step of channel listings
	ChannelPageSize = 10

	listingEndpoint       = "/api/v1/%s/user/%s"
	profileEndpoint       = "/api/v1/%s/user/%s/profile"
	channelEndpoint       = "/api/v1/discord/channel/%s"
	channelLookupEndpoint = "/api/v1/discord/channel/lookup/%s"
	favoritesEndpoint     = "/api/v1/account/favorites"
)

// ListingURL is the page of posts starting at offset
func ListingURL(base, service, id string, offset int) string {
	params := url.Values{}
	params.Set("o", fmt.Sprint(offset))
	return joinURL(base, fmt.Sprintf(listingEndpoint, url.PathEscape(service), url.PathEscape(id))) + "?" + params.Encode()
}

// ProfileURL is the single-creator lookup
func ProfileURL(base, service, id string) string {
	return joinURL(base, fmt.Sprintf(profileEndpoint, url.PathEscape(service), url.PathEscape(id)))
}

// ChannelURL is the page of channel messages after skip
func ChannelURL(base, channelID string, skip int) string {
	params := url.Values{}
	params.Set("skip", fmt.Sprint(skip))
	return joinURL(base, fmt.Sprintf(channelEndpoint, url.PathEscape(channelID))) + "?" + params.Encode()
}

// ChannelLookupURL lists the channels of a discord server
func ChannelLookupURL(base, serverID string) string {
	return joinURL(base, fmt.Sprintf(channelLookupEndpoint, url.PathEscape(serverID)))
}

// FavoritesURL is the authenticated roster of favorited creators
func FavoritesURL(base string) string {
	params := url.Values{}
	params.Set("type", "artist")
	return joinURL(base, favoritesEndpoint) + "?" + params.Encode()
}

// FileURL resolves an attachment path against the base host
func FileURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return joinURL(base, path)
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// swapHost replaces base's scheme and host in raw with those of fallback
func swapHost(raw, base, fallback string) (string, bool) {
	if fallback == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	from, err := url.Parse(base)
	if err != nil || !strings.EqualFold(u.Host, from.Host) {
		return "", false
	}
	to, err := url.Parse(fallback)
	if err != nil || to.Host == "" {
		return "", false
	}
	u.Scheme = to.Scheme
	u.Host = to.Host
	return u.String(), true
}
