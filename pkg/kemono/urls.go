package kemono

import (
	"fmt"
	"net/url"
	"strings"
)

// CreatorRef names a creator outside of any roster
type CreatorRef struct {
	// Source is the site name taken from the host ("kemono", "coomer"),
	// empty when the reference was given as service:id.
	Source  string
	BaseURL string
	Service string
	ID      string
}

// Creator converts the reference into a creator with no marker
func (r CreatorRef) Creator() Creator {
	return Creator{ID: Text(r.ID), Service: r.Service}
}

// ParseCreatorURL splits a creator page or listing URL. Accepted paths are
// /{service}/user/{id} and /api/v1/{service}/user/{id}, optionally followed
// by further segments.
func ParseCreatorURL(raw string) (CreatorRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return CreatorRef{}, fmt.Errorf("invalid creator URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return CreatorRef{}, fmt.Errorf("invalid creator URL %q: missing scheme or host", raw)
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) >= 2 && segments[0] == "api" && strings.HasPrefix(segments[1], "v") {
		segments = segments[2:]
	}
	if len(segments) < 3 || segments[1] != "user" || segments[0] == "" || segments[2] == "" {
		return CreatorRef{}, fmt.Errorf("invalid creator URL %q: expected /{service}/user/{id}", raw)
	}

	host := u.Hostname()
	return CreatorRef{
		Source:  strings.ToLower(strings.Split(host, ".")[0]),
		BaseURL: u.Scheme + "://" + u.Host,
		Service: segments[0],
		ID:      segments[2],
	}, nil
}

// ParseCreatorRef accepts either a creator URL or "service:id"
func ParseCreatorRef(s string) (CreatorRef, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		return ParseCreatorURL(s)
	}

	service, id, ok := strings.Cut(s, ":")
	if !ok || service == "" || id == "" || strings.ContainsAny(id, "/:") {
		return CreatorRef{}, fmt.Errorf("invalid creator %q: expected service:id or a creator URL", s)
	}
	return CreatorRef{Service: strings.ToLower(service), ID: id}, nil
}
