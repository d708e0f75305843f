package kemono

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ChannelService is the service whose creators are servers made of channels
const ChannelService = "discord"

// Text is a JSON scalar read as an opaque string. The API is not consistent
// about quoting ids and timestamps, so numbers and null are accepted too.
type Text string

// UnmarshalJSON accepts strings, numbers and null
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", data)
		}
		*t = Text(n.String())
		return nil
	}
}

func (t Text) String() string { return string(t) }

// Creator is a tracked account on one service. Identity is (Service, ID);
// Updated is the change marker compared between runs.
type Creator struct {
	ID       Text   `json:"id"`
	Name     string `json:"name"`
	Service  string `json:"service"`
	Updated  Text   `json:"updated"`
	Indexed  Text   `json:"indexed,omitempty"`
	FavedSeq Text   `json:"faved_seq,omitempty"`
}

// Key identifies a creator across roster and snapshot
func (c Creator) Key() string {
	return c.Service + ":" + string(c.ID)
}

// IsChannelType reports whether the creator is enumerated per channel
func (c Creator) IsChannelType() bool {
	return strings.EqualFold(c.Service, ChannelService)
}

// DisplayName falls back to the id for creators without a name
func (c Creator) DisplayName() string {
	if strings.TrimSpace(c.Name) != "" {
		return c.Name
	}
	return string(c.ID)
}

// Profile is the single-creator lookup used for reconciliation and counts
type Profile struct {
	ID        Text   `json:"id"`
	Name      string `json:"name"`
	Service   string `json:"service"`
	Updated   Text   `json:"updated"`
	Indexed   Text   `json:"indexed,omitempty"`
	PostCount int    `json:"post_count"`
}

// Creator converts the profile into a roster entry
func (p Profile) Creator() Creator {
	return Creator{ID: p.ID, Name: p.Name, Service: p.Service, Updated: p.Updated, Indexed: p.Indexed}
}

// Attachment is one downloadable file of a post
type Attachment struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Valid reports whether the attachment can be downloaded
func (a Attachment) Valid() bool {
	return strings.TrimSpace(a.Name) != "" && strings.TrimSpace(a.Path) != ""
}

// Post is a single content item. Channel messages decode into the same shape
// and simply have no title.
type Post struct {
	ID          Text         `json:"id"`
	User        Text         `json:"user,omitempty"`
	Service     string       `json:"service,omitempty"`
	Title       string       `json:"title,omitempty"`
	Content     string       `json:"content"`
	Published   Text         `json:"published,omitempty"`
	Added       Text         `json:"added,omitempty"`
	File        *Attachment  `json:"file,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// Files returns the primary file followed by the attachments, skipping
// entries without a name or path and duplicate paths.
func (p Post) Files() []Attachment {
	seen := make(map[string]struct{}, len(p.Attachments)+1)
	files := make([]Attachment, 0, len(p.Attachments)+1)

	add := func(a Attachment) {
		if !a.Valid() {
			return
		}
		if _, dup := seen[a.Path]; dup {
			return
		}
		seen[a.Path] = struct{}{}
		files = append(files, a)
	}

	if p.File != nil {
		add(*p.File)
	}
	for _, a := range p.Attachments {
		add(a)
	}
	return files
}

// Channel is one channel of a discord server
type Channel struct {
	ID   Text   `json:"id"`
	Name string `json:"name"`
}
