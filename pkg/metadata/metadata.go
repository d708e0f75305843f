package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"partysync/pkg/kemono"
	"partysync/pkg/storage"
)

const (
	metadataFileName = "post.json"
	contentFileName  = "content.txt"
)

// PostMetadata is the sidecar written next to a completed post
type PostMetadata struct {
	// Core identifiers
	ID      string `json:"id"`
	Source  string `json:"source"`
	Service string `json:"service"`

	Creator Creator `json:"creator"`

	Title     string `json:"title,omitempty"`
	Published string `json:"published,omitempty"`
	Added     string `json:"added,omitempty"`

	Files []File `json:"files"`

	DownloadedAt time.Time `json:"downloaded_at"`
}

// Creator identifies the post owner
type Creator struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// File is one attachment as stored on disk
type File struct {
	Name       string `json:"name"`
	RemotePath string `json:"remote_path"`
	Size       int64  `json:"size"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// FromPost builds the sidecar for a post
func FromPost(source string, creator kemono.Creator, post kemono.Post, files []File) *PostMetadata {
	service := post.Service
	if service == "" {
		service = creator.Service
	}
	return &PostMetadata{
		ID:      string(post.ID),
		Source:  source,
		Service: service,
		Creator: Creator{
			ID:   string(creator.ID),
			Name: creator.Name,
		},
		Title:        strings.TrimSpace(post.Title),
		Published:    string(post.Published),
		Added:        string(post.Added),
		Files:        files,
		DownloadedAt: time.Now().UTC(),
	}
}

// Save writes the sidecar into dir. prefix is prepended to the file name
// when posts share a folder.
func (m *PostMetadata) Save(dir, prefix string) error {
	if err := storage.WriteJSONAtomic(Path(dir, prefix), m); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// SaveContent writes the raw post body as content.txt; empty bodies are
// not written.
func SaveContent(dir, prefix, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	path := filepath.Join(dir, prefix+contentFileName)
	if err := storage.WriteFileAtomic(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write content file: %w", err)
	}
	return nil
}

// Load reads a sidecar back
func Load(dir, prefix string) (*PostMetadata, error) {
	var meta PostMetadata
	found, err := storage.ReadJSON(Path(dir, prefix), &meta)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("failed to read metadata file: %w", os.ErrNotExist)
	}
	return &meta, nil
}

// Path is the sidecar location for a post
func Path(dir, prefix string) string {
	return filepath.Join(dir, prefix+metadataFileName)
}

// Exists checks if a sidecar is present
func Exists(dir, prefix string) bool {
	ok, err := storage.Exists(Path(dir, prefix))
	return err == nil && ok
}

// TotalSize sums the stored file sizes
func (m *PostMetadata) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// GetFormattedTitle returns a single-line title truncated for display
func (m *PostMetadata) GetFormattedTitle(maxLength int) string {
	title := strings.Join(strings.Fields(m.Title), " ")
	if title == "" {
		title = m.ID
	}
	runes := []rune(title)
	if maxLength > 3 && len(runes) > maxLength {
		title = string(runes[:maxLength-3]) + "..."
	}
	return title
}
