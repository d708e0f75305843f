package downloader

import (
	"path/filepath"
	"sort"
	"strings"

	"partysync/pkg/config"
)

// Policy holds the per-file admission rules
type Policy struct {
	// MinBytes and MaxBytes bound accepted sizes; 0 disables a bound
	MinBytes int64
	MaxBytes int64

	allowed    map[string]struct{}
	categories map[string]map[string]struct{}
	// order is the sorted category names; the first match wins
	order []string
}

// PolicyFromConfig builds the policy from download settings
func PolicyFromConfig(cfg config.DownloadConfig) Policy {
	p := Policy{
		MinBytes:   cfg.MinFileBytes(),
		MaxBytes:   cfg.MaxFileBytes(),
		categories: make(map[string]map[string]struct{}, len(cfg.FileTypeExtensions)),
	}

	for name, exts := range cfg.FileTypeExtensions {
		set := make(map[string]struct{}, len(exts))
		for _, ext := range exts {
			ext = normalizeExt(ext)
			set[ext] = struct{}{}
		}
		p.categories[strings.ToLower(name)] = set
	}
	for name := range p.categories {
		p.order = append(p.order, name)
	}
	sort.Strings(p.order)

	if len(cfg.AllowedFileTypes) > 0 {
		p.allowed = make(map[string]struct{}, len(cfg.AllowedFileTypes))
		for _, name := range cfg.AllowedFileTypes {
			p.allowed[strings.ToLower(name)] = struct{}{}
		}
	}
	return p
}

// Category names the extension category of a file. Extensions not listed
// anywhere fall into "other".
func (p Policy) Category(fileName string) string {
	ext := normalizeExt(filepath.Ext(fileName))
	for _, name := range p.order {
		if _, ok := p.categories[name][ext]; ok {
			return name
		}
	}
	return config.CategoryOther
}

// Allows reports whether the file type passes the filter. No allow list
// means every type passes.
func (p Policy) Allows(fileName string) bool {
	if p.allowed == nil {
		return true
	}
	_, ok := p.allowed[p.Category(fileName)]
	return ok
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
