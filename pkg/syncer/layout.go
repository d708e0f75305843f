package syncer

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"partysync/pkg/kemono"
	"partysync/pkg/storage"
)

// PostFolderName names the folder of a post: "title_date" when both are
// known, the title alone, or the post ID when there is no usable title.
func PostFolderName(post kemono.Post) string {
	title := strings.Join(strings.Fields(post.Title), " ")
	published := string(post.Published)
	if i := strings.IndexByte(published, 'T'); i > 0 {
		published = published[:i]
	}

	name := title
	if title != "" && published != "" {
		name = title + "_" + published
	}
	if name = storage.SanitizeName(name, storage.MaxNameLength); name != "" {
		return name
	}
	return storage.SanitizeName(string(post.ID), storage.MaxNameLength)
}

// postTitle is the label shown in progress output
func postTitle(post kemono.Post) string {
	if t := strings.Join(strings.Fields(post.Title), " "); t != "" {
		return t
	}
	return "post " + string(post.ID)
}

// fileNames returns one on-disk name per attachment. Blank names fall back
// to the remote file name and repeated names get a " (n)" suffix.
func fileNames(files []kemono.Attachment) []string {
	names := make([]string, len(files))
	taken := make(map[string]bool, len(files))
	next := make(map[string]int)

	for i, f := range files {
		name := storage.SanitizeName(f.Name, storage.MaxNameLength)
		if name == "" {
			name = storage.SanitizeName(path.Base(f.Path), storage.MaxNameLength)
		}
		if name == "" {
			name = fmt.Sprintf("file_%d", i+1)
		}

		key := strings.ToLower(name)
		if taken[key] {
			ext := filepath.Ext(name)
			stem := strings.TrimSuffix(name, ext)
			n := max(next[key], 2)
			for taken[strings.ToLower(fmt.Sprintf("%s (%d)%s", stem, n, ext))] {
				n++
			}
			next[key] = n + 1
			name = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		taken[strings.ToLower(name)] = true
		names[i] = name
	}
	return names
}
