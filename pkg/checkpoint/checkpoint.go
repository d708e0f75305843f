package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"partysync/pkg/logger"
	"partysync/pkg/storage"
)

// FileName is the download record kept in every creator service folder
const FileName = "downloaded_posts.json"

// Record is the set of post ids completed for one (creator, service)
// folder. On disk it is a JSON array of ids. Not safe for concurrent use.
type Record struct {
	path  string
	ids   map[string]struct{}
	order []string
	dirty bool
}

// Manager loads and persists download records
type Manager struct {
	logger logger.Logger
}

// NewManager creates a new checkpoint manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{logger: log}
}

// Path returns the record location inside dir
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load reads the record of dir. A missing file is an empty record.
func (m *Manager) Load(dir string) (*Record, error) {
	rec := &Record{path: Path(dir), ids: make(map[string]struct{})}

	var ids []string
	found, err := storage.ReadJSON(rec.path, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load download record: %w", err)
	}
	if !found {
		m.logger.DebugWithFields("No download record, starting empty", map[string]interface{}{
			"path": rec.path,
		})
		return rec, nil
	}

	for _, id := range ids {
		rec.add(id)
	}

	m.logger.DebugWithFields("Download record loaded", map[string]interface{}{
		"path":  rec.path,
		"posts": rec.Len(),
	})
	return rec, nil
}

// Save rewrites the whole record atomically. A record that was loaded and
// never changed is left alone.
func (m *Manager) Save(rec *Record) error {
	if !rec.dirty {
		if ok, err := storage.Exists(rec.path); err == nil && ok {
			return nil
		}
	}

	ids := rec.IDs()
	if err := storage.WriteJSONAtomic(rec.path, ids); err != nil {
		return fmt.Errorf("failed to save download record: %w", err)
	}
	rec.dirty = false

	m.logger.DebugWithFields("Download record saved", map[string]interface{}{
		"path":  rec.path,
		"posts": len(ids),
	})
	return nil
}

// Delete removes the record so every post is fetched again
func (m *Manager) Delete(dir string) error {
	if err := os.Remove(Path(dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete download record: %w", err)
	}
	m.logger.InfoWithFields("Download record deleted", map[string]interface{}{
		"path": Path(dir),
	})
	return nil
}

// Has reports whether the post was completed in an earlier pass
func (r *Record) Has(id string) bool {
	_, ok := r.ids[id]
	return ok
}

// Add marks a post complete
func (r *Record) Add(id string) {
	if r.add(id) {
		r.dirty = true
	}
}

func (r *Record) add(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	r.order = append(r.order, id)
	return true
}

// Len returns the number of completed posts
func (r *Record) Len() int { return len(r.order) }

// IDs returns the completed post ids in the order they were recorded
func (r *Record) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Path returns the file backing the record
func (r *Record) Path() string { return r.path }
