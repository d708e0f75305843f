package favorites

import (
	"fmt"
	"sync"

	"partysync/pkg/kemono"
	"partysync/pkg/storage"
)

// Snapshot is the last-seen roster of one source, stored as a JSON array of
// creators and rewritten as a whole.
type Snapshot struct {
	path     string
	creators []kemono.Creator
	index    map[string]int
	mu       sync.Mutex
}

// LoadSnapshot reads the snapshot at path. A missing file is an empty
// snapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	s := &Snapshot{path: path, index: make(map[string]int)}

	var creators []kemono.Creator
	found, err := storage.ReadJSON(path, &creators)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites snapshot: %w", err)
	}
	if !found {
		return s, nil
	}

	for _, c := range creators {
		s.upsert(c)
	}
	return s, nil
}

// Path returns the backing file
func (s *Snapshot) Path() string { return s.path }

// Len returns the number of recorded creators
func (s *Snapshot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.creators)
}

// Creators returns a copy of the recorded creators
func (s *Snapshot) Creators() []kemono.Creator {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]kemono.Creator, len(s.creators))
	copy(out, s.creators)
	return out
}

// Get looks a creator up by Creator.Key
func (s *Snapshot) Get(key string) (kemono.Creator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[key]
	if !ok {
		return kemono.Creator{}, false
	}
	return s.creators[i], true
}

// Upsert records c, replacing any entry with the same identity. A blank
// name does not overwrite a known one.
func (s *Snapshot) Upsert(c kemono.Creator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(c)
}

func (s *Snapshot) upsert(c kemono.Creator) {
	key := c.Key()
	if i, ok := s.index[key]; ok {
		if c.Name == "" {
			c.Name = s.creators[i].Name
		}
		s.creators[i] = c
		return
	}
	s.index[key] = len(s.creators)
	s.creators = append(s.creators, c)
}

// Save writes the snapshot atomically
func (s *Snapshot) Save() error {
	creators := s.Creators()
	if err := storage.WriteJSONAtomic(s.path, creators); err != nil {
		return fmt.Errorf("failed to save favorites snapshot: %w", err)
	}
	return nil
}
