package syncer

import (
	"context"
	"fmt"

	"partysync/pkg/favorites"
	"partysync/pkg/kemono"
)

// Selection says which creators a run covers. It is one of Favorites,
// SingleCreator or CreatorList.
type Selection interface {
	isSelection()
}

// Favorites selects the roster entries that changed since the last run
type Favorites struct{}

// SingleCreator selects one creator regardless of the roster
type SingleCreator struct {
	Creator kemono.Creator
}

// CreatorList selects the given creators regardless of the roster
type CreatorList struct {
	Creators []kemono.Creator
}

func (Favorites) isSelection()     {}
func (SingleCreator) isSelection() {}
func (CreatorList) isSelection()   {}

// resolve normalizes a selection into an ordered, duplicate-free list
func (d *Driver) resolve(ctx context.Context, sel Selection) ([]kemono.Creator, error) {
	switch s := sel.(type) {
	case Favorites:
		tracker := favorites.NewTracker(d.api, d.snapshot, d.cfg.Download.ProfileConcurrency, d.logger)
		changed, err := tracker.Changed(ctx)
		if err != nil {
			return nil, err
		}
		return dedupe(changed), nil
	case SingleCreator:
		return dedupe([]kemono.Creator{s.Creator}), nil
	case CreatorList:
		return dedupe(s.Creators), nil
	case nil:
		return nil, fmt.Errorf("no creator selection given")
	default:
		return nil, fmt.Errorf("unsupported creator selection %T", sel)
	}
}

func dedupe(creators []kemono.Creator) []kemono.Creator {
	seen := make(map[string]struct{}, len(creators))
	out := make([]kemono.Creator, 0, len(creators))
	for _, c := range creators {
		if c.ID == "" || c.Service == "" {
			continue
		}
		if _, ok := seen[c.Key()]; ok {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}
