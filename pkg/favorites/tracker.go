package favorites

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"partysync/pkg/kemono"
	"partysync/pkg/logger"
)

// RosterSource is the part of the API client the tracker needs
type RosterSource interface {
	FetchFavorites(ctx context.Context) ([]kemono.Creator, error)
	FetchProfile(ctx context.Context, service, id string) (*kemono.Profile, error)
}

// Tracker decides which favorited creators changed since the last run
type Tracker struct {
	source      RosterSource
	snapshot    *Snapshot
	concurrency int
	logger      logger.Logger
}

// NewTracker creates a tracker comparing source's roster to snapshot
func NewTracker(source RosterSource, snapshot *Snapshot, concurrency int, log logger.Logger) *Tracker {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Tracker{
		source:      source,
		snapshot:    snapshot,
		concurrency: concurrency,
		logger:      log.WithField("component", "favorites"),
	}
}

// Changed fetches the roster and returns the creators needing a sync:
// roster entries selected by Diff, followed by snapshot entries that left
// the roster but whose profile reports a new marker.
func (t *Tracker) Changed(ctx context.Context) ([]kemono.Creator, error) {
	fresh, err := t.source.FetchFavorites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roster: %w", err)
	}

	fresh = t.fillMissingMarkers(ctx, fresh)
	changed := Diff(fresh, t.snapshot.Creators())
	reconciled := t.reconcile(ctx, fresh)

	t.logger.InfoWithFields("Roster compared with snapshot", map[string]interface{}{
		"roster":     len(fresh),
		"snapshot":   t.snapshot.Len(),
		"changed":    len(changed),
		"reconciled": len(reconciled),
	})

	return append(changed, reconciled...), nil
}

// fillMissingMarkers asks the profile endpoint for creators whose roster
// entry carries no marker.
func (t *Tracker) fillMissingMarkers(ctx context.Context, fresh []kemono.Creator) []kemono.Creator {
	var blank []int
	for i, c := range fresh {
		if c.Updated == "" {
			blank = append(blank, i)
		}
	}
	if len(blank) == 0 {
		return fresh
	}

	targets := make([]kemono.Creator, len(blank))
	for j, i := range blank {
		targets[j] = fresh[i]
	}
	profiles := t.lookupProfiles(ctx, targets)

	out := make([]kemono.Creator, len(fresh))
	copy(out, fresh)
	for j, i := range blank {
		if p := profiles[j]; p != nil {
			out[i].Updated = p.Updated
		}
	}
	return out
}

// reconcile re-checks snapshot entries that are absent from the roster
func (t *Tracker) reconcile(ctx context.Context, fresh []kemono.Creator) []kemono.Creator {
	inRoster := make(map[string]struct{}, len(fresh))
	for _, c := range fresh {
		inRoster[c.Key()] = struct{}{}
	}

	var missing []kemono.Creator
	for _, c := range t.snapshot.Creators() {
		if _, ok := inRoster[c.Key()]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	profiles := t.lookupProfiles(ctx, missing)

	var updated []kemono.Creator
	for i, prev := range missing {
		p := profiles[i]
		if p == nil || p.Updated == "" || p.Updated == prev.Updated {
			continue
		}
		c := p.Creator()
		if c.Name == "" {
			c.Name = prev.Name
		}
		updated = append(updated, c)
	}
	return updated
}

// lookupProfiles fetches profiles with bounded parallelism. Failed lookups leave a
// nil entry.
func (t *Tracker) lookupProfiles(ctx context.Context, creators []kemono.Creator) []*kemono.Profile {
	profiles := make([]*kemono.Profile, len(creators))

	var g errgroup.Group
	g.SetLimit(t.concurrency)
	for i, c := range creators {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			p, err := t.source.FetchProfile(ctx, c.Service, string(c.ID))
			if err != nil {
				t.logger.WarnWithFields("Profile lookup failed", map[string]interface{}{
					"creator": c.Key(),
					"error":   err.Error(),
				})
				return nil
			}
			profiles[i] = p
			return nil
		})
	}
	g.Wait()

	return profiles
}
