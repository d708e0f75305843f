package favorites

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partysync/pkg/kemono"
	"partysync/pkg/logger"
)

func creator(service, id, marker string) kemono.Creator {
	return kemono.Creator{ID: kemono.Text(id), Name: "name-" + id, Service: service, Updated: kemono.Text(marker)}
}

func keys(cs []kemono.Creator) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Key()
	}
	return out
}

func TestDiff(t *testing.T) {
	previous := []kemono.Creator{
		creator("patreon", "1", "2024-01-01"),
		creator("patreon", "2", "2024-01-01"),
		creator("fanbox", "1", "2024-01-01"),
	}
	fresh := []kemono.Creator{
		creator("patreon", "1", "2024-01-01"),
		creator("patreon", "2", "2024-02-01"),
		creator("fanbox", "1", "2024-01-01"),
		creator("fanbox", "9", "2024-01-01"),
		creator("patreon", "2", "2024-02-01"),
	}

	got := keys(Diff(fresh, previous))
	want := []string{"patreon:2", "fanbox:9"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffIsExactStringComparison(t *testing.T) {
	previous := []kemono.Creator{creator("patreon", "1", "2024-01-01T00:00:00")}
	fresh := []kemono.Creator{creator("patreon", "1", "2024-01-01T00:00:00.000")}
	assert.Len(t, Diff(fresh, previous), 1, "equivalent timestamps with different text still differ")

	assert.Len(t, Diff([]kemono.Creator{creator("patreon", "1", "")}, []kemono.Creator{creator("patreon", "1", "")}), 1,
		"creators without a marker are always selected")
}

func TestDiffEmptyInputs(t *testing.T) {
	assert.Empty(t, Diff(nil, []kemono.Creator{creator("a", "1", "x")}))

	fresh := []kemono.Creator{creator("a", "1", "x"), creator("a", "2", "y")}
	if diff := cmp.Diff(fresh, Diff(fresh, nil)); diff != "" {
		t.Errorf("first run should select everything (-want +got):\n%s", diff)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Config", "kemono_favorites.json")

	snap, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Zero(t, snap.Len())

	snap.Upsert(creator("patreon", "1", "m1"))
	snap.Upsert(creator("fanbox", "2", "m1"))
	snap.Upsert(kemono.Creator{ID: "1", Service: "patreon", Updated: "m2"})
	require.NoError(t, snap.Save())

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	want := []kemono.Creator{
		{ID: "1", Name: "name-1", Service: "patreon", Updated: "m2"},
		creator("fanbox", "2", "m1"),
	}
	if diff := cmp.Diff(want, loaded.Creators()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	c, ok := loaded.Get("patreon:1")
	require.True(t, ok)
	assert.Equal(t, kemono.Text("m2"), c.Updated)
}

type fakeRoster struct {
	roster   []kemono.Creator
	err      error
	profiles map[string]*kemono.Profile

	mu     sync.Mutex
	looked []string
}

func (f *fakeRoster) FetchFavorites(context.Context) ([]kemono.Creator, error) {
	return f.roster, f.err
}

func (f *fakeRoster) FetchProfile(_ context.Context, service, id string) (*kemono.Profile, error) {
	key := service + ":" + id
	f.mu.Lock()
	f.looked = append(f.looked, key)
	f.mu.Unlock()
	if p, ok := f.profiles[key]; ok {
		return p, nil
	}
	return nil, errors.New("not found")
}

func TestTrackerChanged(t *testing.T) {
	snap, err := LoadSnapshot(filepath.Join(t.TempDir(), "snap.json"))
	require.NoError(t, err)
	snap.Upsert(creator("patreon", "1", "old"))
	snap.Upsert(creator("patreon", "2", "same"))
	snap.Upsert(creator("fanbox", "3", "old"))
	snap.Upsert(creator("fanbox", "4", "old"))

	src := &fakeRoster{
		roster: []kemono.Creator{
			creator("patreon", "1", "new"),
			creator("patreon", "2", "same"),
			creator("gumroad", "5", ""),
		},
		profiles: map[string]*kemono.Profile{
			"fanbox:3":  {ID: "3", Service: "fanbox", Updated: "newer"},
			"fanbox:4":  {ID: "4", Service: "fanbox", Updated: "old"},
			"gumroad:5": {ID: "5", Service: "gumroad", Updated: "p5"},
		},
	}

	changed, err := NewTracker(src, snap, 2, logger.NewTestLogger()).Changed(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"patreon:1", "gumroad:5", "fanbox:3"}, keys(changed))
	assert.Equal(t, kemono.Text("p5"), changed[1].Updated, "profile marker fills a blank roster marker")
	assert.Equal(t, "name-3", changed[2].Name, "reconciled creators keep their known name")
	assert.ElementsMatch(t, []string{"gumroad:5", "fanbox:3", "fanbox:4"}, src.looked)
}

func TestTrackerRosterFailure(t *testing.T) {
	snap, err := LoadSnapshot(filepath.Join(t.TempDir(), "snap.json"))
	require.NoError(t, err)

	_, err = NewTracker(&fakeRoster{err: errors.New("unauthorized")}, snap, 1, nil).Changed(context.Background())
	assert.Error(t, err)
}
