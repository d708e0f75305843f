package favorites

import "partysync/pkg/kemono"

// Diff returns the creators of fresh that need a sync: those missing from
// previous, and those whose marker differs from the recorded one by exact
// string comparison. A creator without any marker is always selected.
// Output keeps the order of fresh.
func Diff(fresh, previous []kemono.Creator) []kemono.Creator {
	known := make(map[string]kemono.Text, len(previous))
	for _, c := range previous {
		known[c.Key()] = c.Updated
	}

	var changed []kemono.Creator
	seen := make(map[string]struct{}, len(fresh))
	for _, c := range fresh {
		key := c.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		marker, ok := known[key]
		if !ok || c.Updated == "" || marker != c.Updated {
			changed = append(changed, c)
		}
	}
	return changed
}
