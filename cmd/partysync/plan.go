package main

import (
	"fmt"
	"strings"

	"partysync/pkg/config"
	"partysync/pkg/kemono"
	"partysync/pkg/syncer"
)

// sourcePlan is one driver run: a source and the creators to cover there
type sourcePlan struct {
	Source    config.SourceConfig
	Selection syncer.Selection
	// Manual is set when creators were named explicitly; the roster and
	// its session are not needed then
	Manual bool
}

// planRuns turns --creator references into per-source selections. Without
// references every enabled source syncs its favorites. References given as
// service:id belong to defaultSource, or to the first enabled source.
func planRuns(cfg *config.Config, refs []string, defaultSource string) ([]sourcePlan, error) {
	if len(refs) == 0 {
		var plans []sourcePlan
		for _, src := range cfg.EnabledSources() {
			plans = append(plans, sourcePlan{Source: src, Selection: syncer.Favorites{}})
		}
		if len(plans) == 0 {
			return nil, fmt.Errorf("no source is enabled")
		}
		return plans, nil
	}

	fallback := strings.ToLower(strings.TrimSpace(defaultSource))
	if fallback == "" {
		enabled := cfg.EnabledSources()
		if len(enabled) == 0 {
			return nil, fmt.Errorf("no source is enabled, pass --source")
		}
		fallback = enabled[0].Name
	}

	var order []string
	grouped := make(map[string][]kemono.Creator)
	for _, raw := range refs {
		ref, err := kemono.ParseCreatorRef(raw)
		if err != nil {
			return nil, err
		}
		name := ref.Source
		if name == "" {
			name = fallback
		}
		if _, ok := grouped[name]; !ok {
			order = append(order, name)
		}
		grouped[name] = append(grouped[name], ref.Creator())
	}

	plans := make([]sourcePlan, 0, len(order))
	for _, name := range order {
		src, ok := cfg.Source(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}

		var sel syncer.Selection = syncer.CreatorList{Creators: grouped[name]}
		if len(grouped[name]) == 1 {
			sel = syncer.SingleCreator{Creator: grouped[name][0]}
		}
		plans = append(plans, sourcePlan{Source: src, Selection: sel, Manual: true})
	}
	return plans, nil
}
