package adapter

import "sort"

// sourceFactories holds registered source constructors.
var sourceFactories []func() Source

// RegisterFactory registers a source constructor.
func RegisterFactory(factory func() Source) {
	sourceFactories = append(sourceFactories, factory)
}

// DetectSources returns the registered sources that have chat sessions for
// the given workspace, keyed by source ID.
func DetectSources(workspaceRoot string) (map[string]Source, error) {
	sources := make(map[string]Source)
	for _, factory := range sourceFactories {
		instance := factory()
		detected, err := instance.Detect(workspaceRoot)
		if err != nil || !detected {
			continue
		}
		sources[instance.ID()] = instance
	}
	return sources, nil
}

// RegisteredIDs lists the IDs of all registered sources, sorted.
func RegisteredIDs() []string {
	ids := make([]string, 0, len(sourceFactories))
	for _, factory := range sourceFactories {
		ids = append(ids, factory().ID())
	}
	sort.Strings(ids)
	return ids
}
