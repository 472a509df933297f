package config

import (
	"maps"
	"slices"
)

// Resolve flattens the config's module set into the load order: sorted
// by ID. Modules bind to each other lazily through the service registry
// at Start, so alphabetical order is safe and keeps loading
// deterministic across restarts.
func Resolve(cfg *Config) []string {
	return slices.Sorted(maps.Keys(cfg.Modules))
}
