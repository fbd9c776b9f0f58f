package core

import (
	"fmt"
	"regexp"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidatePlugins enforces basic plugin contract invariants at startup.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool)
	for _, plugin := range plugins {
		id := plugin.ID()
		manifest := plugin.Manifest()
		if id == "" {
			return fmt.Errorf("plugin id is empty")
		}
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern.String())
		}
		if manifest.PluginID != id {
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true
	}
	return nil
}

// FilterPlugins keeps the compiled plugins whose config section is present,
// or all of them when all is set.
func FilterPlugins(compiled []Plugin, enabled map[string]bool, all bool) []Plugin {
	out := make([]Plugin, 0, len(compiled))
	for _, plugin := range compiled {
		if all || enabled[plugin.ID()] {
			out = append(out, plugin)
		}
	}
	return out
}

// ValidateEnabledPlugins fails when config enables a plugin that is not compiled in.
func ValidateEnabledPlugins(compiled []Plugin, enabled map[string]bool, all bool) error {
	if all {
		return nil
	}
	known := make(map[string]bool, len(compiled))
	for _, plugin := range compiled {
		known[plugin.ID()] = true
	}
	for id, on := range enabled {
		if on && !known[id] {
			return fmt.Errorf("plugin %q is configured but not compiled in", id)
		}
	}
	return nil
}
