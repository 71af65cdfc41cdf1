package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; backend adapter
// changes require a restart because adapters hold live connections and
// loaded models.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PoliciesChanged lists the capability names whose routing policy
	// (order, fallback, or timeout) differs.
	PoliciesChanged []string

	SystemPromptChanged bool
	LoadedTermsChanged  bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || len(d.PoliciesChanged) > 0 ||
		d.SystemPromptChanged || d.LoadedTermsChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.SystemPrompt != new.Server.SystemPrompt {
		d.SystemPromptChanged = true
	}

	if !slices.Equal(old.Research.LoadedTerms, new.Research.LoadedTerms) {
		d.LoadedTermsChanged = true
	}

	// A policy counts as changed when it was added, removed, or any of its
	// fields differ.
	for name, oldP := range old.Policies {
		newP, ok := new.Policies[name]
		if !ok || !policiesEqual(oldP, newP) {
			d.PoliciesChanged = append(d.PoliciesChanged, name)
		}
	}
	for name := range new.Policies {
		if _, ok := old.Policies[name]; !ok {
			d.PoliciesChanged = append(d.PoliciesChanged, name)
		}
	}
	slices.Sort(d.PoliciesChanged)

	return d
}

func policiesEqual(a, b PolicyConfig) bool {
	return slices.Equal(a.Order, b.Order) &&
		a.FallbackEnabled() == b.FallbackEnabled() &&
		a.Timeout == b.Timeout
}
