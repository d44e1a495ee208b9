package config

// Diff describes what changed between two configs. Only fields that can be
// safely hot-reloaded are tracked; storage, vector, and credential changes
// require a restart and are deliberately ignored here.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProviderChanged reports a switch of the response-generation backend.
	ProviderChanged bool
	NewProvider     ProviderName

	// ContextChanged reports any change inside the context section
	// (quotas, perception, trigger words, history windows, caching).
	ContextChanged bool
}

// Changed reports whether the diff carries any change at all.
func (d Diff) Changed() bool {
	return d.LogLevelChanged || d.ProviderChanged || d.ContextChanged
}

// Compare returns what changed between old and new.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Providers.LLM != new.Providers.LLM {
		d.ProviderChanged = true
		d.NewProvider = new.Providers.LLM
	}
	if old.Context != new.Context {
		d.ContextChanged = true
	}

	return d
}
