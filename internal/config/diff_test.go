package config

import "testing"

func baseConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// TestCompare_NoChange verifies identical configs produce an empty diff.
func TestCompare_NoChange(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	if d := Compare(old, new); d.Changed() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

// TestCompare_LogLevel verifies log level changes are tracked.
func TestCompare_LogLevel(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = LogDebug

	d := Compare(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("expected log level diff, got %+v", d)
	}
}

// TestCompare_Provider verifies provider switches are tracked.
func TestCompare_Provider(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Providers.LLM = ProviderClaude

	d := Compare(old, new)
	if !d.ProviderChanged || d.NewProvider != ProviderClaude {
		t.Errorf("expected provider diff, got %+v", d)
	}
}

// TestCompare_ContextSection verifies quota and perception changes are
// tracked as context changes.
func TestCompare_ContextSection(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Context.Semantic.TokenQuotas.Memory = 2000

	if d := Compare(old, new); !d.ContextChanged {
		t.Error("expected context diff for quota change")
	}

	old, new = baseConfig(), baseConfig()
	new.Context.Perception.Enabled = true
	if d := Compare(old, new); !d.ContextChanged {
		t.Error("expected context diff for perception toggle")
	}
}
