package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Unknown provider names are tolerated at runtime (the registry falls
	// back to the default with a warning), so validation only warns.
	if cfg.Providers.LLM != "" && !cfg.Providers.LLM.IsValid() {
		slog.Warn("unknown llm provider name, runtime will fall back to default",
			"name", cfg.Providers.LLM,
			"known", []ProviderName{ProviderGemini, ProviderClaude},
		)
	}

	switch cfg.Providers.LLM {
	case ProviderGemini:
		if cfg.Providers.Gemini.APIKey == "" {
			errs = append(errs, fmt.Errorf("providers.gemini.api_key is required when providers.llm is %q", ProviderGemini))
		}
	case ProviderClaude:
		if cfg.Providers.Claude.APIKey == "" {
			errs = append(errs, fmt.Errorf("providers.claude.api_key is required when providers.llm is %q", ProviderClaude))
		}
	}

	if cfg.Storage.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("storage.postgres_dsn is required"))
	}

	if cfg.Vector.Port < 0 || cfg.Vector.Port > 65535 {
		errs = append(errs, fmt.Errorf("vector.port %d is out of range", cfg.Vector.Port))
	}
	if cfg.Vector.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("vector.dimensions %d must be positive", cfg.Vector.Dimensions))
	}

	q := cfg.Context.Semantic.TokenQuotas
	for _, quota := range []struct {
		key   string
		value int
	}{
		{"quote", q.Quote},
		{"memory", q.Memory},
		{"insight", q.Insight},
		{"persona_voice_sample", q.PersonaVoiceSample},
	} {
		if quota.value < 0 {
			errs = append(errs, fmt.Errorf("context.semantic.token_quotas.%s %d must not be negative", quota.key, quota.value))
		}
	}

	if cfg.Context.Perception.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("context.perception.parallelism %d must not be negative", cfg.Context.Perception.Parallelism))
	}
	if cfg.Context.History.RecentTurnsCount < 0 {
		errs = append(errs, fmt.Errorf("context.history.recent_turns_count %d must not be negative", cfg.Context.History.RecentTurnsCount))
	}
	if cfg.Context.History.MaxDialogueLogTurns < 0 {
		errs = append(errs, fmt.Errorf("context.history.max_dialogue_log_turns %d must not be negative", cfg.Context.History.MaxDialogueLogTurns))
	}
	if cfg.Context.Caching.MinContentLength < 0 {
		errs = append(errs, fmt.Errorf("context.caching.min_content_length %d must not be negative", cfg.Context.Caching.MinContentLength))
	}

	// Semantic retrieval without an embeddings key can never run.
	quotasOn := q.Quote > 0 || q.Memory > 0 || q.Insight > 0 || q.PersonaVoiceSample > 0
	if quotasOn && cfg.Providers.Embeddings.APIKey == "" {
		slog.Warn("semantic token quotas are set but providers.embeddings.api_key is empty; semantic retrieval will be skipped")
	}

	return errors.Join(errs...)
}
