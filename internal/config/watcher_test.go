package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const watcherYAML = `
storage:
  postgres_dsn: postgres://localhost/reverie
providers:
  llm: gemini
  gemini:
    api_key: test
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// TestWatcher_InitialLoad verifies the watcher loads the file at
// construction.
func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reverie.yaml")
	writeConfig(t, path, watcherYAML)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Providers.LLM; got != ProviderGemini {
		t.Errorf("current provider = %q, want gemini", got)
	}
}

// TestWatcher_InitialLoadInvalid verifies a broken initial file fails
// construction.
func TestWatcher_InitialLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reverie.yaml")
	writeConfig(t, path, "bogus_field: 1\n")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

// TestWatcher_ReloadOnChange verifies a content change triggers the
// callback with old and new configs.
func TestWatcher_ReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reverie.yaml")
	writeConfig(t, path, watcherYAML)

	var (
		mu      sync.Mutex
		gotOld  *Config
		gotNew  *Config
		changed = make(chan struct{})
	)
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		close(changed)
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Rewrite with a different provider; backdate-proof by changing mtime
	// via a fresh write.
	updated := `
storage:
  postgres_dsn: postgres://localhost/reverie
providers:
  llm: claude
  claude:
    api_key: test
`
	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, updated)

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld.Providers.LLM != ProviderGemini {
		t.Errorf("old provider = %q, want gemini", gotOld.Providers.LLM)
	}
	if gotNew.Providers.LLM != ProviderClaude {
		t.Errorf("new provider = %q, want claude", gotNew.Providers.LLM)
	}
	if w.Current().Providers.LLM != ProviderClaude {
		t.Errorf("Current() not updated after reload")
	}
}

// TestWatcher_KeepsOldOnInvalid verifies invalid rewrites do not clobber
// the current config.
func TestWatcher_KeepsOldOnInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reverie.yaml")
	writeConfig(t, path, watcherYAML)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "bogus_field: 1\n")
	time.Sleep(100 * time.Millisecond)

	if got := w.Current().Providers.LLM; got != ProviderGemini {
		t.Errorf("current provider = %q, want gemini preserved", got)
	}
}
