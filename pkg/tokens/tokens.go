// Package tokens provides token counting for quota enforcement.
//
// Semantic retrieval fills per-type token budgets, and every catalog record
// caches its display-text token length. Both paths count with a tiktoken
// encoding when one is available for the configured model and fall back to a
// character-based estimate otherwise, so a missing encoding never blocks the
// pipeline.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding approximates models tiktoken does not know (Claude,
// Gemini). Budgets are advisory, so an approximate count is acceptable.
const fallbackEncoding = "cl100k_base"

// Counter counts tokens for a single model. The zero value estimates by
// character count; use [NewCounter] to get encoding-backed counts.
//
// Counter is safe for concurrent use.
type Counter struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
	model    string
}

// encodingCache avoids re-reading BPE tables per Counter.
var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.Mutex
)

// NewCounter returns a Counter for the given model. Unknown models use the
// cl100k_base encoding; if even that cannot be loaded the Counter degrades
// to [Estimate] rather than failing.
func NewCounter(model string) *Counter {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return &Counter{encoding: enc, model: model}
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return &Counter{model: model}
		}
	}
	encodingCache[model] = enc
	return &Counter{encoding: enc, model: model}
}

// Count returns the token length of text.
func (c *Counter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return Estimate(text)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoding.Encode(text, nil, nil))
}

// CountAll returns the summed token length of all texts.
func (c *Counter) CountAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}

// Model returns the model this counter was built for.
func (c *Counter) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Estimate is the rough characters-per-token approximation used when no
// encoding is available. It never returns zero for non-empty text.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
