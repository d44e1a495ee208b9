package tokens

import "testing"

// TestEstimate verifies the character-based fallback.
func TestEstimate(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"ab", 1},
		{"abcd", 1},
		{"abcdefgh", 2},
	}
	for _, tc := range cases {
		if got := Estimate(tc.text); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

// TestCounter_ZeroValueFallsBack verifies a nil or zero Counter estimates
// instead of panicking.
func TestCounter_ZeroValueFallsBack(t *testing.T) {
	var nilCounter *Counter
	if got := nilCounter.Count("abcdefgh"); got != 2 {
		t.Errorf("nil counter Count = %d, want 2", got)
	}

	zero := &Counter{}
	if got := zero.Count("abcdefgh"); got != 2 {
		t.Errorf("zero counter Count = %d, want 2", got)
	}
}

// TestCounter_CountAll verifies summing across texts.
func TestCounter_CountAll(t *testing.T) {
	c := &Counter{}
	got := c.CountAll([]string{"abcd", "abcdefgh", ""})
	if got != 3 {
		t.Errorf("CountAll = %d, want 3", got)
	}
}

// TestNewCounter_UnknownModel verifies unknown models still produce a
// working counter.
func TestNewCounter_UnknownModel(t *testing.T) {
	c := NewCounter("some-future-model")
	if c == nil {
		t.Fatal("NewCounter returned nil")
	}
	if got := c.Count("hello world"); got <= 0 {
		t.Errorf("Count = %d, want > 0", got)
	}
	if c.Model() != "some-future-model" {
		t.Errorf("Model() = %q", c.Model())
	}
}
