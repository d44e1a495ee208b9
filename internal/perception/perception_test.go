package perception

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	llmmock "github.com/verdandi-labs/reverie/pkg/provider/llm/mock"
	storemock "github.com/verdandi-labs/reverie/pkg/store/mock"
)

func perceptionMessages(names ...string) *storemock.SystemMessageStore {
	msgs := make([]model.SystemMessage, len(names))
	for i, n := range names {
		msgs[i] = model.SystemMessage{
			ID:       int64(i + 1),
			Name:     n,
			Type:     model.SystemPerception,
			Content:  "Annotate the input.",
			IsActive: true,
		}
	}
	return &storemock.SystemMessageStore{PerceptionsResult: msgs}
}

// TestParseRecords covers the array-extraction and item-skipping rules.
func TestParseRecords(t *testing.T) {
	tests := []struct {
		name       string
		completion string
		want       int
	}{
		{
			name:       "plain array",
			completion: `[{"property":"a:true","explanation":"x"}]`,
			want:       1,
		},
		{
			name:       "array wrapped in prose",
			completion: "Here you go:\n```json\n[{\"property\":\"a:true\",\"explanation\":\"x\"}]\n```\nDone.",
			want:       1,
		},
		{
			name:       "malformed items skipped",
			completion: `[{"property":"ok:true"}, {"explanation":"no property"}, 42]`,
			want:       1,
		},
		{
			name:       "malformed array",
			completion: `[{"property": unquoted}]`,
			want:       0,
		},
		{
			name:       "no array at all",
			completion: "I could not find anything noteworthy.",
			want:       0,
		},
		{
			name:       "empty array",
			completion: "[]",
			want:       0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRecords(tt.completion); len(got) != tt.want {
				t.Errorf("ParseRecords(%q) = %v, want %d records", tt.completion, got, tt.want)
			}
		})
	}
}

// TestAnalyze_OneCallPerMessage verifies each active message drives one
// model call and results collate in message order.
func TestAnalyze_OneCallPerMessage(t *testing.T) {
	strategy := &llmmock.Strategy{
		CompleteFunc: func(_ context.Context, req *llm.Request) (*llm.Response, error) {
			// Echo the system instruction back as the property so the test
			// can tell the passes apart.
			return &llm.Response{Content: `[{"property":"seen:true","explanation":"e"}]`}, nil
		},
	}
	a := New(strategy, perceptionMessages("mood", "intent"))

	records, err := a.Analyze(context.Background(), "earlier response", "current input")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %v, want 2", records)
	}
	if strategy.CallCount() != 2 {
		t.Errorf("model calls = %d, want 2", strategy.CallCount())
	}
	for _, req := range strategy.Requests() {
		if len(req.Turns) != 1 || !strings.Contains(req.Turns[0].Text, "current input") {
			t.Errorf("user turn missing input: %v", req.Turns)
		}
		if !strings.Contains(req.Turns[0].Text, "earlier response") {
			t.Errorf("user turn missing previous response: %v", req.Turns)
		}
	}
}

// TestAnalyze_EmptyInput verifies blank input short-circuits without calls.
func TestAnalyze_EmptyInput(t *testing.T) {
	strategy := &llmmock.Strategy{}
	a := New(strategy, perceptionMessages("mood"))

	records, err := a.Analyze(context.Background(), "", "   ")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(records) != 0 || strategy.CallCount() != 0 {
		t.Errorf("expected no calls for blank input")
	}
}

// TestAnalyze_NoMessages verifies zero active messages yield an empty,
// non-nil result.
func TestAnalyze_NoMessages(t *testing.T) {
	a := New(&llmmock.Strategy{}, &storemock.SystemMessageStore{})

	records, err := a.Analyze(context.Background(), "", "input")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("records = %v, want empty", records)
	}
}

// TestAnalyze_PartialFailure verifies one failing pass does not suppress
// the others.
func TestAnalyze_PartialFailure(t *testing.T) {
	var calls atomic.Int64
	strategy := &llmmock.Strategy{
		CompleteFunc: func(_ context.Context, req *llm.Request) (*llm.Response, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("backend down")
			}
			return &llm.Response{Content: `[{"property":"ok:true","explanation":"e"}]`}, nil
		},
	}
	a := New(strategy, perceptionMessages("a", "b"), WithParallelism(1))

	records, err := a.Analyze(context.Background(), "", "input")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %v, want 1 from the surviving pass", records)
	}
}

// TestAnalyze_Cancellation verifies a cancelled context surfaces.
func TestAnalyze_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	strategy := &llmmock.Strategy{
		CompleteFunc: func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	a := New(strategy, perceptionMessages("a", "b"), WithParallelism(1))

	_, err := a.Analyze(ctx, "", "input")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// TestAnalyze_BoundedParallelism verifies no more than the configured
// number of calls run at once.
func TestAnalyze_BoundedParallelism(t *testing.T) {
	var inFlight, peak atomic.Int64
	strategy := &llmmock.Strategy{
		CompleteFunc: func(_ context.Context, req *llm.Request) (*llm.Response, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			defer inFlight.Add(-1)
			return &llm.Response{Content: "[]"}, nil
		},
	}
	a := New(strategy, perceptionMessages("a", "b", "c", "d", "e", "f"), WithParallelism(2))

	if _, err := a.Analyze(context.Background(), "", "input"); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("peak parallelism = %d, want <= 2", peak.Load())
	}
}
