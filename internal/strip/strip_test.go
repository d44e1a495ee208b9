package strip

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	llmmock "github.com/verdandi-labs/reverie/pkg/provider/llm/mock"
	storemock "github.com/verdandi-labs/reverie/pkg/store/mock"
)

func messagesWith(content string) *storemock.SystemMessageStore {
	return &storemock.SystemMessageStore{
		Technical: map[string]*model.SystemMessage{
			StripperMessageName: {Name: StripperMessageName, Content: content},
		},
	}
}

// TestStrip verifies the instruction message and both turn halves reach the
// model and the trimmed output comes back.
func TestStrip(t *testing.T) {
	strategy := &llmmock.Strategy{
		CompleteResult: &llm.Response{Content: "  She waves. \"Hello.\"  "},
	}
	s := New(strategy, messagesWith("Keep only actions and dialogue."))

	got, err := s.Strip(context.Background(), "hi", "*waves* Hello there, traveler!")
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	if got != `She waves. "Hello."` {
		t.Errorf("stripped = %q", got)
	}

	req := strategy.Requests()[0]
	if len(req.System) != 1 || req.System[0] != "Keep only actions and dialogue." {
		t.Errorf("system = %v", req.System)
	}
	text := req.Turns[0].Text
	if !strings.Contains(text, "hi") || !strings.Contains(text, "traveler") {
		t.Errorf("prompt = %q, want both turn halves", text)
	}
}

// TestStrip_NoInstruction verifies the pass is a no-op without the technical
// message.
func TestStrip_NoInstruction(t *testing.T) {
	strategy := &llmmock.Strategy{}
	s := New(strategy, &storemock.SystemMessageStore{})

	got, err := s.Strip(context.Background(), "hi", "hello")
	if err != nil {
		t.Fatalf("Strip: %v", err)
	}
	if got != "" || strategy.CallCount() != 0 {
		t.Errorf("got %q with %d calls, want no-op", got, strategy.CallCount())
	}
}

// TestStrip_ModelFailure surfaces the wrapped error.
func TestStrip_ModelFailure(t *testing.T) {
	strategy := &llmmock.Strategy{CompleteErr: errors.New("backend down")}
	s := New(strategy, messagesWith("instructions"))

	if _, err := s.Strip(context.Background(), "hi", "hello"); err == nil {
		t.Fatal("expected error")
	}
}

// TestStrip_Cancellation surfaces context errors as such.
func TestStrip_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	strategy := &llmmock.Strategy{
		CompleteFunc: func(ctx context.Context, _ *llm.Request) (*llm.Response, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	s := New(strategy, messagesWith("instructions"))

	_, err := s.Strip(ctx, "hi", "hello")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
