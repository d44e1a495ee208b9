package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/verdandi-labs/reverie/internal/enrich"
	"github.com/verdandi-labs/reverie/internal/request"
	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/provider/llm"
	llmmock "github.com/verdandi-labs/reverie/pkg/provider/llm/mock"
	storemock "github.com/verdandi-labs/reverie/pkg/store/mock"
)

type fixture struct {
	sessions *storemock.SessionStore
	data     *storemock.ContextDataStore
	messages *storemock.SystemMessageStore
	profiles *storemock.ProfileStore
	strategy *llmmock.Strategy
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions: &storemock.SessionStore{
			ActiveSessionResult: &model.Session{ID: 1, ProfileID: 1, IsActive: true},
		},
		data:     &storemock.ContextDataStore{},
		messages: &storemock.SystemMessageStore{},
		profiles: &storemock.ProfileStore{
			ActiveProfileResult: &model.Profile{ID: 1, Name: "default", PersonaName: "Reverie", IsActive: true},
		},
		strategy: &llmmock.Strategy{
			NameValue:      "mockllm",
			CompleteResult: &llm.Response{Content: "a fine answer"},
		},
	}

	registry := llm.NewRegistry(nil)
	registry.Register(f.strategy)
	if err := registry.SetDefault("mockllm"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	orchestrator := enrich.NewOrchestrator(nil, nil, nil)
	builder := request.NewBuilder(&storemock.FlagStore{}, nil)

	f.pipeline = New(f.sessions, f.data, f.messages, f.profiles,
		orchestrator, builder, registry, "mockllm")
	return f
}

// TestProcessInput_Success verifies the happy path: accepted turn with the
// model's text, persisted, and post-turn bookkeeping run.
func TestProcessInput_Success(t *testing.T) {
	f := newFixture(t)

	turn, err := f.pipeline.ProcessInput(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if !turn.Accepted || turn.Response != "a fine answer" {
		t.Errorf("turn = %+v, want accepted with response", turn)
	}
	if f.sessions.CallCount("CreateTurn") != 1 || f.sessions.CallCount("CompleteTurn") != 1 {
		t.Errorf("turn not persisted: create=%d complete=%d",
			f.sessions.CallCount("CreateTurn"), f.sessions.CallCount("CompleteTurn"))
	}
	if f.data.CallCount("ProcessPostTurn") != 1 {
		t.Errorf("post-turn processing not run")
	}
}

// TestProcessInput_NoActiveSession verifies the sentinel surfaces before
// any turn is created.
func TestProcessInput_NoActiveSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.ActiveSessionResult = nil

	_, err := f.pipeline.ProcessInput(context.Background(), "hello")
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
	if f.sessions.CallCount("CreateTurn") != 0 {
		t.Errorf("turn created without a session")
	}
}

// TestProcessInput_ProviderUnavailable verifies an empty registry fails
// fast.
func TestProcessInput_ProviderUnavailable(t *testing.T) {
	f := newFixture(t)
	f.pipeline.registry = llm.NewRegistry(nil)

	_, err := f.pipeline.ProcessInput(context.Background(), "hello")
	if !errors.Is(err, llm.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

// TestProcessInput_DispatchFailure verifies model errors are captured into
// the turn instead of surfacing.
func TestProcessInput_DispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.strategy.CompleteResult = nil
	f.strategy.CompleteErr = errors.New("model melted")

	turn, err := f.pipeline.ProcessInput(context.Background(), "hello")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if turn.Accepted {
		t.Errorf("failed turn marked accepted")
	}
	if !strings.Contains(turn.Response, "model melted") {
		t.Errorf("response = %q, want captured error text", turn.Response)
	}
}

// TestProcessInput_Cancelled verifies cancellation surfaces as an error
// rather than a captured turn.
func TestProcessInput_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.strategy.CompleteFunc = func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		cancel()
		return nil, ctx.Err()
	}

	_, err := f.pipeline.ProcessInput(ctx, "hello")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// TestProcessInput_OOCFraming verifies the "[ooc]" input prefix switches
// the final message framing.
func TestProcessInput_OOCFraming(t *testing.T) {
	f := newFixture(t)

	if _, err := f.pipeline.ProcessInput(context.Background(), "[ooc] what model is this?"); err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}

	reqs := f.strategy.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	final := reqs[0].Turns[len(reqs[0].Turns)-1].Text
	if !strings.HasPrefix(final, "[ooc] what model is this?") {
		t.Errorf("final message = %q, want ooc framing", final)
	}
}

type stripperFunc func(ctx context.Context, input, response string) (string, error)

func (f stripperFunc) Strip(ctx context.Context, input, response string) (string, error) {
	return f(ctx, input, response)
}

// TestProcessInput_StripsAcceptedTurn verifies the stripped projection is
// stored on the turn before it is persisted.
func TestProcessInput_StripsAcceptedTurn(t *testing.T) {
	f := newFixture(t)
	WithStripper(stripperFunc(func(_ context.Context, _, response string) (string, error) {
		return "terse: " + response, nil
	}))(f.pipeline)

	turn, err := f.pipeline.ProcessInput(context.Background(), "hello")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if turn.StrippedTurn != "terse: a fine answer" {
		t.Errorf("stripped = %q", turn.StrippedTurn)
	}
}

// TestProcessInput_StripFailureKeptLocal verifies a stripping error does not
// fail the turn.
func TestProcessInput_StripFailureKeptLocal(t *testing.T) {
	f := newFixture(t)
	WithStripper(stripperFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("stripper down")
	}))(f.pipeline)

	turn, err := f.pipeline.ProcessInput(context.Background(), "hello")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if !turn.Accepted || turn.StrippedTurn != "" {
		t.Errorf("turn = %+v, want accepted with empty projection", turn)
	}
}

// TestProcessInput_AppliesDefaults verifies model parameters reach the
// outgoing request.
func TestProcessInput_AppliesDefaults(t *testing.T) {
	f := newFixture(t)
	WithDefaults(Defaults{Model: "test-model", MaxTokens: 2048, Temperature: 0.7})(f.pipeline)

	if _, err := f.pipeline.ProcessInput(context.Background(), "hello"); err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	req := f.strategy.Requests()[0]
	if req.Model != "test-model" || req.MaxTokens != 2048 || req.Temperature != 0.7 {
		t.Errorf("request params = %+v", req)
	}
}
