// Package bot provides the console chat front for Reverie. It owns a
// line-oriented read loop, routes admin directives to registered handlers,
// and feeds every other line through the turn pipeline. One pipeline run is
// tracked per chat so a later /cancel directive can abort it.
package bot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/verdandi-labs/reverie/internal/pipeline"
	"github.com/verdandi-labs/reverie/pkg/model"
	"github.com/verdandi-labs/reverie/pkg/store"
)

// chatID identifies the single console chat in the run registry.
const chatID = "console"

// Pipeline is the slice of the turn pipeline the bot depends on.
type Pipeline interface {
	ProcessInput(ctx context.Context, input string) (*model.Turn, error)
}

var _ Pipeline = (*pipeline.Pipeline)(nil)

// directive is one registered admin command.
type directive struct {
	usage   string
	summary string
	run     func(ctx context.Context, args string)
}

// Bot reads lines from in, dispatches directives, and runs plain input
// through the pipeline, writing all output to out.
type Bot struct {
	in  io.Reader
	out io.Writer

	pipe     Pipeline
	sessions store.SessionStore
	profiles store.ProfileStore
	runs     *pipeline.Runs

	directives map[string]directive
	order      []string

	outMu  sync.Mutex
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Option configures a [Bot].
type Option func(*Bot)

// WithLogger sets the bot's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// New creates a Bot and registers the built-in directives.
func New(
	pipe Pipeline,
	sessions store.SessionStore,
	profiles store.ProfileStore,
	runs *pipeline.Runs,
	in io.Reader,
	out io.Writer,
	opts ...Option,
) *Bot {
	b := &Bot{
		in:         in,
		out:        out,
		pipe:       pipe,
		sessions:   sessions,
		profiles:   profiles,
		runs:       runs,
		directives: make(map[string]directive),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.register("/status", "/status", "show the active profile, session, and run state", b.cmdStatus)
	b.register("/new", "/new [name]", "start a new session and make it active", b.cmdNew)
	b.register("/restart", "/restart", "abort the current run and start a fresh session", b.cmdRestart)
	b.register("/sessions", "/sessions", "list sessions, newest first", b.cmdSessions)
	b.register("/activate", "/activate <number>", "activate a session by its list number", b.cmdActivate)
	b.register("/cancel", "/cancel", "cancel the in-flight run", b.cmdCancel)
	b.register("/help", "/help", "list available directives", b.cmdHelp)
	return b
}

func (b *Bot) register(name, usage, summary string, run func(context.Context, string)) {
	b.directives[name] = directive{usage: usage, summary: summary, run: run}
	b.order = append(b.order, name)
}

// Run reads input until EOF or cancellation. Directive lines are handled
// inline; plain input is dispatched to the pipeline on its own goroutine so
// the loop stays responsive to /cancel.
func (b *Bot) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(b.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			b.dispatch(ctx, line)
			continue
		}

		b.wg.Add(1)
		go func(input string) {
			defer b.wg.Done()
			b.processInput(ctx, input)
		}(line)
	}

	b.wg.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("bot: read input: %w", err)
	}
	return nil
}

// dispatch routes a directive line to its handler.
func (b *Bot) dispatch(ctx context.Context, line string) {
	name, args, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)

	d, ok := b.directives[name]
	if !ok {
		b.printf("Unknown directive %s. Try /help.", name)
		return
	}
	d.run(ctx, strings.TrimSpace(args))
}

// processInput runs one pipeline turn under the chat's cancellation source.
func (b *Bot) processInput(ctx context.Context, input string) {
	runCtx, done := b.runs.Start(ctx, chatID)
	defer done()

	turn, err := b.pipe.ProcessInput(runCtx, input)
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		b.printf("(run cancelled)")
	case errors.Is(err, pipeline.ErrNoActiveSession):
		b.printf("No active session. Start one with /new.")
	case err != nil:
		b.logger.Error("bot: pipeline run", "error", err)
		b.printf("error: %v", err)
	case turn.Accepted:
		b.printf("%s", turn.Response)
	default:
		b.printf("(turn failed) %s", turn.Response)
	}
}

func (b *Bot) cmdStatus(ctx context.Context, _ string) {
	profile, err := b.profiles.ActiveProfile(ctx)
	if err != nil {
		b.printf("error: load profile: %v", err)
		return
	}
	session, err := b.sessions.ActiveSession(ctx)
	if err != nil {
		b.printf("error: load session: %v", err)
		return
	}

	b.printf("Profile: %s (persona %s)", profile.Name, profile.PersonaName)
	if session == nil {
		b.printf("Session: none active")
	} else {
		b.printf("Session: %s (#%d)", session.Name, session.ID)
	}
	if n := b.runs.ActiveCount(); n > 0 {
		b.printf("Runs in flight: %d", n)
	} else {
		b.printf("Idle.")
	}
}

func (b *Bot) cmdNew(ctx context.Context, args string) {
	name := args
	if name == "" {
		name = "session " + time.Now().Format("2006-01-02 15:04")
	}
	session, err := b.sessions.CreateSession(ctx, name)
	if err != nil {
		b.printf("error: create session: %v", err)
		return
	}
	b.printf("Started session %s (#%d).", session.Name, session.ID)
}

func (b *Bot) cmdRestart(ctx context.Context, _ string) {
	if b.runs.Cancel(chatID) {
		b.printf("(run cancelled)")
	}
	name := "session " + time.Now().Format("2006-01-02 15:04")
	if current, err := b.sessions.ActiveSession(ctx); err == nil && current != nil {
		name = current.Name
	}
	session, err := b.sessions.CreateSession(ctx, name)
	if err != nil {
		b.printf("error: create session: %v", err)
		return
	}
	b.printf("Restarted into session %s (#%d).", session.Name, session.ID)
}

func (b *Bot) cmdSessions(ctx context.Context, _ string) {
	sessions, err := b.sessions.Sessions(ctx)
	if err != nil {
		b.printf("error: list sessions: %v", err)
		return
	}
	if len(sessions) == 0 {
		b.printf("No sessions yet. Start one with /new.")
		return
	}
	for i, s := range sessions {
		marker := " "
		if s.IsActive {
			marker = "*"
		}
		b.printf("%s %d. %s (#%d, %s)", marker, i+1, s.Name, s.ID,
			s.CreatedAt.Format("2006-01-02"))
	}
}

func (b *Bot) cmdActivate(ctx context.Context, args string) {
	n, err := strconv.Atoi(args)
	if err != nil {
		b.printf("Usage: /activate <number> (see /sessions).")
		return
	}
	sessions, err := b.sessions.Sessions(ctx)
	if err != nil {
		b.printf("error: list sessions: %v", err)
		return
	}
	if n < 1 || n > len(sessions) {
		b.printf("No session %d; /sessions lists %d.", n, len(sessions))
		return
	}

	target := sessions[n-1]
	if err := b.sessions.ActivateSession(ctx, target.ID); err != nil {
		b.printf("error: activate session: %v", err)
		return
	}
	b.printf("Activated session %s (#%d).", target.Name, target.ID)
}

func (b *Bot) cmdCancel(_ context.Context, _ string) {
	if b.runs.Cancel(chatID) {
		b.printf("Cancelled the current run.")
	} else {
		b.printf("Nothing is running.")
	}
}

func (b *Bot) cmdHelp(_ context.Context, _ string) {
	for _, name := range b.order {
		d := b.directives[name]
		b.printf("%-22s %s", d.usage, d.summary)
	}
}

// printf writes one output line. Pipeline goroutines and the read loop share
// the writer.
func (b *Bot) printf(format string, args ...any) {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	fmt.Fprintf(b.out, format+"\n", args...)
}
