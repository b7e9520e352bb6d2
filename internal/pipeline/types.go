package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/bowerhall/skim/internal/extraction"
	"github.com/bowerhall/skim/internal/page"
	"github.com/bowerhall/skim/internal/prompts"
	"github.com/bowerhall/skim/internal/session"
)

const DefaultEarlyDelay = 3 * time.Second

var (
	ErrNoPage    = errors.New("no page loaded")
	ErrNoContent = errors.New("page has no text")
	ErrStopped   = errors.New("orchestrator stopped")
)

type Kind int

const (
	KindStatus Kind = iota
	KindSummary
	KindError
	KindNoContent
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindSummary:
		return "summary"
	case KindError:
		return "error"
	case KindNoContent:
		return "no-content"
	default:
		return "unknown"
	}
}

// Update is one change to what the user sees. Final marks the last update
// of a session.
type Update struct {
	Session    session.ID
	Generation uint64
	URL        string
	Kind       Kind
	Text       string
	Final      bool
	At         time.Time
}

// Publisher receives updates on the control loop and must not block.
type Publisher interface {
	Publish(u Update)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
	Ask(ctx context.Context, text, question string) (string, error)
	Enabled() bool
}

// Waiter lets a caller block until a matching update is published.
type Waiter interface {
	Start(accept func(Update) bool) string
	Wait(ctx context.Context, id string) (Update, error)
	Cancel(id string)
}

type Options struct {
	EarlyDelay time.Duration
	Policy     extraction.Policy
	Messages   prompts.Messages
	// Describe renders a summarization error for the user.
	Describe func(prompts.Messages, error) string
}

type Orchestrator struct {
	sessions   *session.Manager
	loader     page.Loader
	evaluator  page.Evaluator
	summarizer Summarizer
	publisher  Publisher
	opts       Options

	inbox chan func()
	done  chan struct{}

	// loop-owned
	runCtx context.Context
	load   *load
	url    string
}

type outcome struct {
	text     string
	err      error
	resolved bool
}

// load is the loop's view of the current session.
type load struct {
	ext        *extraction.Session
	generation uint64
	early      outcome
	keepEarly  bool
	finished   bool
}
