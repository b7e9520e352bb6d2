// Package pipeline ties page loads to summarization. All state lives on a
// single control loop; workers post their results back to it.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/bowerhall/skim/internal/extraction"
	"github.com/bowerhall/skim/internal/llm"
	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/page"
	"github.com/bowerhall/skim/internal/prompts"
	"github.com/bowerhall/skim/internal/session"
)

const inboxSize = 64

func New(sessions *session.Manager, loader page.Loader, evaluator page.Evaluator, summarizer Summarizer, publisher Publisher, opts Options) *Orchestrator {
	if opts.EarlyDelay <= 0 {
		opts.EarlyDelay = DefaultEarlyDelay
	}
	if opts.Policy.Threshold <= 0 {
		opts.Policy.Threshold = extraction.DefaultThreshold
	}
	if opts.Policy.GrowthFactor <= 0 {
		opts.Policy.GrowthFactor = extraction.DefaultGrowthFactor
	}
	if opts.Messages == (prompts.Messages{}) {
		opts.Messages = prompts.Default().Messages
	}
	if opts.Describe == nil {
		opts.Describe = func(msgs prompts.Messages, err error) string {
			return msgs.ErrorPrefix + " " + err.Error()
		}
	}

	o := &Orchestrator{
		sessions:   sessions,
		loader:     loader,
		evaluator:  evaluator,
		summarizer: summarizer,
		publisher:  publisher,
		opts:       opts,
		inbox:      make(chan func(), inboxSize),
		done:       make(chan struct{}),
	}

	loader.Listen(o.onEvent)
	return o
}

// Run processes events until ctx is cancelled. It must be called exactly once.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx
	defer close(o.done)

	logger.Debug("orchestrator running")

	for {
		select {
		case <-ctx.Done():
			if o.load != nil {
				o.load.ext.Teardown()
				o.load = nil
			}
			logger.Debug("orchestrator stopped")
			return nil
		case fn := <-o.inbox:
			fn()
		}
	}
}

func (o *Orchestrator) post(fn func()) bool {
	select {
	case o.inbox <- fn:
		return true
	case <-o.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (o *Orchestrator) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	task := func() {
		fn()
		close(ran)
	}

	select {
	case o.inbox <- task:
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ran:
		return nil
	case <-o.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) onEvent(e page.Event) {
	o.post(func() { o.handleEvent(e) })
}

// Load navigates to the normalized form of url.
func (o *Orchestrator) Load(ctx context.Context, url string) error {
	target := page.NormalizeURL(url)
	if target == "" {
		return fmt.Errorf("empty url")
	}

	logger.Info("loading page", "url", target)
	return o.loader.Load(ctx, target)
}

// URL returns the address of the current page, or "" when none is loaded.
func (o *Orchestrator) URL(ctx context.Context) (string, error) {
	var url string
	err := o.call(ctx, func() { url = o.url })
	return url, err
}

// Reload loads the current page again under a new session.
func (o *Orchestrator) Reload(ctx context.Context) error {
	url, err := o.URL(ctx)
	if err != nil {
		return err
	}
	if url == "" {
		return ErrNoPage
	}
	return o.loader.Load(ctx, url)
}

// Clear stops loading and invalidates every session without starting one.
func (o *Orchestrator) Clear(ctx context.Context) error {
	if err := o.loader.Stop(ctx); err != nil {
		logger.Warn("stop loading failed", "error", err)
	}

	return o.call(ctx, func() {
		if o.load != nil {
			o.load.ext.Teardown()
			o.load = nil
		}
		o.sessions.InvalidateAll()
		o.url = ""
		logger.Debug("sessions cleared")
	})
}

// Ask answers a question about the current page. It fails with
// llm.ErrCancelled if another load starts before the answer is ready.
func (o *Orchestrator) Ask(ctx context.Context, question string) (string, error) {
	id := session.None
	var sessCtx context.Context

	err := o.call(ctx, func() {
		if o.load != nil && o.sessions.IsValid(o.load.ext.ID()) {
			id = o.load.ext.ID()
			sessCtx = o.load.ext.Context()
		}
	})
	if err != nil {
		return "", err
	}
	if id == session.None {
		return "", ErrNoPage
	}

	text, err := o.evaluator.Evaluate(ctx, page.ExtractTextScript)
	if err != nil {
		return "", fmt.Errorf("extract page text: %w", err)
	}
	if !o.sessions.IsValid(id) {
		return "", llm.ErrCancelled
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoContent
	}

	askCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessCtx, cancel)
	defer stop()

	answer, err := o.summarizer.Ask(askCtx, text, question)
	if !o.sessions.IsValid(id) {
		return "", llm.ErrCancelled
	}
	return answer, err
}

// LoadAndWait loads url and blocks until the resulting session publishes
// its final update. The wait is pinned to the first session started after
// the call; if a later load supersedes it, ErrCancelled is returned.
func (o *Orchestrator) LoadAndWait(ctx context.Context, url string, w Waiter) (Update, error) {
	ours := o.sessions.Generation() + 1
	id := w.Start(func(u Update) bool {
		return u.Generation > ours || (u.Generation == ours && u.Final)
	})
	defer w.Cancel(id)

	if err := o.Load(ctx, url); err != nil {
		return Update{}, err
	}

	u, err := w.Wait(ctx, id)
	if err != nil {
		return Update{}, err
	}
	if u.Generation != ours {
		logger.Debug("waited load superseded", "url", url, "by", u.URL)
		return Update{}, llm.ErrCancelled
	}
	return u, nil
}
