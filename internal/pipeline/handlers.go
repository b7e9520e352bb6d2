package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/skim/internal/extraction"
	"github.com/bowerhall/skim/internal/llm"
	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/page"
	"github.com/bowerhall/skim/internal/session"
)

// Everything in this file runs on the control loop.

func (o *Orchestrator) handleEvent(e page.Event) {
	logger.Debug("page event", "kind", e.Kind, "url", e.URL)

	switch e.Kind {
	case page.LoadStart:
		o.onLoadStart(e.URL)
	case page.LoadCommit:
		o.onLoadCommit(e.URL)
	case page.LoadFinish:
		o.onLoadFinish()
	case page.LoadFail:
		o.onLoadFail(e.Err)
	}
}

// current returns the load for id if it is still the live session.
func (o *Orchestrator) current(id session.ID) *load {
	if o.load == nil || o.load.ext.ID() != id || !o.sessions.IsValid(id) {
		return nil
	}
	return o.load
}

func (o *Orchestrator) publish(l *load, kind Kind, text string, final bool) {
	if o.load != l || !o.sessions.IsValid(l.ext.ID()) {
		logger.Debug("stale update dropped", "session", l.ext.ID().Short(), "kind", kind)
		return
	}
	if l.finished {
		return
	}
	if final {
		l.finished = true
	}

	o.publisher.Publish(Update{
		Session:    l.ext.ID(),
		Generation: l.generation,
		URL:        l.ext.CommittedURL(),
		Kind:       kind,
		Text:       text,
		Final:      final,
		At:         time.Now(),
	})
}

func (o *Orchestrator) onLoadStart(url string) {
	if o.load != nil {
		o.load.ext.Teardown()
	}

	id := o.sessions.Start()
	ext := extraction.New(o.runCtx, id, url, o.opts.Policy)
	l := &load{ext: ext, generation: o.sessions.Generation()}
	o.load = l
	o.url = url

	logger.Debug("session started", "session", id.Short(), "url", url)
	o.publish(l, KindStatus, o.opts.Messages.Loading, false)

	if !o.summarizer.Enabled() {
		return
	}

	ext.ScheduleEarly(o.opts.EarlyDelay, func() {
		o.post(func() { o.onEarlyTimer(id) })
	})
}

func (o *Orchestrator) onLoadCommit(url string) {
	if o.load == nil || url == "" {
		return
	}
	o.load.ext.Commit(url)
	o.url = url
}

func (o *Orchestrator) onEarlyTimer(id session.ID) {
	l := o.current(id)
	if l == nil || !l.ext.EarlyDue() {
		logger.Debug("early timer ignored", "session", id.Short())
		return
	}

	o.extract(l, func(text string, err error) {
		o.onEarlyExtracted(id, text, err)
	})
}

func (o *Orchestrator) onEarlyExtracted(id session.ID, text string, err error) {
	l := o.current(id)
	if l == nil {
		logger.Debug("stale early extraction dropped", "session", id.Short())
		return
	}

	if err != nil {
		logger.Debug("early extraction failed", "session", id.Short(), "error", err)
		return
	}

	d := l.ext.OnEarly(text)
	if d.Action != extraction.ActionSummarize {
		return
	}

	o.publish(l, KindStatus, o.opts.Messages.Preview, false)
	o.summarize(l, d)
}

func (o *Orchestrator) onLoadFinish() {
	l := o.load
	if l == nil || !o.sessions.IsValid(l.ext.ID()) || !l.ext.BeginFinal() {
		return
	}

	id := l.ext.ID()
	o.extract(l, func(text string, err error) {
		o.onFinalExtracted(id, text, err)
	})
}

func (o *Orchestrator) onFinalExtracted(id session.ID, text string, err error) {
	l := o.current(id)
	if l == nil {
		logger.Debug("stale final extraction dropped", "session", id.Short())
		return
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("final extraction failed", "session", id.Short(), "error", err)
		l.ext.Abort()
		o.publish(l, KindError, o.opts.Messages.ExtractFailed, true)
		return
	}

	d := l.ext.OnFinal(text)
	logger.Debug("final extraction", "session", id.Short(), "action", d.Action)

	switch d.Action {
	case extraction.ActionNoContent:
		o.publish(l, KindNoContent, o.opts.Messages.NoContent, true)
	case extraction.ActionSummarize:
		if !o.summarizer.Enabled() {
			o.publish(l, KindStatus, o.opts.Messages.FeaturesDisabled, true)
			return
		}
		o.publish(l, KindStatus, o.opts.Messages.Summarizing, false)
		o.summarize(l, d)
	case extraction.ActionKeepEarly:
		l.keepEarly = true
		if l.early.resolved {
			o.publishOutcome(l, l.early, true)
		}
	}
}

func (o *Orchestrator) onLoadFail(err error) {
	l := o.load
	if l == nil || l.finished {
		return
	}

	if errors.Is(err, page.ErrAborted) || errors.Is(err, context.Canceled) {
		logger.Debug("load aborted", "session", l.ext.ID().Short())
		return
	}

	logger.Warn("page load failed", "session", l.ext.ID().Short(), "error", err)
	l.ext.Abort()
	o.publish(l, KindError, fmt.Sprintf(o.opts.Messages.LoadFailed, err), true)
}

// extract evaluates the text script off the loop and posts the result back.
func (o *Orchestrator) extract(l *load, done func(string, error)) {
	ctx := l.ext.Context()

	go func() {
		text, err := o.evaluator.Evaluate(ctx, page.ExtractTextScript)
		o.post(func() { done(text, err) })
	}()
}

func (o *Orchestrator) summarize(l *load, d extraction.Decision) {
	req := l.ext.Submit(d.Text, d.Early)
	logger.Debug("summarization submitted", "session", req.Session.Short(), "seq", req.Seq, "early", req.Early)

	go func() {
		text, err := o.summarizer.Summarize(req.Ctx, req.Text)
		o.post(func() { o.onSummarized(req, text, err) })
	}()
}

func (o *Orchestrator) onSummarized(req extraction.Request, text string, err error) {
	l := o.current(req.Session)
	if l == nil {
		logger.Debug("stale summary dropped", "session", req.Session.Short())
		return
	}
	if !l.ext.Current(req) {
		logger.Debug("superseded summary dropped", "session", req.Session.Short(), "seq", req.Seq)
		return
	}

	logger.Debug("summarization finished", "session", req.Session.Short(), "seq", req.Seq, "elapsed", time.Since(req.SubmittedAt))

	res := outcome{text: text, err: err, resolved: true}
	if req.Early {
		l.early = res
		o.publishOutcome(l, res, l.keepEarly)
		return
	}

	o.publishOutcome(l, res, true)
}

func (o *Orchestrator) publishOutcome(l *load, res outcome, final bool) {
	switch {
	case res.err != nil:
		if errors.Is(res.err, llm.ErrCancelled) {
			logger.Debug("summarization cancelled", "session", l.ext.ID().Short())
			return
		}
		logger.Error("summarization failed", "session", l.ext.ID().Short(), "error", res.err)
		o.publish(l, KindError, o.opts.Describe(o.opts.Messages, res.err), final)
	case strings.TrimSpace(res.text) == "":
		o.publish(l, KindStatus, o.opts.Messages.EmptySummary, final)
	default:
		o.publish(l, KindSummary, res.text, final)
	}
}
