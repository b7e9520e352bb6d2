// Package extraction decides when page text is summarized during a load.
package extraction

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/session"
)

// SummarizeEarly reports whether an early snapshot of length characters is
// long enough to summarize before the load finishes.
func (p Policy) SummarizeEarly(length int) bool {
	return length > p.Threshold
}

// Resummarize reports whether the final text grew enough past the early
// snapshot to replace the early summary.
func (p Policy) Resummarize(earlyLength, finalLength int) bool {
	return float64(finalLength) > p.GrowthFactor*float64(earlyLength)
}

// New starts tracking a load in EarlyPending. Its context is cancelled by
// Teardown.
func New(parent context.Context, id session.ID, url string, policy Policy) *Session {
	ctx, cancel := context.WithCancel(parent)

	return &Session{
		id:     id,
		url:    url,
		policy: policy,
		phase:  EarlyPending,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) ID() session.ID { return s.id }
func (s *Session) URL() string    { return s.url }
func (s *Session) Phase() Phase   { return s.phase }
func (s *Session) State() State   { return s.state }

// CommittedURL is the URL the page actually committed to, after redirects.
func (s *Session) CommittedURL() string {
	if s.committedURL != "" {
		return s.committedURL
	}
	return s.url
}

func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Commit(url string) {
	s.committedURL = url
}

// ScheduleEarly arms the early-extraction timer. fire runs on the timer's
// goroutine and must hand off to the control loop.
func (s *Session) ScheduleEarly(delay time.Duration, fire func()) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, fire)
}

// EarlyDue reports whether an early extraction is still wanted.
func (s *Session) EarlyDue() bool {
	return s.phase == EarlyPending
}

// OnEarly records an early snapshot and says whether to summarize it.
func (s *Session) OnEarly(text string) Decision {
	if s.phase != EarlyPending {
		return Decision{Action: ActionNone}
	}
	s.phase = EarlyDone

	if strings.TrimSpace(text) == "" {
		return Decision{Action: ActionNone}
	}

	s.state.EarlyText = text
	s.state.EarlyLength = utf8.RuneCountInString(text)

	if !s.policy.SummarizeEarly(s.state.EarlyLength) || s.state.DidSummarizeEarly {
		logger.Debug("early text below threshold", "session", s.id.Short(), "length", s.state.EarlyLength)
		return Decision{Action: ActionNone}
	}

	s.state.DidSummarizeEarly = true
	return Decision{Action: ActionSummarize, Text: text, Early: true}
}

// BeginFinal stops the early timer and moves to FinalPending. It returns
// false if the load was already settled.
func (s *Session) BeginFinal() bool {
	if s.phase == Settled || s.phase == FinalPending {
		return false
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	s.phase = FinalPending
	return true
}

// OnFinal reconciles the final extraction with any early summary.
func (s *Session) OnFinal(text string) Decision {
	if s.phase == Settled {
		return Decision{Action: ActionNone}
	}
	s.phase = Settled

	if strings.TrimSpace(text) == "" {
		if s.state.DidSummarizeEarly {
			return Decision{Action: ActionKeepEarly}
		}
		return Decision{Action: ActionNoContent}
	}

	if !s.state.DidSummarizeEarly {
		return Decision{Action: ActionSummarize, Text: text}
	}

	finalLength := utf8.RuneCountInString(text)
	if s.policy.Resummarize(s.state.EarlyLength, finalLength) {
		logger.Debug("page grew after early snapshot", "session", s.id.Short(), "early", s.state.EarlyLength, "final", finalLength)
		return Decision{Action: ActionSummarize, Text: text}
	}

	return Decision{Action: ActionKeepEarly}
}

// Submit registers a new summarization request, superseding and cancelling
// the previous one.
func (s *Session) Submit(text string, early bool) Request {
	if s.reqCancel != nil {
		s.reqCancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.reqCancel = cancel
	s.seq++

	return Request{
		Session:     s.id,
		Seq:         s.seq,
		Text:        text,
		Early:       early,
		SubmittedAt: time.Now(),
		Ctx:         ctx,
	}
}

// Current reports whether req is the latest request of this session.
func (s *Session) Current(req Request) bool {
	return req.Session == s.id && req.Seq == s.seq
}

// Abort settles the load without discarding the extraction memory.
func (s *Session) Abort() {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.reqCancel != nil {
		s.reqCancel()
	}
	s.phase = Settled
}

// Teardown cancels the timer and every in-flight request and discards state.
func (s *Session) Teardown() {
	s.Abort()
	s.cancel()
	s.state = State{}
}
