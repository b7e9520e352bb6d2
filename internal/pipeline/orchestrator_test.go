package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bowerhall/skim/internal/llm"
	"github.com/bowerhall/skim/internal/page"
	"github.com/bowerhall/skim/internal/session"
)

const earlyDelay = 20 * time.Millisecond

func TestEarlySummaryKeptWhenPageBarelyGrows(t *testing.T) {
	h := newHarness(t, earlyDelay)
	h.eval.set(strings.Repeat("a", 2500), nil)

	id := h.start(t, "https://example.com")

	expect(t, h.pub.next(t), KindStatus, msgs.Preview, false)
	early := h.pub.next(t)
	expect(t, early, KindSummary, "summary:2500", false)
	if early.Session != id {
		t.Error("early summary should belong to the current session")
	}

	h.eval.set(strings.Repeat("a", 2600), nil)
	h.finish()

	expect(t, h.pub.next(t), KindSummary, "summary:2500", true)
	h.pub.none(t, 50*time.Millisecond)

	if h.sum.callCount() != 1 {
		t.Errorf("expected exactly one summarization, got %d", h.sum.callCount())
	}
}

func TestFinalSummaryReplacesEarlyWhenPageGrows(t *testing.T) {
	h := newHarness(t, earlyDelay)
	h.eval.set(strings.Repeat("a", 2500), nil)

	h.start(t, "https://example.com")
	expect(t, h.pub.next(t), KindStatus, msgs.Preview, false)
	expect(t, h.pub.next(t), KindSummary, "summary:2500", false)

	h.eval.set(strings.Repeat("a", 6000), nil)
	h.finish()

	expect(t, h.pub.next(t), KindStatus, msgs.Summarizing, false)
	expect(t, h.pub.next(t), KindSummary, "summary:6000", true)

	if h.sum.callCount() != 2 {
		t.Fatalf("expected two summarizations, got %d", h.sum.callCount())
	}
	if utf8.RuneCountInString(h.sum.calls[1]) != 6000 {
		t.Errorf("second summarization should use the final text")
	}
}

func TestKeepEarlyWaitsForPendingSummary(t *testing.T) {
	h := newHarness(t, earlyDelay)
	release := make(chan struct{})
	h.sum.respond = func(ctx context.Context, n int, text string) (string, error) {
		<-release
		return summaryOf(text), nil
	}
	h.eval.set(strings.Repeat("a", 2500), nil)

	h.start(t, "https://example.com")
	expect(t, h.pub.next(t), KindStatus, msgs.Preview, false)
	<-h.sum.called

	h.eval.set(strings.Repeat("a", 3000), nil)
	h.finish()
	h.pub.none(t, 50*time.Millisecond)

	close(release)

	expect(t, h.pub.next(t), KindSummary, "summary:2500", true)
	h.pub.none(t, 50*time.Millisecond)
}

func TestFinalSupersedesPendingEarlySummary(t *testing.T) {
	h := newHarness(t, earlyDelay)
	earlyAborted := make(chan struct{})
	h.sum.respond = func(ctx context.Context, n int, text string) (string, error) {
		if n == 1 {
			<-ctx.Done()
			close(earlyAborted)
			return "stale early", llm.ErrCancelled
		}
		return summaryOf(text), nil
	}
	h.eval.set(strings.Repeat("a", 2500), nil)

	h.start(t, "https://example.com")
	expect(t, h.pub.next(t), KindStatus, msgs.Preview, false)
	<-h.sum.called

	h.eval.set(strings.Repeat("a", 6000), nil)
	h.finish()

	expect(t, h.pub.next(t), KindStatus, msgs.Summarizing, false)
	expect(t, h.pub.next(t), KindSummary, "summary:6000", true)

	select {
	case <-earlyAborted:
	case <-time.After(time.Second):
		t.Error("superseded request should be cancelled")
	}
	h.pub.none(t, 50*time.Millisecond)
}

func TestShortPageSummarizedOnlyOnFinish(t *testing.T) {
	h := newHarness(t, earlyDelay)
	h.eval.set(strings.Repeat("a", 2000), nil)

	h.start(t, "https://example.com")

	// let the early timer fire and its extraction land
	time.Sleep(5 * earlyDelay)
	if _, err := h.o.URL(context.Background()); err != nil {
		t.Fatalf("barrier failed: %v", err)
	}

	if h.sum.callCount() != 0 {
		t.Fatalf("no summarization expected before finish, got %d", h.sum.callCount())
	}
	h.pub.none(t, 10*time.Millisecond)

	h.finish()
	expect(t, h.pub.next(t), KindStatus, msgs.Summarizing, false)
	expect(t, h.pub.next(t), KindSummary, "summary:2000", true)

	if h.sum.callCount() != 1 {
		t.Errorf("expected one summarization, got %d", h.sum.callCount())
	}
}

func TestFinishBeforeEarlyTimer(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.eval.set(strings.Repeat("a", 2500), nil)

	h.start(t, "https://example.com")
	h.finish()

	expect(t, h.pub.next(t), KindStatus, msgs.Summarizing, false)
	expect(t, h.pub.next(t), KindSummary, "summary:2500", true)
}

func TestSupersededSessionIsInert(t *testing.T) {
	h := newHarness(t, earlyDelay)
	release := make(chan struct{})
	h.sum.respond = func(ctx context.Context, n int, text string) (string, error) {
		if n == 1 {
			// ignores cancellation, like a transport that cannot abort
			<-release
			return "stale", nil
		}
		return summaryOf(text), nil
	}
	h.eval.set(strings.Repeat("a", 2500), nil)

	first := h.start(t, "https://a.example.com")
	expect(t, h.pub.next(t), KindStatus, msgs.Preview, false)
	<-h.sum.called

	second := h.start(t, "https://b.example.com")
	if second == first {
		t.Fatal("new load should start a new session")
	}
	if h.sessions.IsValid(first) {
		t.Error("first session should be invalid")
	}

	close(release)
	h.finish()

	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case u := <-h.pub.ch:
			if u.Session != second {
				t.Fatalf("update from superseded session leaked: %s %q", u.Kind, u.Text)
			}
			if u.Text == "stale" {
				t.Fatal("stale summary published")
			}
		case <-deadline:
			return
		}
	}
}

func TestLoadStartBeforeEarlyTimerCancelsIt(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	h.eval.set(strings.Repeat("a", 2500), nil)

	h.start(t, "https://a.example.com")
	second := h.start(t, "https://b.example.com")

	u := h.pub.next(t)
	if u.Session != second {
		t.Fatal("first session's early timer should not publish")
	}
	expect(t, u, KindStatus, msgs.Preview, false)

	expect(t, h.pub.next(t), KindSummary, "summary:2500", false)
	if h.sum.callCount() != 1 {
		t.Errorf("expected one summarization, got %d", h.sum.callCount())
	}
}

func TestTransportFailurePublishesSingleError(t *testing.T) {
	h := newHarness(t, earlyDelay)
	h.sum.respond = func(ctx context.Context, n int, text string) (string, error) {
		return "", &llm.TransportError{StatusCode: 500, Body: `{"error":"rate limited"}`}
	}
	h.eval.set("short page", nil)

	h.start(t, "https://example.com")
	h.finish()

	expect(t, h.pub.next(t), KindStatus, msgs.Summarizing, false)
	expect(t, h.pub.next(t), KindError, fmt.Sprintf(msgs.TransportFailure, 500), true)
	h.pub.none(t, 50*time.Millisecond)
}

func TestEarlyErrorRepublishedAsFinal(t *testing.T) {
	h := newHarness(t, earlyDelay)
	h.sum.respond = func(ctx context.Context, n int, text string) (string, error) {
		return "", llm.ErrMissingCredential
	}
	h.eval.set(strings.Repeat("a", 2500), nil)

	h.start(t, "https://example.com")
	expect(t, h.pub.next(t), KindStatus, msgs.Preview, false)
	expect(t, h.pub.next(t), KindError, msgs.MissingCredential, false)

	h.finish()
	expect(t, h.pub.next(t), KindError, msgs.MissingCredential, true)

	if h.sum.callCount() != 1 {
		t.Errorf("errors must not be retried, got %d calls", h.sum.callCount())
	}
}

func TestEmptyPagePublishesNoContent(t *testing.T) {
	h := newHarness(t, earlyDelay)
	h.eval.set("   ", nil)

	h.start(t, "https://example.com")
	h.finish()

	expect(t, h.pub.next(t), KindNoContent, msgs.NoContent, true)
	if h.sum.callCount() != 0 {
		t.Error("empty page should not be summarized")
	}
}

func TestEmptySummaryIsTerminal(t *testing.T) {
	h := newHarness(t, earlyDelay)
	h.sum.respond = func(ctx context.Context, n int, text string) (string, error) {
		return "", nil
	}
	h.eval.set("short page", nil)

	h.start(t, "https://example.com")
	h.finish()

	expect(t, h.pub.next(t), KindStatus, msgs.Summarizing, false)
	expect(t, h.pub.next(t), KindStatus, msgs.EmptySummary, true)
}

func TestExtractionFailurePublishesError(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.eval.set("", errors.New("target closed"))

	h.start(t, "https://example.com")
	h.finish()

	expect(t, h.pub.next(t), KindError, msgs.ExtractFailed, true)
}

func TestFeaturesDisabled(t *testing.T) {
	h := newHarness(t, earlyDelay)
	h.sum.disabled = true
	h.eval.set(strings.Repeat("a", 2500), nil)

	h.start(t, "https://example.com")
	h.pub.none(t, 5*earlyDelay)

	h.finish()
	expect(t, h.pub.next(t), KindStatus, msgs.FeaturesDisabled, true)

	if h.sum.callCount() != 0 {
		t.Error("no summarization when features are disabled")
	}
}

func TestLoadFailure(t *testing.T) {
	h := newHarness(t, time.Hour)

	h.start(t, "https://example.com")

	h.loader.emit(page.Event{Kind: page.LoadFail, Err: fmt.Errorf("superseded: %w", page.ErrAborted)})
	h.loader.emit(page.Event{Kind: page.LoadFail, Err: context.Canceled})
	h.pub.none(t, 30*time.Millisecond)

	h.loader.emit(page.Event{Kind: page.LoadFail, Err: errors.New("no such host")})

	u := h.pub.next(t)
	if u.Kind != KindError || !u.Final || !strings.Contains(u.Text, "no such host") {
		t.Errorf("expected final load error, got %s %q final=%v", u.Kind, u.Text, u.Final)
	}

	h.finish()
	h.pub.none(t, 30*time.Millisecond)
}

func TestCommitUpdatesURL(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.eval.set("page", nil)

	h.start(t, "https://example.com")
	h.loader.emit(page.Event{Kind: page.LoadCommit, URL: "https://www.example.com/home"})
	h.finish()

	expect(t, h.pub.next(t), KindStatus, msgs.Summarizing, false)
	u := h.pub.next(t)
	if u.URL != "https://www.example.com/home" {
		t.Errorf("expected committed url, got %s", u.URL)
	}

	url, err := h.o.URL(context.Background())
	if err != nil || url != "https://www.example.com/home" {
		t.Errorf("unexpected url %q (%v)", url, err)
	}
}

func TestLoadNormalizesURL(t *testing.T) {
	h := newHarness(t, time.Hour)

	if err := h.o.Load(context.Background(), "example.com"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	loads := h.loader.loaded()
	if len(loads) != 1 || loads[0] != "https://www.example.com" {
		t.Errorf("unexpected loads %v", loads)
	}

	if err := h.o.Load(context.Background(), "   "); err == nil {
		t.Error("expected error for empty url")
	}
}

func TestReload(t *testing.T) {
	h := newHarness(t, time.Hour)

	if err := h.o.Reload(context.Background()); !errors.Is(err, ErrNoPage) {
		t.Errorf("expected ErrNoPage, got %v", err)
	}

	first := h.start(t, "https://example.com")
	if err := h.o.Reload(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	loads := h.loader.loaded()
	if len(loads) != 1 || loads[0] != "https://example.com" {
		t.Errorf("unexpected loads %v", loads)
	}

	second := h.start(t, loads[0])
	if first == second {
		t.Error("reload should run under a new session")
	}
}

func TestClear(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.eval.set("page", nil)

	h.start(t, "https://example.com")

	if err := h.o.Clear(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if h.sessions.Current() != session.None {
		t.Error("clear should invalidate every session")
	}

	h.finish()
	h.pub.none(t, 30*time.Millisecond)

	if h.loader.stops != 1 {
		t.Errorf("expected loader stop, got %d", h.loader.stops)
	}
}

func TestAsk(t *testing.T) {
	h := newHarness(t, time.Hour)

	if _, err := h.o.Ask(context.Background(), "why?"); !errors.Is(err, ErrNoPage) {
		t.Errorf("expected ErrNoPage, got %v", err)
	}

	h.start(t, "https://example.com")

	h.eval.set("  ", nil)
	if _, err := h.o.Ask(context.Background(), "why?"); !errors.Is(err, ErrNoContent) {
		t.Errorf("expected ErrNoContent, got %v", err)
	}

	h.eval.set("page text", nil)
	answer, err := h.o.Ask(context.Background(), "why?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if answer != "answer to why?" {
		t.Errorf("unexpected answer %q", answer)
	}
}

func TestAskCancelledByNewLoad(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.eval.set("page text", nil)

	asking := make(chan struct{})
	h.sum.ask = func(ctx context.Context, text, question string) (string, error) {
		close(asking)
		<-ctx.Done()
		return "", ctx.Err()
	}

	h.start(t, "https://a.example.com")

	errc := make(chan error, 1)
	go func() {
		_, err := h.o.Ask(context.Background(), "why?")
		errc <- err
	}()

	<-asking
	h.start(t, "https://b.example.com")

	select {
	case err := <-errc:
		if !errors.Is(err, llm.ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ask did not return after the page changed")
	}
}

func TestLoadAndWait(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.eval.set("page text", nil)
	h.loader.onLoad = func(url string) {
		go func() {
			h.loader.emit(page.Event{Kind: page.LoadStart, URL: url})
			h.loader.emit(page.Event{Kind: page.LoadFinish, URL: url})
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	u, err := h.o.LoadAndWait(ctx, "https://example.com", h.waiter)
	if err != nil {
		t.Fatalf("load and wait failed: %v", err)
	}

	if u.Kind != KindSummary || !u.Final || u.Text != "summary:9" {
		t.Errorf("unexpected final update %s %q final=%v", u.Kind, u.Text, u.Final)
	}
}

func TestLoadAndWaitSupersededByAnotherLoad(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.eval.set("other page", nil)
	h.loader.onLoad = func(url string) {
		go func() {
			// the first page starts but never finishes; a second load
			// from another caller takes over the page meanwhile
			h.loader.emit(page.Event{Kind: page.LoadStart, URL: url})
			h.loader.emit(page.Event{Kind: page.LoadStart, URL: "https://b.example"})
			h.loader.emit(page.Event{Kind: page.LoadFinish, URL: "https://b.example"})
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	u, err := h.o.LoadAndWait(ctx, "https://a.example", h.waiter)
	if !errors.Is(err, llm.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got update %s %q from %s, err %v", u.Kind, u.Text, u.URL, err)
	}
	if u.Text != "" {
		t.Errorf("superseded wait should not return another page's update, got %q", u.Text)
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		KindStatus:    "status",
		KindSummary:   "summary",
		KindError:     "error",
		KindNoContent: "no-content",
		Kind(42):      "unknown",
	}

	for k, want := range kinds {
		if k.String() != want {
			t.Errorf("expected %s, got %s", want, k.String())
		}
	}
}
