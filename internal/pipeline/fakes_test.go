package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bowerhall/skim/internal/page"
	"github.com/bowerhall/skim/internal/prompts"
	"github.com/bowerhall/skim/internal/session"
	"github.com/bowerhall/skim/internal/summary"
)

type fakeLoader struct {
	mu       sync.Mutex
	listener page.Listener
	loads    []string
	stops    int
	onLoad   func(url string)
}

func (f *fakeLoader) Load(ctx context.Context, url string) error {
	f.mu.Lock()
	f.loads = append(f.loads, url)
	onLoad := f.onLoad
	f.mu.Unlock()

	if onLoad != nil {
		onLoad(url)
	}
	return nil
}

func (f *fakeLoader) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeLoader) Listen(l page.Listener) {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
}

func (f *fakeLoader) emit(e page.Event) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	l(e)
}

func (f *fakeLoader) loaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

type fakeEvaluator struct {
	mu   sync.Mutex
	text string
	err  error
}

func (f *fakeEvaluator) set(text string, err error) {
	f.mu.Lock()
	f.text, f.err = text, err
	f.mu.Unlock()
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, script string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, f.err
}

type fakeSummarizer struct {
	mu       sync.Mutex
	calls    []string
	called   chan string
	disabled bool

	// respond is called with the 1-based call number.
	respond func(ctx context.Context, n int, text string) (string, error)
	ask     func(ctx context.Context, text, question string) (string, error)
}

func newFakeSummarizer() *fakeSummarizer {
	return &fakeSummarizer{called: make(chan string, 16)}
}

func summaryOf(text string) string {
	return fmt.Sprintf("summary:%d", utf8.RuneCountInString(text))
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	n := len(f.calls)
	respond := f.respond
	f.mu.Unlock()

	f.called <- text

	if respond != nil {
		return respond(ctx, n, text)
	}
	return summaryOf(text), nil
}

func (f *fakeSummarizer) Ask(ctx context.Context, text, question string) (string, error) {
	if f.ask != nil {
		return f.ask(ctx, text, question)
	}
	return "answer to " + question, nil
}

func (f *fakeSummarizer) Enabled() bool {
	return !f.disabled
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recorder struct {
	ch chan Update
}

func (r *recorder) Publish(u Update) {
	r.ch <- u
}

func (r *recorder) next(t *testing.T) Update {
	t.Helper()

	select {
	case u := <-r.ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()

	select {
	case u := <-r.ch:
		t.Errorf("unexpected update: %s %q final=%v", u.Kind, u.Text, u.Final)
	case <-time.After(wait):
	}
}

type fakeWaiter struct {
	mu     sync.Mutex
	accept func(Update) bool
	ch     chan Update
}

func (w *fakeWaiter) Start(accept func(Update) bool) string {
	w.mu.Lock()
	w.accept = accept
	w.ch = make(chan Update, 1)
	w.mu.Unlock()
	return "w1"
}

func (w *fakeWaiter) Wait(ctx context.Context, id string) (Update, error) {
	w.mu.Lock()
	ch := w.ch
	w.mu.Unlock()

	select {
	case u := <-ch:
		return u, nil
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
}

func (w *fakeWaiter) Cancel(id string) {}

func (w *fakeWaiter) Publish(u Update) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.accept != nil && w.accept(u) {
		select {
		case w.ch <- u:
		default:
		}
	}
}

type pair struct {
	a, b Publisher
}

func (p pair) Publish(u Update) {
	p.a.Publish(u)
	p.b.Publish(u)
}

var msgs = prompts.Default().Messages

type harness struct {
	o        *Orchestrator
	sessions *session.Manager
	loader   *fakeLoader
	eval     *fakeEvaluator
	sum      *fakeSummarizer
	pub      *recorder
	waiter   *fakeWaiter
}

func newHarness(t *testing.T, earlyDelay time.Duration) *harness {
	t.Helper()

	h := &harness{
		sessions: session.NewManager(),
		loader:   &fakeLoader{},
		eval:     &fakeEvaluator{},
		sum:      newFakeSummarizer(),
		pub:      &recorder{ch: make(chan Update, 256)},
		waiter:   &fakeWaiter{},
	}

	h.o = New(h.sessions, h.loader, h.eval, h.sum, pair{h.pub, h.waiter}, Options{
		EarlyDelay: earlyDelay,
		Messages:   msgs,
		Describe:   summary.Describe,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.o.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return h
}

// start emits a load-start and returns the session from the Loading update.
func (h *harness) start(t *testing.T, url string) session.ID {
	t.Helper()

	h.loader.emit(page.Event{Kind: page.LoadStart, URL: url})

	u := h.pub.next(t)
	if u.Kind != KindStatus || u.Text != msgs.Loading || u.Final {
		t.Fatalf("expected loading status, got %s %q", u.Kind, u.Text)
	}
	return u.Session
}

func (h *harness) finish() {
	h.loader.emit(page.Event{Kind: page.LoadFinish})
}

func expect(t *testing.T, u Update, kind Kind, text string, final bool) {
	t.Helper()

	if u.Kind != kind || u.Text != text || u.Final != final {
		t.Fatalf("expected %s %q final=%v, got %s %q final=%v", kind, text, final, u.Kind, u.Text, u.Final)
	}
}
