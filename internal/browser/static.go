package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/page"
)

const (
	maxPageBytes = 10 << 20
	userAgent    = "Mozilla/5.0 (compatible; skim/1.0)"
)

var ErrUnsupportedScript = errors.New("static loader only supports text extraction")

// Static fetches pages over plain HTTP without running scripts. It reports
// the same lifecycle events as Chrome, but there is no text until the fetch
// completes.
type Static struct {
	client  *http.Client
	timeout time.Duration

	mu        sync.Mutex
	listener  page.Listener
	nav       uint64
	navCancel context.CancelFunc
	loading   bool
	text      string
}

func NewStatic(timeout time.Duration) *Static {
	if timeout <= 0 {
		timeout = defaultNavTimeout
	}

	return &Static{
		client:  &http.Client{},
		timeout: timeout,
	}
}

func (s *Static) Listen(l page.Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *Static) Load(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	s.nav++
	nav := s.nav
	if s.navCancel != nil {
		s.navCancel()
	}
	navCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	s.navCancel = cancel
	s.loading = true
	s.text = ""
	s.emitLocked(page.Event{Kind: page.LoadStart, URL: rawURL})
	s.mu.Unlock()

	go func() {
		defer cancel()
		s.fetch(navCtx, nav, rawURL)
	}()

	return nil
}

func (s *Static) fetch(ctx context.Context, nav uint64, rawURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		s.finish(nav, rawURL, "", err)
		return
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			err = fmt.Errorf("%w: %v", page.ErrAborted, err)
		}
		s.finish(nav, rawURL, "", err)
		return
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()
	s.emit(nav, page.Event{Kind: page.LoadCommit, URL: finalURL})

	if resp.StatusCode != http.StatusOK {
		s.finish(nav, rawURL, "", fmt.Errorf("failed to fetch page, status code: %d", resp.StatusCode))
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		s.finish(nav, rawURL, "", fmt.Errorf("failed to read response body: %w", err))
		return
	}

	text, err := ExtractText(finalURL, body)
	s.finish(nav, finalURL, text, err)
}

func (s *Static) finish(nav uint64, rawURL, text string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nav != s.nav {
		logger.Debug("superseded fetch dropped", "url", rawURL)
		return
	}
	s.loading = false

	if err != nil {
		s.emitLocked(page.Event{Kind: page.LoadFail, URL: rawURL, Err: err})
		return
	}

	s.text = text
	s.emitLocked(page.Event{Kind: page.LoadFinish, URL: rawURL})
}

func (s *Static) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nav++
	if s.navCancel != nil {
		s.navCancel()
		s.navCancel = nil
	}
	if s.loading {
		s.loading = false
		s.emitLocked(page.Event{Kind: page.LoadFail, Err: page.ErrAborted})
	}
	return nil
}

// Evaluate only understands the text extraction script.
func (s *Static) Evaluate(ctx context.Context, script string) (string, error) {
	if script != page.ExtractTextScript {
		return "", ErrUnsupportedScript
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text, nil
}

func (s *Static) emit(nav uint64, e page.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nav == s.nav {
		s.emitLocked(e)
	}
}

func (s *Static) emitLocked(e page.Event) {
	if s.listener != nil {
		s.listener(e)
	}
}

// ExtractText returns the readable text of an HTML document. The main
// article is preferred; the whole body is used when none is found.
func ExtractText(rawURL string, html []byte) (string, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	parser := readability.NewParser()
	article, err := parser.Parse(bytes.NewReader(html), pageURL)
	if err == nil {
		if text := documentText(strings.NewReader(article.Content), ""); text != "" {
			title := normalizeText(article.Title)
			if title == "" {
				return text, nil
			}
			return title + "\n\n" + text, nil
		}
	}

	return documentText(bytes.NewReader(html), "body"), nil
}

func documentText(r io.Reader, root string) string {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return ""
	}

	doc.Find("script,style,noscript,template").Remove()

	sel := doc.Selection
	if root != "" {
		sel = doc.Find(root)
	}

	var lines []string
	sel.Find("h1,h2,h3,h4,h5,h6,p,li,pre,blockquote,td").Each(func(i int, s *goquery.Selection) {
		if s.Find("p,li").Length() > 0 {
			return
		}
		if text := normalizeText(s.Text()); text != "" {
			lines = append(lines, text)
		}
	})

	if len(lines) == 0 {
		return normalizeText(sel.Text())
	}
	return strings.Join(lines, "\n")
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
