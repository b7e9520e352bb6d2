// Package browser provides page loaders: a headless Chrome driven over the
// DevTools protocol and a plain HTTP fallback.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/page"
)

const defaultNavTimeout = 30 * time.Second

type ChromeConfig struct {
	Headless   bool
	NavTimeout time.Duration
	ExecPath   string // optional, chromedp finds chrome on PATH otherwise
}

// Chrome is a single browser tab. Events from a navigation that was
// superseded by a later Load or Stop are dropped.
type Chrome struct {
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	navTimeout  time.Duration

	mu        sync.Mutex
	listener  page.Listener
	nav       uint64
	navCancel context.CancelFunc
	loading   bool
}

func NewChrome(cfg ChromeConfig) (*Chrome, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = defaultNavTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	// an empty run starts the browser
	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	c := &Chrome{
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
		navTimeout:  cfg.NavTimeout,
	}

	logger.Info("chrome started", "headless", cfg.Headless)
	return c, nil
}

func (c *Chrome) Listen(l page.Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// Load starts navigating and returns without waiting for the page.
func (c *Chrome) Load(ctx context.Context, url string) error {
	c.mu.Lock()
	c.nav++
	nav := c.nav
	if c.navCancel != nil {
		c.navCancel()
	}
	navCtx, cancel := context.WithTimeout(c.tab, c.navTimeout)
	c.navCancel = cancel
	c.loading = true
	c.emitLocked(page.Event{Kind: page.LoadStart, URL: url})
	c.mu.Unlock()

	go func() {
		defer cancel()

		// the committed address is read by this navigation itself, so a
		// late frame event from an older page cannot be mistaken for it
		var committed string
		err := chromedp.Run(navCtx, chromedp.Navigate(url), chromedp.Location(&committed))
		if err != nil && errors.Is(navCtx.Err(), context.Canceled) {
			err = fmt.Errorf("%w: %v", page.ErrAborted, err)
		}

		c.settle(nav, url, committed, err)
	}()

	return nil
}

// Stop aborts the current navigation.
func (c *Chrome) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.nav++
	if c.navCancel != nil {
		c.navCancel()
		c.navCancel = nil
	}
	if c.loading {
		c.loading = false
		c.emitLocked(page.Event{Kind: page.LoadFail, Err: page.ErrAborted})
	}
	c.mu.Unlock()

	return c.run(ctx, cdppage.StopLoading())
}

// Evaluate runs script in the page and returns its result as text.
func (c *Chrome) Evaluate(ctx context.Context, script string) (string, error) {
	var result any
	if err := c.run(ctx, chromedp.Evaluate(script, &result)); err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}

	switch v := result.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), nil
		}
		return string(data), nil
	}
}

func (c *Chrome) Close() {
	c.tabCancel()
	c.allocCancel()
}

// run executes actions on the tab, bounded by the caller's ctx.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.tab)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// settle reports how navigation nav ended: commit then finish, or a
// failure. Nothing is reported once nav has been superseded.
func (c *Chrome) settle(nav uint64, url, committed string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if nav != c.nav {
		logger.Debug("superseded navigation dropped", "url", url)
		return
	}
	c.loading = false

	if err != nil {
		c.emitLocked(page.Event{Kind: page.LoadFail, URL: url, Err: err})
		return
	}

	if committed != "" {
		c.emitLocked(page.Event{Kind: page.LoadCommit, URL: committed})
	}
	c.emitLocked(page.Event{Kind: page.LoadFinish, URL: url})
}

func (c *Chrome) emitLocked(e page.Event) {
	if c.listener != nil {
		c.listener(e)
	}
}
