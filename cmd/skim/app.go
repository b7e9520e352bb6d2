package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bowerhall/skim/internal/browser"
	"github.com/bowerhall/skim/internal/config"
	"github.com/bowerhall/skim/internal/extraction"
	"github.com/bowerhall/skim/internal/llm"
	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/page"
	"github.com/bowerhall/skim/internal/pipeline"
	"github.com/bowerhall/skim/internal/prompts"
	"github.com/bowerhall/skim/internal/publish"
	"github.com/bowerhall/skim/internal/session"
	"github.com/bowerhall/skim/internal/storage"
	"github.com/bowerhall/skim/internal/summary"
)

const storeCheckTimeout = 5 * time.Second

// browserPage is what both browser backends provide.
type browserPage interface {
	page.Loader
	page.Evaluator
}

type app struct {
	pipe    *pipeline.Orchestrator
	settler *publish.Settler
	archive *storage.Archive
	chrome  *browser.Chrome
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newModel(cfg *config.Config) (llm.LLM, error) {
	model, err := llm.New(llm.Config{
		Provider:        cfg.LLM.Provider,
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		BaseURL:         cfg.LLM.BaseURL,
		Timeout:         cfg.LLM.Timeout,
		DisableThinking: cfg.LLM.DisableThinking,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm: %w", err)
	}
	return model, nil
}

// build wires the pipeline and starts its control loop. out may be nil.
func build(ctx context.Context, cfg *config.Config, static bool, out pipeline.Publisher) (*app, error) {
	model, err := newModel(cfg)
	if err != nil {
		return nil, err
	}

	set := prompts.Default()
	if cfg.Prompts != "" {
		set, err = prompts.Load(cfg.Prompts)
		if err != nil {
			return nil, err
		}
		logger.Debug("prompts loaded", "path", cfg.Prompts)
	}

	summarizer := summary.New(model, set, summary.Features{
		DetectAI:  cfg.Features.DetectAI,
		Summarize: cfg.Features.Summarize,
		Translate: cfg.Features.Translate,
	}, cfg.Pipeline.MaxContent)

	a := &app{
		settler: publish.NewSettler(0),
		stopped: make(chan struct{}),
	}

	var tab browserPage
	if static || cfg.Browser.Mode == "static" {
		tab = browser.NewStatic(cfg.Browser.NavTimeout)
	} else {
		a.chrome, err = browser.NewChrome(browser.ChromeConfig{
			Headless:   cfg.Browser.Headless,
			NavTimeout: cfg.Browser.NavTimeout,
			ExecPath:   cfg.Browser.ExecPath,
		})
		if err != nil {
			return nil, err
		}
		tab = a.chrome
	}

	publishers := publish.Fanout{a.settler}
	if out != nil {
		publishers = append(publishers, out)
	}

	if cfg.Storage.Enabled {
		store, err := newStore(cfg.Storage)
		if err != nil {
			a.closeBrowser()
			return nil, err
		}
		if err := initStore(ctx, store); err != nil {
			logger.Warn("storage unavailable, summaries will not be archived", "error", err)
		} else {
			a.archive = storage.NewArchive(store)
			publishers = append(publishers, a.archive)
			logger.Info("storage enabled", "endpoint", cfg.Storage.Endpoint, "bucket", store.Bucket())
		}
	}

	a.pipe = pipeline.New(session.NewManager(), tab, tab, summarizer, publishers, pipeline.Options{
		EarlyDelay: cfg.Pipeline.EarlyDelay,
		Policy: extraction.Policy{
			Threshold:    cfg.Pipeline.EarlyThreshold,
			GrowthFactor: cfg.Pipeline.GrowthFactor,
		},
		Messages: set.Messages,
		Describe: summary.Describe,
	})

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go func() {
		defer close(a.stopped)
		a.pipe.Run(runCtx)
	}()

	logger.Info("skim started",
		"provider", cfg.LLM.Provider,
		"browser", cfg.Browser.Mode,
		"static", static,
		"detect_ai", cfg.Features.DetectAI,
		"translate", cfg.Features.Translate,
	)

	return a, nil
}

// initStore fails fast when MinIO is unreachable so startup is not held up
// by client retries.
func initStore(ctx context.Context, store *storage.Client) error {
	checkCtx, cancel := context.WithTimeout(ctx, storeCheckTimeout)
	defer cancel()

	if !store.Healthy(checkCtx) {
		return fmt.Errorf("minio not reachable at bucket %s", store.Bucket())
	}
	return store.Init(ctx)
}

// Close stops the control loop, waits for pending uploads and shuts the
// browser down.
func (a *app) Close() {
	a.cancel()
	<-a.stopped

	if a.archive != nil {
		a.archive.Flush()
	}
	a.closeBrowser()
}

func (a *app) closeBrowser() {
	if a.chrome != nil {
		a.chrome.Close()
	}
}
