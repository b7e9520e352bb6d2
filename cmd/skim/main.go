package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/bowerhall/skim/internal/config"
	"github.com/bowerhall/skim/internal/cron"
	"github.com/bowerhall/skim/internal/llm"
	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/pipeline"
	"github.com/bowerhall/skim/internal/publish"
	"github.com/bowerhall/skim/internal/storage"
	"github.com/bowerhall/skim/internal/tools"
)

var version = "dev"

func init() {
	godotenv.Load()
}

func main() {
	app := &cli.App{
		Name:    "skim",
		Usage:   "summarize web pages as they load",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:      "summarize",
				Usage:     "load a page and print its summary",
				ArgsUsage: "URL",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "ask", Usage: "question to answer about the page"},
					&cli.BoolFlag{Name: "static", Usage: "fetch the page over HTTP instead of driving Chrome"},
					&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "print status updates too"},
					&cli.DurationFlag{Name: "wait", Value: 2 * time.Minute, Usage: "how long to wait for the summary"},
				},
				Action: summarizeAction,
			},
			{
				Name:      "watch",
				Usage:     "reload a page on a cron schedule and print every update",
				ArgsUsage: "URL",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "schedule", Value: "*/30 * * * *", Usage: "5-field cron schedule"},
					&cli.BoolFlag{Name: "static", Usage: "fetch the page over HTTP instead of driving Chrome"},
				},
				Action: watchAction,
			},
			{
				Name:   "mcp",
				Usage:  "serve the summarizer as MCP tools over stdio",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "static", Usage: "fetch pages over HTTP instead of driving Chrome"}},
				Action: mcpAction,
			},
			{
				Name:   "check-key",
				Usage:  "verify the configured API key",
				Action: checkKeyAction,
			},
			{
				Name:  "history",
				Usage: "list archived summaries, or print one with --show",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "prefix", Usage: "object prefix, usually a host name"},
					&cli.StringFlag{Name: "show", Usage: "object name of a summary to print"},
				},
				Action: historyAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal("skim failed", "error", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func summarizeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	console := publish.NewConsole(os.Stdout)
	console.FinalOnly = !c.Bool("verbose")

	a, err := build(ctx, cfg, c.Bool("static"), console)
	if err != nil {
		return err
	}
	defer a.Close()

	waitCtx, waitCancel := context.WithTimeout(ctx, c.Duration("wait"))
	defer waitCancel()

	u, err := a.pipe.LoadAndWait(waitCtx, c.Args().First(), a.settler)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	if q := c.String("ask"); q != "" && u.Kind == pipeline.KindSummary {
		answer, err := a.pipe.Ask(waitCtx, q)
		if err != nil {
			return fmt.Errorf("ask: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Q: %s\nA: %s\n", q, answer)
	}

	if u.Kind == pipeline.KindError {
		return cli.Exit("", 1)
	}
	return nil
}

func watchAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	alerter := publish.NewAlerter(func(msg string) {
		fmt.Fprintln(os.Stderr, msg)
	}, time.Hour)

	a, err := build(ctx, cfg, c.Bool("static"), publish.Fanout{publish.NewConsole(os.Stdout), alerter})
	if err != nil {
		return err
	}
	defer a.Close()

	url := c.Args().First()
	watcher := cron.NewWatcher(a.pipe)
	if err := watcher.Watch(url, c.String("schedule")); err != nil {
		return err
	}

	next, _ := cron.NextRuns(c.String("schedule"), time.Now(), 1)
	logger.Info("watch started", "url", url, "next", next[0].Format(time.RFC3339))

	// summarize once right away rather than waiting for the first tick
	if err := a.pipe.Load(ctx, url); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	watcher.Start()
	<-ctx.Done()
	watcher.Stop()

	logger.Info("shutting down")
	return nil
}

func mcpAction(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// stdout carries the MCP protocol, so updates are only archived
	a, err := build(ctx, cfg, c.Bool("static"), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	watcher := cron.NewWatcher(a.pipe)
	watcher.Start()
	defer watcher.Stop()

	server := tools.NewServer(tools.Config{Name: "skim", Version: version}, a.pipe, a.settler)
	server.EnableWatches(watcher)
	return server.Serve()
}

func checkKeyAction(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	model, err := newModel(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, cfg.LLM.Timeout)
	defer cancel()

	err = llm.Probe(ctx, model)
	switch {
	case err == nil:
		fmt.Printf("%s key OK\n", cfg.LLM.Provider)
		return nil
	case errors.Is(err, llm.ErrMissingCredential):
		envKey := config.EnvKeyForProvider(cfg.LLM.Provider)
		if envKey == "" {
			envKey = "LLM_API_KEY"
		}
		return cli.Exit(fmt.Sprintf("no API key configured, set %s", envKey), 1)
	default:
		return cli.Exit(fmt.Sprintf("%s key check failed: %v", cfg.LLM.Provider, err), 1)
	}
}

func historyAction(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Storage.Enabled {
		return cli.Exit("storage not configured, set MINIO_ACCESS_KEY and MINIO_SECRET_KEY", 1)
	}

	store, err := newStore(cfg.Storage)
	if err != nil {
		return err
	}

	if name := c.String("show"); name != "" {
		rec, err := storage.Fetch(c.Context, store, name)
		if err != nil {
			return fmt.Errorf("show summary: %w", err)
		}
		fmt.Printf("%s\n%s\n\n%s\n", rec.URL, rec.At.Format(time.RFC3339), rec.Summary)
		return nil
	}

	objects, err := store.List(c.Context, c.String("prefix"))
	if err != nil {
		return fmt.Errorf("list summaries: %w", err)
	}

	for _, obj := range objects {
		fmt.Printf("%s\t%d\t%s\n", obj.ModTime, obj.Size, obj.Name)
	}
	return nil
}

func newStore(cfg config.StorageConfig) (*storage.Client, error) {
	return storage.NewClient(storage.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
	})
}
