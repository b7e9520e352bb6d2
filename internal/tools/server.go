// Package tools exposes the summarizer to MCP clients.
package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bowerhall/skim/internal/cron"
	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/pipeline"
)

const (
	toolSummarizeURL = "summarize_url"
	toolAskPage      = "ask_page"
	toolCurrentPage  = "current_page"
	toolWatchPage    = "watch_page"
	toolUnwatchPage  = "unwatch_page"
	toolListWatches  = "list_watches"
)

// Pipeline is the part of the orchestrator the tools drive.
type Pipeline interface {
	LoadAndWait(ctx context.Context, url string, w pipeline.Waiter) (pipeline.Update, error)
	Ask(ctx context.Context, question string) (string, error)
	URL(ctx context.Context) (string, error)
}

// Scheduler keeps pages reloading on a cron schedule.
type Scheduler interface {
	Watch(url, schedule string) error
	Unwatch(url string) bool
	Watches() []cron.Watch
}

type Config struct {
	Name    string
	Version string
}

// Server serves one page at a time, so tool calls are serialized.
type Server struct {
	server    *server.MCPServer
	pipe      Pipeline
	waiter    pipeline.Waiter
	scheduler Scheduler
	mu        sync.Mutex
}

func NewServer(cfg Config, pipe Pipeline, waiter pipeline.Waiter) *Server {
	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		server: mcpServer,
		pipe:   pipe,
		waiter: waiter,
	}

	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	summarizeTool := mcp.NewTool(toolSummarizeURL,
		mcp.WithDescription("Load a web page and return an AI summary, including whether it looks AI-written"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Page URL or search terms"),
		),
		mcp.WithString("question",
			mcp.Description("Optional question to answer about the page"),
		),
	)
	s.server.AddTool(summarizeTool, s.handleSummarizeURL)

	askTool := mcp.NewTool(toolAskPage,
		mcp.WithDescription("Ask a question about the current page, or about url if given"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question about the page content"),
		),
		mcp.WithString("url",
			mcp.Description("Page to load first"),
		),
	)
	s.server.AddTool(askTool, s.handleAskPage)

	currentTool := mcp.NewTool(toolCurrentPage,
		mcp.WithDescription("Return the URL of the page currently loaded"),
	)
	s.server.AddTool(currentTool, s.handleCurrentPage)
}

func (s *Server) handleSummarizeURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question := request.GetString("question", "")

	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Info("tool call", "tool", toolSummarizeURL, "url", url)

	u, err := s.pipe.LoadAndWait(ctx, url, s.waiter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("summarize %s: %v", url, err)), nil
	}
	if u.Kind == pipeline.KindError {
		return mcp.NewToolResultError(u.Text), nil
	}

	text := u.Text
	if question != "" && u.Kind == pipeline.KindSummary {
		answer, err := s.pipe.Ask(ctx, question)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("ask: %v", err)), nil
		}
		text += "\n\n" + answer
	}

	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleAskPage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	url := request.GetString("url", "")

	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Info("tool call", "tool", toolAskPage, "url", url)

	if url != "" {
		u, err := s.pipe.LoadAndWait(ctx, url, s.waiter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("load %s: %v", url, err)), nil
		}
		if u.Kind == pipeline.KindError {
			return mcp.NewToolResultError(u.Text), nil
		}
	}

	answer, err := s.pipe.Ask(ctx, question)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ask: %v", err)), nil
	}

	return mcp.NewToolResultText(answer), nil
}

func (s *Server) handleCurrentPage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := s.pipe.URL(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if url == "" {
		return mcp.NewToolResultText("no page loaded"), nil
	}
	return mcp.NewToolResultText(url), nil
}

// EnableWatches registers the scheduling tools.
func (s *Server) EnableWatches(sched Scheduler) {
	s.scheduler = sched

	watchTool := mcp.NewTool(toolWatchPage,
		mcp.WithDescription("Reload a page on a cron schedule so its summary stays current"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Page URL"),
		),
		mcp.WithString("schedule",
			mcp.Required(),
			mcp.Description("5-field cron expression, e.g. */30 * * * *"),
		),
	)
	s.server.AddTool(watchTool, s.handleWatchPage)

	unwatchTool := mcp.NewTool(toolUnwatchPage,
		mcp.WithDescription("Stop reloading a watched page"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Page URL as given to watch_page"),
		),
	)
	s.server.AddTool(unwatchTool, s.handleUnwatchPage)

	listTool := mcp.NewTool(toolListWatches,
		mcp.WithDescription("List watched pages with their schedules and next run"),
	)
	s.server.AddTool(listTool, s.handleListWatches)
}

func (s *Server) handleWatchPage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	schedule, err := request.RequireString("schedule")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.scheduler.Watch(url, schedule); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("watching %s (%s)", url, schedule)), nil
}

func (s *Server) handleUnwatchPage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if !s.scheduler.Unwatch(url) {
		return mcp.NewToolResultError(fmt.Sprintf("%s is not watched", url)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("stopped watching %s", url)), nil
}

func (s *Server) handleListWatches(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	watches := s.scheduler.Watches()
	if len(watches) == 0 {
		return mcp.NewToolResultText("no pages watched"), nil
	}

	var sb strings.Builder
	for _, w := range watches {
		fmt.Fprintf(&sb, "%s\t%s\truns=%d", w.URL, w.Schedule, w.Runs)
		if !w.NextRun.IsZero() {
			fmt.Fprintf(&sb, "\tnext=%s", w.NextRun.Format(time.RFC3339))
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(strings.TrimRight(sb.String(), "\n")), nil
}

// Serve blocks serving MCP over stdin/stdout.
func (s *Server) Serve() error {
	return server.ServeStdio(s.server)
}
