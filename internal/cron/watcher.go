// Package cron reloads watched pages on a schedule so their summaries stay
// current.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bowerhall/skim/internal/logger"
)

const loadTimeout = 30 * time.Second

// cronParser is configured for standard 5-field cron expressions
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Loader starts a page load; the pipeline does the rest.
type Loader interface {
	Load(ctx context.Context, url string) error
}

// Watch is one scheduled page.
type Watch struct {
	URL      string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
	Runs     int
}

type Watcher struct {
	scheduler *cron.Cron
	target    Loader

	mu      sync.Mutex
	entries map[string]cron.EntryID
	watches map[string]*Watch
}

func NewWatcher(target Loader) *Watcher {
	return &Watcher{
		scheduler: cron.New(cron.WithParser(cronParser)),
		target:    target,
		entries:   make(map[string]cron.EntryID),
		watches:   make(map[string]*Watch),
	}
}

// Watch schedules url, replacing any existing schedule for it.
func (w *Watcher) Watch(url, schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if id, ok := w.entries[url]; ok {
		w.scheduler.Remove(id)
		delete(w.entries, url)
	}

	id, err := w.scheduler.AddFunc(schedule, func() {
		w.fire(url)
	})
	if err != nil {
		return err
	}

	w.entries[url] = id
	w.watches[url] = &Watch{URL: url, Schedule: schedule}

	logger.Info("watching page", "url", url, "schedule", schedule)
	return nil
}

func (w *Watcher) Unwatch(url string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, ok := w.entries[url]
	if !ok {
		return false
	}

	w.scheduler.Remove(id)
	delete(w.entries, url)
	delete(w.watches, url)
	return true
}

// Watches returns the scheduled pages sorted by URL.
func (w *Watcher) Watches() []Watch {
	w.mu.Lock()
	defer w.mu.Unlock()

	result := make([]Watch, 0, len(w.watches))
	for url, watch := range w.watches {
		entry := *watch
		entry.NextRun = w.scheduler.Entry(w.entries[url]).Next
		result = append(result, entry)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].URL < result[j].URL })
	return result
}

func (w *Watcher) Start() {
	w.scheduler.Start()
}

// Stop halts the scheduler and waits for running loads to return.
func (w *Watcher) Stop() {
	<-w.scheduler.Stop().Done()
}

func (w *Watcher) fire(url string) {
	w.mu.Lock()
	if watch, ok := w.watches[url]; ok {
		watch.LastRun = time.Now()
		watch.Runs++
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	logger.Debug("scheduled reload", "url", url)
	if err := w.target.Load(ctx, url); err != nil {
		logger.Error("scheduled reload failed", "url", url, "error", err)
	}
}

// NextRuns lists the next n fire times of schedule after from.
func NextRuns(schedule string, from time.Time, n int) ([]time.Time, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule: %w", err)
	}

	runs := make([]time.Time, 0, n)
	next := from
	for i := 0; i < n; i++ {
		next = sched.Next(next)
		runs = append(runs, next)
	}
	return runs, nil
}
