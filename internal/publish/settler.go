package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/pipeline"
	"github.com/google/uuid"
)

const defaultSettleTimeout = 5 * time.Minute

var ErrNotFound = errors.New("waiter not found")

type pendingWait struct {
	id        string
	accept    func(pipeline.Update) bool
	createdAt time.Time
	resultCh  chan pipeline.Update
	resolved  bool
}

// Settler is a Publisher that hands matching updates to blocked callers.
type Settler struct {
	pending map[string]*pendingWait
	mu      sync.RWMutex
	timeout time.Duration
}

func NewSettler(timeout time.Duration) *Settler {
	if timeout <= 0 {
		timeout = defaultSettleTimeout
	}

	return &Settler{
		pending: make(map[string]*pendingWait),
		timeout: timeout,
	}
}

// Start registers a waiter for the first update accept returns true for.
func (s *Settler) Start(accept func(pipeline.Update) bool) string {
	id := uuid.New().String()[:8]

	s.mu.Lock()
	s.pending[id] = &pendingWait{
		id:        id,
		accept:    accept,
		createdAt: time.Now(),
		resultCh:  make(chan pipeline.Update, 1),
	}
	s.mu.Unlock()

	logger.Debug("waiter started", "id", id)
	return id
}

func (s *Settler) Wait(ctx context.Context, id string) (pipeline.Update, error) {
	s.mu.RLock()
	w, ok := s.pending[id]
	s.mu.RUnlock()

	if !ok {
		return pipeline.Update{}, ErrNotFound
	}

	defer s.Cancel(id)

	select {
	case <-ctx.Done():
		return pipeline.Update{}, ctx.Err()
	case <-time.After(s.timeout):
		logger.Info("waiter timed out", "id", id)
		return pipeline.Update{}, fmt.Errorf("no final update after %s", s.timeout)
	case u := <-w.resultCh:
		return u, nil
	}
}

func (s *Settler) Cancel(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Publish resolves every unresolved waiter that accepts u.
func (s *Settler) Publish(u pipeline.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.pending {
		if w.resolved || !w.accept(u) {
			continue
		}
		w.resolved = true

		select {
		case w.resultCh <- u:
			logger.Debug("waiter resolved", "id", id, "kind", u.Kind, "waited", time.Since(w.createdAt))
		default:
			logger.Warn("waiter channel full", "id", id)
		}
	}
}

func (s *Settler) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}
