// Package publish provides the sinks that pipeline updates are delivered to.
package publish

import (
	"fmt"
	"io"
	"sync"

	"github.com/bowerhall/skim/internal/pipeline"
)

// Console prints updates as they arrive. With FinalOnly set, status
// updates are skipped.
type Console struct {
	mu        sync.Mutex
	w         io.Writer
	FinalOnly bool
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Publish(u pipeline.Update) {
	if c.FinalOnly && !u.Final {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if u.Kind == pipeline.KindSummary {
		fmt.Fprintf(c.w, "[%s] %s\n%s\n\n", u.At.Format("15:04:05"), u.URL, u.Text)
		return
	}

	fmt.Fprintf(c.w, "[%s] %s: %s\n", u.At.Format("15:04:05"), u.Kind, u.Text)
}

// Fanout delivers every update to each publisher in order.
type Fanout []pipeline.Publisher

func (f Fanout) Publish(u pipeline.Update) {
	for _, p := range f {
		p.Publish(u)
	}
}
