// Package page defines what the pipeline needs from a page-rendering engine.
package page

import (
	"context"
	"errors"
)

// ExtractTextScript returns the rendered text content of the page.
const ExtractTextScript = "document.documentElement.innerText"

// ErrAborted marks a load that ended because it was stopped or superseded.
var ErrAborted = errors.New("navigation aborted")

type EventKind int

const (
	LoadStart EventKind = iota
	LoadCommit
	LoadFinish
	LoadFail
)

func (k EventKind) String() string {
	switch k {
	case LoadStart:
		return "start"
	case LoadCommit:
		return "commit"
	case LoadFinish:
		return "finish"
	case LoadFail:
		return "fail"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	URL  string
	Err  error
}

type Listener func(Event)

// Loader drives navigation. Every LoadStart is eventually followed by
// LoadFinish or LoadFail unless a later Load or Stop supersedes it.
type Loader interface {
	Load(ctx context.Context, url string) error
	Stop(ctx context.Context) error
	Listen(l Listener)
}

// Evaluator runs a script against the live page without side effects.
type Evaluator interface {
	Evaluate(ctx context.Context, script string) (string, error)
}
