package extraction

import (
	"context"
	"time"

	"github.com/bowerhall/skim/internal/session"
)

const (
	DefaultThreshold    = 2000
	DefaultGrowthFactor = 2.0
)

// Policy holds the early-summary threshold and the growth factor above which
// a final extraction replaces the early summary.
type Policy struct {
	Threshold    int
	GrowthFactor float64
}

func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, GrowthFactor: DefaultGrowthFactor}
}

type Phase int

const (
	Idle Phase = iota
	EarlyPending
	EarlyDone
	FinalPending
	Settled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case EarlyPending:
		return "early-pending"
	case EarlyDone:
		return "early-done"
	case FinalPending:
		return "final-pending"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

type Action int

const (
	ActionNone Action = iota
	ActionSummarize
	ActionKeepEarly
	ActionNoContent
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionSummarize:
		return "summarize"
	case ActionKeepEarly:
		return "keep-early"
	case ActionNoContent:
		return "no-content"
	default:
		return "unknown"
	}
}

// Decision is what the caller should do with an extraction result.
type Decision struct {
	Action Action
	Text   string
	Early  bool
}

// State is the per-load extraction memory.
type State struct {
	EarlyText         string
	EarlyLength       int
	DidSummarizeEarly bool
}

// Request identifies one summarization submitted for a session. Only the
// latest request of the current session may publish.
type Request struct {
	Session     session.ID
	Seq         uint64
	Text        string
	Early       bool
	SubmittedAt time.Time
	Ctx         context.Context
}

// Session tracks one page load. It is not safe for concurrent use and is
// driven from the orchestrator's control loop.
type Session struct {
	id           session.ID
	url          string
	committedURL string
	policy       Policy

	phase Phase
	state State

	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer

	seq       uint64
	reqCancel context.CancelFunc
}
