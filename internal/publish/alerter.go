package publish

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/pipeline"
)

const defaultAlertCooldown = time.Hour

type NotifyFunc func(message string)

// Alerter reports pages whose final update is an error. The same failure
// for the same host is reported at most once per cooldown.
type Alerter struct {
	mu        sync.Mutex
	notify    NotifyFunc
	cooldowns map[string]time.Time
	cooldown  time.Duration
	now       func() time.Time
}

func NewAlerter(notify NotifyFunc, cooldown time.Duration) *Alerter {
	if cooldown <= 0 {
		cooldown = defaultAlertCooldown
	}

	return &Alerter{
		notify:    notify,
		cooldowns: make(map[string]time.Time),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (a *Alerter) Publish(u pipeline.Update) {
	if !u.Final || u.Kind != pipeline.KindError || a.notify == nil {
		return
	}

	host := u.URL
	if parsed, err := url.Parse(u.URL); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	key := host + ":" + u.Text

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if lastSent, ok := a.cooldowns[key]; ok && now.Sub(lastSent) < a.cooldown {
		logger.Debug("alert suppressed (cooldown)", "host", host)
		return
	}

	a.notify(fmt.Sprintf("⚠️ %s: %s", u.URL, u.Text))
	a.cooldowns[key] = now
	logger.Info("alert sent", "host", host, "session", u.Session.Short())
}
