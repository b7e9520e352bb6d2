// Package storage archives settled summaries in an S3-compatible bucket.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/pipeline"
)

const uploadTimeout = 30 * time.Second

type uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) error
}

type downloader interface {
	Download(ctx context.Context, name string) ([]byte, error)
}

// Record is the archived form of a final summary.
type Record struct {
	Session string    `json:"session"`
	URL     string    `json:"url"`
	Summary string    `json:"summary"`
	At      time.Time `json:"at"`
}

// Archive is a Publisher that uploads every final summary. Uploads run in
// the background so publishing never blocks the control loop.
type Archive struct {
	store uploader
	wg    sync.WaitGroup
}

func NewArchive(store uploader) *Archive {
	return &Archive{store: store}
}

func (a *Archive) Publish(u pipeline.Update) {
	if !u.Final || u.Kind != pipeline.KindSummary {
		return
	}

	data, err := json.MarshalIndent(Record{
		Session: u.Session.String(),
		URL:     u.URL,
		Summary: u.Text,
		At:      u.At,
	}, "", "  ")
	if err != nil {
		logger.Error("encode archive record", "error", err)
		return
	}

	name := ObjectName(u.URL, u.Session.Short(), u.At)
	log := logger.With("session", u.Session.Short(), "name", name)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()

		if err := a.store.Upload(ctx, name, data, "application/json"); err != nil {
			log.Error("archive upload failed", "error", err)
			return
		}
		log.Debug("summary archived")
	}()
}

// Fetch reads one archived record back.
func Fetch(ctx context.Context, store downloader, name string) (Record, error) {
	data, err := store.Download(ctx, name)
	if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return rec, nil
}

// Flush waits for pending uploads.
func (a *Archive) Flush() {
	a.wg.Wait()
}

// ObjectName keys records by host and date: example.com/2024/01/31/093000-ab12cd34.json
func ObjectName(rawURL, session string, at time.Time) string {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = strings.TrimPrefix(u.Hostname(), "www.")
	}

	at = at.UTC()
	return fmt.Sprintf("%s/%s/%s-%s.json", host, at.Format("2006/01/02"), at.Format("150405"), session)
}
