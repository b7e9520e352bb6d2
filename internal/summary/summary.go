package summary

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bowerhall/skim/internal/llm"
	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/prompts"
	"github.com/pemistahl/lingua-go"
)

const (
	DefaultMaxContent = 6000
	translateLimit    = 3000
)

var ErrDisabled = errors.New("ai features disabled")

type Features struct {
	DetectAI  bool
	Summarize bool
	Translate bool
}

func AllFeatures() Features {
	return Features{DetectAI: true, Summarize: true, Translate: true}
}

type Summarizer struct {
	model      llm.LLM
	prompts    *prompts.Set
	features   Features
	maxContent int

	// isChinese reports whether text needs no translation.
	isChinese func(text string) bool
}

func New(model llm.LLM, set *prompts.Set, features Features, maxContent int) *Summarizer {
	if set == nil {
		set = prompts.Default()
	}
	if maxContent <= 0 {
		maxContent = DefaultMaxContent
	}

	return &Summarizer{
		model:      model,
		prompts:    set,
		features:   features,
		maxContent: maxContent,
		isChinese:  detectChinese,
	}
}

// Enabled is false when neither detection nor summarization is turned on,
// in which case no request should be made at all.
func (s *Summarizer) Enabled() bool {
	return s.features.DetectAI || s.features.Summarize
}

// Summarize runs the analytical prompt over text and returns the display
// text. An empty reply yields an empty string and no error.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}

	content, err := s.prepare(ctx, text)
	if err != nil {
		return "", err
	}

	reply, err := s.complete(ctx, content, s.analyzePrompt())
	if err != nil {
		return "", err
	}

	return s.format(reply), nil
}

// Ask answers a free-form question about text.
func (s *Summarizer) Ask(ctx context.Context, text, question string) (string, error) {
	content, err := s.prepare(ctx, text)
	if err != nil {
		return "", err
	}

	return s.complete(ctx, content, question)
}

func (s *Summarizer) analyzePrompt() string {
	switch {
	case s.features.DetectAI && s.features.Summarize:
		return s.prompts.Analyze.DetectAndSummarize
	case s.features.DetectAI:
		return s.prompts.Analyze.DetectOnly
	default:
		return s.prompts.Analyze.SummarizeOnly
	}
}

func (s *Summarizer) prepare(ctx context.Context, text string) (string, error) {
	content := Truncate(strings.TrimSpace(text), s.maxContent)
	if !s.features.Translate {
		return content, nil
	}
	return s.translate(ctx, content)
}

func (s *Summarizer) complete(ctx context.Context, content, query string) (string, error) {
	prompt, err := prompts.Render(s.prompts.Content, map[string]string{
		"Content": content,
		"Query":   query,
	})
	if err != nil {
		return "", err
	}

	return s.model.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}})
}

type translation struct {
	Language     string `json:"language"`
	Translated   string `json:"translated"`
	IsTranslated bool   `json:"isTranslated"`
}

// translate returns a Chinese rendition of content, or content itself when
// it is already Chinese or the model reply is unusable.
func (s *Summarizer) translate(ctx context.Context, content string) (string, error) {
	if content == "" || s.isChinese(content) {
		return content, nil
	}

	prompt, err := prompts.Render(s.prompts.Translate, map[string]string{
		"Content": Truncate(content, translateLimit),
	})
	if err != nil {
		return "", err
	}

	reply, err := s.model.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		if errors.Is(err, llm.ErrCancelled) {
			return "", err
		}
		logger.Warn("translation failed, using original text", "error", err)
		return content, nil
	}

	var t translation
	if err := json.Unmarshal([]byte(jsonObject(reply)), &t); err != nil {
		logger.Warn("translation reply unparseable, using original text", "error", err)
		return content, nil
	}

	if !t.IsTranslated || strings.TrimSpace(t.Translated) == "" {
		return content, nil
	}

	logger.Debug("content translated", "language", t.Language)
	return t.Translated, nil
}

// format applies the banner and summary-marker rules to a raw reply.
func (s *Summarizer) format(reply string) string {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return ""
	}

	markers := s.prompts.Markers
	body := reply
	if i := strings.Index(reply, markers.Summary); i >= 0 && markers.Summary != "" {
		body = markers.Summary + strings.TrimSpace(reply[i+len(markers.Summary):])
	}

	if s.features.DetectAI && markers.AIYes != "" && strings.Contains(reply, markers.AIYes) {
		return s.prompts.Messages.AIBanner + "\n\n" + body
	}

	return body
}

// Truncate cuts text to at most limit characters.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)
	return string(runes[:limit])
}

// jsonObject strips code fences or chatter around the first JSON object.
func jsonObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

func detectChinese(text string) bool {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(
				lingua.Chinese, lingua.English, lingua.Japanese, lingua.Korean,
				lingua.French, lingua.German, lingua.Spanish, lingua.Russian,
			).
			Build()
	})

	language, ok := detector.DetectLanguageOf(Truncate(text, 500))
	return ok && language == lingua.Chinese
}
