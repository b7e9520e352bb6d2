// Package prompts holds the model instructions and user-visible strings.
// The embedded defaults can be overridden by a YAML file.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultYAML []byte

type Set struct {
	Content   string   `yaml:"content"`
	Analyze   Analyze  `yaml:"analyze"`
	Translate string   `yaml:"translate"`
	Markers   Markers  `yaml:"markers"`
	Messages  Messages `yaml:"messages"`
}

type Analyze struct {
	DetectAndSummarize string `yaml:"detect_and_summarize"`
	DetectOnly         string `yaml:"detect_only"`
	SummarizeOnly      string `yaml:"summarize_only"`
}

// Markers are the fixed phrases the analytical reply is expected to contain.
type Markers struct {
	AIYes   string `yaml:"ai_yes"`
	Summary string `yaml:"summary"`
}

type Messages struct {
	Loading           string `yaml:"loading"`
	Preview           string `yaml:"preview"`
	Summarizing       string `yaml:"summarizing"`
	NoContent         string `yaml:"no_content"`
	EmptySummary      string `yaml:"empty_summary"`
	AIBanner          string `yaml:"ai_banner"`
	FeaturesDisabled  string `yaml:"features_disabled"`
	MissingCredential string `yaml:"missing_credential"`
	InvalidEndpoint   string `yaml:"invalid_endpoint"`
	TransportFailure  string `yaml:"transport_failure"`
	Timeout           string `yaml:"timeout"`
	DecodeFailure     string `yaml:"decode_failure"`
	LoadFailed        string `yaml:"load_failed"`
	ExtractFailed     string `yaml:"extract_failed"`
	ErrorPrefix       string `yaml:"error_prefix"`
}

// Default returns the embedded prompt set.
func Default() *Set {
	var s Set
	if err := yaml.Unmarshal(defaultYAML, &s); err != nil {
		panic(fmt.Sprintf("embedded prompts are invalid: %v", err))
	}
	return &s
}

// Load reads path on top of the defaults, so a file only needs the keys it
// changes. An empty path returns the defaults.
func Load(path string) (*Set, error) {
	s := Default()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}

	for _, tmpl := range []string{s.Content, s.Translate} {
		if _, err := template.New("check").Parse(tmpl); err != nil {
			return nil, fmt.Errorf("invalid template in %s: %w", path, err)
		}
	}

	return s, nil
}

// Render executes tmpl with data.
func Render(tmpl string, data any) (string, error) {
	t, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return b.String(), nil
}
