package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bowerhall/skim/internal/llm"
)

const (
	minLLMTimeout     = 30 * time.Second
	maxLLMTimeout     = 60 * time.Second
	defaultLLMTimeout = 45 * time.Second
)

func Load() (*Config, error) {
	llmConfig, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}

	pipelineConfig, err := loadPipelineConfig()
	if err != nil {
		return nil, err
	}

	browserConfig, err := loadBrowserConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		LLM:      llmConfig,
		Pipeline: pipelineConfig,
		Browser:  browserConfig,
		Features: loadFeatureConfig(),
		Storage:  loadStorageConfig(),
		Prompts:  os.Getenv("SKIM_PROMPTS"),
	}, nil
}

func loadLLMConfig() (LLMConfig, error) {
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = DetectProvider()
	}

	if !llm.IsKnownProvider(provider) {
		return LLMConfig{}, fmt.Errorf("unknown LLM_PROVIDER: %s", provider)
	}

	timeout, err := durationEnv("LLM_TIMEOUT", defaultLLMTimeout)
	if err != nil {
		return LLMConfig{}, err
	}

	// requests outside this window either fail on slow pages or hang the UI
	if timeout < minLLMTimeout {
		timeout = minLLMTimeout
	}
	if timeout > maxLLMTimeout {
		timeout = maxLLMTimeout
	}

	return LLMConfig{
		Provider:        provider,
		APIKey:          getAPIKey(provider),
		Model:           os.Getenv("LLM_MODEL"),
		BaseURL:         os.Getenv("LLM_BASE_URL"),
		Timeout:         timeout,
		DisableThinking: os.Getenv("LLM_DISABLE_THINKING") != "false",
	}, nil
}

func loadPipelineConfig() (PipelineConfig, error) {
	earlyDelay, err := durationEnv("SKIM_EARLY_DELAY", 3*time.Second)
	if err != nil {
		return PipelineConfig{}, err
	}

	threshold := 2000
	if v := os.Getenv("SKIM_EARLY_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return PipelineConfig{}, fmt.Errorf("invalid SKIM_EARLY_THRESHOLD: %q", v)
		}
		threshold = n
	}

	growth := 2.0
	if v := os.Getenv("SKIM_GROWTH_FACTOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 1 {
			return PipelineConfig{}, fmt.Errorf("invalid SKIM_GROWTH_FACTOR: %q", v)
		}
		growth = f
	}

	maxContent := 6000
	if v := os.Getenv("SKIM_MAX_CONTENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return PipelineConfig{}, fmt.Errorf("invalid SKIM_MAX_CONTENT: %q", v)
		}
		maxContent = n
	}

	return PipelineConfig{
		EarlyDelay:     earlyDelay,
		EarlyThreshold: threshold,
		GrowthFactor:   growth,
		MaxContent:     maxContent,
	}, nil
}

func loadBrowserConfig() (BrowserConfig, error) {
	mode := os.Getenv("SKIM_BROWSER")
	if mode == "" {
		mode = "chrome"
	}
	if mode != "chrome" && mode != "static" {
		return BrowserConfig{}, fmt.Errorf("unknown SKIM_BROWSER: %s", mode)
	}

	navTimeout, err := durationEnv("SKIM_NAV_TIMEOUT", 30*time.Second)
	if err != nil {
		return BrowserConfig{}, err
	}

	return BrowserConfig{
		Mode:       mode,
		Headless:   os.Getenv("SKIM_HEADLESS") != "false",
		NavTimeout: navTimeout,
		ExecPath:   os.Getenv("SKIM_CHROME_PATH"),
	}, nil
}

func loadFeatureConfig() FeatureConfig {
	return FeatureConfig{
		DetectAI:  os.Getenv("SKIM_DETECT_AI") != "false",
		Summarize: os.Getenv("SKIM_SUMMARIZE") != "false",
		Translate: os.Getenv("SKIM_TRANSLATE") != "false",
	}
}

func loadStorageConfig() StorageConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "skim-summaries"
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	return StorageConfig{
		Enabled:   accessKey != "" && secretKey != "",
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		Bucket:    bucket,
	}
}

// getAPIKey returns LLM_API_KEY or the provider's own variable. A missing
// key is not an error here; requests fail with a missing-credential error.
func getAPIKey(provider string) string {
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		return key
	}

	envKey := EnvKeyForProvider(provider)
	if envKey == "" {
		return ""
	}
	return os.Getenv(envKey)
}

// DetectProvider picks a provider from whichever key is present, falling
// back to qwen.
func DetectProvider() string {
	switch {
	case os.Getenv("DASHSCOPE_API_KEY") != "":
		return "qwen"
	case os.Getenv("KIMI_API_KEY") != "":
		return "kimi"
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		return "claude"
	case os.Getenv("OPENAI_API_KEY") != "":
		return "openai"
	default:
		return "qwen"
	}
}

// EnvKeyForProvider returns the environment variable name for a provider's API key
func EnvKeyForProvider(provider string) string {
	switch provider {
	case "qwen":
		return "DASHSCOPE_API_KEY"
	case "claude":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "kimi":
		return "KIMI_API_KEY"
	case "ollama":
		return ""
	default:
		return strings.ToUpper(provider) + "_API_KEY"
	}
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}
