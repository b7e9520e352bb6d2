package config

import "time"

type Config struct {
	LLM      LLMConfig
	Pipeline PipelineConfig
	Browser  BrowserConfig
	Features FeatureConfig
	Storage  StorageConfig
	Prompts  string
}

type LLMConfig struct {
	Provider        string
	APIKey          string
	Model           string
	BaseURL         string
	Timeout         time.Duration
	DisableThinking bool
}

type PipelineConfig struct {
	EarlyDelay     time.Duration
	EarlyThreshold int
	GrowthFactor   float64
	MaxContent     int
}

type BrowserConfig struct {
	Mode       string // chrome or static
	Headless   bool
	NavTimeout time.Duration
	ExecPath   string
}

type FeatureConfig struct {
	DetectAI  bool
	Summarize bool
	Translate bool
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}
