package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bowerhall/skim/internal/logger"
	"github.com/bowerhall/skim/internal/sse"
)

type openaiCompatible struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	extra   map[string]any
	client  *http.Client
}

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func newOpenAICompatible(cfg Config) LLM {
	return &openaiCompatible{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		extra:   cfg.ExtraBody,
		client:  &http.Client{},
	}
}

func (o *openaiCompatible) endpoint() (string, error) {
	u, err := url.Parse(o.baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, o.baseURL)
	}

	return o.baseURL + "/chat/completions", nil
}

func (o *openaiCompatible) body(messages []Message) ([]byte, error) {
	reqBody := openaiRequest{
		Model:  o.model,
		Stream: true,
	}

	for _, msg := range messages {
		reqBody.Messages = append(reqBody.Messages, openaiMessage{Role: msg.Role, Content: msg.Content})
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	if len(o.extra) == 0 {
		return jsonBody, nil
	}

	// merge backend-specific fields at the top level, never overriding core ones
	var merged map[string]any
	if err := json.Unmarshal(jsonBody, &merged); err != nil {
		return nil, err
	}
	for k, v := range o.extra {
		if _, core := merged[k]; !core {
			merged[k] = v
		}
	}

	return json.Marshal(merged)
}

// Complete issues one streaming chat-completion request and accumulates
// every content delta into the returned text.
func (o *openaiCompatible) Complete(ctx context.Context, messages []Message) (string, error) {
	if o.apiKey == "" {
		return "", ErrMissingCredential
	}

	endpoint, err := o.endpoint()
	if err != nil {
		return "", err
	}

	jsonBody, err := o.body(messages)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "POST", endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Connection", "keep-alive")

	resp, err := o.client.Do(req)
	if err != nil {
		if cerr := classify(ctx, reqCtx, err); cerr != nil {
			return "", cerr
		}
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &TransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var acc strings.Builder
	dec := sse.NewDecoder(resp.Body)
	for dec.Next() {
		acc.WriteString(dec.Chunk().Content)
	}

	if err := dec.Err(); err != nil {
		if cerr := classify(ctx, reqCtx, err); cerr != nil {
			return "", cerr
		}
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if dec.Malformed() > 0 {
		logger.Debug("stream finished with skipped frames", "malformed", dec.Malformed(), "model", o.model)
	}

	return strings.TrimSpace(acc.String()), nil
}
