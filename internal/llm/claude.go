package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type claude struct {
	client  anthropic.Client
	apiKey  string
	model   string
	timeout time.Duration
}

func newClaude(cfg Config) LLM {
	// failures surface to the caller; a new attempt only comes from a new load
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &claude{
		client:  anthropic.NewClient(opts...),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

func (c *claude) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingCredential
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		Messages:  c.convertMessages(messages),
	}

	stream := c.client.Messages.NewStreaming(reqCtx, params)
	defer stream.Close()

	var acc strings.Builder
	for stream.Next() {
		event := stream.Current()
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" {
			acc.WriteString(event.Delta.Text)
		}
	}

	if err := stream.Err(); err != nil {
		if cerr := classify(ctx, reqCtx, err); cerr != nil {
			return "", cerr
		}

		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			body := apiErr.Error()
			if len(body) > maxErrorBody {
				body = body[:maxErrorBody]
			}
			return "", &TransportError{StatusCode: apiErr.StatusCode, Body: body, Err: err}
		}

		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return strings.TrimSpace(acc.String()), nil
}

func (c *claude) convertMessages(messages []Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	return result
}
