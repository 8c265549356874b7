package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/recursivelm/rlm/internal/rlmerrors"
)

// AnthropicConfig configures an AnthropicProvider. Grounded on
// internal/agent/providers/anthropic.go's AnthropicConfig, trimmed to the
// synchronous Provider contract (no BetaToolUnionParam/computer-use path,
// since the Worker never hands raw Anthropic tool schemas to this layer --
// tool use lives in the evaluated sandbox code, not in the LLM turn).
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

func (c AnthropicConfig) withDefaults() AnthropicConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-sonnet-4-20250514"
	}
	return c
}

// AnthropicProvider implements Provider against Anthropic's Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

// NewAnthropicProvider builds a provider from config, applying the same
// defaults the teacher's NewAnthropicProvider applies.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: anthropic API key is required")
	}
	cfg = cfg.withDefaults()

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends one non-streaming Messages.New call, retrying transient
// failures with exponential backoff the way Complete's retry loop does in
// internal/agent/providers/anthropic.go, then concatenates the reply's text
// blocks into a single string -- the Worker's think step and the direct
// query path both need the complete text before they can act on it, so
// there is no value in surfacing the SDK's own streaming here.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  toMessageParams(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	var (
		msg      *anthropic.Message
		err      error
		attempts int
	)
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		attempts = attempt + 1
		msg, err = p.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) || attempt == p.cfg.MaxRetries {
			break
		}
		delay := p.cfg.RetryDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, rlmerrors.Wrap(rlmerrors.KindLLM, "llm.Complete", "", err).WithMessage(fmt.Sprintf("anthropic: request failed after %d attempts", attempts))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if variant := block.AsAny(); variant != nil {
			if textBlock, ok := variant.(anthropic.TextBlock); ok {
				text.WriteString(textBlock.Text)
			}
		}
	}

	return &Response{
		Text:         text.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		StopReason:   string(msg.StopReason),
	}, nil
}

func toMessageParams(messages []Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}

// isRetryable mirrors the teacher's retry classification: rate limits,
// server errors, and transport-level failures are retried; anything else
// (bad request, auth failure) is not.
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
