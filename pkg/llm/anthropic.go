package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/logging"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicConfig holds configuration for the Anthropic Messages API.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string // Optional override, mainly for tests
	MaxTokens int    // Required by the API; defaults to 4096
}

// AnthropicInvoker calls the Anthropic Messages API.
type AnthropicInvoker struct {
	client    *anthropic.Client
	maxTokens int
	logger    *zap.Logger
}

var _ Invoker = (*AnthropicInvoker)(nil)

// NewAnthropicInvoker creates an invoker for Anthropic models.
func NewAnthropicInvoker(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicInvoker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}

	opts := []anthropic.ClientOption{anthropic.WithHTTPClient(newHTTPClient())}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}

	return &AnthropicInvoker{
		client:    anthropic.NewClient(cfg.APIKey, opts...),
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("llm-anthropic"),
	}, nil
}

// Invoke sends the prompt, preceded by any conversation history, as one Messages request.
func (c *AnthropicInvoker) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	convID := conversationID(req)
	model := strings.TrimPrefix(req.Model, anthropicPrefix)

	messages := make([]anthropic.Message, 0, 2*len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages,
			textMessage(anthropic.RoleUser, turn.Prompt),
			textMessage(anthropic.RoleAssistant, turn.Output),
		)
	}
	messages = append(messages, textMessage(anthropic.RoleUser, req.Prompt))

	c.logger.Debug("Model request",
		zap.String("model", model),
		zap.String("conversation_id", convID),
		zap.Int("history_turns", len(req.History)),
		zap.String("prompt", logging.PromptPreview(req.Prompt)))

	start := time.Now()

	resp, err := c.client.CreateMessages(WithConversationID(ctx, convID), anthropic.MessagesRequest{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  messages,
	})
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Error("Model request failed",
			zap.String("model", model),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		e := ClassifyError(err)
		e.Model = model
		e.Provider = providerAnthropic
		return nil, e
	}

	output := extractText(resp)
	if strings.TrimSpace(output) == "" {
		e := NewError(ErrorTypeEmptyOutput, "model returned no output", false, nil)
		e.Model = model
		e.Provider = providerAnthropic
		return nil, e
	}

	c.logger.Info("Model request completed",
		zap.String("model", model),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", elapsed))

	return &InvokeResult{
		Output:         output,
		Elapsed:        elapsed,
		ConversationID: convID,
	}, nil
}

func textMessage(role anthropic.ChatRole, text string) anthropic.Message {
	return anthropic.Message{
		Role: role,
		Content: []anthropic.MessageContent{
			{Type: "text", Text: &text},
		},
	}
}

func extractText(resp anthropic.MessagesResponse) string {
	var sb strings.Builder
	for _, content := range resp.Content {
		if content.Type == "text" && content.Text != nil {
			sb.WriteString(*content.Text)
		}
	}
	return sb.String()
}
