package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/logging"
)

// OpenAIConfig holds configuration for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL   string // e.g. "https://api.openai.com/v1" or an Ollama/vLLM/LiteLLM URL
	APIKey    string // Optional for local endpoints
	MaxTokens int    // 0 lets the server decide
}

// OpenAIInvoker calls chat completions on an OpenAI-compatible endpoint.
type OpenAIInvoker struct {
	client    *openai.Client
	maxTokens int
	logger    *zap.Logger
}

var _ Invoker = (*OpenAIInvoker)(nil)

// NewOpenAIInvoker creates an invoker for an OpenAI-compatible endpoint.
func NewOpenAIInvoker(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIInvoker, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	clientConfig.HTTPClient = newHTTPClient()

	return &OpenAIInvoker{
		client:    openai.NewClientWithConfig(clientConfig),
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("llm-openai"),
	}, nil
}

// Invoke sends the prompt, preceded by any conversation history, as a chat completion.
func (c *OpenAIInvoker) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	convID := conversationID(req)
	model := strings.TrimPrefix(req.Model, openAIPrefix)

	messages := make([]openai.ChatCompletionMessage, 0, 2*len(req.History)+1)
	for _, turn := range req.History {
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: turn.Prompt},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: turn.Output},
		)
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	c.logger.Debug("Model request",
		zap.String("model", model),
		zap.String("conversation_id", convID),
		zap.Int("history_turns", len(req.History)),
		zap.String("prompt", logging.PromptPreview(req.Prompt)))

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(WithConversationID(ctx, convID), openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
	})
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Error("Model request failed",
			zap.String("model", model),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, c.parseError(model, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		e := NewError(ErrorTypeEmptyOutput, "model returned no output", false, nil)
		e.Model = model
		e.Provider = providerOpenAI
		return nil, e
	}

	c.logger.Info("Model request completed",
		zap.String("model", model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", elapsed))

	return &InvokeResult{
		Output:         resp.Choices[0].Message.Content,
		Elapsed:        elapsed,
		ConversationID: convID,
	}, nil
}

func (c *OpenAIInvoker) parseError(model string, err error) error {
	e := ClassifyError(err)
	e.Model = model
	e.Provider = providerOpenAI
	return e
}
