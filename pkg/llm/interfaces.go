// Package llm invokes language models for the generation executor.
// Provider SDKs are hidden behind Invoker; a bounded WorkerPool keeps calls off the request path.
package llm

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Turn is one earlier exchange of a conversation, replayed to the provider as context.
type Turn struct {
	Prompt string
	Output string
}

// InvokeRequest is a single model call.
type InvokeRequest struct {
	Model          string
	Prompt         string
	ConversationID string // empty starts a new conversation
	History        []Turn
}

// InvokeResult is the outcome of a successful model call.
type InvokeResult struct {
	Output         string
	Elapsed        time.Duration
	ConversationID string
}

// Invoker calls a language model. Implementations return *Error on failure.
// Use this interface for dependency injection to enable mocking in tests.
type Invoker interface {
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error)
}

// conversationID echoes the caller's token or mints a new one.
func conversationID(req *InvokeRequest) string {
	if req.ConversationID != "" {
		return req.ConversationID
	}
	return uuid.NewString()
}
