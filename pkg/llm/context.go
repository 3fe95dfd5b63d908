package llm

import (
	"context"
	"net/http"
)

type contextKey string

const (
	conversationIDKey contextKey = "llm_conversation_id"

	// requestIDHeader carries the conversation id on outbound provider requests so
	// proxy logs (LiteLLM, vLLM) can be correlated with stored generations.
	requestIDHeader = "X-Request-Id"
)

// WithConversationID attaches a conversation id to ctx for outbound requests.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	if conversationID == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationIDKey, conversationID)
}

// ConversationIDFromContext returns the conversation id attached by WithConversationID.
func ConversationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(conversationIDKey).(string)
	return id, ok && id != ""
}

// contextAwareTransport copies the conversation id from the request context into a header.
type contextAwareTransport struct {
	base http.RoundTripper
}

func (t *contextAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id, ok := ConversationIDFromContext(req.Context())
	if !ok {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set(requestIDHeader, id)
	return t.base.RoundTrip(clone)
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: &contextAwareTransport{base: http.DefaultTransport}}
}
