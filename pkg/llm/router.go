package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vibelab/vibelab-engine/pkg/models"
)

const (
	providerOpenAI     = "openai"
	providerAnthropic  = "anthropic"
	providerConsortium = "consortium"

	openAIPrefix    = "openai/"
	anthropicPrefix = "anthropic/"
)

// ModelLookup resolves a registered model by name. It returns nil, nil when the
// name is not registered.
type ModelLookup interface {
	GetByName(ctx context.Context, name string) (*models.Model, error)
}

// Router implements Invoker by picking a provider from the model name.
// Registered consortium models fan out through a ConsortiumInvoker.
type Router struct {
	openai    Invoker
	anthropic Invoker
	lookup    ModelLookup
	breakers  map[string]*CircuitBreaker
	logger    *zap.Logger
}

var _ Invoker = (*Router)(nil)

// RouterConfig wires the provider invokers. Anthropic and Lookup are optional.
type RouterConfig struct {
	OpenAI         Invoker
	Anthropic      Invoker
	Lookup         ModelLookup
	CircuitBreaker CircuitBreakerConfig
}

// NewRouter creates a provider router with one circuit breaker per provider.
func NewRouter(cfg RouterConfig, logger *zap.Logger) *Router {
	return &Router{
		openai:    cfg.OpenAI,
		anthropic: cfg.Anthropic,
		lookup:    cfg.Lookup,
		breakers: map[string]*CircuitBreaker{
			providerOpenAI:    NewCircuitBreaker(providerOpenAI, cfg.CircuitBreaker),
			providerAnthropic: NewCircuitBreaker(providerAnthropic, cfg.CircuitBreaker),
		},
		logger: logger.Named("llm-router"),
	}
}

// ProviderFor returns the provider that serves a model name, ignoring consortiums.
func ProviderFor(model string) string {
	lower := strings.ToLower(model)
	if strings.HasPrefix(lower, anthropicPrefix) || strings.HasPrefix(lower, "claude") {
		return providerAnthropic
	}
	return providerOpenAI
}

// Invoke routes req to its provider.
func (r *Router) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	if r.lookup != nil && !hasProviderPrefix(req.Model) {
		m, err := r.lookup.GetByName(ctx, req.Model)
		if err != nil {
			return nil, err
		}
		if m != nil && m.IsConsortium() {
			return r.invokeConsortium(ctx, m, req)
		}
	}
	return r.invokeBase(ctx, req)
}

func (r *Router) invokeConsortium(ctx context.Context, m *models.Model, req *InvokeRequest) (*InvokeResult, error) {
	cfg, err := ParseConsortiumConfig(m.ConsortiumConfig)
	if err != nil {
		e := NewError(ErrorTypeModel, err.Error(), false, nil)
		e.Model = m.Name
		e.Provider = providerConsortium
		return nil, e
	}
	return NewConsortiumInvoker(m.Name, cfg, baseInvoker{r}, r.logger).Invoke(ctx, req)
}

func (r *Router) invokeBase(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	provider := ProviderFor(req.Model)

	var invoker Invoker
	switch provider {
	case providerAnthropic:
		invoker = r.anthropic
	default:
		invoker = r.openai
	}
	if invoker == nil {
		e := NewError(ErrorTypeAuth, fmt.Sprintf("provider %s is not configured", provider), false, nil)
		e.Model = req.Model
		e.Provider = provider
		return nil, e
	}

	breaker := r.breakers[provider]
	if err := breaker.Allow(); err != nil {
		r.logger.Warn("Circuit open, failing fast",
			zap.String("provider", provider),
			zap.String("model", req.Model))
		return nil, err
	}

	res, err := invoker.Invoke(ctx, req)
	breaker.Record(err)
	return res, err
}

// Breaker exposes a provider's circuit breaker for health reporting.
func (r *Router) Breaker(provider string) *CircuitBreaker {
	return r.breakers[provider]
}

func hasProviderPrefix(model string) bool {
	lower := strings.ToLower(model)
	return strings.HasPrefix(lower, openAIPrefix) || strings.HasPrefix(lower, anthropicPrefix)
}

// baseInvoker keeps consortium members from resolving to another consortium.
type baseInvoker struct {
	r *Router
}

func (b baseInvoker) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	return b.r.invokeBase(ctx, req)
}
