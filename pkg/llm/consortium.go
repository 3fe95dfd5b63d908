package llm

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxConsortiumMembers caps the member calls one consortium invocation may make.
	MaxConsortiumMembers = 16
	// consortiumFanOut bounds how many member calls run at once.
	consortiumFanOut = 4
)

// ConsortiumConfig is the parsed consortium_config of a registered consortium model.
type ConsortiumConfig struct {
	Members []string // consortium_config.models
	Arbiter string   // consortium_config.arbiter; first member when empty
}

// ParseConsortiumConfig reads the members and arbiter from a stored config.
// Members may be given as a list of names or as a {name: count} map; map keys
// are expanded in sorted order.
func ParseConsortiumConfig(raw map[string]any) (ConsortiumConfig, error) {
	var cfg ConsortiumConfig

	switch v := raw["models"].(type) {
	case []any:
		for _, m := range v {
			if name, ok := m.(string); ok && strings.TrimSpace(name) != "" {
				cfg.Members = append(cfg.Members, strings.TrimSpace(name))
			}
		}
	case []string:
		for _, name := range v {
			if strings.TrimSpace(name) != "" {
				cfg.Members = append(cfg.Members, strings.TrimSpace(name))
			}
		}
	case map[string]any:
		names := make([]string, 0, len(v))
		for name := range v {
			if strings.TrimSpace(name) != "" {
				names = append(names, name)
			}
		}
		sort.Strings(names)

		total := 0.0
		counts := make([]int, len(names))
		for i, name := range names {
			n := 1.0
			if f, ok := v[name].(float64); ok && f > 1 {
				n = math.Floor(f)
			}
			total += n
			if total > MaxConsortiumMembers {
				return ConsortiumConfig{}, fmt.Errorf("consortium_config.models lists more than %d members", MaxConsortiumMembers)
			}
			counts[i] = int(n)
		}
		for i, name := range names {
			for range counts[i] {
				cfg.Members = append(cfg.Members, strings.TrimSpace(name))
			}
		}
	}

	if len(cfg.Members) == 0 {
		return cfg, fmt.Errorf("consortium_config.models must list at least one model")
	}
	if len(cfg.Members) > MaxConsortiumMembers {
		return ConsortiumConfig{}, fmt.Errorf("consortium_config.models lists %d members, at most %d allowed", len(cfg.Members), MaxConsortiumMembers)
	}

	if arbiter, ok := raw["arbiter"].(string); ok {
		cfg.Arbiter = strings.TrimSpace(arbiter)
	}
	if cfg.Arbiter == "" {
		cfg.Arbiter = cfg.Members[0]
	}
	return cfg, nil
}

// ConsortiumInvoker asks every member model concurrently, then has the arbiter
// synthesize one answer from the member outputs.
type ConsortiumInvoker struct {
	name   string
	config ConsortiumConfig
	base   Invoker
	logger *zap.Logger
}

var _ Invoker = (*ConsortiumInvoker)(nil)

// NewConsortiumInvoker creates an invoker for one consortium. base performs the
// member and arbiter calls and must not route back to consortiums.
func NewConsortiumInvoker(name string, config ConsortiumConfig, base Invoker, logger *zap.Logger) *ConsortiumInvoker {
	return &ConsortiumInvoker{
		name:   name,
		config: config,
		base:   base,
		logger: logger.Named("llm-consortium"),
	}
}

type memberOutput struct {
	model  string
	output string
}

// Invoke fails only when every member fails; the arbiter sees the answers that arrived.
func (c *ConsortiumInvoker) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	convID := conversationID(req)
	start := time.Now()

	var (
		mu       sync.Mutex
		outputs  = make([]*memberOutput, len(c.config.Members))
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(consortiumFanOut)
	for i, member := range c.config.Members {
		g.Go(func() error {
			res, err := c.base.Invoke(gctx, &InvokeRequest{
				Model:          member,
				Prompt:         req.Prompt,
				ConversationID: convID,
				History:        req.History,
			})
			if err != nil {
				c.logger.Warn("Consortium member failed",
					zap.String("consortium", c.name),
					zap.String("member", member),
					zap.Error(err))
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}
			outputs[i] = &memberOutput{model: member, output: res.Output}
			return nil
		})
	}
	_ = g.Wait()

	answered := make([]*memberOutput, 0, len(outputs))
	for _, o := range outputs {
		if o != nil {
			answered = append(answered, o)
		}
	}
	if len(answered) == 0 {
		return nil, firstErr
	}

	res, err := c.base.Invoke(ctx, &InvokeRequest{
		Model:          c.config.Arbiter,
		Prompt:         arbiterPrompt(req.Prompt, answered),
		ConversationID: convID,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Consortium completed",
		zap.String("consortium", c.name),
		zap.Int("members", len(c.config.Members)),
		zap.Int("answered", len(answered)),
		zap.Duration("elapsed", time.Since(start)))

	return &InvokeResult{
		Output:         res.Output,
		Elapsed:        time.Since(start),
		ConversationID: convID,
	}, nil
}

func arbiterPrompt(prompt string, answers []*memberOutput) string {
	var sb strings.Builder
	sb.WriteString("Several models answered the same request. Synthesize the single best response.\n")
	sb.WriteString("Reply with the final response only.\n\n")
	sb.WriteString("<request>\n")
	sb.WriteString(prompt)
	sb.WriteString("\n</request>\n")
	for i, a := range answers {
		fmt.Fprintf(&sb, "\n<response index=\"%d\" model=%q>\n%s\n</response>\n", i+1, a.model, a.output)
	}
	return sb.String()
}
