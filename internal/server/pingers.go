package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/provider"
)

// LLMPinger probes the chat model backend for GET /api/ready.
type LLMPinger struct {
	// model is the fallback probe target when no health check exists.
	model model.BaseChatModel
	// healthCheck is a zero-token HTTP probe; preferred when non-nil.
	healthCheck provider.HealthChecker
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
// hc may be nil for backends without a cheap health endpoint.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthChecker, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend. The health check is used when available;
// otherwise a single-message Generate call is made, which consumes tokens.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return fmt.Errorf("no chat model configured")
	}

	logging.FromContext(ctx).Warn("pinger: falling back to Generate-based health check; tokens will be consumed",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// contextPinger is anything with a context-aware Ping, such as the SQLite
// store, the Qdrant index or a pinned embedder.
type contextPinger interface {
	Ping(ctx context.Context) error
}

// DependencyPinger adapts a contextPinger to the Pinger interface.
type DependencyPinger struct {
	name   string
	target contextPinger
}

// NewDependencyPinger labels target as name in readiness responses.
func NewDependencyPinger(name string, target contextPinger) *DependencyPinger {
	return &DependencyPinger{name: name, target: target}
}

// Name returns the dependency label used in readiness responses.
func (p *DependencyPinger) Name() string { return p.name }

// Ping probes the dependency.
func (p *DependencyPinger) Ping(ctx context.Context) error {
	if err := p.target.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
