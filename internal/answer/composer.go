// Package answer composes grounded answers. Retrieved chunks are joined,
// best-ranked first, into one context block that is trimmed to a token
// budget. The chat model is told to decline when the context does not hold
// the answer.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbase-go/internal/budget"
	"github.com/54b3r/kbase-go/internal/logging"
	"github.com/54b3r/kbase-go/internal/rag"
	"github.com/54b3r/kbase-go/internal/tracing"
)

// ErrGenerativeModel wraps any failure of the chat model call.
var ErrGenerativeModel = errors.New("generative model failed")

// DeclinePhrase is the answer given when the context lacks the answer.
const DeclinePhrase = "I don't have enough information to answer that."

// DefaultTemperature favours faithfulness to the context over creativity.
const DefaultTemperature float32 = 0.3

const systemPrompt = "You are a helpful assistant that answers questions based on provided context."

// userPromptTemplate takes the context block and the question.
const userPromptTemplate = `Based on the following context, answer the question. If the answer is not in the context, say "` + DeclinePhrase + `"
Context:
%s

Question: %s

Answer:`

// Config tunes a Composer.
type Config struct {
	// Temperature is sent with every call. Nil means DefaultTemperature;
	// a pointer to 0 requests greedy decoding.
	Temperature *float32
	// OmitTemperature skips the temperature option for models that reject it.
	OmitTemperature bool
	// ContextTokens caps the context block (default budget.DefaultMaxContextTokens).
	ContextTokens int
	// MinScore, when positive, answers with DeclinePhrase without calling the
	// model unless at least one hit scores MinScore or higher.
	MinScore float32
}

// Composer builds prompts and calls the chat model. It is stateless and
// safe for concurrent use.
type Composer struct {
	model model.BaseChatModel
	cfg   Config
}

// New returns a Composer that calls m.
func New(m model.BaseChatModel, cfg Config) (*Composer, error) {
	if m == nil {
		return nil, fmt.Errorf("answer: chat model must not be nil")
	}
	if cfg.Temperature == nil {
		temp := DefaultTemperature
		cfg.Temperature = &temp
	} else if *cfg.Temperature < 0 {
		return nil, fmt.Errorf("answer: temperature must not be negative, got %v", *cfg.Temperature)
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = budget.DefaultMaxContextTokens
	}
	return &Composer{model: m, cfg: cfg}, nil
}

// Messages returns the exact request sent for question and the already
// ranked hits. The output depends only on its inputs.
func (c *Composer) Messages(question string, hits []rag.Hit) []*schema.Message {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	block := strings.Join(budget.FitChunks(texts, c.cfg.ContextTokens), "\n\n")

	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(fmt.Sprintf(userPromptTemplate, block, question)),
	}
}

// Compose answers question from hits, which must be in ranking order.
// Failures of the model call wrap ErrGenerativeModel.
func (c *Composer) Compose(ctx context.Context, question string, hits []rag.Hit) (string, error) {
	log := logging.Component(ctx, "answer")

	if c.cfg.MinScore > 0 && !anyAbove(hits, c.cfg.MinScore) {
		log.Info("no hit reached the minimum score; declining without a model call",
			slog.Int("hits", len(hits)),
			slog.Float64("min_score", float64(c.cfg.MinScore)),
		)
		return DeclinePhrase, nil
	}

	msgs := c.Messages(question, hits)
	var opts []model.Option
	if !c.cfg.OmitTemperature {
		opts = append(opts, model.WithTemperature(*c.cfg.Temperature))
	}

	log.Debug("calling chat model",
		slog.Int("hits", len(hits)),
		slog.Int("prompt_tokens_est", budget.EstimateMessages(msgs)),
	)
	resp, err := c.model.Generate(tracing.ChatModelRun(ctx, "answer"), msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("answer: %w: %w", ErrGenerativeModel, err)
	}
	if resp == nil {
		return "", fmt.Errorf("answer: empty response: %w", ErrGenerativeModel)
	}
	return strings.TrimSpace(resp.Content), nil
}

func anyAbove(hits []rag.Hit, min float32) bool {
	for _, h := range hits {
		if h.Score >= min {
			return true
		}
	}
	return false
}
