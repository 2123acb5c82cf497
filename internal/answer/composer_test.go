package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbase-go/internal/rag"
)

// fakeModel records the last request and returns a canned reply.
type fakeModel struct {
	mu    sync.Mutex
	msgs  []*schema.Message
	temp  *float32
	calls int
	reply string
	err   error
}

func (f *fakeModel) Generate(_ context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.msgs = msgs
	f.temp = model.GetCommonOptions(&model.Options{}, opts...).Temperature
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func hits(texts ...string) []rag.Hit {
	out := make([]rag.Hit, len(texts))
	for i, t := range texts {
		out[i] = rag.Hit{DocumentID: 1, ChunkIndex: i, Text: t, Score: 0.9 - float32(i)*0.1}
	}
	return out
}

func TestCompose_PromptAndTemperature(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: "  Net 30.  "}
	c, err := New(m, Config{})
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Compose(context.Background(), "What are the payment terms?",
		hits("Invoices are due in 30 days.", "Late fees apply after 45 days."))
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if got != "Net 30." {
		t.Errorf("answer = %q", got)
	}

	if len(m.msgs) != 2 || m.msgs[0].Role != schema.System || m.msgs[1].Role != schema.User {
		t.Fatalf("messages = %+v", m.msgs)
	}
	user := m.msgs[1].Content
	wantContext := "Context:\nInvoices are due in 30 days.\n\nLate fees apply after 45 days.\n\nQuestion: What are the payment terms?\n\nAnswer:"
	if !strings.HasSuffix(user, wantContext) {
		t.Errorf("user prompt = %q", user)
	}
	if !strings.Contains(user, `say "I don't have enough information to answer that."`) {
		t.Errorf("decline instruction missing: %q", user)
	}
	if m.temp == nil || *m.temp != DefaultTemperature {
		t.Errorf("temperature = %v, want %v", m.temp, DefaultTemperature)
	}
}

func TestCompose_Temperature(t *testing.T) {
	t.Parallel()
	zero, warm, negative := float32(0), float32(0.7), float32(-1)
	tests := []struct {
		name string
		temp *float32
		want float32
	}{
		{name: "unset uses default", temp: nil, want: DefaultTemperature},
		{name: "zero is kept", temp: &zero, want: 0},
		{name: "explicit value", temp: &warm, want: 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &fakeModel{reply: "ok"}
			c, err := New(m, Config{Temperature: tt.temp})
			if err != nil {
				t.Fatal(err)
			}
			if _, err := c.Compose(context.Background(), "q", hits("context")); err != nil {
				t.Fatalf("Compose: %v", err)
			}
			if m.temp == nil || *m.temp != tt.want {
				t.Errorf("temperature = %v, want %v", m.temp, tt.want)
			}
		})
	}

	if _, err := New(&fakeModel{}, Config{Temperature: &negative}); err == nil {
		t.Error("negative temperature: expected an error")
	}
}

func TestCompose_Deterministic(t *testing.T) {
	t.Parallel()
	c, _ := New(&fakeModel{}, Config{})
	a := c.Messages("q", hits("x", "y"))
	b := c.Messages("q", hits("x", "y"))
	for i := range a {
		if a[i].Content != b[i].Content {
			t.Errorf("message %d differs between identical calls", i)
		}
	}
}

func TestCompose_EmptyContextStillCallsModel(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: DeclinePhrase}
	c, _ := New(m, Config{})

	got, err := c.Compose(context.Background(), "Who won the 1998 world cup?", nil)
	if err != nil || got != DeclinePhrase {
		t.Fatalf("Compose = %q, %v", got, err)
	}
	if m.calls != 1 {
		t.Errorf("model calls = %d, want 1", m.calls)
	}
}

func TestCompose_MinScoreShortCircuits(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: "should not be used"}
	c, _ := New(m, Config{MinScore: 0.95})

	got, err := c.Compose(context.Background(), "q", hits("weak match"))
	if err != nil || got != DeclinePhrase {
		t.Fatalf("Compose = %q, %v; want decline", got, err)
	}
	if m.calls != 0 {
		t.Errorf("model called %d times", m.calls)
	}
}

func TestCompose_ContextBudgetDropsLowestRanked(t *testing.T) {
	t.Parallel()
	m := &fakeModel{reply: "ok"}
	c, _ := New(m, Config{ContextTokens: 15})

	best := strings.Repeat("a", 40)   // 10 tokens
	worst := strings.Repeat("z", 40) // would exceed the budget
	if _, err := c.Compose(context.Background(), "q", hits(best, worst)); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(m.msgs[1].Content, "zzzz") || !strings.Contains(m.msgs[1].Content, best) {
		t.Errorf("context not trimmed from the lowest-ranked end: %q", m.msgs[1].Content)
	}
}

func TestCompose_ModelError(t *testing.T) {
	t.Parallel()
	c, _ := New(&fakeModel{err: errors.New("503 upstream")}, Config{OmitTemperature: true})
	_, err := c.Compose(context.Background(), "q", hits("x"))
	if !errors.Is(err, ErrGenerativeModel) {
		t.Errorf("error = %v, want ErrGenerativeModel", err)
	}
}

func TestNew_NilModel(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, Config{}); err == nil {
		t.Error("nil model accepted")
	}
}
