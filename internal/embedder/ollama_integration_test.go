//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestOllamaEmbedder_Integration performs a real HTTP call to a locally running
// Ollama instance through the Pinned wrapper.
//
// Prerequisites:
//
//	ollama pull all-minilm
//	ollama serve   (or it must already be running)
//
// Run with:
//
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// In CI, set OLLAMA_HOST if Ollama is not on localhost:11434.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = defaultOllamaModel
	}

	backend := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := backend.Ping(ctx); err != nil {
		t.Skipf("ollama not reachable at %s: %v", host, err)
	}

	probe, err := backend.Embed(ctx, []string{"probe"})
	if err != nil {
		t.Fatalf("Embed() failed: %v\n\nEnsure %q is pulled:\n  ollama pull %s", err, model, model)
	}
	dims := len(probe[0])

	emb, err := NewPinned(backend, model, dims, 2)
	if err != nil {
		t.Fatal(err)
	}

	texts := []string{
		"Invoices are payable within thirty days of receipt.",
		"The quarterly report summarises revenue by region.",
		"Employees accrue two vacation days per month.",
	}

	embeddings, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	if len(embeddings) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(embeddings))
	}

	identical := true
	for j := range embeddings[0] {
		if embeddings[0][j] != embeddings[1][j] {
			identical = false
			break
		}
	}
	if identical {
		t.Error("embeddings[0] and embeddings[1] are identical; model may not be working correctly")
	}

	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d for the Qdrant collection)", model, dims, dims)
}
