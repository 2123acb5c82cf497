package embedder

import (
	"fmt"

	"github.com/54b3r/kbase-go/internal/config"
)

// Supported embedding backends.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendAzure  = "azure"
	BackendHash   = "hash"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "all-minilm"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultHashModel   = "fnv-hash"
)

// DefaultDimensions is the vector size of all-minilm, the default model.
const DefaultDimensions = 384

// defaultOpenAIDimensions is the native output size of text-embedding-3-small.
const defaultOpenAIDimensions = 1536

// Backend returns the effective embedding backend: EMBEDDING_PROVIDER, else
// MODEL_PROVIDER when it names an embedding-capable backend, else ollama.
func Backend() string {
	if b := config.Env("EMBEDDING_PROVIDER", ""); b != "" {
		return b
	}
	switch b := config.Env("MODEL_PROVIDER", ""); b {
	case BackendOpenAI, BackendAzure:
		return b
	default:
		return BackendOllama
	}
}

// DimensionsFor returns the vector size for backend. EMBEDDING_DIMENSIONS
// always takes precedence when set. Callers that pre-configure the vector
// index should use this rather than hardcoding a value.
func DimensionsFor(backend string) int {
	if v := config.EnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case BackendOpenAI, BackendAzure:
		return defaultOpenAIDimensions
	default:
		return DefaultDimensions
	}
}

// NewFromEnv constructs a Pinned embedder using cascading defaults that
// inherit from the chat provider configuration when embedding-specific
// overrides are not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER (see Backend)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS overrides the default dimensions (ollama/hash: 384, openai/azure: 1536)
//  7. EMBEDDING_BATCH_SIZE caps texts per request (default 64)
func NewFromEnv() (*Pinned, error) {
	backend := Backend()
	dims := DimensionsFor(backend)
	batch := config.EnvInt("EMBEDDING_BATCH_SIZE", DefaultBatchSize)

	switch backend {
	case BackendOllama:
		host := config.Env("EMBEDDING_ENDPOINT", config.Env("OLLAMA_HOST", "http://localhost:11434"))
		model := config.Env("EMBEDDING_MODEL", defaultOllamaModel)
		return NewPinned(NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), model, dims, batch)

	case BackendOpenAI:
		apiKey := config.Env("EMBEDDING_API_KEY", config.Env("OPENAI_API_KEY", ""))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		model := config.Env("EMBEDDING_MODEL", defaultOpenAIModel)
		return NewPinned(NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    config.Env("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      model,
			Dimensions: dims,
		}), model, dims, batch)

	case BackendAzure:
		apiKey := config.Env("EMBEDDING_API_KEY", config.Env("AZURE_OPENAI_API_KEY", ""))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := config.Env("EMBEDDING_ENDPOINT", config.Env("AZURE_OPENAI_ENDPOINT", ""))
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		model := config.Env("EMBEDDING_MODEL", defaultOpenAIModel)
		return NewPinned(NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      model,
			Dimensions: dims,
			Azure:      true,
			APIVersion: config.Env("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), model, dims, batch)

	case BackendHash:
		return NewPinned(NewHashEmbedder(dims), defaultHashModel, dims, batch)

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure, hash)", backend)
	}
}
