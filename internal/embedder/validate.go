package embedder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/kbase-go/internal/config"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check run before constructing the embedder and
// the vector index, so operators get a clear error at startup rather than
// a failed first ingestion job. It returns an error when the configuration
// is clearly broken and logs warnings for likely mistakes.
func Validate(log *slog.Logger) error {
	backend := Backend()

	switch backend {
	case BackendOpenAI:
		if config.Env("EMBEDDING_API_KEY", config.Env("OPENAI_API_KEY", "")) == "" {
			return fmt.Errorf("embedder: no OpenAI API key found; set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}

	case BackendAzure:
		if config.Env("EMBEDDING_API_KEY", config.Env("AZURE_OPENAI_API_KEY", "")) == "" {
			return fmt.Errorf("embedder: no Azure API key found; set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if config.Env("EMBEDDING_ENDPOINT", config.Env("AZURE_OPENAI_ENDPOINT", "")) == "" {
			return fmt.Errorf("embedder: no Azure endpoint found; set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}

	case BackendOllama:

	case BackendHash:
		log.Warn("embedder: hash backend has no semantic understanding; use it only for offline runs",
			slog.Int("dimensions", DimensionsFor(backend)),
		)

	default:
		return fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure, hash)", backend)
	}

	if model := config.Env("EMBEDDING_MODEL", ""); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. all-minilm, text-embedding-3-small"),
		)
	}

	if config.Env("EMBEDDING_MODEL", "") != "" && config.EnvInt("EMBEDDING_DIMENSIONS", 0) == 0 {
		log.Warn("embedder: EMBEDDING_MODEL is set without EMBEDDING_DIMENSIONS; the backend default is assumed",
			slog.String("backend", backend),
			slog.Int("dimensions", DimensionsFor(backend)),
		)
	}

	return nil
}
