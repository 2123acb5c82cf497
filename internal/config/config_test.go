package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/54b3r/kbase-go/internal/logging"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	path, err := Load("/nonexistent/path/config.yaml", logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
  temperature: 0.3
  ollama:
    host: http://llm.internal:11434
    model: llama3.2
embedding:
  provider: ollama
  model: all-minilm
  dimensions: 384
vector:
  backend: qdrant
  qdrant:
    host: qdrant.internal
    port: 6334
    collection: documents
storage:
  db_path: /var/lib/kbase/kbase.db
  upload_dir: /var/lib/kbase/uploads
chunking:
  size: 400
  overlap: 40
worker:
  concurrency: 4
  job_timeout: 5m
retrieval:
  search_top_k: 5
  ask_top_k: 3
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":       "ollama",
		"MODEL_TEMPERATURE":    "0.3",
		"OLLAMA_HOST":          "http://llm.internal:11434",
		"OLLAMA_MODEL":         "llama3.2",
		"EMBEDDING_PROVIDER":   "ollama",
		"EMBEDDING_MODEL":      "all-minilm",
		"EMBEDDING_DIMENSIONS": "384",
		"VECTOR_BACKEND":       "qdrant",
		"QDRANT_HOST":          "qdrant.internal",
		"QDRANT_PORT":          "6334",
		"QDRANT_COLLECTION":    "documents",
		"KBASE_DB":             "/var/lib/kbase/kbase.db",
		"KBASE_UPLOAD_DIR":     "/var/lib/kbase/uploads",
		"CHUNK_SIZE":           "400",
		"CHUNK_OVERLAP":        "40",
		"WORKER_CONCURRENCY":   "4",
		"JOB_TIMEOUT":          "5m",
		"SEARCH_TOP_K":         "5",
		"ASK_TOP_K":            "3",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "text",
	}

	// Clear env vars that the YAML should set.
	for k := range checks {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	loaded, err := Load(cfgPath, logging.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
chunking:
  size: 800
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading; it should NOT be overwritten.
	t.Setenv("CHUNK_SIZE", "250")

	if _, err := Load(cfgPath, logging.Discard()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("CHUNK_SIZE"); got != "250" {
		t.Errorf("CHUNK_SIZE: expected env override %q, got %q", "250", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, logging.Discard()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestResolveConfigPath_EnvVar(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "kbase.yaml")
	if err := os.WriteFile(cfgPath, []byte("logging:\n  level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KBASE_CONFIG", cfgPath)

	if got := resolveConfigPath(""); got != cfgPath {
		t.Errorf("resolveConfigPath() = %q, want %q", got, cfgPath)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("KB_TEST_INT", "42")
	t.Setenv("KB_TEST_BAD_INT", "forty")
	t.Setenv("KB_TEST_FLOAT", "0.25")
	t.Setenv("KB_TEST_DUR", "90s")
	t.Setenv("KB_TEST_BAD_DUR", "-5s")
	t.Setenv("KB_TEST_BOOL", "true")
	t.Setenv("KB_TEST_STR", "")

	if got := EnvInt("KB_TEST_INT", 1); got != 42 {
		t.Errorf("EnvInt = %d, want 42", got)
	}
	if got := EnvInt("KB_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("EnvInt malformed = %d, want fallback 7", got)
	}
	if got := EnvFloat32("KB_TEST_FLOAT", 0); got != 0.25 {
		t.Errorf("EnvFloat32 = %v, want 0.25", got)
	}
	if got := EnvDuration("KB_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("EnvDuration = %v, want 90s", got)
	}
	if got := EnvDuration("KB_TEST_BAD_DUR", time.Minute); got != time.Minute {
		t.Errorf("EnvDuration negative = %v, want fallback 1m", got)
	}
	if !EnvBool("KB_TEST_BOOL") {
		t.Error("EnvBool = false, want true")
	}
	if got := Env("KB_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("Env empty = %q, want fallback", got)
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_ZeroTemperatureKept(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("model:\n  temperature: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MODEL_TEMPERATURE", "")
	os.Unsetenv("MODEL_TEMPERATURE")

	if _, err := Load(cfgPath, logging.Discard()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := os.Getenv("MODEL_TEMPERATURE"); got != "0" {
		t.Errorf("MODEL_TEMPERATURE = %q, want \"0\"", got)
	}
	if got := EnvFloat32("MODEL_TEMPERATURE", 0.3); got != 0 {
		t.Errorf("EnvFloat32 = %v, want 0", got)
	}
}

func TestFloat32PtrStr(t *testing.T) {
	t.Parallel()
	zero, half := float32(0), float32(0.5)
	tests := []struct {
		in   *float32
		want string
	}{
		{nil, ""},
		{&zero, "0"},
		{&half, "0.5"},
	}
	for _, tt := range tests {
		if got := float32PtrStr(tt.in); got != tt.want {
			t.Errorf("float32PtrStr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvKeys_Unique(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool)
	for _, k := range EnvKeys() {
		if seen[k] {
			t.Errorf("duplicate env key %q", k)
		}
		seen[k] = true
	}
}
