package audit

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/54b3r/kbase-go/internal/config"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("OPENAI_API_KEY", "sk-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("OPENAI_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("MODEL_PROVIDER", "azure"); got != "azure" {
		t.Errorf("expected 'azure', got %q", got)
	}
	if got := SanitiseKey("MODEL_PROVIDER", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

// TestIsSecret_CoversConfigCredentials verifies that every credential the
// config layer maps is classified as a secret.
func TestIsSecret_CoversConfigCredentials(t *testing.T) {
	t.Parallel()
	secrets := map[string]bool{
		"OPENAI_API_KEY":       true,
		"AZURE_OPENAI_API_KEY": true,
		"GOOGLE_API_KEY":       true,
		"ARK_API_KEY":          true,
		"EMBEDDING_API_KEY":    true,
		"QDRANT_API_KEY":       true,
		"LANGFUSE_PUBLIC_KEY":  true,
		"LANGFUSE_SECRET_KEY":  true,
	}
	for _, key := range config.EnvKeys() {
		if got := IsSecret(key); got != secrets[key] {
			t.Errorf("IsSecret(%s) = %v, want %v", key, got, secrets[key])
		}
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()
	if got := presence("something"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.kbase/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.kbase/config.yaml" {
			t.Errorf("expected '~/.kbase/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-very-secret")
	t.Setenv("MODEL_PROVIDER", "openai")

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	LogCommandStart(context.Background(), log, "ask", "")

	out := buf.String()
	if strings.Contains(out, "sk-very-secret") {
		t.Fatalf("secret value leaked: %s", out)
	}
	for _, want := range []string{"command=ask", "OPENAI_API_KEY=set", "MODEL_PROVIDER=openai", "config_file=none"} {
		if !strings.Contains(out, want) {
			t.Errorf("audit line missing %q: %s", want, out)
		}
	}
}
