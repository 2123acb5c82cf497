package budget

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.input); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.SystemMessage("answer from context"), // 4 + 1 (role) + 4 (content) = 9
		schema.UserMessage("hello world"),           // 4 + 1 (role) + 2 (content) = 7
	}
	if got := EstimateMessages(msgs); got != 16 {
		t.Errorf("EstimateMessages = %d, want 16", got)
	}
}

func Test_FitChunks(t *testing.T) {
	t.Parallel()
	c40 := strings.Repeat("a", 40) // 10 tokens

	tests := []struct {
		name      string
		chunks    []string
		maxTokens int
		wantLen   int
	}{
		{"all fit", []string{c40, c40}, 100, 2},
		{"exact fit with separator", []string{c40, c40}, 21, 2},
		{"drops lowest ranked", []string{c40, c40, c40}, 25, 2},
		{"zero budget", []string{c40}, 0, 0},
		{"no chunks", nil, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FitChunks(tt.chunks, tt.maxTokens)
			if len(got) != tt.wantLen {
				t.Errorf("FitChunks kept %d chunks, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func Test_FitChunks_TruncatesOversizedFirstChunk(t *testing.T) {
	t.Parallel()
	big := strings.Repeat("é", 100) // 200 bytes, 50 tokens
	got := FitChunks([]string{big, "second"}, 5)
	if len(got) != 1 {
		t.Fatalf("kept %d chunks, want 1", len(got))
	}
	if len(got[0]) > 20 || !utf8.ValidString(got[0]) {
		t.Errorf("truncated chunk = %q (%d bytes)", got[0], len(got[0]))
	}
}
