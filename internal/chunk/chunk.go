// Package chunk splits document text into overlapping word windows.
//
// A token is a maximal run of non-whitespace characters. Windows hold Size
// tokens and start every Size-Overlap tokens, so consecutive windows share
// Overlap tokens. Window tokens are re-joined with a single space, which
// means original whitespace is normalised. Chunking is pure: the same text
// and configuration always yield the same chunks.
package chunk

import (
	"fmt"
	"iter"
	"unicode"
)

const (
	// DefaultSize is the number of words per chunk.
	DefaultSize = 500
	// DefaultOverlap is the number of words shared by consecutive chunks.
	DefaultOverlap = 50
)

// Chunk is one window of a document's text.
type Chunk struct {
	// Index is the position of the chunk within its document, from 0.
	Index int
	// Text is the window's tokens joined by single spaces.
	Text string
	// WordStart and WordEnd delimit the window in token positions (end exclusive).
	WordStart int
	WordEnd   int
	// ByteStart and ByteEnd delimit the window in the source text (end exclusive).
	ByteStart int
	ByteEnd   int
}

// InvalidConfigError reports a size/overlap pair with no forward progress.
type InvalidConfigError struct {
	Size    int
	Overlap int
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("chunk: invalid config size=%d overlap=%d: need size >= 1, overlap >= 0 and size > overlap", e.Size, e.Overlap)
}

// Chunker splits text into word windows. It is immutable and safe for
// concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker, or *InvalidConfigError when the stride
// size-overlap is below one or either value is out of range.
func New(size, overlap int) (*Chunker, error) {
	if size < 1 || overlap < 0 || size-overlap < 1 {
		return nil, &InvalidConfigError{Size: size, Overlap: overlap}
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Default returns a Chunker with DefaultSize and DefaultOverlap.
func Default() *Chunker {
	return &Chunker{size: DefaultSize, overlap: DefaultOverlap}
}

// Size returns the window size in words.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the shared word count between consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Stride returns the distance in words between consecutive window starts.
func (c *Chunker) Stride() int { return c.size - c.overlap }

// Split returns the chunks of text as a lazy sequence. Tokenisation happens
// when iteration starts; windows are built one at a time. The sequence may
// be iterated more than once and yields identical chunks each time.
// Text with no tokens yields nothing.
func (c *Chunker) Split(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		toks := tokenize(text)
		stride := c.Stride()

		index := 0
		for start := 0; start < len(toks); start += stride {
			end := min(start+c.size, len(toks))
			chunk := Chunk{
				Index:     index,
				Text:      join(text, toks[start:end]),
				WordStart: start,
				WordEnd:   end,
				ByteStart: toks[start].start,
				ByteEnd:   toks[end-1].end,
			}
			if !yield(chunk) {
				return
			}
			index++
		}
	}
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[Chunk]) []Chunk {
	var out []Chunk
	for ch := range seq {
		out = append(out, ch)
	}
	return out
}

// Texts returns the Text of every chunk in seq, in order.
func Texts(seq iter.Seq[Chunk]) []string {
	var out []string
	for ch := range seq {
		out = append(out, ch.Text)
	}
	return out
}

// token is a byte span of one word in the source text.
type token struct {
	start, end int
}

// tokenize returns the spans of all maximal non-whitespace runs.
func tokenize(text string) []token {
	var toks []token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, token{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, token{start: start, end: len(text)})
	}
	return toks
}

// join concatenates the token spans with single spaces.
func join(text string, toks []token) string {
	n := len(toks) - 1
	for _, t := range toks {
		n += t.end - t.start
	}
	buf := make([]byte, 0, n)
	for i, t := range toks {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, text[t.start:t.end]...)
	}
	return string(buf)
}
