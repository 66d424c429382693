// Package chunking splits document text into bounded, overlapping windows.
package chunking

import "strings"

const (
	DefaultSize      = 1000
	DefaultOverlap   = 200
	DefaultMaxChunks = 100
	DefaultMaxChars  = 100000
)

// Chunker splits text into windows of Size runes, each starting Size-Overlap
// runes after the previous one. Text beyond MaxChars runes is truncated
// before chunking and at most MaxChunks windows are produced.
type Chunker struct {
	Size      int
	Overlap   int
	MaxChunks int
	MaxChars  int
}

// New returns a Chunker with the given settings. Non-positive values take
// the defaults; an overlap not smaller than size is reduced to size/4.
func New(size, overlap, maxChunks, maxChars int) Chunker {
	c := Chunker{Size: size, Overlap: overlap, MaxChunks: maxChunks, MaxChars: maxChars}
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
	if c.Overlap < 0 {
		c.Overlap = DefaultOverlap
	}
	if c.Overlap >= c.Size {
		c.Overlap = c.Size / 4
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = DefaultMaxChunks
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	return c
}

// Truncate returns text cut to MaxChars runes.
func (c Chunker) Truncate(text string) string {
	if c.MaxChars <= 0 || len(text) <= c.MaxChars {
		return text
	}
	n := 0
	for i := range text {
		if n == c.MaxChars {
			return text[:i]
		}
		n++
	}
	return text
}

// Chunk splits text into ordered windows. Whitespace-only windows are
// dropped, so ordinals are contiguous over the returned slice.
func (c Chunker) Chunk(text string) []string {
	if c.Size <= 0 || c.Overlap >= c.Size {
		c = New(c.Size, c.Overlap, c.MaxChunks, c.MaxChars)
	}

	runes := []rune(c.Truncate(text))
	if len(runes) == 0 {
		return nil
	}

	step := c.Size - c.Overlap
	chunks := make([]string, 0, min(c.MaxChunks, len(runes)/step+1))

	for start := 0; start < len(runes); start += step {
		end := min(start+c.Size, len(runes))

		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, window)
			if c.MaxChunks > 0 && len(chunks) == c.MaxChunks {
				break
			}
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
