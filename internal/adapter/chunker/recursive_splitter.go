package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"notesrag/internal/domain"
)

// boundaryLevels lists break points from most to least preferred. A window
// is cut right after the separator so the separator stays with the
// preceding chunk.
var boundaryLevels = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{" ", "\t"},
}

// RecursiveSplitter cuts text into windows of at most chunkSize characters.
// Each window after the first starts at least overlap characters before the
// end of the previous one.
type RecursiveSplitter struct {
	chunkSize int
	overlap   int
}

// NewRecursiveSplitter validates the window parameters up front.
func NewRecursiveSplitter(chunkSize, overlap int) (*RecursiveSplitter, error) {
	if chunkSize <= 0 {
		return nil, domain.ConfigError("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 {
		return nil, domain.ConfigError("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= chunkSize {
		return nil, domain.ConfigError("chunk overlap %d must be smaller than chunk size %d", overlap, chunkSize)
	}
	return &RecursiveSplitter{chunkSize: chunkSize, overlap: overlap}, nil
}

// splitText splits text without attaching document identity.
func splitText(text string, chunkSize, overlap int) ([]string, error) {
	s, err := NewRecursiveSplitter(chunkSize, overlap)
	if err != nil {
		return nil, err
	}
	runes := []rune(text)
	spans := s.spans(runes)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = string(runes[sp.start:sp.end])
	}
	return out, nil
}

func (s *RecursiveSplitter) Split(doc domain.Document) []domain.Chunk {
	runes := []rune(doc.Content)
	spans := s.spans(runes)
	if len(spans) == 0 {
		return nil
	}

	chunks := make([]domain.Chunk, len(spans))
	for i, sp := range spans {
		chunks[i] = domain.Chunk{
			ID:           generateChunkID(doc.Name, i),
			DocumentName: doc.Name,
			Sequence:     i,
			Start:        sp.start,
			End:          sp.end,
			Text:         string(runes[sp.start:sp.end]),
		}
	}
	return chunks
}

type span struct {
	start, end int
}

func (s *RecursiveSplitter) spans(runes []rune) []span {
	n := len(runes)
	// Whitespace-only text carries nothing to embed, so it yields no chunks
	// even when shorter than chunkSize.
	if n == 0 || strings.TrimSpace(string(runes)) == "" {
		return nil
	}
	if n <= s.chunkSize {
		return []span{{0, n}}
	}

	var spans []span
	start, prevEnd := 0, 0
	for {
		end := start + s.chunkSize
		if end >= n {
			return append(spans, span{start, n})
		}

		// The cut must add new text past the previous window and leave room
		// for the overlap of the next one.
		lo := maxInt(start+s.chunkSize/2, prevEnd+1, start+s.overlap+1)
		cut := findCut(runes, start, lo, end)

		spans = append(spans, span{start, cut})
		prevEnd = cut
		start = s.nextStart(runes, start, cut)
	}
}

// findCut returns the latest position in [lo, end] that directly follows the
// most preferred separator present, or end when there is none.
func findCut(runes []rune, start, lo, end int) int {
	for _, level := range boundaryLevels {
		for p := end; p >= lo; p-- {
			for _, sep := range level {
				l := len(sep)
				if p-l >= start && hasSeparator(runes, p-l, sep) {
					return p
				}
			}
		}
	}
	return end
}

func hasSeparator(runes []rune, at int, sep string) bool {
	i := at
	for _, r := range sep {
		if i >= len(runes) || runes[i] != r {
			return false
		}
		i++
	}
	return true
}

// nextStart backs off overlap characters from cut and then snaps back to the
// start of a word, growing the overlap by at most another overlap characters.
func (s *RecursiveSplitter) nextStart(runes []rune, start, cut int) int {
	next := cut - s.overlap
	if s.overlap == 0 {
		return next
	}

	floor := maxInt(start+1, cut-2*s.overlap, cut-s.chunkSize+1)
	for j := next; j >= floor; j-- {
		if unicode.IsSpace(runes[j-1]) && !unicode.IsSpace(runes[j]) {
			return j
		}
	}
	return next
}

func generateChunkID(docName string, sequence int) string {
	data := fmt.Sprintf("%s#%d", docName, sequence)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}

func maxInt(first int, rest ...int) int {
	m := first
	for _, v := range rest {
		if v > m {
			m = v
		}
	}
	return m
}
