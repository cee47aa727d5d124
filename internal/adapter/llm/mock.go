package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"notesrag/internal/port"
)

// MockEmbedder hashes words into a fixed number of buckets. Texts sharing
// words get similar vectors, which is enough to run the pipeline offline.
type MockEmbedder struct {
	dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) EmbedBatch(ctx context.Context, model string, inputs []string) ([]port.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]port.Embedding, len(inputs))
	for i, text := range inputs {
		out[i] = port.Embedding{Index: i, Vector: e.vector(text)}
	}
	return out, nil
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dimension)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// EchoCompleter answers without a model by restating the question and how
// much context it received.
type EchoCompleter struct{}

func (EchoCompleter) Complete(ctx context.Context, req port.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	question := req.UserMessage
	if i := strings.LastIndex(question, "Question:"); i >= 0 {
		question = strings.TrimSpace(question[i+len("Question:"):])
	}
	if req.ResponseFormat == port.ResponseJSONObject {
		return fmt.Sprintf(`{"answer": %q, "context_chars": %d}`, question, len(req.UserMessage)), nil
	}
	return fmt.Sprintf("Echo answer to %q (%d characters of prompt).", question, len(req.UserMessage)), nil
}
