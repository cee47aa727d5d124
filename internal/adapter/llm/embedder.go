package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
	"notesrag/internal/port"
)

// Embedder implements port.EmbeddingService on the embeddings endpoint.
type Embedder struct {
	client *openai.Client
}

func NewEmbedder(client *openai.Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedBatch(ctx context.Context, model string, inputs []string) ([]port.Embedding, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, classifyError(err)
	}

	out := make([]port.Embedding, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		out[i] = port.Embedding{Index: data.Index, Vector: vec}
	}
	return out, nil
}
