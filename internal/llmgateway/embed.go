package llmgateway

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/genai"

	"supportbot/internal/telemetry"
)

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Embed returns one embedding vector per input text, in order. Used to
// embed a case's canonical document (model.Case.Document) before
// upserting into the vector index, and to embed the live question
// before retrieval.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("llmgateway: no texts to embed")
	}
	ctx, span := telemetry.Tracer("llmgateway").Start(ctx, "embed:"+g.embeddingModel)
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var vectors [][]float32
	err := withRetry(cctx, g.maxRetries, func() error {
		resp, err := g.embedder.Models.EmbedContent(cctx, g.embeddingModel, contents, nil)
		if err != nil {
			return err
		}
		if len(resp.Embeddings) != len(texts) {
			return fmt.Errorf("unexpected embedding count: got %d, want %d", len(resp.Embeddings), len(texts))
		}
		vectors = make([][]float32, len(resp.Embeddings))
		for i, e := range resp.Embeddings {
			vectors[i] = e.Values
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("llmgateway: embed content: %w", err)
	}
	return vectors, nil
}
