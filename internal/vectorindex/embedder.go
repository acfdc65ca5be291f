// Package vectorindex implements the Embedding Indexer and Semantic
// Retriever: a genai-backed embedder, a single-writer
// sqlite-backed vector store with brute-force cosine similarity (no
// vector-database client exists anywhere in the retrieval pack, so this is
// implemented directly), and a top-K retriever.
package vectorindex

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"newsdigest/internal/apperror"
)

// embedAPI is the slice of genai.Client.Models this package depends on,
// narrowed to let tests substitute a fake without a live API key.
type embedAPI interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder computes fixed-dimension vectors for text, batching up to 32
// inputs per call.
type Embedder struct {
	api   embedAPI
	model string
	dim   int
}

func NewEmbedder(client *genai.Client, modelName string, dim int) *Embedder {
	return &Embedder{api: client.Models, model: modelName, dim: dim}
}

// NewEmbedderWithAPI builds an Embedder against an already-narrowed
// embedAPI implementation, letting callers outside this package (e.g.
// orchestrator wiring tests) substitute a fake without a live client.
func NewEmbedderWithAPI(api embedAPI, modelName string, dim int) *Embedder {
	return &Embedder{api: api, model: modelName, dim: dim}
}

const maxEmbedBatch = 32

// EmbedText composes the "<title>\n<summary>" text a Summary's candidate
// record uses and returns its embedding.
func (e *Embedder) EmbedText(ctx context.Context, title, summary string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{title + "\n" + summary})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedQuery embeds free-form query text, for search() rather than a
// Summary's own "<title>\n<summary>" composition.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds up to maxEmbedBatch texts at a time.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := start + maxEmbedBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *Embedder) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(t)}, genai.RoleUser))
	}

	resp, err := e.api.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, &apperror.ModelError{Kind: apperror.ModelTransient, Err: fmt.Errorf("embed: %w", err)}
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &apperror.ModelError{Kind: apperror.ModelInvalid, Err: fmt.Errorf("embed: expected %d vectors, got %d", len(texts), len(resp.Embeddings))}
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Dimension reports the configured embedding dimension. Nothing compares it
// with the vectors already stored, and returned embeddings are not checked
// against it.
func (e *Embedder) Dimension() int { return e.dim }
