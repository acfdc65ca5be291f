package vectorindex

import (
	"context"
	"testing"

	"google.golang.org/genai"
)

type fakeEmbedAPI struct {
	calls      int
	maxPerCall int
	vecFor     func(text string) []float32
}

func (f *fakeEmbedAPI) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.calls++
	if f.maxPerCall > 0 && len(contents) > f.maxPerCall {
		return nil, errTooManyInputs
	}
	embeddings := make([]*genai.ContentEmbedding, len(contents))
	for i, c := range contents {
		text := c.Parts[0].Text
		embeddings[i] = &genai.ContentEmbedding{Values: f.vecFor(text)}
	}
	return &genai.EmbedContentResponse{Embeddings: embeddings}, nil
}

var errTooManyInputs = &testError{"too many inputs in one batch"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestEmbedTextComposesTitleAndSummary(t *testing.T) {
	var gotText string
	api := &fakeEmbedAPI{vecFor: func(text string) []float32 {
		gotText = text
		return []float32{0.1, 0.2, 0.3}
	}}
	e := &Embedder{api: api, model: "text-embedding-004", dim: 3}

	vec, err := e.EmbedText(context.Background(), "Title", "Summary body")
	if err != nil {
		t.Fatalf("EmbedText: %v", err)
	}
	if gotText != "Title\nSummary body" {
		t.Fatalf("composed text = %q, want %q", gotText, "Title\nSummary body")
	}
	if len(vec) != 3 {
		t.Fatalf("got %d-dim vector, want 3", len(vec))
	}
}

func TestEmbedBatchSplitsAtMaxBatchSize(t *testing.T) {
	api := &fakeEmbedAPI{maxPerCall: maxEmbedBatch, vecFor: func(text string) []float32 {
		return []float32{1, 0, 0}
	}}
	e := &Embedder{api: api, model: "text-embedding-004", dim: 3}

	texts := make([]string, maxEmbedBatch+5)
	for i := range texts {
		texts[i] = "text"
	}

	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	if api.calls != 2 {
		t.Fatalf("got %d API calls, want 2 (batches of %d and 5)", api.calls, maxEmbedBatch)
	}
}

func TestEmbedChunkRejectsMismatchedResponseLength(t *testing.T) {
	api := &fakeEmbedAPI{vecFor: func(text string) []float32 { return []float32{1} }}
	// Force a mismatch by wrapping with a fake that drops one embedding.
	e := &Embedder{api: dropOneAPI{api}, model: "m", dim: 1}

	_, err := e.EmbedText(context.Background(), "a", "b")
	if err == nil {
		t.Fatal("expected error on response/input length mismatch")
	}
}

type dropOneAPI struct{ *fakeEmbedAPI }

func (d dropOneAPI) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	resp, err := d.fakeEmbedAPI.EmbedContent(ctx, model, contents, config)
	if err != nil {
		return nil, err
	}
	resp.Embeddings = nil
	return resp, nil
}
