package llm

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/markdave123-py/Ingesta/internal/core"
)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// ModelVersion reports the model name stored alongside each vector.
func (g *GeminiEmbedder) ModelVersion() string { return g.modelName }

// EmbedTexts batches all texts in one request via BatchEmbedContents. The
// genai client is connection-pooled and safe to call from concurrent
// pipeline runs.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, &core.InvalidInputError{Reason: "empty chunk text"}
		}
	}

	em := g.client.EmbeddingModel(g.modelName)

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classifyEmbedError(err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

// classifyEmbedError maps Gemini API failures onto the pipeline taxonomy.
// Rate limits and server-side errors are transient; a 400 means the input
// itself is bad (too long, wrong encoding) and retrying cannot help.
func classifyEmbedError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Code >= 500:
			return &core.TransientIOError{Op: "gemini embed", Err: err}
		case apiErr.Code == 400:
			return &core.InvalidInputError{Reason: apiErr.Message}
		}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota") || strings.Contains(msg, "resource exhausted") {
		return &core.TransientIOError{Op: "gemini embed", Err: err}
	}
	return &core.TransientIOError{Op: "gemini embed", Err: err}
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
