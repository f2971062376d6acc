package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/platform/envutil"
	"github.com/suplementia/search-backend/internal/platform/logger"
)

// ErrEmbeddingUnavailable is transient: the model endpoint timed out, is
// overloaded, or the client could not reach it. Callers retry through the
// discovery queue.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// EmbeddingClient maps text to fixed-length vectors. Deterministic for a
// fixed model, which is what makes discovery retries idempotent.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

type client struct {
	log        *logger.Logger
	apiKey     string
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

var (
	sharedOnce   sync.Once
	sharedClient EmbeddingClient
	sharedErr    error
)

// Shared returns the process-wide embedding client. Construction is
// guarded so concurrent first callers cannot double-initialize.
func Shared(log *logger.Logger) (EmbeddingClient, error) {
	sharedOnce.Do(func() {
		sharedClient, sharedErr = NewClient(log)
	})
	return sharedClient, sharedErr
}

func NewClient(log *logger.Logger) (EmbeddingClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := envutil.Str("OPENAI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	c := &client{
		log:        log.With("service", "EmbeddingClient"),
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(envutil.Str("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		model:      envutil.Str("EMBEDDING_MODEL", "text-embedding-3-small"),
		dimensions: envutil.Int("EMBEDDING_DIMENSIONS", domain.VectorDim),
		httpClient: &http.Client{
			Timeout: envutil.Duration("EMBEDDING_TIMEOUT", 8*time.Second),
		},
	}
	return c, nil
}

func (c *client) Model() string { return c.model }

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	clean := make([]string, len(texts))
	for i := range texts {
		s := strings.TrimSpace(texts[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	reqBody := embeddingsRequest{Model: c.model, Input: clean, Dimensions: c.dimensions}
	var resp embeddingsResponse
	if err := c.post(ctx, "/v1/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(clean) {
		return nil, fmt.Errorf("embeddings response size mismatch: requested=%d returned=%d: %w",
			len(clean), len(resp.Data), ErrEmbeddingUnavailable)
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if len(vec) != c.dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch: expected=%d got=%d", c.dimensions, len(vec))
		}
		out[d.Index] = vec
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("embeddings response missing index %d: %w", i, ErrEmbeddingUnavailable)
		}
	}
	return out, nil
}

func (c *client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures and timeouts are both retryable.
		return fmt.Errorf("embedding call failed: %v: %w", err, ErrEmbeddingUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("embedding endpoint status %d: %s: %w", resp.StatusCode, snippet, ErrEmbeddingUnavailable)
		}
		return fmt.Errorf("embedding endpoint status %d: %s", resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
