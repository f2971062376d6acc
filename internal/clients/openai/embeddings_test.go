package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &client{
		log:        log,
		apiKey:     "test-key",
		baseURL:    srv.URL,
		model:      "text-embedding-3-small",
		dimensions: domain.VectorDim,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}, srv
}

func embeddingPayload(t *testing.T, n int) []byte {
	t.Helper()
	type datum struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	}
	data := make([]datum, n)
	for i := 0; i < n; i++ {
		vec := make([]float64, domain.VectorDim)
		vec[0] = float64(i + 1)
		data[i] = datum{Embedding: vec, Index: i}
	}
	raw, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestEmbedBatchRequestShape(t *testing.T) {
	var captured embeddingsRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("path: want=/v1/embeddings got=%s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("authorization: got=%q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write(embeddingPayload(t, 2))
	})

	out, err := c.EmbedBatch(context.Background(), []string{"Creatine", "  Magnesium "})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if captured.Model != "text-embedding-3-small" {
		t.Fatalf("model: got=%q", captured.Model)
	}
	if captured.Dimensions != domain.VectorDim {
		t.Fatalf("dimensions: want=%d got=%d", domain.VectorDim, captured.Dimensions)
	}
	if len(captured.Input) != 2 || captured.Input[1] != "Magnesium" {
		t.Fatalf("input not trimmed: got=%v", captured.Input)
	}
	if len(out) != 2 || len(out[0]) != domain.VectorDim {
		t.Fatalf("output shape: got=%d vectors", len(out))
	}
	if out[1][0] != 2 {
		t.Fatalf("index ordering: want out[1][0]=2 got=%f", out[1][0])
	}
}

func TestEmbedSingle(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(embeddingPayload(t, 1))
	})
	vec, err := c.Embed(context.Background(), "Zinc")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != domain.VectorDim {
		t.Fatalf("vector length: want=%d got=%d", domain.VectorDim, len(vec))
	}
}

func TestEmbedServerErrorIsTransient(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	_, err := c.Embed(context.Background(), "Zinc")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("want=ErrEmbeddingUnavailable got=%v", err)
	}
}

func TestEmbedTimeoutIsTransient(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write(embeddingPayload(t, 1))
	})
	c.httpClient.Timeout = 20 * time.Millisecond
	_, err := c.Embed(context.Background(), "Zinc")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("want=ErrEmbeddingUnavailable got=%v", err)
	}
}

func TestEmbedBatchSizeMismatchIsTransient(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(embeddingPayload(t, 1))
	})
	_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("want=ErrEmbeddingUnavailable got=%v", err)
	}
}

func TestEmbedDimensionMismatchFails(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[1,2,3],"index":0}]}`)
	})
	_, err := c.Embed(context.Background(), "Zinc")
	if err == nil {
		t.Fatalf("want dimension error, got nil")
	}
}
