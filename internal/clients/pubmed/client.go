// Package pubmed is the evidence validator's outbound half: it asks the
// NCBI esearch endpoint how many studies exist for a term. Only the count
// is fetched, never documents. The client performs no retries of its own;
// retry policy belongs to the discovery orchestrator and worker.
package pubmed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/suplementia/search-backend/internal/platform/envutil"
	"github.com/suplementia/search-backend/internal/platform/logger"
)

// ErrEvidenceTimeout is transient: the evidence source timed out or was
// unreachable. The term stays eligible for background retry.
var ErrEvidenceTimeout = errors.New("evidence source timeout")

const defaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

type Client interface {
	Count(ctx context.Context, term string) (int, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &client{
		log:     log.With("service", "PubMedClient"),
		baseURL: strings.TrimRight(envutil.Str("PUBMED_BASE_URL", defaultBaseURL), "/"),
		apiKey:  envutil.Str("PUBMED_API_KEY", ""),
		httpClient: &http.Client{
			Timeout: envutil.Duration("PUBMED_TIMEOUT", 8*time.Second),
		},
	}, nil
}

// BuildQuery produces the bibliographic query for a term. Supplement
// suffixes are stripped from the term first so the qualifier clause does
// not double up.
func BuildQuery(term string) string {
	clean := strings.TrimSpace(term)
	clean = strings.TrimSuffix(clean, " supplementation")
	clean = strings.TrimSuffix(clean, " supplement")
	clean = strings.TrimSpace(clean)
	return fmt.Sprintf("%s AND (supplement OR supplementation)", clean)
}

type esearchResponse struct {
	EsearchResult struct {
		Count string `json:"count"`
	} `json:"esearchresult"`
}

func (c *client) Count(ctx context.Context, term string) (int, error) {
	start := time.Now()

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", BuildQuery(term))
	params.Set("retmode", "json")
	params.Set("retmax", "0")
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/esearch.fcgi?"+params.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and unreachable-host failures are equally retryable.
		return 0, fmt.Errorf("pubmed esearch: %v: %w", err, ErrEvidenceTimeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return 0, fmt.Errorf("pubmed esearch status %d: %s: %w", resp.StatusCode, snippet, ErrEvidenceTimeout)
		}
		return 0, fmt.Errorf("pubmed esearch status %d: %s", resp.StatusCode, snippet)
	}

	var parsed esearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("pubmed esearch decode: %w", err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(parsed.EsearchResult.Count))
	if err != nil {
		return 0, fmt.Errorf("pubmed esearch count %q: %w", parsed.EsearchResult.Count, err)
	}

	c.log.Debug("PubMed count", "term", term, "study_count", count, "elapsed_ms", time.Since(start).Milliseconds())
	return count, nil
}
