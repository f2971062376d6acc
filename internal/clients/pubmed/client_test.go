package pubmed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/suplementia/search-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return &client{
		log:        log,
		baseURL:    srv.URL,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func TestBuildQuery(t *testing.T) {
	cases := []struct {
		term string
		want string
	}{
		{"Creatine", "Creatine AND (supplement OR supplementation)"},
		{"creatine supplement", "creatine AND (supplement OR supplementation)"},
		{"magnesium supplementation", "magnesium AND (supplement OR supplementation)"},
		{"  Vitamin D  ", "Vitamin D AND (supplement OR supplementation)"},
	}
	for _, tc := range cases {
		if got := BuildQuery(tc.term); got != tc.want {
			t.Fatalf("BuildQuery(%q): want=%q got=%q", tc.term, tc.want, got)
		}
	}
}

func TestCountParsesEsearchResponse(t *testing.T) {
	var captured url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/esearch.fcgi" {
			t.Fatalf("path: want=/esearch.fcgi got=%s", r.URL.Path)
		}
		captured = r.URL.Query()
		fmt.Fprint(w, `{"esearchresult":{"count":"150"}}`)
	})

	count, err := c.Count(context.Background(), "Calcium")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 150 {
		t.Fatalf("count: want=150 got=%d", count)
	}
	if captured.Get("db") != "pubmed" {
		t.Fatalf("db param: got=%q", captured.Get("db"))
	}
	if captured.Get("retmax") != "0" {
		t.Fatalf("retmax param: got=%q", captured.Get("retmax"))
	}
	if captured.Get("retmode") != "json" {
		t.Fatalf("retmode param: got=%q", captured.Get("retmode"))
	}
	if captured.Get("term") != "Calcium AND (supplement OR supplementation)" {
		t.Fatalf("term param: got=%q", captured.Get("term"))
	}
	if captured.Has("api_key") {
		t.Fatalf("api_key sent without configuration")
	}
}

func TestCountSendsAPIKeyWhenConfigured(t *testing.T) {
	var captured url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r.URL.Query()
		fmt.Fprint(w, `{"esearchresult":{"count":"0"}}`)
	})
	c.apiKey = "abc123"
	if _, err := c.Count(context.Background(), "Zinc"); err != nil {
		t.Fatalf("Count: %v", err)
	}
	if captured.Get("api_key") != "abc123" {
		t.Fatalf("api_key param: got=%q", captured.Get("api_key"))
	}
}

func TestCountServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusBadGateway)
	})
	_, err := c.Count(context.Background(), "Zinc")
	if !errors.Is(err, ErrEvidenceTimeout) {
		t.Fatalf("want=ErrEvidenceTimeout got=%v", err)
	}
}

func TestCountTimeoutIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"esearchresult":{"count":"5"}}`)
	})
	c.httpClient.Timeout = 20 * time.Millisecond
	_, err := c.Count(context.Background(), "Zinc")
	if !errors.Is(err, ErrEvidenceTimeout) {
		t.Fatalf("want=ErrEvidenceTimeout got=%v", err)
	}
}

func TestCountMalformedCountFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"esearchresult":{"count":"many"}}`)
	})
	_, err := c.Count(context.Background(), "Zinc")
	if err == nil {
		t.Fatalf("want parse error, got nil")
	}
	if errors.Is(err, ErrEvidenceTimeout) {
		t.Fatalf("parse error misclassified as transient: %v", err)
	}
}
