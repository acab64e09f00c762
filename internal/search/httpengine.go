package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEngine is the alternate Engine implementation: a REST client
// against a Typesense-style collections API, used by deployments that
// don't want to run OpenSearch. It needs nothing beyond net/http and
// encoding/json, the same idiom the engine adapters use for their
// hosted HTTP backends.
type HTTPEngine struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPEngine builds an HTTPEngine.
func NewHTTPEngine(baseURL, apiKey string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// IndexDocument upserts doc into a collection's /documents endpoint
// with action=upsert, so a redelivered job overwrites the prior
// document for the same id instead of erroring on a duplicate.
func (e *HTTPEngine) IndexDocument(ctx context.Context, indexName string, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("search: marshal document %s: %w", doc.ID, err)
	}

	url := fmt.Sprintf("%s/collections/%s/documents?action=upsert", e.baseURL, indexName)
	res, err := e.do(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("search: index document %s into %s: status %d", doc.ID, indexName, res.StatusCode)
	}
	return nil
}

// IndexExists checks a collection's schema endpoint.
func (e *HTTPEngine) IndexExists(ctx context.Context, indexName string) (bool, error) {
	url := fmt.Sprintf("%s/collections/%s", e.baseURL, indexName)
	res, err := e.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

// CreateOrUpdateIndex creates the collection's schema from Settings if
// it doesn't exist yet. Collections here aren't mutable after
// creation, so there's no settings-diff step like the OpenSearch
// engine's mapping update.
func (e *HTTPEngine) CreateOrUpdateIndex(ctx context.Context, indexName string) error {
	exists, err := e.IndexExists(ctx, indexName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	schema := collectionSchema(indexName)
	body, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("search: marshal schema for %s: %w", indexName, err)
	}

	res, err := e.do(ctx, http.MethodPost, e.baseURL+"/collections", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		return fmt.Errorf("search: create collection %s: status %d", indexName, res.StatusCode)
	}
	return nil
}

func (e *HTTPEngine) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	if e.apiKey != "" {
		req.Header.Set("X-TYPESENSE-API-KEY", e.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request %s %s: %w", method, url, err)
	}
	return res, nil
}

type collectionField struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Facet bool   `json:"facet,omitempty"`
}

func collectionSchema(name string) map[string]any {
	fields := []collectionField{
		{Name: "transcript_plaintext", Type: "string"},
	}
	for _, f := range Settings.Filterable {
		typ := "string"
		if f == "_geo" {
			typ = "geopoint"
		}
		fields = append(fields, collectionField{Name: f, Type: typ, Facet: true})
	}
	return map[string]any{
		"name":   name,
		"fields": fields,
	}
}
