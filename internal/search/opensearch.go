package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/rs/zerolog"
)

// OpenSearchEngine is the primary Engine implementation.
type OpenSearchEngine struct {
	client *opensearch.Client
	log    zerolog.Logger
}

// OpenSearchConfig configures the underlying opensearch-go client.
type OpenSearchConfig struct {
	Addresses []string
	Username  string
	Password  string
}

// NewOpenSearchEngine builds an OpenSearchEngine.
func NewOpenSearchEngine(cfg OpenSearchConfig, log zerolog.Logger) (*OpenSearchEngine, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("search: build opensearch client: %w", err)
	}
	return &OpenSearchEngine{client: client, log: log.With().Str("component", "opensearch-engine").Logger()}, nil
}

// IndexDocument upserts doc under indexName, using doc.ID as the
// document id so re-indexing the same call overwrites in place.
func (e *OpenSearchEngine) IndexDocument(ctx context.Context, indexName string, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("search: marshal document %s: %w", doc.ID, err)
	}

	req := opensearchapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("search: index document %s into %s: %w", doc.ID, indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("search: opensearch rejected document %s: %s", doc.ID, res.String())
	}
	return nil
}

// IndexExists reports whether indexName already exists.
func (e *OpenSearchEngine) IndexExists(ctx context.Context, indexName string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{indexName}}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return false, fmt.Errorf("search: check index %s: %w", indexName, err)
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

// CreateOrUpdateIndex creates indexName if absent, then pushes a
// mapping that matches Settings: plaintext transcript is a text field
// with a standard analyzer (searchable), _geo is a geo_point, and every
// other listed attribute is a keyword field (filterable/sortable via
// doc_values, which OpenSearch keeps on by default for keyword fields).
func (e *OpenSearchEngine) CreateOrUpdateIndex(ctx context.Context, indexName string) error {
	exists, err := e.IndexExists(ctx, indexName)
	if err != nil {
		return err
	}
	if !exists {
		createReq := opensearchapi.IndicesCreateRequest{Index: indexName}
		res, err := createReq.Do(ctx, e.client)
		if err != nil {
			return fmt.Errorf("search: create index %s: %w", indexName, err)
		}
		res.Body.Close()
	}

	mapping, err := buildMapping()
	if err != nil {
		return fmt.Errorf("search: build mapping for %s: %w", indexName, err)
	}
	putReq := opensearchapi.IndicesPutMappingRequest{
		Index: []string{indexName},
		Body:  bytes.NewReader(mapping),
	}
	res, err := putReq.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("search: put mapping for %s: %w", indexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("search: opensearch rejected mapping for %s: %s", indexName, res.String())
	}
	return nil
}

func buildMapping() ([]byte, error) {
	properties := map[string]any{
		"transcript_plaintext": map[string]string{"type": "text"},
	}
	for _, field := range Settings.Filterable {
		if field == "_geo" {
			properties[field] = map[string]string{"type": "geo_point"}
			continue
		}
		properties[field] = map[string]string{"type": "keyword"}
	}

	return json.Marshal(map[string]any{"properties": properties})
}
