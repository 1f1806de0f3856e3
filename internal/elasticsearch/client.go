package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/mfenderov/doclens/pkg/models"
)

// Config holds Elasticsearch client configuration.
type Config struct {
	Addresses  []string
	Index      string
	Username   string
	Password   string
	Dimensions int // embedding size of the dense_vector field
}

// Client wraps the Elasticsearch client with chunk index operations.
type Client struct {
	es    *elasticsearch.Client
	index string
	dims  int
}

// New creates a new Elasticsearch client.
func New(config Config) (*Client, error) {
	if config.Index == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if config.Dimensions <= 0 {
		config.Dimensions = 1024
	}
	cfg := elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}

	return &Client{
		es:    es,
		index: config.Index,
		dims:  config.Dimensions,
	}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) bool {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

// indexMapping returns the chunk index mapping.
func (c *Client) indexMapping() string {
	return fmt.Sprintf(`{
	"mappings": {
		"properties": {
			"fingerprint": { "type": "keyword" },
			"chunk_id": { "type": "keyword" },
			"index": { "type": "integer" },
			"page": { "type": "integer" },
			"text": { "type": "text", "analyzer": "english" },
			"embedding": {
				"type": "dense_vector",
				"dims": %d,
				"index": true,
				"similarity": "cosine"
			}
		}
	}
}`, c.dims)
}

// CreateIndex creates the index with proper mapping.
func (c *Client) CreateIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		return nil
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader([]byte(c.indexMapping()))),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index: %s", res.String())
	}

	return nil
}

// DeleteIndex removes the index (for testing/cleanup).
func (c *Client) DeleteIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

// chunkDoc is the stored form of a chunk.
type chunkDoc struct {
	Fingerprint string    `json:"fingerprint"`
	ChunkID     string    `json:"chunk_id"`
	Index       int       `json:"index"`
	Page        int       `json:"page,omitempty"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"embedding"`
}

func documentID(fp models.Fingerprint, chunk models.Chunk) string {
	return fmt.Sprintf("%s-%d", fp, chunk.Index)
}

// Index stores the chunks of one document, replacing any chunks already
// stored for the fingerprint, and refreshes so they are searchable at once.
func (c *Client) Index(ctx context.Context, fp models.Fingerprint, chunks []models.Chunk) error {
	if err := c.CreateIndex(ctx); err != nil {
		return err
	}
	if err := c.Drop(ctx, fp); err != nil {
		return err
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", ch.ID)
		}
		meta := map[string]any{"index": map[string]any{"_index": c.index, "_id": documentID(fp, ch)}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		doc := chunkDoc{
			Fingerprint: string(fp),
			ChunkID:     ch.ID,
			Index:       ch.Index,
			Page:        ch.Page,
			Text:        ch.Text,
			Embedding:   ch.Embedding,
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to marshal chunk: %w", err)
		}
	}
	if body.Len() == 0 {
		return nil
	}

	res, err := c.es.Bulk(
		&body,
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing chunks (status %d): %s", res.StatusCode, res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if br.Errors {
		return fmt.Errorf("some chunks failed to index")
	}
	slog.Debug("chunks indexed", "index", c.index, "fingerprint", fp.Short(), "chunks", len(chunks))
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
}

// searchResponse represents ES search response structure.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source chunkDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Nearest runs a knn search restricted to one document's chunks and returns
// the chunk texts, most similar first.
func (c *Client) Nearest(ctx context.Context, fp models.Fingerprint, query []float32, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	searchQuery := map[string]any{
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   query,
			"k":              k,
			"num_candidates": max(k*10, 50),
			"filter": map[string]any{
				"term": map[string]any{"fingerprint": string(fp)},
			},
		},
		"_source": []string{"text", "index"},
		"size":    k,
	}

	data, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(data)),
	)
	if err != nil {
		return nil, fmt.Errorf("knn search failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("knn search error: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	texts := make([]string, len(sr.Hits.Hits))
	for i, hit := range sr.Hits.Hits {
		texts[i] = hit.Source.Text
	}
	return texts, nil
}

// Drop deletes every chunk of one document.
func (c *Client) Drop(ctx context.Context, fp models.Fingerprint) error {
	query := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"fingerprint": string(fp)},
		},
	}
	data, err := json.Marshal(query)
	if err != nil {
		return err
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		bytes.NewReader(data),
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("error deleting chunks: %s", res.String())
	}
	return nil
}
