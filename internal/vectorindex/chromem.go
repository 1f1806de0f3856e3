// Package vectorindex keeps chunk embeddings in an in-process chromem-go
// database, one collection per document fingerprint.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"

	"github.com/mfenderov/doclens/pkg/models"
)

// errNoEmbedder is returned if chromem tries to embed on its own. Every
// document and query arrives with its vector already computed.
var errNoEmbedder = errors.New("embeddings must be supplied by the caller")

// Chromem is a chromem-go backed chunk index.
type Chromem struct {
	db *chromem.DB
}

// NewChromem creates an index. With an empty path the index lives in
// memory; otherwise it is persisted under path.
func NewChromem(path string) (*Chromem, error) {
	if path == "" {
		return &Chromem{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	return &Chromem{db: db}, nil
}

func collectionName(fp models.Fingerprint) string {
	return "doc-" + string(fp)
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// Index stores the chunks of one document, replacing any previous index
// for the fingerprint.
func (c *Chromem) Index(ctx context.Context, fp models.Fingerprint, chunks []models.Chunk) error {
	name := collectionName(fp)
	if err := c.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to reset collection: %w", err)
	}
	col, err := c.db.CreateCollection(name, map[string]string{"fingerprint": string(fp)}, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", ch.ID)
		}
		docs = append(docs, chromem.Document{
			ID:      ch.ID,
			Content: ch.Text,
			Metadata: map[string]string{
				"index": strconv.Itoa(ch.Index),
				"page":  strconv.Itoa(ch.Page),
			},
			Embedding: ch.Embedding,
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add chunks: %w", err)
	}
	slog.Debug("chunks indexed", "fingerprint", fp.Short(), "chunks", len(docs))
	return nil
}

// Nearest returns the texts of the k chunks most similar to query, most
// similar first. An unindexed fingerprint yields no results.
func (c *Chromem) Nearest(ctx context.Context, fp models.Fingerprint, query []float32, k int) ([]string, error) {
	col := c.db.GetCollection(collectionName(fp), noEmbedding)
	if col == nil || k <= 0 {
		return nil, nil
	}
	n := min(k, col.Count())
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Content
	}
	return texts, nil
}

// Drop removes the index of one document.
func (c *Chromem) Drop(_ context.Context, fp models.Fingerprint) error {
	if err := c.db.DeleteCollection(collectionName(fp)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Len returns the number of indexed documents.
func (c *Chromem) Len() int {
	return len(c.db.ListCollections())
}
