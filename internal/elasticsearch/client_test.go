package elasticsearch

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mfenderov/doclens/pkg/models"
)

func skipIfNoES(t *testing.T) {
	if os.Getenv("SKIP_ES_TESTS") == "1" {
		t.Skip("Skipping ES tests (SKIP_ES_TESTS=1)")
	}

	client, err := New(Config{
		Addresses: []string{"http://localhost:9200"},
		Index:     "test-skip-check",
	})
	if err != nil {
		t.Skipf("Skipping ES tests: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !client.Ping(ctx) {
		t.Skip("Skipping ES tests: Elasticsearch not available")
	}
}

func TestNew_RequiresIndex(t *testing.T) {
	if _, err := New(Config{Addresses: []string{"http://localhost:9200"}}); err == nil {
		t.Error("expected error without index name")
	}
}

func TestIndexMapping_UsesDimensions(t *testing.T) {
	c, err := New(Config{Index: "x", Dimensions: 3})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !strings.Contains(c.indexMapping(), `"dims": 3`) {
		t.Errorf("mapping should carry the configured dims:\n%s", c.indexMapping())
	}

	c, _ = New(Config{Index: "x"})
	if c.dims != 1024 {
		t.Errorf("default dims = %d, want 1024", c.dims)
	}
}

func TestClient_CreateIndex(t *testing.T) {
	skipIfNoES(t)

	client, err := New(Config{
		Addresses:  []string{"http://localhost:9200"},
		Index:      "doclens-test-create",
		Dimensions: 3,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	client.DeleteIndex(ctx)

	if err := client.CreateIndex(ctx); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	if err := client.CreateIndex(ctx); err != nil {
		t.Fatalf("CreateIndex() second call error = %v", err)
	}

	client.DeleteIndex(ctx)
}

func TestClient_IndexNearestDrop(t *testing.T) {
	skipIfNoES(t)

	client, err := New(Config{
		Addresses:  []string{"http://localhost:9200"},
		Index:      "doclens-test-chunks",
		Dimensions: 3,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	client.DeleteIndex(ctx)
	defer client.DeleteIndex(ctx)

	lease := models.FingerprintOfText("lease")
	other := models.FingerprintOfText("other")

	chunks := []models.Chunk{
		{ID: "l-0", Index: 0, Text: "rent is due monthly", Embedding: []float32{1, 0, 0}},
		{ID: "l-1", Index: 1, Text: "the lessee pays utilities", Embedding: []float32{0, 1, 0}},
	}
	if err := client.Index(ctx, lease, chunks); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if err := client.Index(ctx, other, []models.Chunk{
		{ID: "o-0", Index: 0, Text: "unrelated", Embedding: []float32{0, 1, 0}},
	}); err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	got, err := client.Nearest(ctx, lease, []float32{0, 1, 0}, 3)
	if err != nil {
		t.Fatalf("Nearest() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results restricted to the fingerprint, got %v", got)
	}
	if got[0] != "the lessee pays utilities" {
		t.Errorf("nearest = %q, want %q", got[0], "the lessee pays utilities")
	}

	if err := client.Drop(ctx, lease); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}
	got, err = client.Nearest(ctx, lease, []float32{0, 1, 0}, 3)
	if err != nil {
		t.Fatalf("Nearest() after drop error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results after drop, got %v", got)
	}
}
