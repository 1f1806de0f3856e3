package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestScraper_FetchSingleURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer server.Close()

	s := New(Config{
		Delay:     10 * time.Millisecond,
		UserAgent: "test-agent",
	})

	docs, err := s.Fetch(t.Context(), server.URL+"/files/invoice-42")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 download, got %d", len(docs))
	}

	d := docs[0]
	if !strings.HasPrefix(d.URL, server.URL) {
		t.Errorf("URL = %q, want prefix %q", d.URL, server.URL)
	}
	if d.Filename != "invoice-42.pdf" {
		t.Errorf("Filename = %q, want %q", d.Filename, "invoice-42.pdf")
	}
	if string(d.Data) != "%PDF-1.4 fake" {
		t.Errorf("Data = %q", d.Data)
	}
	if d.FetchedAt.IsZero() {
		t.Error("FetchedAt should not be zero")
	}
}

func TestScraper_FollowsLinksWithinDomain(t *testing.T) {
	pages := map[string]string{
		"/":          `<html><body><a href="/lease.txt">Lease</a> <a href="/nda.txt">NDA</a> <a href="https://example.org/x.txt">external</a></body></html>`,
		"/lease.txt": "Lease Agreement between Acme Corp and Beta LLC.",
		"/nda.txt":   "Non-disclosure agreement.",
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.URL.Path == "/" {
			w.Header().Set("Content-Type", "text/html")
		} else {
			w.Header().Set("Content-Type", "text/plain")
		}
		w.Write([]byte(content))
	}))
	defer server.Close()

	s := New(Config{
		Delay:       10 * time.Millisecond,
		MaxDepth:    2,
		FollowLinks: true,
		UserAgent:   "test-agent",
	})

	docs, err := s.Fetch(t.Context(), server.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	names := make(map[string]bool)
	for _, d := range docs {
		names[d.Filename] = true
	}
	if !names["lease.txt"] || !names["nda.txt"] {
		t.Errorf("expected lease.txt and nda.txt, got %v", names)
	}
	if len(docs) != 3 {
		t.Errorf("expected 3 downloads (index plus two documents), got %d", len(docs))
	}
}

func TestScraper_HandlesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Internal Error", http.StatusInternalServerError)
	}))
	defer server.Close()

	s := New(Config{Delay: 10 * time.Millisecond, UserAgent: "test-agent"})

	docs, err := s.Fetch(t.Context(), server.URL)
	if err == nil {
		t.Log("Fetch returned no error for a failing server")
	}
	if len(docs) > 0 {
		t.Errorf("expected 0 downloads for error response, got %d", len(docs))
	}
}

func TestScraper_RejectsUnsupportedScheme(t *testing.T) {
	s := New(Config{})
	if _, err := s.Fetch(t.Context(), "file:///etc/passwd"); err == nil {
		t.Error("expected error for file URL")
	}
}

func TestScraper_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("text"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	docs, err := New(Config{}).Fetch(ctx, server.URL)
	if len(docs) != 0 {
		t.Errorf("expected no downloads after cancellation, got %d", len(docs))
	}
	if err == nil {
		t.Error("expected an error after cancellation")
	}
}

func TestScraper_SetsUserAgent(t *testing.T) {
	var receivedUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("Test"))
	}))
	defer server.Close()

	s := New(Config{Delay: 10 * time.Millisecond, UserAgent: "doclens/1.0"})
	if _, err := s.Fetch(t.Context(), server.URL); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if receivedUA != "doclens/1.0" {
		t.Errorf("User-Agent = %q, want %q", receivedUA, "doclens/1.0")
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name        string
		rawURL      string
		contentType string
		disposition string
		want        string
	}{
		{"path with extension", "https://x.test/a/lease.pdf", "application/octet-stream", "", "lease.pdf"},
		{"extension from content type", "https://x.test/download/7", "application/pdf", "", "7.pdf"},
		{"docx content type", "https://x.test/get", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "", "get.docx"},
		{"disposition wins", "https://x.test/get?id=1", "application/pdf", `attachment; filename="inv 9.pdf"`, "inv 9.pdf"},
		{"root path uses host", "https://docs.x.test/", "text/html; charset=utf-8", "", "docs-x-test.html"},
		{"unknown type", "https://x.test/blob", "application/octet-stream", "", "blob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.rawURL)
			if err != nil {
				t.Fatal(err)
			}
			if got := Filename(u, tt.contentType, tt.disposition); got != tt.want {
				t.Errorf("Filename() = %q, want %q", got, tt.want)
			}
		})
	}
}
