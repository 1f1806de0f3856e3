// Package scraper downloads documents from the web for extraction.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/mfenderov/doclens/internal/parser"
)

// Config holds scraper configuration.
type Config struct {
	Delay       time.Duration
	MaxDepth    int
	FollowLinks bool // follow same-host links to collect every linked document
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Download is one fetched document.
type Download struct {
	URL         string
	Filename    string
	ContentType string
	Data        []byte
	FetchedAt   time.Time
}

// Scraper fetches documents over HTTP.
type Scraper struct {
	config Config
}

// New creates a new Scraper with the given configuration.
func New(config Config) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "doclens/1.0"
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = 1
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 50 << 20
	}
	return &Scraper{config: config}
}

// Fetch downloads the document at startURL. With FollowLinks, same-host
// links are followed up to MaxDepth and every successful response is
// returned. The context can be used to cancel the crawl.
func (s *Scraper) Fetch(ctx context.Context, startURL string) ([]Download, error) {
	var (
		downloads []Download
		mu        sync.Mutex
		cancelled bool
	)

	parsedURL, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", parsedURL.Scheme)
	}

	slog.Debug("starting fetch", "url", startURL, "max_depth", s.config.MaxDepth)

	c := colly.NewCollector(
		colly.MaxDepth(s.config.MaxDepth),
		colly.UserAgent(s.config.UserAgent),
		colly.MaxBodySize(s.config.MaxBodySize),
	)
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       s.config.Delay,
		Parallelism: 2,
	})
	c.SetRequestTimeout(s.config.Timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			mu.Lock()
			cancelled = true
			mu.Unlock()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		if r.StatusCode >= 400 || len(r.Body) == 0 {
			slog.Debug("skipping response", "url", r.Request.URL.String(), "status", r.StatusCode)
			return
		}
		contentType := r.Headers.Get("Content-Type")
		d := Download{
			URL:         r.Request.URL.String(),
			Filename:    Filename(r.Request.URL, contentType, r.Headers.Get("Content-Disposition")),
			ContentType: contentType,
			Data:        r.Body,
			FetchedAt:   time.Now().UTC(),
		}
		slog.Debug("fetched document", "url", d.URL, "filename", d.Filename, "size", len(d.Data))

		mu.Lock()
		downloads = append(downloads, d)
		mu.Unlock()
	})

	if s.config.FollowLinks {
		c.OnHTML("a[href]", func(e *colly.HTMLElement) {
			link, err := url.Parse(e.Request.AbsoluteURL(e.Attr("href")))
			if err != nil || link.Host != parsedURL.Host {
				return
			}
			_ = e.Request.Visit(link.String())
		})
	}

	if err := c.Visit(startURL); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", startURL, err)
	}
	c.Wait()

	if cancelled {
		return downloads, ctx.Err()
	}
	slog.Debug("fetch complete", "url", startURL, "documents", len(downloads))
	return downloads, nil
}

// Filename names a download: the Content-Disposition filename when given,
// otherwise the last path segment, with an extension from the Content-Type
// when the path has none.
func Filename(u *url.URL, contentType, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		name = strings.ReplaceAll(u.Hostname(), ".", "-")
	}
	if path.Ext(name) == "" {
		name += parser.ExtensionFor(contentType)
	}
	return name
}
