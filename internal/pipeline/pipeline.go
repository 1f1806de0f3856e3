// Package pipeline runs batches of documents through the extraction engine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mfenderov/doclens/internal/ingestion"
	"github.com/mfenderov/doclens/internal/scraper"
)

// DefaultPatterns select the document formats the parser understands.
var DefaultPatterns = []string{"**/*.{pdf,PDF,docx,DOCX,txt,md,html,htm}"}

// Engine is the part of ingestion.Engine the pipeline drives.
type Engine interface {
	ExtractFromBytes(ctx context.Context, data []byte, filename string, opts ingestion.Options) (*ingestion.Outcome, error)
}

// Fetcher downloads documents from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]scraper.Download, error)
}

// Config holds pipeline configuration.
type Config struct {
	Workers  int
	ForceOCR bool
	Patterns []string // doublestar patterns used when a directory is given
}

// Input is one document to extract.
type Input struct {
	Name string
	Load func(ctx context.Context) ([]byte, error)
}

// Item is the outcome for one input: either Outcome or Err is set.
type Item struct {
	Name    string
	Outcome *ingestion.Outcome
	Err     error
}

// Result holds pipeline execution results in input order.
type Result struct {
	Items      []Item
	Committed  int
	Duplicates int
	Failed     int
	Duration   time.Duration
}

// Pipeline orchestrates loading and extracting a batch of documents.
type Pipeline struct {
	config  Config
	engine  Engine
	fetcher Fetcher
}

// New creates a new Pipeline. fetcher may be nil when URLs are not used.
func New(engine Engine, fetcher Fetcher, config Config) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if len(config.Patterns) == 0 {
		config.Patterns = DefaultPatterns
	}
	return &Pipeline{config: config, engine: engine, fetcher: fetcher}
}

// Run extracts every input with bounded parallelism. A failing document does
// not stop the others; Run only returns an error when ctx ends.
func (p *Pipeline) Run(ctx context.Context, inputs []Input) (*Result, error) {
	start := time.Now()
	result := &Result{Items: make([]Item, len(inputs))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for i, in := range inputs {
		g.Go(func() error {
			result.Items[i] = p.extract(gctx, in)
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range result.Items {
		switch {
		case item.Err != nil:
			result.Failed++
		case item.Outcome.Committed():
			result.Committed++
		default:
			result.Duplicates++
		}
	}
	result.Duration = time.Since(start)

	slog.Info("batch complete",
		"documents", len(inputs),
		"committed", result.Committed,
		"duplicates", result.Duplicates,
		"failed", result.Failed,
		"duration", result.Duration)
	return result, ctx.Err()
}

func (p *Pipeline) extract(ctx context.Context, in Input) Item {
	item := Item{Name: in.Name}
	if err := ctx.Err(); err != nil {
		item.Err = err
		return item
	}
	data, err := in.Load(ctx)
	if err != nil {
		item.Err = fmt.Errorf("failed to load %s: %w", in.Name, err)
		slog.Warn("failed to load document", "name", in.Name, "error", err)
		return item
	}
	item.Outcome, item.Err = p.engine.ExtractFromBytes(ctx, data, filepath.Base(in.Name), ingestion.Options{ForceOCR: p.config.ForceOCR})
	return item
}

// Files expands paths into inputs. Directories are walked with the
// configured doublestar patterns; other arguments are treated as patterns
// themselves, so quoted globs work as well as plain file names.
func (p *Pipeline) Files(paths []string) ([]Input, error) {
	var files []string
	for _, arg := range paths {
		info, err := os.Stat(arg)
		switch {
		case err == nil && info.IsDir():
			matches, err := p.walk(arg)
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		case err == nil:
			files = append(files, arg)
		case errors.Is(err, fs.ErrNotExist):
			matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", arg, err)
			}
			matches = slices.DeleteFunc(matches, func(m string) bool { return hidden(filepath.Base(m)) })
			if len(matches) == 0 {
				return nil, fmt.Errorf("no documents match %s", arg)
			}
			files = append(files, matches...)
		default:
			return nil, err
		}
	}

	slices.Sort(files)
	files = slices.Compact(files)

	inputs := make([]Input, 0, len(files))
	for _, f := range files {
		inputs = append(inputs, FileInput(f))
	}
	return inputs, nil
}

func (p *Pipeline) walk(dir string) ([]string, error) {
	fsys := os.DirFS(dir)
	var out []string
	for _, pattern := range p.config.Patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if hidden(m) {
				continue
			}
			out = append(out, filepath.Join(dir, filepath.FromSlash(m)))
		}
	}
	return out, nil
}

// Match reports whether a file name is selected by the configured patterns.
func (p *Pipeline) Match(name string) bool {
	base := filepath.Base(name)
	if hidden(base) {
		return false
	}
	for _, pattern := range p.config.Patterns {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func hidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// FileInput reads a document from disk.
func FileInput(path string) Input {
	return Input{
		Name: path,
		Load: func(context.Context) ([]byte, error) {
			return os.ReadFile(path)
		},
	}
}

// URLs fetches every URL and returns the downloads as inputs.
func (p *Pipeline) URLs(ctx context.Context, urls []string) ([]Input, error) {
	if p.fetcher == nil {
		return nil, fmt.Errorf("URL fetching is not configured")
	}
	var inputs []Input
	for _, u := range urls {
		downloads, err := p.fetcher.Fetch(ctx, u)
		if err != nil && len(downloads) == 0 {
			return nil, err
		}
		for _, d := range downloads {
			data := d.Data
			inputs = append(inputs, Input{
				Name: d.Filename,
				Load: func(context.Context) ([]byte, error) { return data, nil },
			})
		}
	}
	return inputs, nil
}
