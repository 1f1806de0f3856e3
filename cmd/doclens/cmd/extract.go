package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfenderov/doclens/internal/ingestion"
	"github.com/mfenderov/doclens/internal/pipeline"
	"github.com/mfenderov/doclens/internal/scraper"
)

var (
	extractURLs     []string
	extractText     string
	extractName     string
	extractForceOCR bool
	extractWorkers  int
	extractFormat   string
)

var extractCmd = &cobra.Command{
	Use:   "extract [paths...]",
	Short: "Extract records from documents",
	Long: `Extract a structured record from each document and commit it.

Paths may be files, directories (walked with the configured patterns) or
quoted doublestar globs. Duplicate invoices are reported and not committed.

Examples:
  # A single file
  doclens extract lease.pdf

  # Every supported document under a directory
  doclens extract ./inbox

  # A glob
  doclens extract "contracts/**/*.docx"

  # A document on the web
  doclens extract --url https://example.com/invoice-1001.pdf

  # Text that was already extracted
  doclens extract --text "$(cat notes.txt)" --name notes.txt`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringSliceVar(&extractURLs, "url", nil, "URL of a document to download and extract (repeatable)")
	extractCmd.Flags().StringVar(&extractText, "text", "", "Extract from this text instead of files")
	extractCmd.Flags().StringVar(&extractName, "name", "", "Filename to record for --text")
	extractCmd.Flags().BoolVar(&extractForceOCR, "force-ocr", false, "Run OCR on PDFs even when they have a text layer")
	extractCmd.Flags().IntVar(&extractWorkers, "workers", 0, "Documents extracted in parallel (default from config)")
	extractCmd.Flags().StringVar(&extractFormat, "format", "text", "Output format: text or json")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	if len(args) == 0 && len(extractURLs) == 0 && extractText == "" {
		return errors.New("nothing to extract: pass paths, --url or --text")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if extractText != "" {
		out, err := a.engine.ExtractFromText(ctx, extractText, extractName)
		if err != nil {
			return extractionError(err)
		}
		if extractFormat == "json" {
			return printJSON(out)
		}
		printOutcome(extractName, out, nil)
		return nil
	}

	p := newPipeline(a, extractForceOCR, extractWorkers)
	inputs, err := p.Files(args)
	if err != nil {
		return err
	}
	if len(extractURLs) > 0 {
		fetched, err := p.URLs(ctx, extractURLs)
		if err != nil {
			return fmt.Errorf("failed to fetch: %w", err)
		}
		inputs = append(inputs, fetched...)
	}
	slog.Debug("extract command starting", "documents", len(inputs))

	result, err := p.Run(ctx, inputs)
	if extractFormat == "json" {
		if jerr := printJSON(result); jerr != nil {
			return jerr
		}
		return err
	}

	for _, item := range result.Items {
		printOutcome(item.Name, item.Outcome, item.Err)
	}
	fmt.Printf("\nTotal: %d committed, %d duplicates, %d failed in %v\n",
		result.Committed, result.Duplicates, result.Failed, result.Duration)
	return err
}

func newPipeline(a *app, forceOCR bool, workers int) *pipeline.Pipeline {
	cfg := a.cfg
	if workers <= 0 {
		workers = cfg.Extract.Workers
	}
	fetcher := scraper.New(scraper.Config{
		Delay:       cfg.Scraper.Delay,
		MaxDepth:    cfg.Scraper.MaxDepth,
		FollowLinks: cfg.Scraper.FollowLinks,
		UserAgent:   cfg.Scraper.UserAgent,
		Timeout:     cfg.Scraper.Timeout,
		MaxBodySize: cfg.Scraper.MaxBodySize,
	})
	return pipeline.New(a.engine, fetcher, pipeline.Config{
		Workers:  workers,
		ForceOCR: forceOCR || cfg.Extract.ForceOCR,
		Patterns: cfg.Extract.Patterns,
	})
}

// printOutcome prints the outcome for one document.
func printOutcome(name string, out *ingestion.Outcome, err error) {
	switch {
	case err != nil:
		fmt.Printf("✗ %s\n    %s\n", name, extractionError(err))
	case out.Committed():
		rec := out.Record
		cached := ""
		if out.CacheHit {
			cached = " (cached)"
		}
		fmt.Printf("✓ %s%s\n", name, cached)
		fmt.Printf("    Type:        %s\n", rec.Type)
		fmt.Printf("    Risk:        %d/100 (%s)\n", rec.Risk.Score, rec.Risk.Level())
		fmt.Printf("    Record:      %s\n", rec.ID)
		fmt.Printf("    Fingerprint: %s\n", rec.Fingerprint)
	default:
		fmt.Printf("⚠ %s\n    duplicate: %s\n", name, out.Duplicate.Reason)
	}
}

// extractionError prefers the stage reason for display.
func extractionError(err error) error {
	var stageErr *ingestion.StageError
	if errors.As(err, &stageErr) {
		return errors.New(stageErr.Reason())
	}
	return err
}
