package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mfenderov/doclens/internal/cache"
	"github.com/mfenderov/doclens/internal/events"
	"github.com/mfenderov/doclens/internal/extractor"
	"github.com/mfenderov/doclens/internal/parser"
	"github.com/mfenderov/doclens/internal/records"
	"github.com/mfenderov/doclens/internal/risk"
	"github.com/mfenderov/doclens/internal/storage"
	"github.com/mfenderov/doclens/pkg/models"
)

// Parser turns document bytes into text.
type Parser interface {
	Parse(ctx context.Context, data []byte, filename string, forceOCR bool) (*models.ParsedDocument, error)
}

// Classifier assigns a document type.
type Classifier interface {
	Classify(ctx context.Context, text string) (models.Classification, error)
}

// Extractors routes a document type to its extractor.
type Extractors interface {
	For(t models.DocumentType) (extractor.Extractor, error)
}

// Deps are the engine's collaborators. Parser, Classifier and Extractors
// are required; the rest default to in-memory instances.
type Deps struct {
	Parser     Parser
	Classifier Classifier
	Extractors Extractors
	Cache      *cache.Cache
	Records    *records.Set
	Guard      *records.Guard
	Store      storage.Store // durable mirror for records, optional
	Bus        *events.Bus
}

// Options adjust a single extraction.
type Options struct {
	// ForceOCR runs OCR on PDFs even when they have a text layer.
	ForceOCR bool
}

// Duplicate is the rejection returned instead of a record when an invoice
// was already committed.
type Duplicate struct {
	Filename string         `json:"filename"`
	Reason   string         `json:"reason"`
	Match    *records.Match `json:"match"`
}

// Outcome is the result of one extraction: exactly one of Record and
// Duplicate is set.
type Outcome struct {
	Record    *models.ExtractionRecord `json:"record,omitempty"`
	Duplicate *Duplicate               `json:"duplicate,omitempty"`
	CacheHit  bool                     `json:"cache_hit"`
	Duration  time.Duration            `json:"duration"`
}

// Committed reports whether the outcome is a committed record.
func (o *Outcome) Committed() bool {
	return o != nil && o.Record != nil
}

// Engine fingerprints, parses, classifies and extracts documents, and
// commits the resulting records.
type Engine struct {
	parser     Parser
	classifier Classifier
	extractors Extractors
	cache      *cache.Cache
	records    *records.Set
	guard      *records.Guard
	store      storage.Store
	bus        *events.Bus
}

// New creates a new extraction engine.
func New(deps Deps) (*Engine, error) {
	if deps.Parser == nil || deps.Classifier == nil || deps.Extractors == nil {
		return nil, fmt.Errorf("parser, classifier and extractors are required")
	}
	e := &Engine{
		parser:     deps.Parser,
		classifier: deps.Classifier,
		extractors: deps.Extractors,
		cache:      deps.Cache,
		records:    deps.Records,
		guard:      deps.Guard,
		store:      deps.Store,
		bus:        deps.Bus,
	}
	if e.cache == nil {
		var mirror cache.Mirror
		if deps.Store != nil {
			mirror = deps.Store
		}
		e.cache = cache.New(mirror, cache.Config{})
	}
	if e.records == nil {
		e.records = records.NewSet()
	}
	if e.guard == nil {
		e.guard = records.NewGuard()
	}
	if e.bus == nil {
		e.bus = events.NewBus()
	}
	return e, nil
}

// ExtractFromBytes runs the full flow for raw document bytes.
func (e *Engine) ExtractFromBytes(ctx context.Context, data []byte, filename string, opts Options) (*Outcome, error) {
	if len(data) == 0 {
		return nil, &StageError{Stage: StageFingerprint, Err: fmt.Errorf("%s: no content", filename)}
	}
	fp := models.FingerprintOf(data)
	parse := func(ctx context.Context) (*models.ParsedDocument, error) {
		return e.parser.Parse(ctx, data, filename, opts.ForceOCR)
	}
	return e.run(ctx, fp, filename, parse)
}

// ExtractFromText runs the flow for text that was already extracted.
func (e *Engine) ExtractFromText(ctx context.Context, text, filename string) (*Outcome, error) {
	if filename == "" {
		filename = "text"
	}
	fp := models.FingerprintOfText(text)
	parse := func(ctx context.Context) (*models.ParsedDocument, error) {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: %s has no text", parser.ErrParse, filename)
		}
		return &models.ParsedDocument{
			Fingerprint: fp,
			Filename:    filename,
			Text:        text,
			Pages:       []models.PageBoundary{{Page: 1, Start: 0, End: len(text)}},
		}, nil
	}
	return e.run(ctx, fp, filename, parse)
}

func (e *Engine) run(ctx context.Context, fp models.Fingerprint, filename string, parse cache.ParseFunc) (*Outcome, error) {
	start := time.Now()
	log := slog.With("filename", filename, "fingerprint", fp.Short())

	_, cached := e.cache.Get(fp)
	entry, err := e.cache.GetOrCreate(ctx, fp,
		func(ctx context.Context) (*models.ParsedDocument, error) {
			doc, err := parse(ctx)
			if err != nil {
				return nil, &StageError{Stage: StageParse, Err: err}
			}
			return doc, nil
		},
		func(ctx context.Context, doc *models.ParsedDocument) (models.Classification, error) {
			class, err := e.classifier.Classify(ctx, doc.Text)
			if err != nil {
				return models.Classification{}, &StageError{Stage: StageClassify, Err: err}
			}
			return class, nil
		})
	if err != nil {
		var stageErr *StageError
		if !errors.As(err, &stageErr) {
			err = &StageError{Stage: StageParse, Err: err}
		}
		log.Error("extraction failed", "error", err)
		return nil, err
	}
	doc, class := entry.Document, entry.Classification
	log.Debug("document ready", "type", class.Type, "confidence", class.Confidence, "cache_hit", cached)

	ext, err := e.extractors.For(class.Type)
	if err != nil {
		return nil, &StageError{Stage: StageExtract, Err: err}
	}
	res, err := ext.Extract(ctx, doc, class)
	if err != nil {
		err = &StageError{Stage: StageExtract, Err: err}
		log.Error("extraction failed", "error", err)
		return nil, err
	}

	fields := res.Fields
	extractor.AssignAccountType(class.Type, fields, doc.Text)
	rec := models.NewExtractionRecord(doc, class, fields, res.Errors)
	rec.Filename = filename
	// after the record default, so an unstated frequency reads as one-time
	extractor.AssignPeriodAmounts(rec.Fields)
	rec.Risk = risk.Score(rec.Fields)

	out := &Outcome{CacheHit: cached}
	committed, match := e.records.Commit(rec, e.guard)
	if match != nil {
		out.Duplicate = &Duplicate{Filename: filename, Reason: match.Reason(), Match: match}
		out.Duration = time.Since(start)
		log.Warn("duplicate rejected", "key", match.Key, "existing", match.RecordID)
		e.bus.Rejected.Publish(ctx, events.DuplicateRejected{
			Filename:       filename,
			Fingerprint:    fp,
			Key:            match.Key,
			ExistingID:     match.RecordID,
			ExistingSource: match.Filename,
			Timestamp:      time.Now().UTC(),
		})
		return out, nil
	}

	if e.store != nil {
		if err := e.store.Put(ctx, storage.CollectionRecords, committed.ID, committed); err != nil {
			log.Warn("failed to mirror record", "id", committed.ID, "error", err)
		}
	}
	out.Record = committed
	out.Duration = time.Since(start)
	log.Info("record committed",
		"id", committed.ID,
		"type", committed.Type,
		"fields", len(committed.Fields),
		"field_errors", len(committed.FieldErrors),
		"risk", committed.Risk.Score,
		"level", committed.Risk.Level(),
		"duration", out.Duration)
	e.bus.Committed.Publish(ctx, events.ExtractionCommitted{Record: committed, Timestamp: time.Now().UTC()})
	return out, nil
}

// ClearCache clears one fingerprint, or everything when fp is empty.
func (e *Engine) ClearCache(ctx context.Context, fp models.Fingerprint) error {
	var err error
	if fp == "" {
		err = e.cache.Clear(ctx)
	} else {
		err = e.cache.Forget(ctx, fp)
	}
	if err != nil {
		return err
	}
	e.bus.CacheCleared.Publish(ctx, events.CacheCleared{Fingerprint: fp, Timestamp: time.Now().UTC()})
	return nil
}

// Restore loads mirrored records into the committed set.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	recs, err := records.Load(ctx, e.store)
	if err != nil {
		return 0, err
	}
	n := e.records.Restore(recs)
	slog.Debug("records restored", "count", n)
	return n, nil
}

// Records lists committed records, oldest first.
func (e *Engine) Records() []*models.ExtractionRecord {
	return e.records.List()
}

// Record returns one committed record.
func (e *Engine) Record(id string) (*models.ExtractionRecord, bool) {
	return e.records.Get(id)
}

// DeleteRecord removes a committed record and its mirrored copy.
func (e *Engine) DeleteRecord(ctx context.Context, id string) (bool, error) {
	ok := e.records.Delete(id)
	if e.store != nil {
		if err := e.store.Delete(ctx, storage.CollectionRecords, id); err != nil {
			return ok, fmt.Errorf("failed to delete mirrored record: %w", err)
		}
	}
	return ok, nil
}

// Cache exposes the extraction cache, e.g. as the chat document source.
func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

// Bus exposes the event bus for subscribers.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}
