package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mfenderov/doclens/internal/cache"
	"github.com/mfenderov/doclens/internal/chat"
	"github.com/mfenderov/doclens/internal/chunker"
	"github.com/mfenderov/doclens/internal/classifier"
	"github.com/mfenderov/doclens/internal/config"
	"github.com/mfenderov/doclens/internal/elasticsearch"
	"github.com/mfenderov/doclens/internal/embeddings"
	"github.com/mfenderov/doclens/internal/export"
	"github.com/mfenderov/doclens/internal/extractor"
	"github.com/mfenderov/doclens/internal/ingestion"
	"github.com/mfenderov/doclens/internal/llm"
	"github.com/mfenderov/doclens/internal/parser"
	"github.com/mfenderov/doclens/internal/retry"
	"github.com/mfenderov/doclens/internal/storage"
	"github.com/mfenderov/doclens/internal/vectorindex"
)

// generator is satisfied by llm.Client and llm.LangChain.
type generator interface {
	Complete(ctx context.Context, prompt string, cons llm.Constraints) (string, error)
}

// embedder is satisfied by embeddings.Client and embeddings.LangChain.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// app holds the wired components shared by the commands.
type app struct {
	cfg     config.Config
	store   storage.Store
	objects *storage.Client // set when storage is s3
	engine  *ingestion.Engine
	chat    *chat.Manager // nil unless llm and embeddings are enabled
	sink    *export.Sink  // nil unless export.path is set
	closers []func() error
}

// newApp builds the engine on the configured store and restores the
// records mirrored by earlier runs.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	policy := retryPolicy(cfg)

	var gen generator
	if cfg.LLM.Enabled {
		g, err := newGenerator(cfg.LLM)
		if err != nil {
			a.Close()
			return nil, err
		}
		gen = g
		slog.Info("text generation enabled", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	}

	deps := ingestion.Deps{
		Parser: parser.New(parser.DefaultConfig()),
		Cache:  cache.New(a.store, cache.Config{Timeout: cfg.Extract.CacheTimeout}),
		Store:  a.store,
	}
	if gen != nil {
		deps.Classifier = classifier.New(gen, policy)
		deps.Extractors = extractor.NewRegistry(gen, policy)
	} else {
		deps.Classifier = classifier.NewKeywords()
		deps.Extractors = extractor.NewRegistry(nil, policy)
	}

	engine, err := ingestion.New(deps)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	a.engine = engine

	if n, err := engine.Restore(ctx); err != nil {
		slog.Warn("failed to restore records", "error", err)
	} else if n > 0 {
		slog.Debug("records restored", "count", n)
	}

	if cfg.Export.Path != "" {
		var uploader export.Uploader
		if cfg.Export.Upload && a.objects != nil {
			uploader = a.objects
		}
		a.sink = export.NewSink(cfg.Export.Path, uploader)
		a.sink.Subscribe(engine.Bus())
	}

	if gen != nil && cfg.Embeddings.Enabled {
		if err := a.openChat(ctx, gen, policy); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	sc := a.cfg.Storage
	switch sc.Backend {
	case config.StorageRedis:
		rs, err := storage.NewRedisStore(ctx, storage.RedisConfig{
			Addr:      sc.Redis.Addr,
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			KeyPrefix: sc.Redis.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis store: %w", err)
		}
		a.store = rs
		a.closers = append(a.closers, rs.Close)
	case config.StorageS3:
		client, err := storage.New(storage.Config{
			Endpoint:        sc.S3.Endpoint,
			Bucket:          sc.S3.Bucket,
			Prefix:          sc.S3.Prefix,
			AccessKeyID:     sc.S3.AccessKeyID,
			SecretAccessKey: sc.S3.SecretAccessKey,
			UseSSL:          sc.S3.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure bucket: %w", err)
		}
		a.store = client
		a.objects = client
	default:
		fs, err := storage.NewFileStore(sc.Dir)
		if err != nil {
			return fmt.Errorf("failed to create file store: %w", err)
		}
		a.store = fs
	}
	slog.Debug("storage ready", "backend", sc.Backend)
	return nil
}

func (a *app) openChat(ctx context.Context, gen generator, policy retry.Policy) error {
	emb, err := newEmbedder(a.cfg.Embeddings)
	if err != nil {
		return err
	}

	var searcher chat.Searcher
	switch a.cfg.Index.Backend {
	case config.IndexElasticsearch:
		ec := a.cfg.Elasticsearch
		dims := ec.Dimensions
		if dims <= 0 {
			dims = embeddings.Dimensions(a.cfg.Embeddings.Model)
		}
		es, err := elasticsearch.New(elasticsearch.Config{
			Addresses:  ec.Addresses,
			Index:      ec.Index,
			Username:   ec.Username,
			Password:   ec.Password,
			Dimensions: dims,
		})
		if err != nil {
			return fmt.Errorf("failed to create ES client: %w", err)
		}
		if !es.Ping(ctx) {
			return fmt.Errorf("elasticsearch not reachable at %v", ec.Addresses)
		}
		searcher = es
	default:
		idx, err := vectorindex.NewChromem(a.cfg.Index.Path)
		if err != nil {
			return fmt.Errorf("failed to open chunk index: %w", err)
		}
		searcher = idx
	}

	cc := chat.DefaultConfig()
	cc.TopK = a.cfg.Chat.TopK
	cc.History = a.cfg.Chat.History
	cc.EmbedWorkers = a.cfg.Chat.EmbedWorkers
	cc.Chunking = chunker.Config{Size: a.cfg.Chat.ChunkSize, Overlap: a.cfg.Chat.ChunkOverlap, Lookback: a.cfg.Chat.ChunkOverlap}
	cc.Policy = policy

	a.chat = chat.NewManager(a.engine.Cache(), emb, gen, searcher, cc)
	a.chat.Subscribe(a.engine.Bus())
	slog.Info("chat enabled", "index", a.cfg.Index.Backend, "embeddings", a.cfg.Embeddings.Model)
	return nil
}

// requireChat reports why chat is unavailable.
func (a *app) requireChat() error {
	if a.chat != nil {
		return nil
	}
	return errors.New("chat requires llm.enabled and embeddings.enabled")
}

// Close releases connections held by the store.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func retryPolicy(cfg config.Config) retry.Policy {
	p := retry.Policy{
		Attempts:  cfg.Retry.Attempts,
		BaseDelay: cfg.Retry.BaseDelay,
		MaxDelay:  cfg.Retry.MaxDelay,
		Timeout:   cfg.Retry.Timeout,
	}
	return p.WithRate(cfg.LLM.RateLimit, 1)
}

func newGenerator(c config.LLM) (generator, error) {
	lc := llm.Config{
		SocketPath: c.SocketPath,
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Model:      c.Model,
		Timeout:    c.Timeout,
	}
	if c.Provider == config.ProviderOpenAI {
		g, err := llm.NewLangChain(lc)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		return g, nil
	}
	g, err := llm.New(lc)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return g, nil
}

func newEmbedder(c config.Embeddings) (embedder, error) {
	ec := embeddings.Config{
		SocketPath: c.SocketPath,
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Model:      c.Model,
	}
	if c.Provider == config.ProviderOpenAI {
		e, err := embeddings.NewLangChain(ec)
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings client: %w", err)
		}
		return e, nil
	}
	e, err := embeddings.New(ec)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings client: %w", err)
	}
	return e, nil
}
