package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Storage       Storage       `mapstructure:"storage"`
	LLM           LLM           `mapstructure:"llm"`
	Embeddings    Embeddings    `mapstructure:"embeddings"`
	Retry         Retry         `mapstructure:"retry"`
	Index         Index         `mapstructure:"index"`
	Elasticsearch Elasticsearch `mapstructure:"elasticsearch"`
	Chat          Chat          `mapstructure:"chat"`
	Extract       Extract       `mapstructure:"extract"`
	Scraper       Scraper       `mapstructure:"scraper"`
	Export        Export        `mapstructure:"export"`
	MCP           MCP           `mapstructure:"mcp"`
}

// Storage backends.
const (
	StorageFile  = "file"
	StorageRedis = "redis"
	StorageS3    = "s3"
)

// Storage selects where records and parsed documents are mirrored.
type Storage struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	S3      S3     `mapstructure:"s3"`
	Redis   Redis  `mapstructure:"redis"`
}

// S3 holds S3/MinIO storage configuration.
type S3 struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// Redis holds Redis connection configuration.
type Redis struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Model providers.
const (
	ProviderDMR    = "dmr"    // Docker Model Runner over a unix socket or base URL
	ProviderOpenAI = "openai" // any OpenAI-compatible API through langchaingo
)

// LLM holds text-generation configuration for classification, extraction and chat.
type LLM struct {
	Enabled    bool          `mapstructure:"enabled"`
	Provider   string        `mapstructure:"provider"`
	SocketPath string        `mapstructure:"socket_path"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"` // requests per second, 0 for none
}

// Embeddings holds embeddings generation configuration.
type Embeddings struct {
	Enabled    bool   `mapstructure:"enabled"`
	Provider   string `mapstructure:"provider"`
	SocketPath string `mapstructure:"socket_path"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
}

// Retry bounds calls to the model services.
type Retry struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Chunk index backends.
const (
	IndexChromem       = "chromem"
	IndexElasticsearch = "elasticsearch"
)

// Index selects the chunk index used by chat sessions.
type Index struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"` // chromem persistence directory, empty for in-memory
}

// Elasticsearch holds ES connection configuration.
type Elasticsearch struct {
	Addresses  []string `mapstructure:"addresses"`
	Index      string   `mapstructure:"index"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	Dimensions int      `mapstructure:"dimensions"`
}

// Chat holds retrieval settings.
type Chat struct {
	TopK         int `mapstructure:"top_k"`
	History      int `mapstructure:"history"`
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	EmbedWorkers int `mapstructure:"embed_workers"`
}

// Extract holds batch extraction settings.
type Extract struct {
	Workers      int           `mapstructure:"workers"`
	ForceOCR     bool          `mapstructure:"force_ocr"`
	Patterns     []string      `mapstructure:"patterns"`
	CacheTimeout time.Duration `mapstructure:"cache_timeout"`
	Inbox        string        `mapstructure:"inbox"`
}

// Scraper holds settings for fetching documents by URL.
type Scraper struct {
	Delay       time.Duration `mapstructure:"delay"`
	MaxDepth    int           `mapstructure:"max_depth"`
	FollowLinks bool          `mapstructure:"follow_links"`
	Timeout     time.Duration `mapstructure:"timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	MaxBodySize int           `mapstructure:"max_body_size"`
}

// Export holds spreadsheet export settings.
type Export struct {
	Path   string `mapstructure:"path"`   // workbook appended on every commit, empty to disable
	Upload bool   `mapstructure:"upload"` // also upload it when storage is s3
}

// MCP holds MCP server configuration.
type MCP struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Storage: Storage{
			Backend: StorageFile,
			Dir:     ".doclens",
			S3: S3{
				Endpoint:        "localhost:9000",
				Bucket:          "doclens",
				AccessKeyID:     "minioadmin",
				SecretAccessKey: "minioadmin",
			},
			Redis: Redis{
				Addr:      "localhost:6379",
				KeyPrefix: "doclens",
			},
		},
		LLM: LLM{
			Enabled:  false, // rule-based extraction until a model is configured
			Provider: ProviderDMR,
			Model:    "ai/gemma3",
			Timeout:  2 * time.Minute,
		},
		Embeddings: Embeddings{
			Enabled:  false,
			Provider: ProviderDMR,
			Model:    "ai/embeddinggemma",
		},
		Retry: Retry{
			Attempts:  3,
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  8 * time.Second,
			Timeout:   60 * time.Second,
		},
		Index: Index{
			Backend: IndexChromem,
		},
		Elasticsearch: Elasticsearch{
			Addresses: []string{"http://localhost:9200"},
			Index:     "doclens-chunks",
		},
		Chat: Chat{
			TopK:         3,
			History:      3,
			ChunkSize:    1000,
			ChunkOverlap: 200,
			EmbedWorkers: 4,
		},
		Extract: Extract{
			Workers:      4,
			CacheTimeout: 5 * time.Minute,
		},
		Scraper: Scraper{
			Delay:       500 * time.Millisecond,
			MaxDepth:    1,
			FollowLinks: false,
			Timeout:     30 * time.Second,
			UserAgent:   "doclens/1.0",
			MaxBodySize: 50 << 20,
		},
		MCP: MCP{
			Name:    "doclens",
			Version: "1.0.0",
		},
	}
}

// Validate reports settings that cannot be wired.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case StorageFile, StorageRedis, StorageS3:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Index.Backend {
	case IndexChromem, IndexElasticsearch:
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	for name, p := range map[string]string{"llm": c.LLM.Provider, "embeddings": c.Embeddings.Provider} {
		if p != ProviderDMR && p != ProviderOpenAI {
			return fmt.Errorf("unknown %s provider %q", name, p)
		}
	}
	if c.Chat.ChunkSize <= 0 || c.Chat.ChunkOverlap < 0 || c.Chat.ChunkOverlap >= c.Chat.ChunkSize {
		return fmt.Errorf("chat chunk overlap %d must be below chunk size %d", c.Chat.ChunkOverlap, c.Chat.ChunkSize)
	}
	if c.Export.Upload && c.Storage.Backend != StorageS3 {
		return fmt.Errorf("export upload requires the s3 storage backend")
	}
	return nil
}
