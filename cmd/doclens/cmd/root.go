package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mfenderov/doclens/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     config.Config
)

// GetConfig returns the loaded configuration.
func GetConfig() config.Config {
	return cfg
}

var rootCmd = &cobra.Command{
	Use:   "doclens",
	Short: "doclens: structured extraction and Q&A for business documents",
	Long: `doclens reads leases, NDAs, contracts and invoices, extracts a structured
record of their key facts, scores each record for completeness risk, rejects
duplicate invoices, and answers questions about a document from its own text.

Commands:
  extract  Extract records from files, directories or URLs
  watch    Extract every document dropped into an inbox directory
  chat     Ask questions about an extracted document
  records  List, show and delete committed records
  export   Write committed records to an xlsx workbook
  cache    Inspect and clear the extraction cache
  serve    Start the MCP server`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Validate()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func initLogger() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// envKeys are the nested keys that can be set from DOCLENS_* variables,
// e.g. DOCLENS_LLM_MODEL -> llm.model.
var envKeys = []string{
	"storage.backend",
	"storage.dir",
	"storage.s3.endpoint",
	"storage.s3.bucket",
	"storage.s3.prefix",
	"storage.s3.access_key_id",
	"storage.s3.secret_access_key",
	"storage.s3.use_ssl",
	"storage.redis.addr",
	"storage.redis.password",
	"storage.redis.db",
	"llm.enabled",
	"llm.provider",
	"llm.socket_path",
	"llm.base_url",
	"llm.api_key",
	"llm.model",
	"llm.timeout",
	"llm.rate_limit",
	"embeddings.enabled",
	"embeddings.provider",
	"embeddings.socket_path",
	"embeddings.base_url",
	"embeddings.api_key",
	"embeddings.model",
	"index.backend",
	"index.path",
	"elasticsearch.index",
	"elasticsearch.username",
	"elasticsearch.password",
	"elasticsearch.dimensions",
	"extract.workers",
	"extract.inbox",
	"export.path",
	"export.upload",
	"mcp.name",
	"mcp.version",
}

func initConfig() {
	// Start with defaults
	cfg = config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/doclens")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("DOCLENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for _, key := range envKeys {
		env := "DOCLENS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := viper.BindEnv(key, env); err != nil {
			slog.Warn("failed to bind env", "key", key, "error", err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("config file error", "error", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Warn("failed to parse config", "error", err)
	}

	// Comma-separated lists from env
	if addrs := os.Getenv("DOCLENS_ELASTICSEARCH_ADDRESSES"); addrs != "" {
		cfg.Elasticsearch.Addresses = strings.Split(addrs, ",")
	}
	if patterns := os.Getenv("DOCLENS_EXTRACT_PATTERNS"); patterns != "" {
		cfg.Extract.Patterns = strings.Split(patterns, ",")
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}
