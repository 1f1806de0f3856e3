package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfenderov/doclens/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the MCP server for extraction and document chat.

The server communicates via stdio and provides these tools:
  - extract_document: Extract a record from a file path or text
  - list_records, get_record, delete_record: Work with committed records
  - clear_cache: Clear cached parse results
  - open_chat, ask_document, close_chat, list_chats: Document Q&A
    (only when llm and embeddings are enabled)

Example:
  doclens serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var chatManager mcp.Chat
	if a.chat != nil {
		chatManager = a.chat
	}
	server, err := mcp.NewServer(mcp.Config{
		Name:    cfg.MCP.Name,
		Version: cfg.MCP.Version,
	}, a.engine, chatManager)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Starting MCP server...")

	return server.ServeStdio()
}
