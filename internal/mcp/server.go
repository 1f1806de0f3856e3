package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mfenderov/doclens/internal/chat"
	"github.com/mfenderov/doclens/internal/ingestion"
	"github.com/mfenderov/doclens/pkg/models"
)

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
}

// Engine is the part of ingestion.Engine the tools use.
type Engine interface {
	ExtractFromBytes(ctx context.Context, data []byte, filename string, opts ingestion.Options) (*ingestion.Outcome, error)
	ExtractFromText(ctx context.Context, text, filename string) (*ingestion.Outcome, error)
	Records() []*models.ExtractionRecord
	Record(id string) (*models.ExtractionRecord, bool)
	DeleteRecord(ctx context.Context, id string) (bool, error)
	ClearCache(ctx context.Context, fp models.Fingerprint) error
}

// Chat is the part of chat.Manager the tools use.
type Chat interface {
	Open(ctx context.Context, fp models.Fingerprint) (string, error)
	Ask(ctx context.Context, sessionID, question string) (*chat.Answer, error)
	Close(ctx context.Context, sessionID string) error
	Sessions() []chat.SessionInfo
}

// Server exposes extraction and document chat as MCP tools.
type Server struct {
	mcpServer *server.MCPServer
	engine    Engine
	chat      Chat
}

// NewServer creates a new MCP server. chat may be nil when embeddings are
// not configured; the chat tools are then not registered.
func NewServer(config Config, engine Engine, chatManager Chat) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	mcpServer := server.NewMCPServer(
		config.Name,
		config.Version,
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcpServer: mcpServer,
		engine:    engine,
		chat:      chatManager,
	}

	mcpServer.AddTool(mcp.NewTool("extract_document",
		mcp.WithDescription("Extract a structured record from a business document (lease, NDA, contract or invoice). "+
			"Pass either a local file path or the document text. Duplicate invoices are rejected."),
		mcp.WithString("path",
			mcp.Description("Path of a PDF, DOCX, HTML, markdown or text file"),
		),
		mcp.WithString("text",
			mcp.Description("Document text, used when no path is given"),
		),
		mcp.WithString("filename",
			mcp.Description("Name to record for the document (default: base name of path)"),
		),
		mcp.WithBoolean("force_ocr",
			mcp.Description("Run OCR on PDFs even when they have a text layer"),
		),
	), s.extractHandler)

	mcpServer.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List committed extraction records, oldest first"),
	), s.listRecordsHandler)

	mcpServer.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Get a committed extraction record by ID"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Record ID"),
		),
	), s.getRecordHandler)

	mcpServer.AddTool(mcp.NewTool("delete_record",
		mcp.WithDescription("Delete a committed extraction record by ID"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Record ID"),
		),
	), s.deleteRecordHandler)

	mcpServer.AddTool(mcp.NewTool("clear_cache",
		mcp.WithDescription("Clear cached parse and classification results, for one document or all"),
		mcp.WithString("fingerprint",
			mcp.Description("Document fingerprint; omit to clear everything"),
		),
	), s.clearCacheHandler)

	if chatManager != nil {
		mcpServer.AddTool(mcp.NewTool("open_chat",
			mcp.WithDescription("Open a question-answering session over an extracted document. "+
				"Only one session is active at a time; opening another closes the current one."),
			mcp.WithString("fingerprint",
				mcp.Required(),
				mcp.Description("Fingerprint of a previously extracted document"),
			),
		), s.openChatHandler)

		mcpServer.AddTool(mcp.NewTool("ask_document",
			mcp.WithDescription("Ask a question about the document of an open session. "+
				"Answers come only from document excerpts, which are returned alongside."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("Session ID returned by open_chat"),
			),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("Question about the document"),
			),
		), s.askHandler)

		mcpServer.AddTool(mcp.NewTool("close_chat",
			mcp.WithDescription("Close a chat session"),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("Session ID returned by open_chat"),
			),
		), s.closeChatHandler)

		mcpServer.AddTool(mcp.NewTool("list_chats",
			mcp.WithDescription("List open chat sessions"),
		), s.listChatsHandler)
	}

	return s, nil
}

// extractHandler handles the extract_document tool call.
func (s *Server) extractHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := s.handleExtract(ctx,
		req.GetString("path", ""),
		req.GetString("text", ""),
		req.GetString("filename", ""),
		req.GetBool("force_ocr", false),
	)
	if err != nil {
		return mcp.NewToolResultError(reason(err)), nil
	}
	return jsonResult(out)
}

// listRecordsHandler handles the list_records tool call.
func (s *Server) listRecordsHandler(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.Records())
}

// getRecordHandler handles the get_record tool call.
func (s *Server) getRecordHandler(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	rec, ok := s.engine.Record(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("record not found: %s", id)), nil
	}
	return jsonResult(rec)
}

// deleteRecordHandler handles the delete_record tool call.
func (s *Server) deleteRecordHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	ok, err := s.engine.DeleteRecord(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", err)), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("record not found: %s", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted record %s", id)), nil
}

// clearCacheHandler handles the clear_cache tool call.
func (s *Server) clearCacheHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fp := models.Fingerprint(req.GetString("fingerprint", ""))
	if err := s.engine.ClearCache(ctx, fp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("clear cache failed: %v", err)), nil
	}
	if fp == "" {
		return mcp.NewToolResultText("cache cleared"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cache cleared for %s", fp.Short())), nil
}

// openChatHandler handles the open_chat tool call.
func (s *Server) openChatHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fp, err := req.RequireString("fingerprint")
	if err != nil {
		return mcp.NewToolResultError("fingerprint parameter is required"), nil
	}
	id, err := s.chat.Open(ctx, models.Fingerprint(fp))
	if err != nil {
		return mcp.NewToolResultError(reason(err)), nil
	}
	return jsonResult(map[string]string{"session_id": id})
}

// askHandler handles the ask_document tool call.
func (s *Server) askHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id parameter is required"), nil
	}
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("question parameter is required"), nil
	}
	answer, err := s.chat.Ask(ctx, id, question)
	if err != nil {
		return mcp.NewToolResultError(reason(err)), nil
	}
	return jsonResult(answer)
}

// closeChatHandler handles the close_chat tool call.
func (s *Server) closeChatHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id parameter is required"), nil
	}
	if err := s.chat.Close(ctx, id); err != nil {
		return mcp.NewToolResultError(reason(err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("closed session %s", id)), nil
}

// listChatsHandler handles the list_chats tool call.
func (s *Server) listChatsHandler(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.chat.Sessions())
}

// handleExtract reads the document from path, or uses text, and extracts it.
func (s *Server) handleExtract(ctx context.Context, path, text, filename string, forceOCR bool) (*ingestion.Outcome, error) {
	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if filename == "" {
			filename = filepath.Base(path)
		}
		return s.engine.ExtractFromBytes(ctx, data, filename, ingestion.Options{ForceOCR: forceOCR})
	case text != "":
		return s.engine.ExtractFromText(ctx, text, filename)
	}
	return nil, errors.New("either path or text is required")
}

// reason turns an error into a message for the calling agent.
func reason(err error) string {
	var stageErr *ingestion.StageError
	switch {
	case errors.As(err, &stageErr):
		return stageErr.Reason()
	case errors.Is(err, chat.ErrDocumentNotCached):
		return "document not found: extract it before opening a chat"
	case errors.Is(err, chat.ErrSessionClosed):
		return "chat session is closed: open a new session"
	case errors.Is(err, chat.ErrSessionNotFound):
		return "chat session not found: open a new session"
	case errors.Is(err, chat.ErrServiceUnavailable):
		return "the answering service is unavailable, try again"
	}
	return err.Error()
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	result, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
