package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mfenderov/doclens/internal/chat"
	"github.com/mfenderov/doclens/internal/ingestion"
	"github.com/mfenderov/doclens/internal/llm"
	"github.com/mfenderov/doclens/pkg/models"
)

type fakeEngine struct {
	recs    map[string]*models.ExtractionRecord
	cleared []models.Fingerprint
	lastOpt ingestion.Options
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{recs: map[string]*models.ExtractionRecord{
		"rec-1": {ID: "rec-1", Filename: "lease.pdf", Type: models.TypeLease},
	}}
}

func (f *fakeEngine) ExtractFromBytes(_ context.Context, data []byte, filename string, opts ingestion.Options) (*ingestion.Outcome, error) {
	f.lastOpt = opts
	return f.ExtractFromText(context.Background(), string(data), filename)
}

func (f *fakeEngine) ExtractFromText(_ context.Context, text, filename string) (*ingestion.Outcome, error) {
	if strings.Contains(text, "rate") {
		return nil, &ingestion.StageError{Stage: ingestion.StageClassify, Err: llm.ErrRateLimited}
	}
	rec := &models.ExtractionRecord{ID: "rec-2", Filename: filename, Fingerprint: models.FingerprintOfText(text)}
	f.recs[rec.ID] = rec
	return &ingestion.Outcome{Record: rec}, nil
}

func (f *fakeEngine) Records() []*models.ExtractionRecord {
	var out []*models.ExtractionRecord
	for _, r := range f.recs {
		out = append(out, r)
	}
	return out
}

func (f *fakeEngine) Record(id string) (*models.ExtractionRecord, bool) {
	r, ok := f.recs[id]
	return r, ok
}

func (f *fakeEngine) DeleteRecord(_ context.Context, id string) (bool, error) {
	_, ok := f.recs[id]
	delete(f.recs, id)
	return ok, nil
}

func (f *fakeEngine) ClearCache(_ context.Context, fp models.Fingerprint) error {
	f.cleared = append(f.cleared, fp)
	return nil
}

type fakeChat struct {
	open map[string]models.Fingerprint
}

func (f *fakeChat) Open(_ context.Context, fp models.Fingerprint) (string, error) {
	if fp == "missing" {
		return "", chat.ErrDocumentNotCached
	}
	f.open["s-1"] = fp
	return "s-1", nil
}

func (f *fakeChat) Ask(_ context.Context, id, question string) (*chat.Answer, error) {
	if _, ok := f.open[id]; !ok {
		return nil, chat.ErrSessionNotFound
	}
	return &chat.Answer{SessionID: id, Text: "2000 USD per month", Excerpts: []string{"monthly rent is 2000 USD"}}, nil
}

func (f *fakeChat) Close(_ context.Context, id string) error {
	if _, ok := f.open[id]; !ok {
		return chat.ErrSessionNotFound
	}
	delete(f.open, id)
	return nil
}

func (f *fakeChat) Sessions() []chat.SessionInfo {
	var out []chat.SessionInfo
	for id, fp := range f.open {
		out = append(out, chat.SessionInfo{ID: id, Fingerprint: fp, State: chat.StateReady})
	}
	return out
}

func newTestServer(t *testing.T) (*Server, *fakeEngine, *fakeChat) {
	t.Helper()
	engine := newFakeEngine()
	c := &fakeChat{open: map[string]models.Fingerprint{}}
	s, err := NewServer(Config{Name: "doclens", Version: "1.0.0"}, engine, c)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s, engine, c
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func TestServer_Creation(t *testing.T) {
	s, _, _ := newTestServer(t)
	if s.mcpServer == nil {
		t.Error("mcpServer should not be nil")
	}

	if _, err := NewServer(Config{Name: "doclens"}, nil, nil); err == nil {
		t.Error("expected error without engine")
	}

	withoutChat, err := NewServer(Config{Name: "doclens"}, newFakeEngine(), nil)
	if err != nil {
		t.Fatalf("NewServer() without chat error = %v", err)
	}
	if withoutChat.chat != nil {
		t.Error("chat should be nil")
	}
}

func TestServer_ExtractTool(t *testing.T) {
	s, engine, _ := newTestServer(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "invoice.txt")
	if err := os.WriteFile(path, []byte("Invoice INV-9"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		contains  string
	}{
		{name: "from path", args: map[string]any{"path": path, "force_ocr": true}, contains: `"filename":"invoice.txt"`},
		{name: "from text", args: map[string]any{"text": "lease text", "filename": "lease.txt"}, contains: `"filename":"lease.txt"`},
		{name: "nothing given", args: map[string]any{}, wantError: true, contains: "either path or text"},
		{name: "missing file", args: map[string]any{"path": filepath.Join(dir, "nope.pdf")}, wantError: true, contains: "failed to read"},
		{name: "stage error reason", args: map[string]any{"text": "rate"}, wantError: true, contains: "rate limiting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.extractHandler(ctx, call(tt.args))
			if err != nil {
				t.Fatalf("extractHandler() error = %v", err)
			}
			if res.IsError != tt.wantError {
				t.Errorf("IsError = %v, want %v (%s)", res.IsError, tt.wantError, text(t, res))
			}
			if got := text(t, res); !strings.Contains(got, tt.contains) {
				t.Errorf("result %q should contain %q", got, tt.contains)
			}
		})
	}

	if !engine.lastOpt.ForceOCR {
		t.Error("force_ocr should reach the engine")
	}
}

func TestServer_RecordTools(t *testing.T) {
	s, engine, _ := newTestServer(t)
	ctx := context.Background()

	res, _ := s.listRecordsHandler(ctx, call(nil))
	var recs []models.ExtractionRecord
	if err := json.Unmarshal([]byte(text(t, res)), &recs); err != nil {
		t.Fatalf("list_records returned invalid JSON: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "rec-1" {
		t.Errorf("list_records = %+v", recs)
	}

	res, _ = s.getRecordHandler(ctx, call(map[string]any{"id": "rec-1"}))
	if res.IsError || !strings.Contains(text(t, res), `"lease.pdf"`) {
		t.Errorf("get_record = %s", text(t, res))
	}

	res, _ = s.getRecordHandler(ctx, call(map[string]any{"id": "nope"}))
	if !res.IsError {
		t.Error("get_record for unknown id should fail")
	}

	res, _ = s.deleteRecordHandler(ctx, call(map[string]any{"id": "rec-1"}))
	if res.IsError {
		t.Errorf("delete_record failed: %s", text(t, res))
	}
	if _, ok := engine.recs["rec-1"]; ok {
		t.Error("record should be deleted")
	}

	res, _ = s.deleteRecordHandler(ctx, call(map[string]any{"id": "rec-1"}))
	if !res.IsError {
		t.Error("deleting twice should report not found")
	}
}

func TestServer_ClearCacheTool(t *testing.T) {
	s, engine, _ := newTestServer(t)
	ctx := context.Background()
	fp := models.FingerprintOfText("doc")

	s.clearCacheHandler(ctx, call(map[string]any{"fingerprint": string(fp)}))
	s.clearCacheHandler(ctx, call(nil))

	if len(engine.cleared) != 2 || engine.cleared[0] != fp || engine.cleared[1] != "" {
		t.Errorf("cleared = %v", engine.cleared)
	}
}

func TestServer_ChatTools(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()

	res, _ := s.openChatHandler(ctx, call(map[string]any{"fingerprint": "missing"}))
	if !res.IsError || !strings.Contains(text(t, res), "extract it before") {
		t.Errorf("open_chat for uncached doc = %s", text(t, res))
	}

	res, _ = s.openChatHandler(ctx, call(map[string]any{"fingerprint": "abc"}))
	if res.IsError || !strings.Contains(text(t, res), `"session_id":"s-1"`) {
		t.Fatalf("open_chat = %s", text(t, res))
	}

	res, _ = s.askHandler(ctx, call(map[string]any{"session_id": "s-1", "question": "What is the rent?"}))
	if res.IsError {
		t.Fatalf("ask_document failed: %s", text(t, res))
	}
	var answer chat.Answer
	if err := json.Unmarshal([]byte(text(t, res)), &answer); err != nil {
		t.Fatalf("ask_document returned invalid JSON: %v", err)
	}
	if answer.Text != "2000 USD per month" || len(answer.Excerpts) != 1 {
		t.Errorf("answer = %+v", answer)
	}

	res, _ = s.askHandler(ctx, call(map[string]any{"session_id": "s-1"}))
	if !res.IsError {
		t.Error("ask_document without question should fail")
	}

	res, _ = s.listChatsHandler(ctx, call(nil))
	if !strings.Contains(text(t, res), `"s-1"`) {
		t.Errorf("list_chats = %s", text(t, res))
	}

	res, _ = s.closeChatHandler(ctx, call(map[string]any{"session_id": "s-1"}))
	if res.IsError {
		t.Errorf("close_chat failed: %s", text(t, res))
	}

	res, _ = s.askHandler(ctx, call(map[string]any{"session_id": "s-1", "question": "again?"}))
	if !res.IsError || !strings.Contains(text(t, res), "open a new session") {
		t.Errorf("ask after close = %s", text(t, res))
	}
}

func TestReason_ChatErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{chat.ErrSessionClosed, "chat session is closed: open a new session"},
		{chat.ErrSessionNotFound, "chat session not found: open a new session"},
		{chat.ErrDocumentNotCached, "document not found: extract it before opening a chat"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := reason(tt.err); got != tt.want {
				t.Errorf("reason(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
