// Package chat manages question-answering sessions over a single cached
// document. Each session retrieves the chunks closest to a question and
// asks the language model to answer from those excerpts alone.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mfenderov/doclens/internal/cache"
	"github.com/mfenderov/doclens/internal/chunker"
	"github.com/mfenderov/doclens/internal/events"
	"github.com/mfenderov/doclens/internal/llm"
	"github.com/mfenderov/doclens/internal/retry"
	"github.com/mfenderov/doclens/pkg/models"
)

var (
	// ErrSessionNotFound is returned for unknown session ids. Callers must open a new session.
	ErrSessionNotFound = errors.New("chat session not found")

	// ErrSessionClosed is returned for recently closed sessions. It matches
	// ErrSessionNotFound.
	ErrSessionClosed error = closedError{}

	// ErrDocumentNotCached is returned by Open when the fingerprint was never extracted.
	ErrDocumentNotCached = cache.ErrNotCached

	// ErrServiceUnavailable wraps embedding, search and generation failures.
	// The session stays usable and the call can be retried.
	ErrServiceUnavailable = errors.New("chat service unavailable")

	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")
)

type closedError struct{}

func (closedError) Error() string { return "chat session is closed" }

func (closedError) Is(target error) bool { return target == ErrSessionNotFound }

// recentlyClosed bounds how many closed session ids are remembered.
const recentlyClosed = 256

// InsufficientContent is the answer given when the document has no
// retrievable text. It is produced without calling the language model.
const InsufficientContent = "The document does not contain enough text to answer this question."

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator completes prompts.
type Generator interface {
	Complete(ctx context.Context, prompt string, cons llm.Constraints) (string, error)
}

// Searcher stores chunk vectors per document and finds the nearest ones.
type Searcher interface {
	Index(ctx context.Context, fp models.Fingerprint, chunks []models.Chunk) error
	Nearest(ctx context.Context, fp models.Fingerprint, query []float32, k int) ([]string, error)
	Drop(ctx context.Context, fp models.Fingerprint) error
}

// DocumentSource resolves fingerprints to parsed documents. *cache.Cache
// satisfies it.
type DocumentSource interface {
	Document(ctx context.Context, fp models.Fingerprint) (*models.ParsedDocument, error)
}

// State is the lifecycle state of a session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateClosed        State = "closed"
)

// Config configures a Manager.
type Config struct {
	TopK         int // excerpts retrieved per question
	History      int // question/answer exchanges replayed in the prompt
	EmbedWorkers int // concurrent chunk embeddings while building an index
	BuildTimeout time.Duration
	Chunking     chunker.Config
	Policy       retry.Policy
}

// DefaultConfig returns k=3 retrieval with the last three exchanges as history.
func DefaultConfig() Config {
	return Config{
		TopK:         3,
		History:      3,
		EmbedWorkers: 4,
		BuildTimeout: 5 * time.Minute,
		Chunking:     chunker.DefaultConfig(),
		Policy:       retry.DefaultPolicy(),
	}
}

// Exchange is one answered question.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Answer is the reply to a question with the excerpts it was based on.
type Answer struct {
	SessionID    string   `json:"session_id"`
	Text         string   `json:"answer"`
	Excerpts     []string `json:"excerpts"`
	Insufficient bool     `json:"insufficient_content,omitempty"`
}

// SessionInfo describes a session.
type SessionInfo struct {
	ID           string             `json:"session_id"`
	Fingerprint  models.Fingerprint `json:"fingerprint"`
	Filename     string             `json:"filename"`
	State        State              `json:"state"`
	Chunks       int                `json:"chunks"`
	Questions    int                `json:"questions"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActiveAt time.Time          `json:"last_active_at"`
}

type session struct {
	info    SessionInfo
	history []Exchange
	turn    *fifo
}

// indexEntry counts the sessions using a document's chunk index.
type indexEntry struct {
	refs      int
	chunks    int
	forgotten bool // drop once the last session closes
}

// Manager owns the sessions and the per-document chunk indexes. At most one
// session is active at a time: opening another closes the current one.
type Manager struct {
	docs      DocumentSource
	embedder  Embedder
	generator Generator
	searcher  Searcher
	cfg       Config

	mu       sync.Mutex
	sessions map[string]*session // open sessions only
	closed   map[string]struct{}
	order    []string // closed ids, oldest first
	active   string
	indexes  map[models.Fingerprint]*indexEntry

	builds singleflight.Group
	// afterBuild runs between an index build and taking the reference on it.
	afterBuild func(models.Fingerprint)
}

// NewManager creates a session manager.
func NewManager(docs DocumentSource, embedder Embedder, generator Generator, searcher Searcher, cfg Config) *Manager {
	d := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = d.TopK
	}
	if cfg.History < 0 {
		cfg.History = 0
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = d.EmbedWorkers
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = d.BuildTimeout
	}
	if cfg.Policy.Attempts == 0 {
		cfg.Policy = d.Policy
	}
	return &Manager{
		docs:      docs,
		embedder:  embedder,
		generator: generator,
		searcher:  searcher,
		cfg:       cfg,
		sessions:  make(map[string]*session),
		closed:    make(map[string]struct{}),
		indexes:   make(map[models.Fingerprint]*indexEntry),
	}
}

// Subscribe drops chunk indexes when the extraction cache is cleared.
func (m *Manager) Subscribe(bus *events.Bus) {
	bus.CacheCleared.Subscribe(func(ctx context.Context, ev events.CacheCleared) {
		if err := m.Forget(ctx, ev.Fingerprint); err != nil {
			slog.Warn("failed to drop chunk index", "fingerprint", ev.Fingerprint.Short(), "error", err)
		}
	})
}

// Open starts a session for a cached document and returns its id. Opening
// the document of the active session returns that session.
func (m *Manager) Open(ctx context.Context, fp models.Fingerprint) (string, error) {
	doc, err := m.docs.Document(ctx, fp)
	if err != nil {
		if errors.Is(err, ErrDocumentNotCached) {
			return "", err
		}
		return "", fmt.Errorf("failed to load document: %w", err)
	}

	m.mu.Lock()
	if cur := m.sessions[m.active]; cur != nil && cur.info.State == StateReady {
		if cur.info.Fingerprint == fp {
			m.mu.Unlock()
			return cur.info.ID, nil
		}
	}
	drop := m.closeActiveLocked()
	m.mu.Unlock()
	m.dropQuietly(ctx, drop)

	s := &session{
		info: SessionInfo{
			ID:          uuid.NewString(),
			Fingerprint: fp,
			Filename:    doc.Filename,
			State:       StateUninitialized,
			CreatedAt:   time.Now().UTC(),
		},
		turn: newFIFO(),
	}

	chunks, err := m.acquireIndex(ctx, fp, doc)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	drop = m.closeActiveLocked()
	s.info.Chunks = chunks
	s.info.State = StateReady
	s.info.LastActiveAt = s.info.CreatedAt
	m.sessions[s.info.ID] = s
	m.active = s.info.ID
	m.mu.Unlock()
	m.dropQuietly(ctx, drop)

	slog.Info("chat session opened", "session", s.info.ID, "fingerprint", fp.Short(), "chunks", chunks)
	return s.info.ID, nil
}

// acquireIndex returns the chunk count of fp's index, building it when no
// session has indexed the document yet, and takes a reference on it.
func (m *Manager) acquireIndex(ctx context.Context, fp models.Fingerprint, doc *models.ParsedDocument) (int, error) {
	for range maxBuilds {
		m.mu.Lock()
		if e := m.indexes[fp]; e != nil && !e.forgotten {
			e.refs++
			m.mu.Unlock()
			return e.chunks, nil
		}
		m.mu.Unlock()

		if _, err := m.awaitBuild(ctx, fp, doc); err != nil {
			return 0, err
		}
		if m.afterBuild != nil {
			m.afterBuild(fp)
		}

		m.mu.Lock()
		if e := m.indexes[fp]; e != nil {
			e.refs++
			m.mu.Unlock()
			return e.chunks, nil
		}
		m.mu.Unlock()
		slog.Debug("chunk index dropped before use, rebuilding", "fingerprint", fp.Short())
	}
	return 0, fmt.Errorf("%w: chunk index for %s was dropped while opening", ErrServiceUnavailable, fp.Short())
}

// maxBuilds bounds rebuilds when the index is forgotten while opening.
const maxBuilds = 3

// awaitBuild builds fp's index once for all concurrent callers and records
// it in m.indexes.
func (m *Manager) awaitBuild(ctx context.Context, fp models.Fingerprint, doc *models.ParsedDocument) (int, error) {
	ch := m.builds.DoChan(string(fp), func() (any, error) {
		m.mu.Lock()
		if e := m.indexes[fp]; e != nil && !e.forgotten {
			m.mu.Unlock()
			return e.chunks, nil
		}
		m.mu.Unlock()

		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.BuildTimeout)
		defer cancel()
		n, err := m.build(buildCtx, fp, doc)
		if err != nil {
			return 0, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		e := m.indexes[fp]
		if e == nil {
			e = &indexEntry{}
			m.indexes[fp] = e
		}
		e.chunks = n
		e.forgotten = false
		return n, nil
	})

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return 0, r.Err
		}
		return r.Val.(int), nil
	}
}

func (m *Manager) build(ctx context.Context, fp models.Fingerprint, doc *models.ParsedDocument) (int, error) {
	start := time.Now()
	chunks := chunker.Split(doc, m.cfg.Chunking)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.EmbedWorkers)
	for i := range chunks {
		g.Go(func() error {
			vec, err := m.embed(gctx, "embed chunk", chunks[i].Text)
			if err != nil {
				return err
			}
			chunks[i].Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := m.searcher.Index(ctx, fp, chunks); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	slog.Debug("chunk index built",
		"fingerprint", fp.Short(),
		"chunks", len(chunks),
		"duration", time.Since(start))
	return len(chunks), nil
}

func (m *Manager) embed(ctx context.Context, op, text string) ([]float32, error) {
	vec, err := retry.Do(ctx, m.cfg.Policy, op, func(ctx context.Context) ([]float32, error) {
		return m.embedder.Embed(ctx, text)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return vec, nil
}

// Ask answers a question from the session's document. Questions on one
// session are answered in the order they were asked.
func (m *Manager) Ask(ctx context.Context, sessionID, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	m.mu.Lock()
	s, err := m.lookupLocked(sessionID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	release, err := s.turn.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	m.mu.Lock()
	info := s.info
	history := slices.Clone(s.history)
	m.mu.Unlock()
	if info.State != StateReady {
		return nil, ErrSessionClosed
	}

	answer := &Answer{SessionID: sessionID}
	if info.Chunks == 0 {
		answer.Text, answer.Insufficient = InsufficientContent, true
		m.record(s, question, answer.Text)
		return answer, nil
	}

	vec, err := m.embed(ctx, "embed question", question)
	if err != nil {
		return nil, err
	}
	excerpts, err := m.searcher.Nearest(ctx, info.Fingerprint, vec, m.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	if len(excerpts) == 0 {
		answer.Text, answer.Insufficient = InsufficientContent, true
		m.record(s, question, answer.Text)
		return answer, nil
	}
	if len(excerpts) > m.cfg.TopK {
		excerpts = excerpts[:m.cfg.TopK]
	}

	prompt := buildPrompt(excerpts, history, question)
	text, err := retry.Do(ctx, m.cfg.Policy, "answer question", func(ctx context.Context) (string, error) {
		return m.generator.Complete(ctx, prompt, llm.Constraints{System: systemPrompt, Temperature: 0})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	answer.Text = strings.TrimSpace(text)
	answer.Excerpts = excerpts
	m.record(s, question, answer.Text)
	slog.Debug("question answered", "session", sessionID, "excerpts", len(excerpts))
	return answer, nil
}

func (m *Manager) record(s *session, question, answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.info.Questions++
	s.info.LastActiveAt = time.Now().UTC()
	if m.cfg.History == 0 {
		return
	}
	s.history = append(s.history, Exchange{Question: question, Answer: answer})
	if extra := len(s.history) - m.cfg.History; extra > 0 {
		s.history = slices.Delete(s.history, 0, extra)
	}
}

// Close ends a session and releases its hold on the chunk index. Closing a
// recently closed session is a no-op.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, err := m.lookupLocked(sessionID)
	if err != nil {
		m.mu.Unlock()
		if errors.Is(err, ErrSessionClosed) {
			return nil
		}
		return err
	}
	drop := m.closeLocked(s)
	m.mu.Unlock()
	m.drop(ctx, drop)
	return nil
}

func (m *Manager) closeActiveLocked() []models.Fingerprint {
	if s := m.sessions[m.active]; s != nil {
		return m.closeLocked(s)
	}
	return nil
}

// closeLocked returns the fingerprints whose indexes should now be dropped.
func (m *Manager) closeLocked(s *session) []models.Fingerprint {
	if s.info.State == StateClosed {
		return nil
	}
	s.info.State = StateClosed
	s.history = nil
	if m.active == s.info.ID {
		m.active = ""
	}
	delete(m.sessions, s.info.ID)
	m.closed[s.info.ID] = struct{}{}
	m.order = append(m.order, s.info.ID)
	if len(m.order) > recentlyClosed {
		delete(m.closed, m.order[0])
		m.order = slices.Delete(m.order, 0, 1)
	}
	slog.Info("chat session closed", "session", s.info.ID, "questions", s.info.Questions)

	e := m.indexes[s.info.Fingerprint]
	if e == nil {
		return nil
	}
	e.refs--
	if e.refs <= 0 && e.forgotten {
		delete(m.indexes, s.info.Fingerprint)
		return []models.Fingerprint{s.info.Fingerprint}
	}
	return nil
}

// Forget drops the chunk index of fp, or of every document when fp is
// empty. Indexes still used by a session are dropped when it closes.
func (m *Manager) Forget(ctx context.Context, fp models.Fingerprint) error {
	var drop []models.Fingerprint
	m.mu.Lock()
	for key, e := range m.indexes {
		if fp != "" && key != fp {
			continue
		}
		if e.refs > 0 {
			e.forgotten = true
			continue
		}
		delete(m.indexes, key)
		drop = append(drop, key)
	}
	m.mu.Unlock()
	return m.drop(ctx, drop)
}

func (m *Manager) drop(ctx context.Context, fps []models.Fingerprint) error {
	var errs []error
	for _, fp := range fps {
		if err := m.searcher.Drop(ctx, fp); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Debug("chunk index dropped", "fingerprint", fp.Short())
	}
	return errors.Join(errs...)
}

func (m *Manager) dropQuietly(ctx context.Context, fps []models.Fingerprint) {
	if err := m.drop(ctx, fps); err != nil {
		slog.Warn("failed to drop chunk index", "error", err)
	}
}

func (m *Manager) lookupLocked(sessionID string) (*session, error) {
	if s := m.sessions[sessionID]; s != nil {
		return s, nil
	}
	if _, ok := m.closed[sessionID]; ok {
		return nil, ErrSessionClosed
	}
	return nil, ErrSessionNotFound
}

// Session describes an open session.
func (m *Manager) Session(sessionID string) (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookupLocked(sessionID)
	if err != nil {
		return SessionInfo{}, err
	}
	return s.info, nil
}

// Sessions lists the open sessions, oldest first.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info)
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// History returns the exchanges kept for a session.
func (m *Manager) History(sessionID string) ([]Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.lookupLocked(sessionID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.history), nil
}

const systemPrompt = `You answer questions about a single document using only the excerpts provided.
If the excerpts do not contain the answer, say that the document does not contain that information.
Do not add facts that are not in the excerpts. Quote figures, dates and names exactly as written.`

func buildPrompt(excerpts []string, history []Exchange, question string) string {
	var b strings.Builder
	b.WriteString("EXCERPTS FROM THE DOCUMENT:\n")
	for i, e := range excerpts {
		fmt.Fprintf(&b, "\n[%d]\n%s\n", i+1, e)
	}
	if len(history) > 0 {
		b.WriteString("\nPREVIOUS CONVERSATION:\n")
		for i, h := range history {
			fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n", i+1, h.Question, i+1, h.Answer)
		}
	}
	fmt.Fprintf(&b, "\nQUESTION: %s\n\nANSWER:", question)
	return b.String()
}
