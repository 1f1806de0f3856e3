package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenderov/doclens/internal/cache"
	"github.com/mfenderov/doclens/internal/chunker"
	"github.com/mfenderov/doclens/internal/events"
	"github.com/mfenderov/doclens/internal/llm"
	"github.com/mfenderov/doclens/internal/retry"
	"github.com/mfenderov/doclens/pkg/models"
)

type fakeDocs map[models.Fingerprint]*models.ParsedDocument

func (f fakeDocs) Document(_ context.Context, fp models.Fingerprint) (*models.ParsedDocument, error) {
	if d, ok := f[fp]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%s: %w", fp.Short(), cache.ErrNotCached)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	fail    error
}

func (f *fakeGenerator) Complete(_ context.Context, prompt string, _ llm.Constraints) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.prompts = append(f.prompts, prompt)
	return fmt.Sprintf("answer %d", len(f.prompts)), nil
}

func (f *fakeGenerator) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// fakeSearcher returns the first k indexed chunk texts.
type fakeSearcher struct {
	mu      sync.Mutex
	indexed map[models.Fingerprint][]string
	dropped []models.Fingerprint
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{indexed: make(map[models.Fingerprint][]string)}
}

func (f *fakeSearcher) Index(_ context.Context, fp models.Fingerprint, chunks []models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var texts []string
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return errors.New("missing embedding")
		}
		texts = append(texts, c.Text)
	}
	f.indexed[fp] = texts
	return nil
}

func (f *fakeSearcher) Nearest(_ context.Context, fp models.Fingerprint, _ []float32, k int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := f.indexed[fp]
	return texts[:min(k, len(texts))], nil
}

func (f *fakeSearcher) Drop(_ context.Context, fp models.Fingerprint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexed, fp)
	f.dropped = append(f.dropped, fp)
	return nil
}

func (f *fakeSearcher) has(fp models.Fingerprint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.indexed[fp]
	return ok
}

type fixture struct {
	docs     fakeDocs
	embedder *fakeEmbedder
	gen      *fakeGenerator
	searcher *fakeSearcher
	manager  *Manager
}

const leaseText = "This Lease Agreement is made between Acme Properties LLC and Jane Doe. " +
	"The monthly rent is 2000 USD payable on the first day of each month. " +
	"The term starts on 2024-01-01 and ends on 2024-12-31. " +
	"The tenant is responsible for utilities and minor repairs."

func doc(name, text string) *models.ParsedDocument {
	return &models.ParsedDocument{Fingerprint: models.FingerprintOfText(text), Filename: name, Text: text}
}

func newFixture(t *testing.T, docs ...*models.ParsedDocument) *fixture {
	t.Helper()
	f := &fixture{
		docs:     fakeDocs{},
		embedder: &fakeEmbedder{},
		gen:      &fakeGenerator{},
		searcher: newFakeSearcher(),
	}
	for _, d := range docs {
		f.docs[d.Fingerprint] = d
	}
	cfg := DefaultConfig()
	cfg.Chunking = chunker.Config{Size: 80, Overlap: 10, Lookback: 20}
	cfg.Policy = retry.Policy{Attempts: 1}
	f.manager = NewManager(f.docs, f.embedder, f.gen, f.searcher, cfg)
	return f
}

func TestOpenAndAsk(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	ctx := context.Background()

	id, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)

	info, err := f.manager.Session(id)
	require.NoError(t, err)
	assert.Equal(t, StateReady, info.State)
	assert.Equal(t, "lease.txt", info.Filename)
	assert.GreaterOrEqual(t, info.Chunks, 3)

	answer, err := f.manager.Ask(ctx, id, "What is the monthly rent?")
	require.NoError(t, err)
	assert.Equal(t, "answer 1", answer.Text)
	assert.Len(t, answer.Excerpts, 3)
	assert.False(t, answer.Insufficient)

	prompts := f.gen.calls()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "QUESTION: What is the monthly rent?")
	assert.Contains(t, prompts[0], answer.Excerpts[0])
	assert.NotContains(t, prompts[0], "PREVIOUS CONVERSATION")
}

func TestOpen_NotCached(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Open(context.Background(), models.FingerprintOfText("missing"))
	assert.ErrorIs(t, err, ErrDocumentNotCached)
	assert.Empty(t, f.manager.Sessions())
}

func TestOpen_SameDocumentReturnsActiveSession(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	ctx := context.Background()

	first, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)
	embedded := f.embedder.count()

	second, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, embedded, f.embedder.count())
}

func TestOpen_ReplacesActiveSession(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	invoice := doc("invoice.txt", "Invoice INV-1001 from Northwind Traders. Amount due 450.00 EUR by 2024-03-15.")
	f := newFixture(t, lease, invoice)
	ctx := context.Background()

	old, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)
	current, err := f.manager.Open(ctx, invoice.Fingerprint)
	require.NoError(t, err)
	assert.NotEqual(t, old, current)

	_, err = f.manager.Ask(ctx, old, "What is the rent?")
	assert.ErrorIs(t, err, ErrSessionClosed)

	sessions := f.manager.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, current, sessions[0].ID)
	assert.Equal(t, invoice.Fingerprint, sessions[0].Fingerprint)
}

func TestReopenReusesIndex(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	ctx := context.Background()

	id, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)
	embedded := f.embedder.count()
	require.NoError(t, f.manager.Close(ctx, id))

	again, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)
	assert.NotEqual(t, id, again)
	assert.Equal(t, embedded, f.embedder.count(), "chunks are not embedded twice")
}

func TestConcurrentOpenBuildsOnce(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	ctx := context.Background()
	chunks := len(chunker.Split(lease, f.manager.cfg.Chunking))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Open(ctx, lease.Fingerprint)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, chunks, f.embedder.count(), "the index is built once")
	assert.Len(t, f.manager.Sessions(), 1)
}

func TestClose(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	ctx := context.Background()

	id, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)

	require.NoError(t, f.manager.Close(ctx, id))
	require.NoError(t, f.manager.Close(ctx, id), "closing twice is a no-op")
	assert.Empty(t, f.manager.Sessions())

	_, err = f.manager.Session(id)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.manager.Ask(ctx, id, "anything?")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, f.manager.sessions)

	assert.ErrorIs(t, f.manager.Close(ctx, "nope"), ErrSessionNotFound)
	_, err = f.manager.Ask(ctx, "nope", "anything?")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReplacedSessionsAreReleased(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	invoice := doc("invoice.txt", "Invoice INV-1001 from Northwind Traders. Amount due 450.00 EUR by 2024-03-15.")
	f := newFixture(t, lease, invoice)
	ctx := context.Background()

	first, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)

	var last string
	for i := range recentlyClosed + 50 {
		fp := invoice.Fingerprint
		if i%2 == 1 {
			fp = lease.Fingerprint
		}
		last, err = f.manager.Open(ctx, fp)
		require.NoError(t, err)
	}

	f.manager.mu.Lock()
	open, closed := len(f.manager.sessions), len(f.manager.closed)
	f.manager.mu.Unlock()
	assert.Equal(t, 1, open)
	assert.Equal(t, recentlyClosed, closed)
	assert.Len(t, f.manager.Sessions(), 1)
	assert.Equal(t, last, f.manager.Sessions()[0].ID)

	// the oldest ids have aged out of the closed set
	_, err = f.manager.Ask(ctx, first, "What is the rent?")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NotErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, f.manager.Close(ctx, first), ErrSessionNotFound)
}

func TestOpen_IndexForgottenBeforeUse(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	ctx := context.Background()
	chunks := len(chunker.Split(lease, f.manager.cfg.Chunking))

	forgot := false
	f.manager.afterBuild = func(fp models.Fingerprint) {
		if !forgot {
			forgot = true
			require.NoError(t, f.manager.Forget(ctx, fp))
		}
	}

	id, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)
	assert.True(t, forgot)
	assert.True(t, f.searcher.has(lease.Fingerprint), "the dropped index is rebuilt")
	assert.Equal(t, 2*chunks, f.embedder.count())

	answer, err := f.manager.Ask(ctx, id, "What is the monthly rent?")
	require.NoError(t, err)
	assert.False(t, answer.Insufficient)
	assert.NotEmpty(t, answer.Excerpts)
}

func TestAsk_EmptyDocumentIsInsufficient(t *testing.T) {
	blank := doc("scan.pdf", "")
	f := newFixture(t, blank)
	ctx := context.Background()

	id, err := f.manager.Open(ctx, blank.Fingerprint)
	require.NoError(t, err)

	answer, err := f.manager.Ask(ctx, id, "Who signed it?")
	require.NoError(t, err)
	assert.True(t, answer.Insufficient)
	assert.Equal(t, InsufficientContent, answer.Text)
	assert.Empty(t, answer.Excerpts)
	assert.Empty(t, f.gen.calls(), "no generation without excerpts")
}

func TestAsk_EmptyQuestion(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	id, err := f.manager.Open(context.Background(), lease.Fingerprint)
	require.NoError(t, err)

	_, err = f.manager.Ask(context.Background(), id, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAsk_ServiceFailureIsRecoverable(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	ctx := context.Background()

	id, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)

	f.gen.fail = llm.ErrRateLimited
	_, err = f.manager.Ask(ctx, id, "What is the rent?")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.ErrorIs(t, err, llm.ErrRateLimited)

	info, err := f.manager.Session(id)
	require.NoError(t, err)
	assert.Equal(t, StateReady, info.State)

	f.gen.fail = nil
	answer, err := f.manager.Ask(ctx, id, "What is the rent?")
	require.NoError(t, err)
	assert.NotEmpty(t, answer.Text)
}

func TestOpen_EmbeddingFailure(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	f.embedder.fail = errors.New("connection refused")

	_, err := f.manager.Open(context.Background(), lease.Fingerprint)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Empty(t, f.manager.Sessions())
	assert.False(t, f.searcher.has(lease.Fingerprint))

	f.embedder.fail = nil
	_, err = f.manager.Open(context.Background(), lease.Fingerprint)
	assert.NoError(t, err)
}

func TestAsk_HistoryIsBounded(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	ctx := context.Background()

	id, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err := f.manager.Ask(ctx, id, fmt.Sprintf("question %d?", i))
		require.NoError(t, err)
	}

	prompts := f.gen.calls()
	require.Len(t, prompts, 5)
	last := prompts[4]
	assert.Contains(t, last, "PREVIOUS CONVERSATION")
	assert.NotContains(t, last, "question 1?")
	for _, q := range []string{"question 2?", "question 3?", "question 4?"} {
		assert.Contains(t, last, q)
	}

	history, err := f.manager.History(id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "question 5?", history[2].Question)
	assert.Equal(t, "answer 5", history[2].Answer)

	info, _ := f.manager.Session(id)
	assert.Equal(t, 5, info.Questions)
}

func TestAsk_ConcurrentQuestionsAreSerialized(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	ctx := context.Background()

	id, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Ask(ctx, id, fmt.Sprintf("q%d?", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := f.manager.History(id)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	info, _ := f.manager.Session(id)
	assert.Equal(t, 6, info.Questions)
}

func TestForget(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	invoice := doc("invoice.txt", "Invoice INV-1001 from Northwind Traders. Amount due 450.00 EUR by 2024-03-15.")
	f := newFixture(t, lease, invoice)
	ctx := context.Background()

	id, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)

	require.NoError(t, f.manager.Forget(ctx, lease.Fingerprint))
	assert.True(t, f.searcher.has(lease.Fingerprint), "index in use survives until close")

	_, err = f.manager.Ask(ctx, id, "What is the rent?")
	require.NoError(t, err)

	require.NoError(t, f.manager.Close(ctx, id))
	assert.False(t, f.searcher.has(lease.Fingerprint))

	_, err = f.manager.Open(ctx, invoice.Fingerprint)
	require.NoError(t, err)
	_, err = f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)
	assert.True(t, f.searcher.has(invoice.Fingerprint), "closed but not forgotten")

	require.NoError(t, f.manager.Forget(ctx, ""))
	assert.False(t, f.searcher.has(invoice.Fingerprint))
	assert.True(t, f.searcher.has(lease.Fingerprint))
}

func TestSubscribe_CacheClearedForgetsIndex(t *testing.T) {
	lease := doc("lease.txt", leaseText)
	f := newFixture(t, lease)
	ctx := context.Background()
	bus := events.NewBus()
	f.manager.Subscribe(bus)

	id, err := f.manager.Open(ctx, lease.Fingerprint)
	require.NoError(t, err)
	require.NoError(t, f.manager.Close(ctx, id))
	require.True(t, f.searcher.has(lease.Fingerprint))

	bus.CacheCleared.Publish(ctx, events.CacheCleared{Fingerprint: lease.Fingerprint, Timestamp: time.Now()})
	assert.False(t, f.searcher.has(lease.Fingerprint))
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(
		[]string{"rent is 2000", "term is one year"},
		[]Exchange{{Question: "Who is the landlord?", Answer: "Acme"}},
		"What is the rent?",
	)
	assert.True(t, strings.HasPrefix(prompt, "EXCERPTS FROM THE DOCUMENT:"))
	assert.Contains(t, prompt, "[1]\nrent is 2000")
	assert.Contains(t, prompt, "[2]\nterm is one year")
	assert.Contains(t, prompt, "Q1: Who is the landlord?\nA1: Acme")
	assert.True(t, strings.HasSuffix(prompt, "QUESTION: What is the rent?\n\nANSWER:"))
}
