package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenderov/doclens/internal/storage"
	"github.com/mfenderov/doclens/pkg/models"
)

type counter struct {
	parses     atomic.Int32
	classifies atomic.Int32
}

func (c *counter) parse(fp models.Fingerprint, gate <-chan struct{}) ParseFunc {
	return func(ctx context.Context) (*models.ParsedDocument, error) {
		c.parses.Add(1)
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &models.ParsedDocument{Fingerprint: fp, Filename: "a.txt", Text: "Lease Agreement"}, nil
	}
}

func (c *counter) classify(ctx context.Context, doc *models.ParsedDocument) (models.Classification, error) {
	c.classifies.Add(1)
	return models.Classification{Type: models.TypeLease, Confidence: models.ConfidenceHigh}, nil
}

func TestGetOrCreate_ComputesOnceForConcurrentCallers(t *testing.T) {
	c := New(nil, Config{})
	fp := models.FingerprintOfText("doc")
	var cnt counter
	gate := make(chan struct{})

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*Entry, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := c.GetOrCreate(context.Background(), fp, cnt.parse(fp, gate), cnt.classify)
			assert.NoError(t, err)
			results[i] = e
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), cnt.parses.Load())
	assert.Equal(t, int32(1), cnt.classifies.Load())
	for _, e := range results {
		require.NotNil(t, e)
		assert.Same(t, results[0], e)
	}

	again, err := c.GetOrCreate(context.Background(), fp, cnt.parse(fp, nil), cnt.classify)
	require.NoError(t, err)
	assert.Same(t, results[0], again)
	assert.Equal(t, int32(1), cnt.parses.Load())
}

func TestGetOrCreate_ParseFailureIsNotCached(t *testing.T) {
	c := New(nil, Config{})
	fp := models.FingerprintOfText("broken")
	errParse := errors.New("corrupt pdf")
	var calls atomic.Int32

	failing := func(ctx context.Context) (*models.ParsedDocument, error) {
		calls.Add(1)
		return nil, errParse
	}
	var cnt counter

	_, err := c.GetOrCreate(context.Background(), fp, failing, cnt.classify)
	assert.ErrorIs(t, err, errParse)
	_, ok := c.Get(fp)
	assert.False(t, ok)

	_, err = c.GetOrCreate(context.Background(), fp, failing, cnt.classify)
	assert.ErrorIs(t, err, errParse)
	assert.Equal(t, int32(2), calls.Load())
	assert.Zero(t, cnt.classifies.Load())
}

func TestGetOrCreate_CancelledWaiterDoesNotFailOthers(t *testing.T) {
	c := New(nil, Config{})
	fp := models.FingerprintOfText("shared")
	var cnt counter
	gate := make(chan struct{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCreate(firstCtx, fp, cnt.parse(fp, gate), cnt.classify)
		firstErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	secondDone := make(chan *Entry, 1)
	go func() {
		e, err := c.GetOrCreate(context.Background(), fp, cnt.parse(fp, gate), cnt.classify)
		assert.NoError(t, err)
		secondDone <- e
	}()
	time.Sleep(10 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gate)
	e := <-secondDone
	require.NotNil(t, e)
	assert.Equal(t, models.TypeLease, e.Classification.Type)
	assert.Equal(t, int32(1), cnt.parses.Load())

	_, ok := c.Get(fp)
	assert.True(t, ok)
}

func TestGetOrCreate_ComputationHasOwnDeadline(t *testing.T) {
	c := New(nil, Config{Timeout: 20 * time.Millisecond})
	fp := models.FingerprintOfText("slow")
	var cnt counter

	_, err := c.GetOrCreate(context.Background(), fp, cnt.parse(fp, make(chan struct{})), cnt.classify)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := c.Get(fp)
	assert.False(t, ok)
}

func TestMirror_WriteThroughAndWarmStart(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	fp := models.FingerprintOfText("persisted")
	var cnt counter

	first := New(store, Config{})
	_, err = first.GetOrCreate(context.Background(), fp, cnt.parse(fp, nil), cnt.classify)
	require.NoError(t, err)

	warm := New(store, Config{})
	e, err := warm.GetOrCreate(context.Background(), fp, cnt.parse(fp, nil), cnt.classify)
	require.NoError(t, err)
	assert.Equal(t, "Lease Agreement", e.Document.Text)
	assert.Equal(t, int32(1), cnt.parses.Load(), "warm start must not re-parse")
	assert.Equal(t, 1, warm.Stats().Loads)

	doc, err := New(store, Config{}).Document(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, fp, doc.Fingerprint)
}

func TestClearAndForget(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	c := New(store, Config{})
	ctx := context.Background()
	var cnt counter

	a, b := models.FingerprintOfText("a"), models.FingerprintOfText("b")
	for _, fp := range []models.Fingerprint{a, b} {
		_, err := c.GetOrCreate(ctx, fp, cnt.parse(fp, nil), cnt.classify)
		require.NoError(t, err)
	}
	assert.Len(t, c.Fingerprints(), 2)

	require.NoError(t, c.Forget(ctx, a))
	_, err = c.Document(ctx, a)
	assert.ErrorIs(t, err, ErrNotCached)
	_, ok := c.Get(b)
	assert.True(t, ok)

	require.NoError(t, c.Clear(ctx))
	assert.Empty(t, c.Fingerprints())
	keys, err := store.Keys(ctx, storage.CollectionDocuments)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = c.GetOrCreate(ctx, a, cnt.parse(a, nil), cnt.classify)
	require.NoError(t, err)
	assert.Equal(t, int32(3), cnt.parses.Load())
}

func TestClear_DuringComputationDoesNotStore(t *testing.T) {
	c := New(nil, Config{})
	fp := models.FingerprintOfText("racing")
	var cnt counter
	gate := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCreate(context.Background(), fp, cnt.parse(fp, gate), cnt.classify)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Clear(context.Background()))
	close(gate)

	assert.NoError(t, <-done)
	_, ok := c.Get(fp)
	assert.False(t, ok)
}

type failingMirror struct{}

func (failingMirror) Put(context.Context, string, string, any) error { return errors.New("disk full") }
func (failingMirror) Get(context.Context, string, string, any) error { return errors.New("offline") }
func (failingMirror) Delete(context.Context, string, string) error   { return errors.New("offline") }
func (failingMirror) DeleteAll(context.Context, string) error        { return errors.New("offline") }

func TestMirrorFailuresAreNotFatal(t *testing.T) {
	c := New(failingMirror{}, Config{})
	fp := models.FingerprintOfText("x")
	var cnt counter

	_, err := c.GetOrCreate(context.Background(), fp, cnt.parse(fp, nil), cnt.classify)
	require.NoError(t, err)
	assert.NoError(t, c.Forget(context.Background(), fp))
	assert.NoError(t, c.Clear(context.Background()))
}
