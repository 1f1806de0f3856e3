package classifier

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenderov/doclens/internal/llm"
	"github.com/mfenderov/doclens/internal/retry"
	"github.com/mfenderov/doclens/pkg/models"
)

type fakeGenerator struct {
	calls   atomic.Int32
	replies []string
	errs    []error
	prompts []string
	cons    llm.Constraints
}

func (f *fakeGenerator) Complete(ctx context.Context, prompt string, cons llm.Constraints) (string, error) {
	n := int(f.calls.Add(1)) - 1
	f.prompts = append(f.prompts, prompt)
	f.cons = cons
	if n < len(f.errs) && f.errs[n] != nil {
		return "", f.errs[n]
	}
	if n < len(f.replies) {
		return f.replies[n], nil
	}
	return f.replies[len(f.replies)-1], nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestClassify_EmptyTextSkipsModel(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`{"document_type":"LEASE"}`}}
	c := New(gen, fastPolicy())

	for _, text := range []string{"", "   \n\t"} {
		got, err := c.Classify(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, models.TypeUnknown, got.Type)
		assert.Equal(t, models.ConfidenceLow, got.Confidence)
	}
	assert.Zero(t, gen.calls.Load())
}

func TestClassify_Responses(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantType   models.DocumentType
		wantConf   models.Confidence
		wantReason string
	}{
		{
			name:       "lease",
			reply:      `{"document_type":"LEASE","confidence":"HIGH","reasoning":"mentions lessor"}`,
			wantType:   models.TypeLease,
			wantConf:   models.ConfidenceHigh,
			wantReason: "mentions lessor",
		},
		{
			name:     "lowercase label in code fence",
			reply:    "```json\n{\"document_type\":\"invoice\",\"confidence\":\"medium\"}\n```",
			wantType: models.TypeInvoice,
			wantConf: models.ConfidenceMedium,
		},
		{
			name:     "unknown confidence",
			reply:    `{"document_type":"NDA","confidence":"certain"}`,
			wantType: models.TypeNDA,
			wantConf: models.ConfidenceLow,
		},
		{
			name:     "label outside the set",
			reply:    `{"document_type":"RECEIPT","confidence":"HIGH"}`,
			wantType: models.TypeUnknown,
			wantConf: models.ConfidenceLow,
		},
		{
			name:     "not json",
			reply:    `It is a lease.`,
			wantType: models.TypeUnknown,
			wantConf: models.ConfidenceLow,
		},
		{
			name:     "schema violation",
			reply:    `{"confidence":"HIGH"}`,
			wantType: models.TypeUnknown,
			wantConf: models.ConfidenceLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{replies: []string{tt.reply}}
			got, err := New(gen, fastPolicy()).Classify(context.Background(), "Some document text")

			require.NoError(t, err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantConf, got.Confidence)
			assert.False(t, got.Degraded)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, got.Reasoning)
			}
			assert.Equal(t, int32(1), gen.calls.Load())
		})
	}
}

func TestClassify_PromptConstraints(t *testing.T) {
	gen := &fakeGenerator{replies: []string{`{"document_type":"CONTRACT"}`}}
	text := strings.Repeat("a", 5000)

	_, err := New(gen, fastPolicy()).Classify(context.Background(), text)
	require.NoError(t, err)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], strings.Repeat("a", SampleChars))
	assert.NotContains(t, gen.prompts[0], strings.Repeat("a", SampleChars+1))
	assert.True(t, gen.cons.JSON)
	assert.LessOrEqual(t, gen.cons.Temperature, 0.2)
}

func TestClassify_RetriesThenSucceeds(t *testing.T) {
	gen := &fakeGenerator{
		errs:    []error{llm.ErrRateLimited, llm.ErrTimeout},
		replies: []string{"", "", `{"document_type":"NDA","confidence":"HIGH"}`},
	}

	got, err := New(gen, fastPolicy()).Classify(context.Background(), "confidential information")
	require.NoError(t, err)
	assert.Equal(t, models.TypeNDA, got.Type)
	assert.Equal(t, int32(3), gen.calls.Load())
}

func TestClassify_DegradesAfterRetries(t *testing.T) {
	gen := &fakeGenerator{
		errs:    []error{llm.ErrTimeout, llm.ErrTimeout, llm.ErrTimeout},
		replies: []string{""},
	}

	got, err := New(gen, fastPolicy()).Classify(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, models.TypeUnknown, got.Type)
	assert.Equal(t, models.ConfidenceLow, got.Confidence)
	assert.True(t, got.Degraded)
	assert.Equal(t, int32(3), gen.calls.Load())
}

func TestClassify_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &fakeGenerator{errs: []error{errors.New("boom")}, replies: []string{""}}

	_, err := New(gen, fastPolicy()).Classify(ctx, "some text")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.DocumentType
	}{
		{"lease", "Lease Agreement between Acme Corp and Beta LLC. Monthly rent: $2,000.", models.TypeLease},
		{"nda", "This Non-Disclosure Agreement protects Confidential Information.", models.TypeNDA},
		{"invoice", "TAX INVOICE\nInvoice No: INV-001\nSubtotal: 100", models.TypeInvoice},
		{"contract", "This services contract sets out the scope of work.", models.TypeContract},
		{"nothing", "Shopping list: apples, pears.", models.TypeUnknown},
		{"empty", "", models.TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewKeywords().Classify(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Type)
		})
	}
}

func TestSample(t *testing.T) {
	assert.Equal(t, "abc", Sample("abc", 10))
	assert.Equal(t, "ab", Sample("abc", 2))
	assert.Equal(t, "éé", Sample("ééé", 2))
}
