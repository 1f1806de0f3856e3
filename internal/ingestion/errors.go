package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/mfenderov/doclens/internal/extractor"
	"github.com/mfenderov/doclens/internal/llm"
	"github.com/mfenderov/doclens/internal/parser"
)

// Stage names the step of the extraction flow that failed.
type Stage string

const (
	StageFingerprint Stage = "fingerprint"
	StageParse       Stage = "parse"
	StageClassify    Stage = "classify"
	StageExtract     Stage = "extract"
)

// StageError tags an error with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Reason is a short message suitable for users.
func (e *StageError) Reason() string {
	switch {
	case errors.Is(e.Err, context.Canceled):
		return "extraction was cancelled"
	case errors.Is(e.Err, context.DeadlineExceeded), errors.Is(e.Err, llm.ErrTimeout):
		return fmt.Sprintf("%s step timed out", e.Stage)
	case errors.Is(e.Err, llm.ErrRateLimited):
		return "the language model is rate limiting requests, try again later"
	case errors.Is(e.Err, llm.ErrInvalidResponse):
		return "the language model returned an unusable response"
	case errors.Is(e.Err, parser.ErrParse):
		return "the document could not be read: " + e.Err.Error()
	case errors.Is(e.Err, extractor.ErrExternalService):
		return "the extraction service is unavailable"
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}
