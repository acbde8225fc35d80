// Package analyzer holds the image analyzers the verification pipeline calls.
// An analyzer only describes what it sees; turning that into a status is the
// workflow's compliance policy.
package analyzer

import (
	"context"

	"github.com/mmdatafocus/mrv_backend/models"
)

type Request struct {
	ImageURL         string
	PracticeType     models.PracticeType
	VerificationType models.VerificationType
}

// Output is the raw analyzer result. Confidence is nil when the model did
// not return a structured score; the policy then looks for one in Narrative.
type Output struct {
	Narrative       string
	Confidence      *int
	Recommendations []string
}

type ImageAnalyzer interface {
	Analyze(ctx context.Context, req Request) (*Output, error)
}

// Func adapts a plain function to ImageAnalyzer.
type Func func(ctx context.Context, req Request) (*Output, error)

func (f Func) Analyze(ctx context.Context, req Request) (*Output, error) {
	return f(ctx, req)
}
