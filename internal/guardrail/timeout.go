package guardrail

import (
	"context"
	"time"
)

// timeoutClassifier bounds each classification call. A timeout surfaces as a
// classifier error and lands in the fail-open path.
type timeoutClassifier struct {
	inner   Classifier
	timeout time.Duration
}

// WithTimeout wraps a classifier with a per-call deadline. A non-positive
// timeout returns the classifier unchanged.
func WithTimeout(c Classifier, timeout time.Duration) Classifier {
	if timeout <= 0 {
		return c
	}
	return &timeoutClassifier{inner: c, timeout: timeout}
}

func (t *timeoutClassifier) Classify(ctx context.Context, prompt string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Classify(ctx, prompt)
}
