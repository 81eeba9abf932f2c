package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validClassification = `{"intent_category": "ALLOWED", "confidence": 0.85, "reasoning": "routine account question", "detected_risks": []}`

func TestClassifyReturnsTextAndTokens(t *testing.T) {
	handle := &scriptedHandle{responses: []*GenerateResponse{
		{Text: validClassification, InputTokens: 80, OutputTokens: 30},
	}}
	c := NewBackendClassifier(ClassifierConfig{
		Backend: &scriptedBackend{handle: handle},
		ModelID: "model-flash-lite",
	})

	text, tokensUsed, err := c.Classify(context.Background(), "classify this")
	require.NoError(t, err)

	assert.Equal(t, validClassification, text)
	assert.Equal(t, 110, tokensUsed)
	assert.Equal(t, "classify this", handle.prompts[0])
}

func TestClassifySafetyBlockIsAnError(t *testing.T) {
	handle := &scriptedHandle{responses: []*GenerateResponse{
		{SafetyBlocked: true, SafetyDetail: "SAFETY", InputTokens: 80, OutputTokens: 0},
	}}
	c := NewBackendClassifier(ClassifierConfig{
		Backend: &scriptedBackend{handle: handle},
		ModelID: "model-flash-lite",
	})

	_, tokensUsed, err := c.Classify(context.Background(), "classify this")

	var safetyErr *SafetyBlockedError
	require.ErrorAs(t, err, &safetyErr)
	assert.Equal(t, "model-flash-lite", safetyErr.Model)
	assert.Equal(t, 80, tokensUsed)
}

func TestClassifyReusesModelHandle(t *testing.T) {
	handle := &scriptedHandle{responses: []*GenerateResponse{
		{Text: validClassification, InputTokens: 80, OutputTokens: 30},
		{Text: validClassification, InputTokens: 80, OutputTokens: 30},
	}}
	backend := &scriptedBackend{handle: handle}
	c := NewBackendClassifier(ClassifierConfig{Backend: backend, ModelID: "model-flash-lite"})

	_, _, err := c.Classify(context.Background(), "first")
	require.NoError(t, err)
	_, _, err = c.Classify(context.Background(), "second")
	require.NoError(t, err)

	assert.Equal(t, 1, backend.newModelCalls)
}

func TestClassifyInitializesHandleOnceUnderConcurrency(t *testing.T) {
	const callers = 8

	responses := make([]*GenerateResponse, callers)
	for i := range responses {
		responses[i] = &GenerateResponse{Text: validClassification, InputTokens: 80, OutputTokens: 30}
	}
	handle := &scriptedHandle{responses: responses}
	backend := &gatedBackend{
		handle:  handle,
		entered: make(chan struct{}, callers),
		release: make(chan struct{}),
	}
	c := NewBackendClassifier(ClassifierConfig{Backend: backend, ModelID: "model-flash-lite"})

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = c.Classify(context.Background(), "classify this")
		}(i)
	}

	// One caller is inside NewModel; keep it parked long enough for the
	// rest to queue up behind the shared initialization, then let go.
	<-backend.entered
	time.Sleep(10 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, 1, backend.newModelCalls)
	assert.Equal(t, callers, handle.calls)
}
