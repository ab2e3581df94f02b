package modelclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rle/pkg/rleconfig"
	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

func testRegistry() *rleconfig.ModelRegistry {
	return rleconfig.NewModelRegistry(map[string]*rleconfig.ModelConfig{
		"test-model": {
			Name:                   "test-model",
			ContextLimit:           1000,
			PricePerMillionIn:      1,
			PricePerMillionOut:     2,
			DefaultMaxOutputTokens: 256,
		},
	})
}

func noBackoffRetry() rleconfig.RetryConfig {
	return rleconfig.RetryConfig{MaxRetries: 2, InitialDelay: 0, MaxDelay: 0, Multiplier: 1}
}

type queuedTransport struct {
	responses []queuedResponse
	calls     int
}

type queuedResponse struct {
	text  string
	usage Usage
	err   error
}

func (q *queuedTransport) send(ctx context.Context, model, system string, messages []rlemodel.Message, maxTokens int) (string, Usage, error) {
	r := q.responses[q.calls]
	q.calls++
	return r.text, r.usage, r.err
}

func TestAsk_ReturnsTextResultWhenNoSpecGiven(t *testing.T) {
	tr := &queuedTransport{responses: []queuedResponse{{text: "hello", usage: Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}}}
	c := newWithTransport(testRegistry(), noBackoffRetry(), tr)

	resp, err := c.Ask(context.Background(), AskRequest{
		Model:    "test-model",
		Messages: []rlemodel.Message{{Role: rlemodel.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Result)
	assert.Equal(t, 15, resp.Tokens.TotalTokens)
	assert.Equal(t, 1, tr.calls)
}

func TestAsk_RejectsOversizedContextWhenCheckContextRequested(t *testing.T) {
	tr := &queuedTransport{}
	c := newWithTransport(testRegistry(), noBackoffRetry(), tr)

	huge := make([]rlemodel.Message, 0, 2000)
	for i := 0; i < 2000; i++ {
		huge = append(huge, rlemodel.Message{Role: rlemodel.RoleUser, Content: "word word word word word"})
	}

	_, err := c.Ask(context.Background(), AskRequest{Model: "test-model", Messages: huge, CheckContext: true})
	require.Error(t, err)
	assert.ErrorContains(t, err, "context overflow")
	assert.Equal(t, 0, tr.calls)
}

func TestAsk_ParsesSpecResultAsJSON(t *testing.T) {
	tr := &queuedTransport{responses: []queuedResponse{{text: `{"answer": 42}`}}}
	c := newWithTransport(testRegistry(), noBackoffRetry(), tr)

	resp, err := c.Ask(context.Background(), AskRequest{
		Model:    "test-model",
		Messages: []rlemodel.Message{{Role: rlemodel.RoleUser, Content: "hi"}},
		Spec:     map[string]any{"answer": "number"},
	})
	require.NoError(t, err)
	m, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), m["answer"])
}

func TestAsk_ReAsksOnceWhenSpecParsingFails(t *testing.T) {
	tr := &queuedTransport{responses: []queuedResponse{
		{text: "not json at all, sorry"},
		{text: `{"answer": 7}`},
	}}
	c := newWithTransport(testRegistry(), noBackoffRetry(), tr)

	resp, err := c.Ask(context.Background(), AskRequest{
		Model:    "test-model",
		Messages: []rlemodel.Message{{Role: rlemodel.RoleUser, Content: "hi"}},
		Spec:     map[string]any{"answer": "number"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, tr.calls)
	m, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(7), m["answer"])
}

func TestAsk_RetriesTransientTransportFailure(t *testing.T) {
	tr := &queuedTransport{responses: []queuedResponse{
		{err: &transientError{statusCode: 429, err: errors.New("rate limited")}},
		{text: "second try worked"},
	}}
	c := newWithTransport(testRegistry(), noBackoffRetry(), tr)

	resp, err := c.Ask(context.Background(), AskRequest{
		Model:    "test-model",
		Messages: []rlemodel.Message{{Role: rlemodel.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "second try worked", resp.Result)
	assert.Equal(t, 2, tr.calls)
}

func TestAsk_GivesUpAfterExhaustingRetries(t *testing.T) {
	tr := &queuedTransport{responses: []queuedResponse{
		{err: &transientError{statusCode: 500, err: errors.New("boom")}},
		{err: &transientError{statusCode: 500, err: errors.New("boom")}},
		{err: &transientError{statusCode: 500, err: errors.New("boom")}},
	}}
	c := newWithTransport(testRegistry(), noBackoffRetry(), tr)

	_, err := c.Ask(context.Background(), AskRequest{
		Model:    "test-model",
		Messages: []rlemodel.Message{{Role: rlemodel.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, 3, tr.calls)
}

func TestAsk_NonTransientErrorFailsImmediatelyWithoutRetry(t *testing.T) {
	tr := &queuedTransport{responses: []queuedResponse{
		{err: errors.New("client error, not retriable")},
	}}
	c := newWithTransport(testRegistry(), noBackoffRetry(), tr)

	_, err := c.Ask(context.Background(), AskRequest{
		Model:    "test-model",
		Messages: []rlemodel.Message{{Role: rlemodel.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, 1, tr.calls)
}

func TestEval_ParsesRubricResponseIntoOutcome(t *testing.T) {
	tr := &queuedTransport{responses: []queuedResponse{
		{text: `{"correct": true, "overall-score": 0.92, "summary": "solid", "criteria": [{"name": "accuracy", "score": 0.9}], "issues": []}`},
	}}
	c := newWithTransport(testRegistry(), noBackoffRetry(), tr)

	outcome, err := c.Eval(context.Background(), EvalRequest{Task: "t", Output: "o", Model: "test-model"})
	require.NoError(t, err)
	assert.True(t, outcome.Correct)
	assert.InDelta(t, 0.92, outcome.OverallScore, 0.0001)
	require.Len(t, outcome.Criteria, 1)
	assert.Equal(t, "accuracy", outcome.Criteria[0].Name)
}

func TestRefine_ConvergesUsingWrappedAskAndEval(t *testing.T) {
	tr := &queuedTransport{responses: []queuedResponse{
		{text: "draft answer"},
		{text: `{"correct": true, "overall-score": 0.95, "summary": "good", "issues": []}`},
	}}
	c := newWithTransport(testRegistry(), noBackoffRetry(), tr)

	res, err := c.Refine(context.Background(), RefineRequest{
		Task:      "answer the question",
		Messages:  []rlemodel.Message{{Role: rlemodel.RoleUser, Content: "q"}},
		Model:     "test-model",
		Threshold: 0.8,
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, "draft answer", res.Result)
}
