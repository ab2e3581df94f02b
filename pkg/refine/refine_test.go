package refine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

func TestRun_ConvergesImmediatelyWhenScoreMeetsThreshold(t *testing.T) {
	askCalls := 0
	ask := func(ctx context.Context, messages []rlemodel.Message, model string) (any, string, error) {
		askCalls++
		return "final answer", "final answer", nil
	}
	eval := func(ctx context.Context, task, output, model string, criteria []Criterion) (EvalOutcome, error) {
		return EvalOutcome{OverallScore: 0.9, Correct: true}, nil
	}

	res, err := Run(context.Background(), ask, eval, Request{Task: "t", Threshold: 0.8, Iterations: 3})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 1, res.IterationsCount)
	assert.Equal(t, "final answer", res.Result)
	assert.Equal(t, 1, askCalls)
}

func TestRun_ReAsksWithIssuesUntilConverged(t *testing.T) {
	scores := []float64{0.3, 0.6, 0.85}
	call := 0
	var seenMessages [][]rlemodel.Message
	ask := func(ctx context.Context, messages []rlemodel.Message, model string) (any, string, error) {
		cp := append([]rlemodel.Message(nil), messages...)
		seenMessages = append(seenMessages, cp)
		return call, "draft", nil
	}
	eval := func(ctx context.Context, task, output, model string, criteria []Criterion) (EvalOutcome, error) {
		score := scores[call]
		call++
		return EvalOutcome{OverallScore: score, Issues: []string{"too vague"}}, nil
	}

	res, err := Run(context.Background(), ask, eval, Request{Task: "t", Threshold: 0.8, Iterations: 5})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 3, res.IterationsCount)
	require.Len(t, seenMessages, 3)
	assert.Empty(t, seenMessages[0])
	assert.Len(t, seenMessages[1], 2)
	assert.Contains(t, seenMessages[1][1].Content, "too vague")
}

func TestRun_StopsAtIterationsLimitWithoutConverging(t *testing.T) {
	ask := func(ctx context.Context, messages []rlemodel.Message, model string) (any, string, error) {
		return "draft", "draft", nil
	}
	eval := func(ctx context.Context, task, output, model string, criteria []Criterion) (EvalOutcome, error) {
		return EvalOutcome{OverallScore: 0.1}, nil
	}

	res, err := Run(context.Background(), ask, eval, Request{Threshold: 0.8, Iterations: 2})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 2, res.IterationsCount)
}

func TestRun_DefaultsThresholdAndIterationsWhenUnset(t *testing.T) {
	calls := 0
	ask := func(ctx context.Context, messages []rlemodel.Message, model string) (any, string, error) {
		calls++
		return "x", "x", nil
	}
	eval := func(ctx context.Context, task, output, model string, criteria []Criterion) (EvalOutcome, error) {
		return EvalOutcome{OverallScore: 0}, nil
	}

	res, err := Run(context.Background(), ask, eval, Request{})
	require.NoError(t, err)
	assert.Equal(t, defaultIterations, res.IterationsCount)
	assert.Equal(t, defaultIterations, calls)
}

func TestRun_PropagatesAskError(t *testing.T) {
	ask := func(ctx context.Context, messages []rlemodel.Message, model string) (any, string, error) {
		return nil, "", assert.AnError
	}
	eval := func(ctx context.Context, task, output, model string, criteria []Criterion) (EvalOutcome, error) {
		t.Fatal("eval should not be called when ask fails")
		return EvalOutcome{}, nil
	}

	_, err := Run(context.Background(), ask, eval, Request{})
	assert.Error(t, err)
}
