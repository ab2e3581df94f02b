// Package refine implements the rubric-scored refinement loop: ask a model
// for a candidate answer, score it against weighted criteria, and — while
// the score stays under threshold — re-ask with the evaluator's issues
// appended, until it converges or iterations are exhausted.
package refine

import (
	"context"

	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

// defaultThreshold is used when Request.Threshold is unset.
const defaultThreshold = 0.8

// defaultIterations is used when Request.Iterations is unset.
const defaultIterations = 3

// Criterion is one weighted rubric dimension.
type Criterion struct {
	Name   string
	Weight float64
}

// CriterionScore is a single criterion's score in an evaluation outcome.
type CriterionScore struct {
	Name  string
	Score float64
}

// EvalOutcome is a rubric evaluation of one candidate answer.
type EvalOutcome struct {
	Correct      bool
	OverallScore float64
	Summary      string
	Criteria     []CriterionScore
	Issues       []string
}

// Request configures one refinement run.
type Request struct {
	Task       string
	Messages   []rlemodel.Message
	Model      string
	Criteria   []Criterion
	Iterations int
	Threshold  float64
}

// Result is the outcome of a refinement run.
type Result struct {
	Result          any
	FinalScore      float64
	Converged       bool
	IterationsCount int
}

// AskFunc asks a model for a candidate answer given a message history,
// returning both the parsed result and its rendered text (the text is what
// gets scored and fed back as the assistant's prior turn).
type AskFunc func(ctx context.Context, messages []rlemodel.Message, model string) (result any, text string, err error)

// EvalFunc scores a candidate answer against weighted criteria.
type EvalFunc func(ctx context.Context, task, output, model string, criteria []Criterion) (EvalOutcome, error)

// Run drives the ask/eval/re-ask loop described by Request and returns once
// the score converges or Iterations is exhausted, whichever comes first.
func Run(ctx context.Context, ask AskFunc, eval EvalFunc, req Request) (Result, error) {
	threshold := req.Threshold
	if threshold == 0 {
		threshold = defaultThreshold
	}
	iterations := req.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}

	messages := append([]rlemodel.Message(nil), req.Messages...)

	var (
		best      any
		bestScore float64
	)
	for i := 0; i < iterations; i++ {
		result, text, err := ask(ctx, messages, req.Model)
		if err != nil {
			return Result{}, err
		}
		outcome, err := eval(ctx, req.Task, text, req.Model, req.Criteria)
		if err != nil {
			return Result{}, err
		}
		best, bestScore = result, outcome.OverallScore

		if outcome.OverallScore >= threshold {
			return Result{Result: best, FinalScore: bestScore, Converged: true, IterationsCount: i + 1}, nil
		}

		messages = append(messages,
			rlemodel.Message{Role: rlemodel.RoleAssistant, Content: text},
			rlemodel.Message{Role: rlemodel.RoleUser, Content: formatIssues(outcome.Issues)},
		)
	}
	return Result{Result: best, FinalScore: bestScore, Converged: false, IterationsCount: iterations}, nil
}

func formatIssues(issues []string) string {
	if len(issues) == 0 {
		return "That answer did not meet the bar. Please reconsider and try again."
	}
	out := "Please address the following issues and try again:\n"
	for _, msg := range issues {
		out += "- " + msg + "\n"
	}
	return out
}
