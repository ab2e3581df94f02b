// Package modelclient implements the ModelClient surface: Ask, Eval, and
// Refine against a chat-completion backend, with retry/back-off and
// token/cost accounting layered on top of a thin transport interface.
package modelclient

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/rle/pkg/refine"
	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Cost reports estimated dollar cost for one call.
type Cost struct {
	In    float64
	Out   float64
	Total float64
}

// AskRequest is one chat-completion turn.
type AskRequest struct {
	Spec         map[string]any // output-spec hint; when set, Result is coerced to conform
	Messages     []rlemodel.Message
	Model        string
	CheckContext bool // enables the context-window check; the zero value (false) skips it, so callers opt in explicitly
	TimeoutMS    int
}

// AskResponse is the parsed outcome of an Ask call.
type AskResponse struct {
	Result     any
	Text       string
	Tokens     Usage
	Cost       Cost
	DurationMS int64
}

// EvalRequest asks the model to rubric-score a candidate output.
type EvalRequest struct {
	Task      string
	Output    string
	Model     string
	Criteria  []refine.Criterion
	Threshold float64
}

// RefineRequest drives the iterate-until-converge loop (pkg/refine).
type RefineRequest struct {
	Spec       map[string]any
	Messages   []rlemodel.Message
	Model      string
	Criteria   []refine.Criterion
	Iterations int
	Threshold  float64
	Task       string
}

// ModelClient is the interface the rest of the system depends on.
type ModelClient interface {
	Ask(ctx context.Context, req AskRequest) (AskResponse, error)
	Eval(ctx context.Context, req EvalRequest) (refine.EvalOutcome, error)
	Refine(ctx context.Context, req RefineRequest) (refine.Result, error)
}

// ModelError is a non-retriable failure: an exhausted retry budget, a
// client error that isn't a rate limit, or a schema-coercion failure that
// survived its one re-ask. It carries request/response breadcrumbs for
// diagnosis.
type ModelError struct {
	Model      string
	StatusCode int
	Body       string
	Err        error
}

func (e *ModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("modelclient: %s returned %d: %s", e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("modelclient: %s: %s", e.Model, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// transientError marks a failure the retry policy should retry: rate
// limits and transport-level drops.
type transientError struct {
	statusCode int
	err        error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isRetriableStatus(code int) bool {
	return code == 429 || code == 408 || code >= 500
}
