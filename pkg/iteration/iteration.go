// Package iteration drives a single query through the model/sandbox loop:
// build a system prompt, ask the model, extract and execute any code
// blocks it emitted, feed the results back, and repeat until a FINAL
// sentinel appears, the model stops emitting code, or the iteration/
// deadline budget runs out.
package iteration

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/codeready-toolchain/rle/pkg/jsonish"
	"github.com/codeready-toolchain/rle/pkg/modelclient"
	"github.com/codeready-toolchain/rle/pkg/refine"
	"github.com/codeready-toolchain/rle/pkg/rlemodel"
	"github.com/codeready-toolchain/rle/pkg/sandbox"
)

// Status values for Result.Status.
const (
	StatusOK            = "ok"
	StatusMaxIterations = "max-iterations"
	StatusDeadline      = "deadline"
)

const defaultMaxIterations = 8

// Options configures one query.
type Options struct {
	Context         string // pre-fetched context folded into the opening user message
	OutputSpec      map[string]any
	MaxIterations   int
	Deadline        time.Time // zero means no deadline beyond ctx
	Refine          bool
	Verify          bool
	Learn           bool
	RefineCriteria  []refine.Criterion
	RefineThreshold float64
	Model           string
}

// BlockResult is the outcome of executing one extracted code block.
type BlockResult struct {
	ID     int
	Result any
	Stdout string
	Error  string
}

// TraceEntry records one model turn: its raw text and the code blocks it
// produced, for callers that want to inspect (or replay) the conversation.
type TraceEntry struct {
	Iteration int
	Text      string
	Blocks    []BlockResult
}

// Result is the outcome of a query.
type Result struct {
	Status          string
	Answer          any
	Iterations      int
	Trace           []TraceEntry
	VerifiedClaims  []rlemodel.Claim
	EvalScore       *refine.EvalOutcome
	RefinementCount int
}

// Deps are the collaborators a query needs. Sandbox is shared across every
// code block in the query (it owns the store handle and the recursion
// depth guard); a fresh Invocation is created per block via
// Sandbox.NewInvocation.
type Deps struct {
	Model   modelclient.ModelClient
	Sandbox *sandbox.Sandbox
}

var codeBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\n?(.*?)```")

// extractCodeBlocks pulls every fenced code block out of text, in the
// order they appear, ignoring the language tag.
func extractCodeBlocks(text string) []string {
	matches := codeBlockPattern.FindAllStringSubmatch(text, -1)
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		block := strings.TrimSpace(m[1])
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// buildSystemPrompt enumerates the sandbox's allow-listed tools, states
// the FINAL contract, and includes the output schema when one was given.
func buildSystemPrompt(toolNames []string, outputSpec map[string]any) string {
	var sb strings.Builder
	sb.WriteString("You solve problems by emitting one or more fenced code blocks written in the sandboxed expression language available in this environment. ")
	sb.WriteString("Each code block you emit is executed in order and its result, stdout, and any error are returned to you as <result_i> blocks. ")
	sb.WriteString("You may emit further code blocks in response, building on earlier results, until you are ready to answer.\n\n")
	sb.WriteString("Available operations:\n")
	for _, name := range toolNames {
		fmt.Fprintf(&sb, "- %s\n", name)
	}
	sb.WriteString("\nWhen you have a final answer, wrap it with (FINAL <value>) inside a code block — ")
	sb.WriteString("evaluating that form ends the loop and its value becomes the answer. ")
	sb.WriteString("If you emit no code block at all, your response text is taken as the final answer directly.\n")
	if outputSpec != nil {
		sb.WriteString("\nThe final answer must conform to this output schema:\n")
		fmt.Fprintf(&sb, "%v\n", outputSpec)
	}
	return sb.String()
}

// Run executes the iteration loop for one query.
func Run(ctx context.Context, deps Deps, query string, opts Options) (Result, error) {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	userContent := query
	if opts.Context != "" {
		userContent = query + "\n\nContext:\n" + opts.Context
	}

	messages := []rlemodel.Message{
		{Role: rlemodel.RoleSystem, Content: buildSystemPrompt(deps.Sandbox.ToolNames(), opts.OutputSpec)},
		{Role: rlemodel.RoleUser, Content: userContent},
	}

	var trace []TraceEntry
	var claims []rlemodel.Claim

	for i := 0; i < maxIter; i++ {
		if !opts.Deadline.IsZero() && time.Now().After(opts.Deadline) {
			return Result{Status: StatusDeadline, Iterations: i, Trace: trace, VerifiedClaims: claims}, nil
		}
		select {
		case <-ctx.Done():
			return Result{Status: StatusDeadline, Iterations: i, Trace: trace, VerifiedClaims: claims}, nil
		default:
		}

		resp, err := deps.Model.Ask(ctx, modelclient.AskRequest{
			Messages:     messages,
			Model:        opts.Model,
			CheckContext: true,
		})
		if err != nil {
			return Result{}, err
		}

		blocks := extractCodeBlocks(resp.Text)
		if len(blocks) == 0 {
			answer := tentativeAnswer(resp.Text)
			return finish(ctx, deps, opts, answer, i+1, trace, claims)
		}

		entry := TraceEntry{Iteration: i + 1, Text: resp.Text}
		var resultBlocks strings.Builder
		finalFound := false
		var finalAnswer any

		for idx, block := range blocks {
			inv := deps.Sandbox.NewInvocation()
			execRes := inv.Execute(ctx, block)
			br := BlockResult{ID: idx, Result: execRes.Result, Stdout: execRes.Stdout, Error: execRes.Error}
			entry.Blocks = append(entry.Blocks, br)
			claims = append(claims, inv.Claims()...)

			fmt.Fprintf(&resultBlocks, "<result_%d>\n", idx)
			if execRes.Error != "" {
				fmt.Fprintf(&resultBlocks, "error: %s\n", execRes.Error)
			} else {
				fmt.Fprintf(&resultBlocks, "result: %v\n", execRes.Result)
			}
			if execRes.Stdout != "" {
				fmt.Fprintf(&resultBlocks, "stdout: %s\n", execRes.Stdout)
			}
			resultBlocks.WriteString("</result_")
			fmt.Fprintf(&resultBlocks, "%d>\n", idx)

			if value, ok := sandbox.IsFinal(execRes.Result); ok && !finalFound {
				finalFound = true
				finalAnswer = value
			}
		}

		trace = append(trace, entry)
		messages = append(messages,
			rlemodel.Message{Role: rlemodel.RoleAssistant, Content: resp.Text},
			rlemodel.Message{Role: rlemodel.RoleTool, Content: resultBlocks.String()},
		)

		if finalFound {
			return finish(ctx, deps, opts, finalAnswer, i+1, trace, claims)
		}
	}

	return Result{Status: StatusMaxIterations, Iterations: maxIter, Trace: trace, VerifiedClaims: claims}, nil
}

// learnInsight asks the model for a one-line takeaway from this query and
// persists it via the sandbox's store-learning binding, so the knowledge
// store benefits from the next query even when it fails.
func learnInsight(ctx context.Context, deps Deps, model, answer string) {
	resp, err := deps.Model.Ask(ctx, modelclient.AskRequest{
		Model: model,
		Messages: []rlemodel.Message{
			{Role: rlemodel.RoleUser, Content: "In one short sentence, what is the key reusable insight from this answer:\n\n" + answer},
		},
		CheckContext: false,
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		return
	}
	block := fmt.Sprintf("(store-learning %s)", quoteSandboxString(resp.Text))
	deps.Sandbox.NewInvocation().Execute(ctx, block)
}

// quoteSandboxString renders s as a double-quoted sandbox string literal,
// escaping the characters ast.go's tokenizer treats specially.
func quoteSandboxString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// tentativeAnswer parses text as loosely as possible (C1) and falls back
// to the raw text when nothing usable comes out of the cascade.
func tentativeAnswer(text string) any {
	parsed, err := jsonish.Parse(text)
	if err != nil {
		return text
	}
	return parsed.Value
}

// finish applies the optional verify/refine/learn post-processing steps
// and assembles the final Result.
func finish(ctx context.Context, deps Deps, opts Options, answer any, iterations int, trace []TraceEntry, claims []rlemodel.Claim) (Result, error) {
	res := Result{Status: StatusOK, Answer: answer, Iterations: iterations, Trace: trace}
	if opts.Verify {
		res.VerifiedClaims = claims
	}

	if opts.Learn && res.Status == StatusOK {
		learnInsight(ctx, deps, opts.Model, fmt.Sprint(answer))
	}

	if opts.Refine {
		ask := func(ctx context.Context, messages []rlemodel.Message, model string) (any, string, error) {
			resp, err := deps.Model.Ask(ctx, modelclient.AskRequest{Messages: messages, Model: model, CheckContext: true})
			if err != nil {
				return nil, "", err
			}
			return resp.Result, resp.Text, nil
		}
		eval := func(ctx context.Context, task, output, model string, criteria []refine.Criterion) (refine.EvalOutcome, error) {
			return deps.Model.Eval(ctx, modelclient.EvalRequest{Task: task, Output: output, Model: model, Criteria: criteria})
		}
		refRes, err := refine.Run(ctx, ask, eval, refine.Request{
			Task:      fmt.Sprint(answer),
			Messages:  []rlemodel.Message{{Role: rlemodel.RoleUser, Content: fmt.Sprint(answer)}},
			Model:     opts.Model,
			Criteria:  opts.RefineCriteria,
			Threshold: opts.RefineThreshold,
		})
		if err != nil {
			return Result{}, err
		}
		res.Answer = refRes.Result
		res.RefinementCount = refRes.IterationsCount
		res.EvalScore = &refine.EvalOutcome{OverallScore: refRes.FinalScore, Correct: refRes.Converged}
	}

	return res, nil
}
