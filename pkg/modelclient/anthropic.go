package modelclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/codeready-toolchain/rle/pkg/jsonish"
	"github.com/codeready-toolchain/rle/pkg/refine"
	"github.com/codeready-toolchain/rle/pkg/rleconfig"
	"github.com/codeready-toolchain/rle/pkg/rlemodel"
	"github.com/codeready-toolchain/rle/pkg/tokens"
)

// transport is the thin send boundary AnthropicClient calls through.
// Isolated behind an interface so retry/backoff and schema-coercion logic
// can be exercised in tests without a network call.
type transport interface {
	send(ctx context.Context, model, system string, messages []rlemodel.Message, maxTokens int) (text string, usage Usage, err error)
}

// AnthropicClient implements ModelClient against the Anthropic chat-
// completion API, with exponential back-off retry and context-window
// budgeting layered on top.
type AnthropicClient struct {
	models    *rleconfig.ModelRegistry
	budgeter  *tokens.Budgeter
	retry     rleconfig.RetryConfig
	limiter   *rate.Limiter
	transport transport
}

// New builds an AnthropicClient whose transport resolves API keys and base
// URLs per-model from models.
func New(models *rleconfig.ModelRegistry, retry rleconfig.RetryConfig) *AnthropicClient {
	return &AnthropicClient{
		models:    models,
		budgeter:  tokens.New(models),
		retry:     retry,
		limiter:   newCallLimiter(retry.RequestsPerMinute),
		transport: &sdkTransport{models: models},
	}
}

// newWithTransport is the test seam: it swaps in a fake transport so retry
// and schema-coercion behavior can be verified without a live API key.
func newWithTransport(models *rleconfig.ModelRegistry, retry rleconfig.RetryConfig, tr transport) *AnthropicClient {
	return &AnthropicClient{
		models:    models,
		budgeter:  tokens.New(models),
		retry:     retry,
		limiter:   newCallLimiter(retry.RequestsPerMinute),
		transport: tr,
	}
}

// Ask sends req.Messages to req.Model, retrying transient failures per the
// configured back-off policy. When req.Spec is set, the response is parsed
// via jsonish and one schema-reminder re-ask is attempted if parsing fails.
func (c *AnthropicClient) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	if req.CheckContext {
		if _, err := c.budgeter.CheckContextLimit(req.Model, toTokenMessages(req.Messages), tokens.CheckContextLimitOptions{Throw: true}); err != nil {
			return AskResponse{}, err
		}
	}

	messages := req.Messages
	start := time.Now()

	text, usage, err := c.sendWithRetry(ctx, req.Model, "", messages)
	if err != nil {
		return AskResponse{}, err
	}

	result := any(text)
	if req.Spec != nil {
		parsed, perr := jsonish.Parse(text)
		if perr == nil && parsed.Score == 0 {
			perr = fmt.Errorf("response contained no structured value")
		}
		if perr != nil {
			// One schema-reminder re-ask, per the error taxonomy's
			// ModelSchema disposition.
			reminder := rlemodel.Message{Role: rlemodel.RoleUser, Content: "Your previous response did not match the required output format. Respond again with valid JSON matching that format."}
			retryMessages := append(append([]rlemodel.Message(nil), messages...),
				rlemodel.Message{Role: rlemodel.RoleAssistant, Content: text}, reminder)
			text2, usage2, err2 := c.sendWithRetry(ctx, req.Model, "", retryMessages)
			if err2 != nil {
				return AskResponse{}, &ModelError{Model: req.Model, Err: fmt.Errorf("schema coercion failed: %w", perr)}
			}
			parsed2, perr2 := jsonish.Parse(text2)
			if perr2 == nil && parsed2.Score == 0 {
				perr2 = fmt.Errorf("response contained no structured value")
			}
			if perr2 != nil {
				return AskResponse{}, &ModelError{Model: req.Model, Err: fmt.Errorf("schema coercion failed after re-ask: %w", perr2)}
			}
			usage.InputTokens += usage2.InputTokens
			usage.OutputTokens += usage2.OutputTokens
			usage.TotalTokens += usage2.TotalTokens
			text, result = text2, parsed2.Value
		} else {
			result = parsed.Value
		}
	}

	cost := c.budgeter.EstimateCost(req.Model, usage.InputTokens, usage.OutputTokens)
	return AskResponse{
		Result:     result,
		Text:       text,
		Tokens:     usage,
		Cost:       Cost{In: cost.In, Out: cost.Out, Total: cost.Total},
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// sendWithRetry runs transport.send, retrying per c.retry on transient
// failures and propagating everything else immediately.
func (c *AnthropicClient) sendWithRetry(ctx context.Context, model, system string, messages []rlemodel.Message) (string, Usage, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if err := waitForSlot(ctx, c.limiter); err != nil {
			return "", Usage{}, err
		}
		text, usage, err := c.transport.send(ctx, model, system, messages, 0)
		if err == nil {
			return text, usage, nil
		}
		var te *transientError
		if !asTransient(err, &te) {
			return "", Usage{}, &ModelError{Model: model, Err: err}
		}
		lastErr = err
		if attempt == c.retry.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", Usage{}, ctx.Err()
		case <-time.After(c.retry.Delay(attempt)):
		}
	}
	return "", Usage{}, &ModelError{Model: model, Err: fmt.Errorf("exhausted %d retries: %w", c.retry.MaxRetries, lastErr)}
}

func asTransient(err error, target **transientError) bool {
	te, ok := err.(*transientError)
	if ok {
		*target = te
	}
	return ok
}

// evalRubricPrompt renders the rubric-evaluation instructions for Eval.
func evalRubricPrompt(task, output string, criteria []refine.Criterion) string {
	var sb strings.Builder
	sb.WriteString("Evaluate the following output against the task and weighted criteria. ")
	sb.WriteString("Respond with JSON: {\"correct\": bool, \"overall-score\": number in [0,1], \"summary\": string, ")
	sb.WriteString("\"criteria\": [{\"name\": string, \"score\": number}], \"issues\": [string]}.\n\n")
	fmt.Fprintf(&sb, "Task:\n%s\n\nOutput:\n%s\n\nCriteria:\n", task, output)
	for _, c := range criteria {
		fmt.Fprintf(&sb, "- %s (weight %.2f)\n", c.Name, c.Weight)
	}
	return sb.String()
}

// Eval asks the model to rubric-score output against task and criteria.
func (c *AnthropicClient) Eval(ctx context.Context, req EvalRequest) (refine.EvalOutcome, error) {
	prompt := evalRubricPrompt(req.Task, req.Output, req.Criteria)
	text, _, err := c.sendWithRetry(ctx, req.Model, "", []rlemodel.Message{{Role: rlemodel.RoleUser, Content: prompt}})
	if err != nil {
		return refine.EvalOutcome{}, err
	}
	return parseEvalOutcome(text)
}

func parseEvalOutcome(text string) (refine.EvalOutcome, error) {
	parsed, err := jsonish.Parse(text)
	if err != nil {
		return refine.EvalOutcome{}, &ModelError{Err: fmt.Errorf("could not parse evaluation: %w", err)}
	}
	m, ok := parsed.Value.(map[string]any)
	if !ok {
		return refine.EvalOutcome{}, &ModelError{Err: fmt.Errorf("evaluation was not a JSON object")}
	}
	outcome := refine.EvalOutcome{
		Correct:      asBool(m["correct"]),
		OverallScore: asFloat(m["overall-score"]),
		Summary:      asString(m["summary"]),
	}
	if issues, ok := m["issues"].([]any); ok {
		for _, i := range issues {
			outcome.Issues = append(outcome.Issues, fmt.Sprint(i))
		}
	}
	if crit, ok := m["criteria"].([]any); ok {
		for _, c := range crit {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			outcome.Criteria = append(outcome.Criteria, refine.CriterionScore{
				Name: asString(cm["name"]), Score: asFloat(cm["score"]),
			})
		}
	}
	return outcome, nil
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// Refine drives the iterate-until-converge rubric loop (pkg/refine),
// plugging this client's own Ask/Eval in as the ask/eval primitives.
func (c *AnthropicClient) Refine(ctx context.Context, req RefineRequest) (refine.Result, error) {
	ask := func(ctx context.Context, messages []rlemodel.Message, model string) (any, string, error) {
		resp, err := c.Ask(ctx, AskRequest{Spec: req.Spec, Messages: messages, Model: model, CheckContext: true})
		if err != nil {
			return nil, "", err
		}
		return resp.Result, resp.Text, nil
	}
	eval := func(ctx context.Context, task, output, model string, criteria []refine.Criterion) (refine.EvalOutcome, error) {
		return c.Eval(ctx, EvalRequest{Task: task, Output: output, Model: model, Criteria: criteria})
	}
	return refine.Run(ctx, ask, eval, refine.Request{
		Task: req.Task, Messages: req.Messages, Model: req.Model,
		Criteria: req.Criteria, Iterations: req.Iterations, Threshold: req.Threshold,
	})
}

func toTokenMessages(msgs []rlemodel.Message) []tokens.Message {
	out := make([]tokens.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokens.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// sdkTransport is the real transport, backed by the official Anthropic SDK.
type sdkTransport struct {
	models *rleconfig.ModelRegistry
}

func (t *sdkTransport) send(ctx context.Context, model, system string, messages []rlemodel.Message, maxTokens int) (string, Usage, error) {
	cfg := t.models.Get(model)
	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		return "", Usage{}, err
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := cfg.ResolveBaseURL(); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)

	if maxTokens <= 0 {
		maxTokens = cfg.DefaultMaxOutputTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(messages),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", Usage{}, classifyTransportError(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Text != "" {
			sb.WriteString(block.Text)
		}
	}
	usage := Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return sb.String(), usage, nil
}

func toAnthropicMessages(messages []rlemodel.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case rlemodel.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// classifyTransportError distinguishes retriable transport/rate-limit
// failures from a hard client error.
func classifyTransportError(err error) error {
	var apiErr *anthropic.Error
	if ok := errorsAs(err, &apiErr); ok {
		if isRetriableStatus(apiErr.StatusCode) {
			return &transientError{statusCode: apiErr.StatusCode, err: err}
		}
		return err
	}
	// Anything that isn't a typed API error (connection drop, timeout) is
	// assumed transient — the retry policy is the safe default there.
	return &transientError{err: err}
}

func errorsAs(err error, target **anthropic.Error) bool {
	ae, ok := err.(*anthropic.Error)
	if ok {
		*target = ae
	}
	return ok
}
