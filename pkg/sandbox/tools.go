package sandbox

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/rle/pkg/rlemodel"
	"github.com/codeready-toolchain/rle/pkg/store"
)

// localsSummaryThreshold is the collection size above which list-locals
// summarizes a value instead of inlining it.
const localsSummaryThreshold = 10

// RLMQueryFunc runs a depth-guarded sub-query, supplied by the caller
// that owns the IterationLoop (the sandbox itself never drives a model
// call).
type RLMQueryFunc func(ctx context.Context, query string) (any, error)

// Sandbox holds everything shared, read-only, across every invocation: the
// store handle, the allow-listed operation table, the recursion guard,
// and an optional sub-query hook. Per-call mutable state lives entirely
// in Invocation.
type Sandbox struct {
	store    *store.Store
	funcs    map[string]builtinFunc
	maxDepth int32
	depth    *int32
	rlmQuery RLMQueryFunc
	clockFn  func() time.Time
}

// Options configures a new Sandbox.
type Options struct {
	MaxRecursionDepth int
	RLMQuery          RLMQueryFunc
	Clock             func() time.Time
}

// New builds a Sandbox bound to st, registering every allow-listed
// operation and store-backed tool binding.
func New(st *store.Store, opts Options) *Sandbox {
	maxDepth := opts.MaxRecursionDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	var depth int32
	s := &Sandbox{
		store:    st,
		funcs:    make(map[string]builtinFunc),
		maxDepth: int32(maxDepth),
		depth:    &depth,
		rlmQuery: opts.RLMQuery,
		clockFn:  clock,
	}
	registerCoreBuiltins(s.funcs)
	s.registerToolBindings()
	return s
}

func (s *Sandbox) lookupFunc(name string) (builtinFunc, bool) {
	fn, ok := s.funcs[name]
	return fn, ok
}

// ToolNames lists every allow-listed operation name, sorted, for callers
// that enumerate available tools in a system prompt.
func (s *Sandbox) ToolNames() []string {
	names := make([]string, 0, len(s.funcs))
	for name := range s.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Sandbox) clock() time.Time { return s.clockFn() }

// Invocation is the per-call mutable state: a fresh locals binding and a
// fresh claims accumulator, never shared across concurrent calls.
type Invocation struct {
	sandbox *Sandbox
	locals  map[string]any
	claims  []rlemodel.Claim
	stdout  []string
}

// NewInvocation creates a fresh, isolated call context bound to s.
func (s *Sandbox) NewInvocation() *Invocation {
	return &Invocation{sandbox: s, locals: make(map[string]any)}
}

// Claims returns the claims accumulated by CITE/CITE-UNVERIFIED so far.
func (inv *Invocation) Claims() []rlemodel.Claim {
	out := make([]rlemodel.Claim, len(inv.claims))
	copy(out, inv.claims)
	return out
}

// ExecResult is the outcome of one Execute call. Errors are captured as
// data; no exception escapes the sandbox.
type ExecResult struct {
	Result  any
	Stdout  string
	Error   string
	Timeout bool
}

// Execute parses src and evaluates every top-level form in order,
// stopping early if a form yields a FINAL sentinel or the context
// deadline elapses. The result is the value of the last form evaluated.
func (inv *Invocation) Execute(ctx context.Context, src string) ExecResult {
	forms, err := ParseAll(src)
	if err != nil {
		return ExecResult{Error: err.Error()}
	}

	var last any
	for _, form := range forms {
		select {
		case <-ctx.Done():
			return ExecResult{Result: last, Stdout: inv.joinStdout(), Timeout: true}
		default:
		}

		v, err := eval(inv, form)
		if err != nil {
			return ExecResult{Result: last, Stdout: inv.joinStdout(), Error: err.Error()}
		}
		last = v
		if _, ok := IsFinal(v); ok {
			break
		}
	}
	return ExecResult{Result: last, Stdout: inv.joinStdout()}
}

func (inv *Invocation) joinStdout() string {
	out := ""
	for i, s := range inv.stdout {
		if i > 0 {
			out += "\n"
		}
		out += s
	}
	return out
}

// registerToolBindings wires every tool call the allow-list exposes for
// locals introspection, entity/TOC/page lookups, history, learnings,
// examples, citation, and (optionally) sub-queries.
func (s *Sandbox) registerToolBindings() {
	s.funcs["print"] = func(inv *Invocation, args []any) (any, error) {
		for _, a := range args {
			inv.stdout = append(inv.stdout, fmt.Sprint(a))
		}
		return nil, nil
	}

	s.funcs["list-locals"] = func(inv *Invocation, args []any) (any, error) {
		out := make(map[string]any, len(inv.locals))
		for k, v := range inv.locals {
			out[k] = summarizeLocal(v)
		}
		return out, nil
	}
	s.funcs["get-local"] = func(inv *Invocation, args []any) (any, error) {
		name, err := oneString(args, "get-local")
		if err != nil {
			return nil, err
		}
		v, ok := inv.locals[name]
		if !ok {
			return nil, &EvalError{Msg: "no such local: " + name}
		}
		return v, nil
	}

	s.funcs["search-entities"] = func(inv *Invocation, args []any) (any, error) {
		query, _ := stringArgAt(args, 0)
		return entitiesToAny(s.store.SearchEntities(query, store.EntityFilter{})), nil
	}
	s.funcs["get-entity"] = func(inv *Invocation, args []any) (any, error) {
		id, err := oneString(args, "get-entity")
		if err != nil {
			return nil, err
		}
		e, ok := s.store.GetEntity(id)
		if !ok {
			return nil, nil
		}
		return entityToAny(e), nil
	}
	s.funcs["list-entities"] = func(inv *Invocation, args []any) (any, error) {
		return entitiesToAny(s.store.ListEntities(store.EntityFilter{})), nil
	}
	s.funcs["list-relationships"] = func(inv *Invocation, args []any) (any, error) {
		entityID, _ := stringArgAt(args, 0)
		return relationshipsToAny(s.store.ListRelationships(entityID)), nil
	}
	s.funcs["entity-stats"] = func(inv *Invocation, args []any) (any, error) {
		stats := s.store.EntityStats()
		return map[string]any{
			"total-entities":      float64(stats.TotalEntities),
			"total-relationships": float64(stats.TotalRelationships),
		}, nil
	}

	s.funcs["list-documents"] = func(inv *Invocation, args []any) (any, error) {
		docs := s.store.ListDocuments()
		out := make([]any, len(docs))
		for i, d := range docs {
			out[i] = d
		}
		return out, nil
	}
	s.funcs["list-toc-entries"] = func(inv *Invocation, args []any) (any, error) {
		docID, _ := stringArgAt(args, 0)
		return tocEntriesToAny(s.store.ListTocEntries(docID)), nil
	}
	s.funcs["search-toc-entries"] = func(inv *Invocation, args []any) (any, error) {
		query, _ := stringArgAt(args, 0)
		docID, _ := stringArgAt(args, 1)
		return tocEntriesToAny(s.store.SearchTocEntries(query, docID)), nil
	}
	s.funcs["get-toc-entry"] = func(inv *Invocation, args []any) (any, error) {
		id, err := oneString(args, "get-toc-entry")
		if err != nil {
			return nil, err
		}
		e, ok := s.store.GetTocEntry(id)
		if !ok {
			return nil, nil
		}
		return tocEntryToAny(e), nil
	}
	s.funcs["list-page-nodes"] = func(inv *Invocation, args []any) (any, error) {
		docID, _ := stringArgAt(args, 0)
		return pageNodesToAny(s.store.ListPageNodes(store.PageNodeFilter{DocumentID: docID})), nil
	}
	s.funcs["search-page-nodes"] = func(inv *Invocation, args []any) (any, error) {
		query, _ := stringArgAt(args, 0)
		docID, _ := stringArgAt(args, 1)
		return pageNodesToAny(s.store.SearchPageNodes(query, store.PageNodeFilter{DocumentID: docID})), nil
	}
	s.funcs["get-page-node"] = func(inv *Invocation, args []any) (any, error) {
		id, err := oneString(args, "get-page-node")
		if err != nil {
			return nil, err
		}
		n, ok := s.store.GetPageNode(id)
		if !ok {
			return nil, nil
		}
		return pageNodeToAny(n), nil
	}

	s.funcs["get-history"] = func(inv *Invocation, args []any) (any, error) {
		n, err := intArgAt(args, 0)
		if err != nil {
			return nil, err
		}
		return messagesToAny(s.store.GetHistory(n)), nil
	}
	s.funcs["search-history"] = func(inv *Invocation, args []any) (any, error) {
		query, _ := stringArgAt(args, 0)
		n, err := intArgAt(args, 1)
		if err != nil {
			n = 0
		}
		all := s.store.GetHistory(n)
		out := make([]rlemodel.Message, 0, len(all))
		for _, m := range all {
			if query == "" || containsFold(m.Content, query) {
				out = append(out, m)
			}
		}
		return messagesToAny(out), nil
	}
	s.funcs["history-stats"] = func(inv *Invocation, args []any) (any, error) {
		stats := s.store.HistoryStats()
		return map[string]any{"total": float64(stats.Total), "total-tokens": float64(stats.TotalTokens)}, nil
	}

	s.funcs["store-learning"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) < 1 || len(args) > 2 {
			return nil, &EvalError{Msg: "store-learning requires (store-learning insight [context])"}
		}
		insight, ok := args[0].(string)
		if !ok {
			return nil, &EvalError{Msg: "store-learning requires a string insight"}
		}
		context, _ := stringArgAt(args, 1)
		l := s.store.AppendLearning(rlemodel.Learning{Insight: insight, Context: context, CreatedAt: s.clock()})
		return learningToAny(l), nil
	}
	s.funcs["search-learnings"] = func(inv *Invocation, args []any) (any, error) {
		query, _ := stringArgAt(args, 0)
		return learningsToAny(s.store.SearchLearnings(query)), nil
	}
	s.funcs["vote-learning"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) != 2 {
			return nil, &EvalError{Msg: "vote-learning requires (vote-learning id vote)"}
		}
		id, ok := args[0].(string)
		voteStr, ok2 := args[1].(string)
		if !ok || !ok2 {
			return nil, &EvalError{Msg: "vote-learning requires string arguments"}
		}
		l, found := s.store.VoteOnLearning(id, store.Vote(voteStr))
		if !found {
			return nil, nil
		}
		return learningToAny(l), nil
	}
	s.funcs["learning-stats"] = func(inv *Invocation, args []any) (any, error) {
		stats := s.store.LearningStats()
		return map[string]any{
			"total":   float64(stats.Total),
			"decayed": float64(stats.Decayed),
		}, nil
	}

	s.funcs["search-examples"] = func(inv *Invocation, args []any) (any, error) {
		query, _ := stringArgAt(args, 0)
		examples := s.store.SearchExamples(query)
		out := make([]any, len(examples))
		for i, e := range examples {
			out[i] = map[string]any{"query": e.Query, "answer": e.Answer, "score": e.Score, "good": e.Good}
		}
		return out, nil
	}

	s.funcs["CITE"] = func(inv *Invocation, args []any) (any, error) {
		if len(args) < 4 {
			return nil, &EvalError{Msg: "CITE requires (CITE text doc page section quote [confidence])"}
		}
		text, _ := args[0].(string)
		doc, _ := args[1].(string)
		page, err := asNumber(args[2])
		if err != nil {
			return nil, err
		}
		section, _ := args[3].(string)
		quote := ""
		if len(args) > 4 {
			quote, _ = args[4].(string)
		}
		confidence := 0.9
		if len(args) > 5 {
			if c, err := asNumber(args[5]); err == nil {
				confidence = c
			}
		}
		claim := rlemodel.Claim{
			Text: text, DocumentID: doc, Page: int(page), Section: section,
			Quote: quote, Confidence: confidence, Verified: true, CreatedAt: s.clock(),
		}
		inv.claims = append(inv.claims, claim)
		return map[string]any{"cited": true}, nil
	}
	s.funcs["CITE-UNVERIFIED"] = func(inv *Invocation, args []any) (any, error) {
		text, err := oneString(args, "CITE-UNVERIFIED")
		if err != nil {
			return nil, err
		}
		claim := rlemodel.Claim{Text: text, Verified: false, Confidence: 0.5, CreatedAt: s.clock()}
		inv.claims = append(inv.claims, claim)
		return map[string]any{"cited": true, "verified": false}, nil
	}
	s.funcs["list-claims"] = func(inv *Invocation, args []any) (any, error) {
		out := make([]any, len(inv.claims))
		for i, c := range inv.claims {
			out[i] = claimToAny(c)
		}
		return out, nil
	}

	s.funcs["FINAL"] = func(inv *Invocation, args []any) (any, error) {
		var answer any
		if len(args) == 1 {
			answer = args[0]
		} else if len(args) > 1 {
			answer = args
		}
		return finalSentinel{Answer: answer}, nil
	}

	s.funcs["rlm-query"] = func(inv *Invocation, args []any) (any, error) {
		if s.rlmQuery == nil {
			return nil, &EvalError{Msg: "rlm-query is not configured for this environment"}
		}
		query, err := oneString(args, "rlm-query")
		if err != nil {
			return nil, err
		}
		if atomic.AddInt32(s.depth, 1) > s.maxDepth {
			atomic.AddInt32(s.depth, -1)
			return map[string]any{"error": "max recursion depth"}, nil
		}
		defer atomic.AddInt32(s.depth, -1)
		return s.rlmQuery(context.Background(), query)
	}
}

func summarizeLocal(v any) any {
	if coll, ok := v.([]any); ok && len(coll) > localsSummaryThreshold {
		return map[string]any{"summary": true, "count": float64(len(coll))}
	}
	return v
}

func stringArgAt(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func intArgAt(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, nil
	}
	n, err := asNumber(args[i])
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
