// Package qa implements the multi-phase question-generation pipeline:
// TOC routing picks passages, a bounded worker pool generates candidate
// questions per passage, a sliding window removes duplicates, a model
// verdict pass verifies each survivor, one revision round gives
// near-misses a second chance, and assembly produces the final
// question set plus generation statistics.
package qa

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/rle/pkg/knowledge"
)

// Difficulty is a Bloom's-taxonomy-style generation target.
type Difficulty string

const (
	DifficultyRemember   Difficulty = "remember"
	DifficultyUnderstand Difficulty = "understand"
	DifficultyApply      Difficulty = "apply"
	DifficultyAnalyze    Difficulty = "analyze"
	DifficultyEvaluate   Difficulty = "evaluate"
	DifficultyCreate     Difficulty = "create"
)

var allDifficulties = []Difficulty{
	DifficultyRemember, DifficultyUnderstand, DifficultyApply,
	DifficultyAnalyze, DifficultyEvaluate, DifficultyCreate,
}

// Default category set used when Options.Categories is empty. The
// category axis is open-ended (spec leaves it as "factual, inferential,
// comparative, ...") so it is a plain string everywhere else.
var defaultCategories = []string{"factual", "inferential", "comparative"}

// Options configures one Generate call.
type Options struct {
	Count                  int
	Difficulty             []Difficulty
	Categories             []string
	Parallelism            int // default 3
	KCandidates            int // default 1
	MultiHop               bool
	Persona                string
	DedupWindow            int // default 20
	SelectionModel         string
	Model                  string
	RevisionReVerifyRounds int // default 1
	Deadline               time.Time

	// OnProgress, when set, is invoked as each phase starts and once more
	// after assembly; it is not invoked per Phase 2 batch (per-job
	// activity is visible through PoolHealth). It mirrors the heartbeat
	// idiom a caller would otherwise get by polling a worker pool's health.
	OnProgress func(phase string, detail map[string]any)
}

func (o Options) parallelism() int {
	if o.Parallelism > 0 {
		return o.Parallelism
	}
	return 3
}

func (o Options) kCandidates() int {
	if o.KCandidates > 0 {
		return o.KCandidates
	}
	return 1
}

func (o Options) dedupWindow() int {
	if o.DedupWindow > 0 {
		return o.DedupWindow
	}
	return 20
}

func (o Options) revisionReVerifyRounds() int {
	if o.RevisionReVerifyRounds > 0 {
		return o.RevisionReVerifyRounds
	}
	return 1
}

func (o Options) difficulties() []Difficulty {
	if len(o.Difficulty) > 0 {
		return o.Difficulty
	}
	return allDifficulties
}

func (o Options) categories() []string {
	if len(o.Categories) > 0 {
		return o.Categories
	}
	return defaultCategories
}

func (o Options) notify(phase string, detail map[string]any) {
	if o.OnProgress != nil {
		o.OnProgress(phase, detail)
	}
}

// Passage is a selected slice of a document pointed to by TOC routing:
// document id, page, section title, content summary, and target
// difficulty/category, plus the resolved page text used for generation
// and evidence-span verification.
type Passage struct {
	Index               int
	DocumentID          string
	Page                int
	SectionTitle        string
	ContentSummary      string
	SuggestedDifficulty Difficulty
	SuggestedCategory   string
	Content             string
}

// Question is one accepted, verified question.
type Question struct {
	ID             string
	Text           string
	Answer         string
	Difficulty     Difficulty
	Category       string
	SourceDocument string
	SourcePage     int
	SourceSection  string
	EvidenceSpan   string
	PassageIndex   int
	State          string // verified-pass | revised-pass
}

// DroppedQuestion records a question that did not survive the pipeline,
// and why.
type DroppedQuestion struct {
	Question Question
	Reason   string // dedup-dropped | verified-fail | revised-fail
}

// Stats summarizes one Generate run.
type Stats struct {
	TotalGenerated      int
	PassedVerification  int
	DuplicatesRemoved   int
	FinalCount          int
	ByDifficulty        map[Difficulty]int
	ByCategory          map[string]int
	LastActivity        time.Time
}

// Result is the assembled output of Generate.
type Result struct {
	Questions        []Question
	DroppedQuestions []DroppedQuestion
	Stats            Stats
}

// Pipeline drives generate-qa against one Environment. It owns a
// reusable bounded worker pool for Phase 2 so a caller can poll
// PoolHealth while a long run is in flight.
type Pipeline struct {
	env   *knowledge.Environment
	pool  *WorkerPool
	clock func() time.Time
}

// NewPipeline constructs a Pipeline bound to env. clock defaults to
// time.Now; a caller wanting deterministic Stats.LastActivity in tests
// can override it.
func NewPipeline(env *knowledge.Environment, clock func() time.Time) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{env: env, clock: clock}
}

// PoolHealth reports the live state of the Phase 2 worker pool, or a
// zero value before the first Generate call.
func (p *Pipeline) PoolHealth() PoolHealth {
	if p.pool == nil {
		return PoolHealth{}
	}
	return p.pool.Health()
}

// Generate runs the full six-phase pipeline: TOC routing, parallel
// generation, sliding-window dedup, verification, revision, assembly.
func (p *Pipeline) Generate(ctx context.Context, opts Options) (Result, error) {
	stats := Stats{ByDifficulty: map[Difficulty]int{}, ByCategory: map[string]int{}}

	if opts.Count <= 0 {
		return Result{}, fmt.Errorf("qa: count must be positive")
	}

	buckets := computeDistribution(opts.Count, opts.difficulties(), opts.categories())

	opts.notify("selection", map[string]any{"buckets": len(buckets)})
	passages, err := selectPassages(ctx, p.env, opts, buckets)
	if err != nil {
		return Result{}, fmt.Errorf("toc routing: %w", err)
	}
	stats.LastActivity = p.clock()

	p.pool = NewWorkerPool(opts.parallelism())
	opts.notify("generation", map[string]any{"passages": len(passages)})
	generated, err := p.runGeneration(ctx, passages, opts)
	if err != nil {
		return Result{}, fmt.Errorf("generation: %w", err)
	}
	stats.TotalGenerated = len(generated)
	stats.LastActivity = p.clock()

	opts.notify("dedup", map[string]any{"candidates": len(generated)})
	kept, dropped, err := dedupe(ctx, p.env.Model(), generated, opts.dedupWindow(), opts.Model)
	if err != nil {
		return Result{}, fmt.Errorf("dedup: %w", err)
	}
	stats.DuplicatesRemoved = len(dropped)
	stats.LastActivity = p.clock()

	opts.notify("verification", map[string]any{"candidates": len(kept)})
	passed, failed, needsRevision, err := verifyAll(ctx, p.env.Model(), kept, opts.Model)
	if err != nil {
		return Result{}, fmt.Errorf("verification: %w", err)
	}
	dropped = append(dropped, failed...)
	stats.PassedVerification = len(passed)
	stats.LastActivity = p.clock()

	opts.notify("revision", map[string]any{"needs_revision": len(needsRevision)})
	revisedPassed, revisedFailed, err := reviseAll(ctx, p.env.Model(), needsRevision, opts)
	if err != nil {
		return Result{}, fmt.Errorf("revision: %w", err)
	}
	dropped = append(dropped, revisedFailed...)
	passed = append(passed, revisedPassed...)
	stats.LastActivity = p.clock()

	result := assemble(passed, dropped, stats)
	opts.notify("assembly", map[string]any{"final_count": result.Stats.FinalCount})
	return result, nil
}

// runGeneration fans passages out across the Phase 2 worker pool.
func (p *Pipeline) runGeneration(ctx context.Context, passages []Passage, opts Options) ([]Question, error) {
	jobs := make([]Job, len(passages))
	for i, passage := range passages {
		jobs[i] = Job{Index: i, Passage: passage}
	}

	handler := func(ctx context.Context, job Job) BatchResult {
		questions, err := generateCandidates(ctx, p.env, job.Passage, opts)
		return BatchResult{Index: job.Index, Questions: questions, Err: err}
	}

	results, err := p.pool.Run(ctx, jobs, handler)
	if err != nil {
		return nil, err
	}

	var all []Question
	for _, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
		all = append(all, r.Questions...)
	}
	return all, nil
}
