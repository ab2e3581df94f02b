package qa

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rle/pkg/knowledge"
	"github.com/codeready-toolchain/rle/pkg/modelclient"
	"github.com/codeready-toolchain/rle/pkg/refine"
	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

// fakeModel is a queued-response stand-in for modelclient.ModelClient,
// following the corpus's queued-mock-client pattern already used by
// pkg/iteration and pkg/knowledge's test files.
type fakeModel struct {
	askResponses []modelclient.AskResponse
	askCalls     int
}

func (f *fakeModel) Ask(ctx context.Context, req modelclient.AskRequest) (modelclient.AskResponse, error) {
	i := f.askCalls
	f.askCalls++
	if i >= len(f.askResponses) {
		return modelclient.AskResponse{}, nil
	}
	return f.askResponses[i], nil
}

func (f *fakeModel) Eval(ctx context.Context, req modelclient.EvalRequest) (refine.EvalOutcome, error) {
	return refine.EvalOutcome{OverallScore: 1, Correct: true}, nil
}

func (f *fakeModel) Refine(ctx context.Context, req modelclient.RefineRequest) (refine.Result, error) {
	return refine.Result{Converged: true, FinalScore: 1}, nil
}

func newTestEnvWithPages(t *testing.T, model modelclient.ModelClient) *knowledge.Environment {
	env, err := knowledge.CreateEnv(model, knowledge.EnvConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = knowledge.DisposeEnv(env) })

	doc := rlemodel.Document{
		ID: "doc-1",
		Pages: []rlemodel.Page{
			{Index: 0, Nodes: []rlemodel.PageNode{{ID: "n0", Kind: rlemodel.NodeParagraph, Content: "intro text"}}},
			{Index: 1, Nodes: []rlemodel.PageNode{{ID: "n1", Kind: rlemodel.NodeParagraph, Content: "body text"}}},
		},
		TOC: []rlemodel.TocEntry{{ID: "t1", Title: "Introduction", Level: rlemodel.L1, DocumentID: "doc-1"}},
	}
	_, err = env.Ingest(context.Background(), []rlemodel.Document{doc}, knowledge.IngestOptions{})
	require.NoError(t, err)
	return env
}

func selectionResponse() modelclient.AskResponse {
	return modelclient.AskResponse{Result: map[string]any{"passages": []any{
		map[string]any{"document_id": "doc-1", "page": 0.0, "section_title": "Intro", "content_summary": "intro", "suggested_difficulty": "remember", "suggested_category": "factual"},
		map[string]any{"document_id": "doc-1", "page": 1.0, "section_title": "Body", "content_summary": "body", "suggested_difficulty": "understand", "suggested_category": "inferential"},
	}}}
}

func generationResponse(question string) modelclient.AskResponse {
	return modelclient.AskResponse{Result: map[string]any{"questions": []any{
		map[string]any{"question": question, "answer": "an answer", "difficulty": "remember", "category": "factual", "evidence_span": "ev"},
	}}}
}

func passVerdict() modelclient.AskResponse {
	return modelclient.AskResponse{Result: map[string]any{"verdict": "pass", "revision_note": ""}}
}

func TestGenerate_FullPipelineProducesAssembledQuestions(t *testing.T) {
	model := &fakeModel{askResponses: []modelclient.AskResponse{
		selectionResponse(),                // Phase 1
		generationResponse("Q0?"),          // Phase 2, passage 0
		generationResponse("Q1?"),          // Phase 2, passage 1
		{Result: map[string]any{}},         // Phase 3 dedup: no keep_indices -> keep all
		passVerdict(),                      // Phase 4 verify question 0
		passVerdict(),                      // Phase 4 verify question 1
	}}
	env := newTestEnvWithPages(t, model)
	pipeline := NewPipeline(env, func() time.Time { return time.Unix(0, 0) })

	result, err := pipeline.Generate(context.Background(), Options{Count: 2, Parallelism: 1, Model: "test"})
	require.NoError(t, err)

	require.Len(t, result.Questions, 2)
	assert.Equal(t, 2, result.Stats.FinalCount)
	assert.Equal(t, 2, result.Stats.TotalGenerated)
	assert.Equal(t, 0, result.Stats.DuplicatesRemoved)
	assert.Equal(t, 2, result.Stats.PassedVerification)
	assert.Empty(t, result.DroppedQuestions)
	assert.Equal(t, 0, result.Questions[0].PassageIndex)
	assert.Equal(t, 1, result.Questions[1].PassageIndex)
}

func TestGenerate_DedupDropsFlaggedDuplicate(t *testing.T) {
	model := &fakeModel{askResponses: []modelclient.AskResponse{
		selectionResponse(),
		generationResponse("Q0?"),
		generationResponse("Q1?"),
		{Result: map[string]any{"keep_indices": []any{0.0}}}, // drop index 1
		passVerdict(),
	}}
	env := newTestEnvWithPages(t, model)
	pipeline := NewPipeline(env, nil)

	result, err := pipeline.Generate(context.Background(), Options{Count: 2, Parallelism: 1, Model: "test"})
	require.NoError(t, err)

	require.Len(t, result.Questions, 1)
	require.Len(t, result.DroppedQuestions, 1)
	assert.Equal(t, "dedup-dropped", result.DroppedQuestions[0].Reason)
	assert.Equal(t, 1, result.Stats.DuplicatesRemoved)
}

func TestGenerate_NeedsRevisionThenPassesOnReverify(t *testing.T) {
	model := &fakeModel{askResponses: []modelclient.AskResponse{
		selectionResponse(),
		generationResponse("Q0?"),
		generationResponse("Q1?"),
		{Result: map[string]any{}}, // keep all
		modelclient.AskResponse{Result: map[string]any{"verdict": "needs-revision", "revision_note": "too vague"}},
		passVerdict(),
		modelclient.AskResponse{Result: map[string]any{"question": "Q0 revised?", "answer": "an answer", "evidence_span": "ev"}},
		passVerdict(),
	}}
	env := newTestEnvWithPages(t, model)
	pipeline := NewPipeline(env, nil)

	result, err := pipeline.Generate(context.Background(), Options{Count: 2, Parallelism: 1, Model: "test"})
	require.NoError(t, err)

	require.Len(t, result.Questions, 2)
	var revised *Question
	for i := range result.Questions {
		if result.Questions[i].State == "revised-pass" {
			revised = &result.Questions[i]
		}
	}
	require.NotNil(t, revised)
	assert.Equal(t, "Q0 revised?", revised.Text)
}

func TestComputeDistribution_SplitsRemainderAcrossFirstBuckets(t *testing.T) {
	buckets := computeDistribution(5, []Difficulty{DifficultyRemember, DifficultyApply}, []string{"factual"})
	require.Len(t, buckets, 2)
	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	assert.Equal(t, 5, total)
	assert.Equal(t, 3, buckets[0].Count)
	assert.Equal(t, 2, buckets[1].Count)
}
