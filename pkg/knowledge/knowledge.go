// Package knowledge implements the top-level Environment surface:
// create/dispose, document ingestion (with optional entity/relationship
// extraction and vision re-scan of image-only nodes), and query — the
// orchestration layer that wires a KnowledgeStore, a ModelClient, and a
// Sandbox together into one handle.
package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/rle/pkg/guard"
	"github.com/codeready-toolchain/rle/pkg/iteration"
	"github.com/codeready-toolchain/rle/pkg/modelclient"
	"github.com/codeready-toolchain/rle/pkg/refine"
	"github.com/codeready-toolchain/rle/pkg/rleconfig"
	"github.com/codeready-toolchain/rle/pkg/rlemodel"
	"github.com/codeready-toolchain/rle/pkg/sandbox"
	"github.com/codeready-toolchain/rle/pkg/store"
)

const defaultMaxVisionRescanNodes = 20
const defaultSubQueryIterations = 4

// EnvConfig configures a new Environment.
type EnvConfig struct {
	// StorePath, when set, opens a caller-owned store at that path
	// (store.WrapExternal); empty uses a disposable temp-directory store.
	StorePath            string
	Models               *rleconfig.ModelRegistry
	Retry                rleconfig.RetryConfig
	MaxRecursionDepth    int
	MaxVisionRescanNodes int
	Vision               guard.VisionBackend
	Clock                func() time.Time
}

// Environment is the runtime handle: it owns a KnowledgeStore exclusively,
// holds a shared reference to a ModelClient, a per-environment recursion
// depth counter (via its Sandbox), and a per-call Sandbox invocation
// factory.
type Environment struct {
	store   *store.Store
	model   modelclient.ModelClient
	sandbox *sandbox.Sandbox
	cfg     EnvConfig
}

// CreateEnv opens an Environment. model is shared — CreateEnv never closes
// it; DisposeEnv only flushes and (for an owned store) removes the store's
// temporary files.
func CreateEnv(model modelclient.ModelClient, cfg EnvConfig) (*Environment, error) {
	var st *store.Store
	var err error
	if cfg.StorePath == "" {
		st, err = store.CreateDisposable()
	} else {
		st, err = store.WrapExternal(cfg.StorePath)
	}
	if err != nil {
		return nil, err
	}

	env := &Environment{store: st, model: model, cfg: cfg}
	env.sandbox = sandbox.New(st, sandbox.Options{
		MaxRecursionDepth: cfg.MaxRecursionDepth,
		Clock:             cfg.Clock,
		RLMQuery:          env.subQuery,
	})
	return env, nil
}

// DisposeEnv flushes outstanding writes and, for a disposable store,
// removes its temporary files. Owned collaborators only — the shared
// ModelClient is left running.
func DisposeEnv(env *Environment) error {
	return env.store.Dispose()
}

// subQuery backs the sandbox's rlm-query binding: a bounded, non-verifying,
// non-refining, non-learning recursive call into this same Environment.
func (env *Environment) subQuery(ctx context.Context, query string) (any, error) {
	res, err := env.Query(ctx, query, QueryOptions{MaxIterations: defaultSubQueryIterations})
	if err != nil {
		return nil, err
	}
	return res.Answer, nil
}

// QueryOptions mirrors iteration.Options at the Environment boundary.
type QueryOptions struct {
	Context         string
	OutputSpec      map[string]any
	MaxIterations   int
	Deadline        time.Time
	Refine          bool
	Verify          bool
	Learn           bool
	RefineCriteria  []refine.Criterion
	RefineThreshold float64
	Model           string
}

// QueryResult is the backwards-compatible query shape: answer, eval
// score, refinement count, and iteration count are always present;
// verified-claims is populated only when QueryOptions.Verify is set.
type QueryResult struct {
	Answer          any
	Status          string
	Iterations      int
	EvalScore       *refine.EvalOutcome
	RefinementCount int
	VerifiedClaims  []rlemodel.Claim
}

// Query runs the IterationLoop for q against this Environment's shared
// Sandbox and ModelClient.
func (env *Environment) Query(ctx context.Context, q string, opts QueryOptions) (QueryResult, error) {
	res, err := iteration.Run(ctx, iteration.Deps{Model: env.model, Sandbox: env.sandbox}, q, iteration.Options{
		Context:         opts.Context,
		OutputSpec:      opts.OutputSpec,
		MaxIterations:   opts.MaxIterations,
		Deadline:        opts.Deadline,
		Refine:          opts.Refine,
		Verify:          opts.Verify,
		Learn:           opts.Learn,
		RefineCriteria:  opts.RefineCriteria,
		RefineThreshold: opts.RefineThreshold,
		Model:           opts.Model,
	})
	if err != nil {
		return QueryResult{}, err
	}
	out := QueryResult{
		Answer:          res.Answer,
		Status:          res.Status,
		Iterations:      res.Iterations,
		EvalScore:       res.EvalScore,
		RefinementCount: res.RefinementCount,
	}
	if opts.Verify {
		out.VerifiedClaims = res.VerifiedClaims
	}
	return out, nil
}

// IngestOptions controls per-call ingestion behavior.
type IngestOptions struct {
	ExtractEntities      bool
	Model                string
	MaxVisionRescanNodes int // overrides EnvConfig.MaxVisionRescanNodes when non-zero
}

// IngestResult reports one document's ingestion outcome.
type IngestResult struct {
	DocumentID         string
	NodesStored        int
	TocEntriesStored   int
	EntitiesExtracted  int
	VisualNodesScanned int
	ExtractionErrors   []string
}

// Ingest stores docs into the Environment's KnowledgeStore, optionally
// rescanning image-only nodes through the configured vision backend and
// extracting entities/relationships from page text. Per-page extraction
// failures are counted in ExtractionErrors, never propagated. The returned
// error is always nil: store appends are in-memory and do not fail.
func (env *Environment) Ingest(ctx context.Context, docs []rlemodel.Document, opts IngestOptions) ([]IngestResult, error) {
	results := make([]IngestResult, 0, len(docs))
	for _, doc := range docs {
		result := IngestResult{DocumentID: doc.ID}

		var entityDrafts []entityDraft
		var relDrafts []relationshipDraft
		visionCap := env.cfg.MaxVisionRescanNodes
		if opts.MaxVisionRescanNodes > 0 {
			visionCap = opts.MaxVisionRescanNodes
		}
		if visionCap <= 0 {
			visionCap = defaultMaxVisionRescanNodes
		}

		for _, page := range doc.Pages {
			var pageText string
			for i := range page.Nodes {
				node := page.Nodes[i]
				node.DocumentID = doc.ID
				node.PageIndex = page.Index

				if node.Kind == rlemodel.NodeImage && len(node.ImageBytes) > 0 &&
					node.Description == "" && env.cfg.Vision != nil && result.VisualNodesScanned < visionCap {
					desc, err := env.cfg.Vision.Describe(node.ImageBytes)
					if err != nil {
						result.ExtractionErrors = append(result.ExtractionErrors,
							fmt.Sprintf("page %d: vision rescan: %v", page.Index, err))
					} else {
						node.Description = desc
					}
					result.VisualNodesScanned++
				}

				env.store.AppendPageNode(node)
				result.NodesStored++

				if node.Content != "" {
					pageText += node.Content + "\n"
				}
			}

			if opts.ExtractEntities && pageText != "" {
				entities, rels, err := env.extractEntities(ctx, page.Index, pageText, opts.Model)
				if err != nil {
					result.ExtractionErrors = append(result.ExtractionErrors,
						fmt.Sprintf("page %d: entity extraction: %v", page.Index, err))
					continue
				}
				entityDrafts = append(entityDrafts, entities...)
				relDrafts = append(relDrafts, rels...)
			}
		}

		for _, toc := range doc.TOC {
			toc.DocumentID = doc.ID
			env.store.AppendTocEntry(toc)
			result.TocEntriesStored++
		}

		if len(entityDrafts) > 0 {
			result.EntitiesExtracted = env.insertEntitiesAndRelationships(doc.ID, entityDrafts, relDrafts)
		}

		results = append(results, result)
	}
	return results, nil
}

type entityDraft struct {
	Name        string
	Type        string
	Description string
	Page        int
}

type relationshipDraft struct {
	Type        string
	SourceName  string
	TargetName  string
	Description string
}

// extractEntities asks the model to name the entities and relationships
// present in one page's text.
func (env *Environment) extractEntities(ctx context.Context, page int, text, model string) ([]entityDraft, []relationshipDraft, error) {
	resp, err := env.model.Ask(ctx, modelclient.AskRequest{
		Model: model,
		Messages: []rlemodel.Message{
			{Role: rlemodel.RoleUser, Content: "Identify named entities (parties, organizations, people, obligations, clauses) and relationships between them in the following text. " +
				"Respond with JSON: {\"entities\": [{\"name\": string, \"type\": string, \"description\": string}], " +
				"\"relationships\": [{\"type\": string, \"source\": string, \"target\": string, \"description\": string}]}.\n\n" + text},
		},
		Spec:         map[string]any{"entities": []any{}, "relationships": []any{}},
		CheckContext: true,
	})
	if err != nil {
		return nil, nil, err
	}
	m, ok := resp.Result.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("extraction response was not a JSON object")
	}

	var entities []entityDraft
	if raw, ok := m["entities"].([]any); ok {
		for _, e := range raw {
			em, ok := e.(map[string]any)
			if !ok {
				continue
			}
			entities = append(entities, entityDraft{
				Name:        asStr(em["name"]),
				Type:        asStr(em["type"]),
				Description: asStr(em["description"]),
				Page:        page,
			})
		}
	}

	var rels []relationshipDraft
	if raw, ok := m["relationships"].([]any); ok {
		for _, r := range raw {
			rm, ok := r.(map[string]any)
			if !ok {
				continue
			}
			rels = append(rels, relationshipDraft{
				Type:        asStr(rm["type"]),
				SourceName:  asStr(rm["source"]),
				TargetName:  asStr(rm["target"]),
				Description: asStr(rm["description"]),
			})
		}
	}
	return entities, rels, nil
}

// insertEntitiesAndRelationships performs the two-phase insert: entities
// first (producing a name→id map), then relationships with resolved ids.
// Relationships whose endpoints don't resolve are dropped.
func (env *Environment) insertEntitiesAndRelationships(docID string, entities []entityDraft, rels []relationshipDraft) int {
	nameToID := make(map[string]string, len(entities))
	now := time.Now
	if env.cfg.Clock != nil {
		now = env.cfg.Clock
	}
	for _, e := range entities {
		if e.Name == "" {
			continue
		}
		page := e.Page
		stored := env.store.AppendEntity(rlemodel.Entity{
			Name:        e.Name,
			Type:        rlemodel.EntityType(e.Type),
			Description: e.Description,
			DocumentID:  docID,
			Page:        &page,
			CreatedAt:   now(),
		})
		nameToID[e.Name] = stored.ID
	}
	for _, r := range rels {
		sourceID, sourceOK := nameToID[r.SourceName]
		targetID, targetOK := nameToID[r.TargetName]
		if !sourceOK || !targetOK {
			continue
		}
		env.store.AppendRelationship(rlemodel.Relationship{
			Type:           r.Type,
			SourceEntityID: sourceID,
			TargetEntityID: targetID,
			Description:    r.Description,
			DocumentID:     docID,
			CreatedAt:      now(),
		})
	}
	return len(nameToID)
}

func asStr(v any) string {
	s, _ := v.(string)
	return s
}

// Store exposes the Environment's KnowledgeStore to collaborators built on
// top of it (the QAPipeline) that need direct read access beyond Query/
// Ingest. The Environment remains the sole owner; callers must not Dispose
// it.
func (env *Environment) Store() *store.Store { return env.store }

// Model exposes the Environment's shared ModelClient.
func (env *Environment) Model() modelclient.ModelClient { return env.model }

// Sandbox exposes the Environment's Sandbox so a caller can fork a fresh
// Invocation (shared store/config, exclusive locals) the way a parallel
// QAPipeline batch does.
func (env *Environment) Sandbox() *sandbox.Sandbox { return env.sandbox }
