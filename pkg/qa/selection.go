package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/rle/pkg/knowledge"
	"github.com/codeready-toolchain/rle/pkg/modelclient"
	"github.com/codeready-toolchain/rle/pkg/rlemodel"
	"github.com/codeready-toolchain/rle/pkg/store"
)

// selectPassages performs Phase 1 (TOC routing): a single, non-looping
// model ask that returns a CHUNK_SELECTION_SPEC list of passage
// references, which are then resolved against the store's page text.
func selectPassages(ctx context.Context, env *knowledge.Environment, opts Options, buckets []bucket) ([]Passage, error) {
	toc := env.Store().ListTocEntries("")

	model := opts.SelectionModel
	if model == "" {
		model = opts.Model
	}

	resp, err := env.Model().Ask(ctx, modelclient.AskRequest{
		Model:        model,
		Messages:     []rlemodel.Message{{Role: rlemodel.RoleUser, Content: selectionPrompt(toc, buckets)}},
		Spec:         map[string]any{"passages": []any{}},
		CheckContext: true,
	})
	if err != nil {
		return nil, err
	}

	m, ok := resp.Result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("toc routing response was not a JSON object")
	}
	raw, ok := m["passages"].([]any)
	if !ok {
		return nil, fmt.Errorf("toc routing response had no passages list")
	}

	passages := make([]Passage, 0, len(raw))
	for i, p := range raw {
		pm, ok := p.(map[string]any)
		if !ok {
			continue
		}
		docID := asStrField(pm["document_id"])
		page := asIntField(pm["page"])
		passage := Passage{
			Index:               i,
			DocumentID:          docID,
			Page:                page,
			SectionTitle:        asStrField(pm["section_title"]),
			ContentSummary:      asStrField(pm["content_summary"]),
			SuggestedDifficulty: Difficulty(asStrField(pm["suggested_difficulty"])),
			SuggestedCategory:   asStrField(pm["suggested_category"]),
			Content:             resolvePassageContent(env.Store(), docID, page),
		}
		passages = append(passages, passage)
	}
	return passages, nil
}

// resolvePassageContent concatenates every page node's text for
// (docID, page), the same accumulation knowledge.Ingest uses when
// building a page's entity-extraction input.
func resolvePassageContent(st *store.Store, docID string, page int) string {
	p := page
	nodes := st.ListPageNodes(store.PageNodeFilter{DocumentID: docID, PageIndex: &p})
	var sb strings.Builder
	for _, n := range nodes {
		full, ok := st.GetPageNode(n.ID)
		if !ok {
			continue
		}
		if full.Content != "" {
			sb.WriteString(full.Content)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func selectionPrompt(toc []rlemodel.TocEntry, buckets []bucket) string {
	var sb strings.Builder
	sb.WriteString("You are selecting source passages for a question-generation run. ")
	sb.WriteString("Here is the table of contents:\n")
	for _, t := range toc {
		fmt.Fprintf(&sb, "- %s (document %s, level %d)\n", t.Title, t.DocumentID, t.Level)
	}
	sb.WriteString("\nDistributional targets (difficulty/category -> count):\n")
	for _, b := range buckets {
		fmt.Fprintf(&sb, "- %s / %s: %d\n", b.Difficulty, b.Category, b.Count)
	}
	sb.WriteString("\nRespond with JSON: {\"passages\": [{\"document_id\": string, \"page\": int, " +
		"\"section_title\": string, \"content_summary\": string, \"suggested_difficulty\": string, " +
		"\"suggested_category\": string}]}, one entry per passage, covering the distributional targets above.")
	return sb.String()
}

func asStrField(v any) string {
	s, _ := v.(string)
	return s
}

func asIntField(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
