package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/rle/pkg/knowledge"
	"github.com/codeready-toolchain/rle/pkg/modelclient"
	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

// generateCandidates asks the model for up to k-candidates questions
// grounded in one passage. Generation is a direct model ask (no sandbox
// loop) — a fresh Invocation is still pulled from the shared Sandbox so
// this batch's local bindings are isolated from every other concurrent
// batch, even though the common case never executes sandboxed code.
func generateCandidates(ctx context.Context, env *knowledge.Environment, passage Passage, opts Options) ([]Question, error) {
	_ = env.Sandbox().NewInvocation() // fork: isolates this batch's locals/claims from sibling batches

	resp, err := env.Model().Ask(ctx, modelclient.AskRequest{
		Model:        opts.Model,
		Messages:     []rlemodel.Message{{Role: rlemodel.RoleUser, Content: generationPrompt(passage, opts)}},
		Spec:         map[string]any{"questions": []any{}},
		CheckContext: true,
	})
	if err != nil {
		return nil, err
	}

	m, ok := resp.Result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("generation response for passage %d was not a JSON object", passage.Index)
	}
	raw, ok := m["questions"].([]any)
	if !ok {
		return nil, nil
	}

	out := make([]Question, 0, len(raw))
	for _, q := range raw {
		qm, ok := q.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Question{
			ID:             fmt.Sprintf("p%d-%d", passage.Index, len(out)),
			Text:           asStrField(qm["question"]),
			Answer:         asStrField(qm["answer"]),
			Difficulty:     pickDifficulty(asStrField(qm["difficulty"]), passage.SuggestedDifficulty),
			Category:       pickString(asStrField(qm["category"]), passage.SuggestedCategory),
			SourceDocument: passage.DocumentID,
			SourcePage:     passage.Page,
			SourceSection:  passage.SectionTitle,
			EvidenceSpan:   asStrField(qm["evidence_span"]),
			PassageIndex:   passage.Index,
			State:          "generated",
		})
		if len(out) >= opts.kCandidates() {
			break
		}
	}
	return out, nil
}

func pickDifficulty(generated string, fallback Difficulty) Difficulty {
	if generated != "" {
		return Difficulty(generated)
	}
	return fallback
}

func pickString(generated, fallback string) string {
	if generated != "" {
		return generated
	}
	return fallback
}

func generationPrompt(passage Passage, opts Options) string {
	var sb strings.Builder
	if opts.Persona != "" {
		fmt.Fprintf(&sb, "%s\n\n", opts.Persona)
	}
	sb.WriteString("Generate up to ")
	fmt.Fprintf(&sb, "%d", opts.kCandidates())
	sb.WriteString(" question(s) grounded strictly in the passage below. ")
	sb.WriteString("Each question's evidence_span must be a verbatim substring of the passage. ")
	fmt.Fprintf(&sb, "Target difficulty %q, category %q.\n\n", passage.SuggestedDifficulty, passage.SuggestedCategory)
	if opts.MultiHop {
		sb.WriteString("Where the passage references other sections, prefer questions that require connecting " +
			"this passage with that cross-referenced material (multi-hop).\n\n")
	}
	fmt.Fprintf(&sb, "Passage (document %s, page %d, section %q):\n%s\n\n", passage.DocumentID, passage.Page, passage.SectionTitle, passage.Content)
	sb.WriteString("Respond with JSON: {\"questions\": [{\"question\": string, \"answer\": string, " +
		"\"difficulty\": string, \"category\": string, \"evidence_span\": string}]}.")
	return sb.String()
}
