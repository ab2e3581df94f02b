package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/rle/pkg/modelclient"
	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

// dedupe processes candidates in sliding windows of size window, asking
// the model which indices within each window to keep. An empty response
// (no keep_indices, or a parse that yields none) falls back to keeping
// the whole window.
func dedupe(ctx context.Context, model modelclient.ModelClient, candidates []Question, window int, modelName string) ([]Question, []DroppedQuestion, error) {
	var kept []Question
	var dropped []DroppedQuestion

	for start := 0; start < len(candidates); start += window {
		end := start + window
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]

		keepIdx, err := dedupWindowKeep(ctx, model, chunk, modelName)
		if err != nil {
			return nil, nil, err
		}

		keepSet := make(map[int]bool, len(keepIdx))
		for _, i := range keepIdx {
			keepSet[i] = true
		}
		fallbackKeepAll := len(keepIdx) == 0

		for i, q := range chunk {
			if fallbackKeepAll || keepSet[i] {
				kept = append(kept, q)
			} else {
				dropped = append(dropped, DroppedQuestion{Question: q, Reason: "dedup-dropped"})
			}
		}
	}
	return kept, dropped, nil
}

func dedupWindowKeep(ctx context.Context, model modelclient.ModelClient, chunk []Question, modelName string) ([]int, error) {
	resp, err := model.Ask(ctx, modelclient.AskRequest{
		Model:        modelName,
		Messages:     []rlemodel.Message{{Role: rlemodel.RoleUser, Content: dedupPrompt(chunk)}},
		Spec:         map[string]any{"keep_indices": []any{}},
		CheckContext: true,
	})
	if err != nil {
		return nil, err
	}
	m, ok := resp.Result.(map[string]any)
	if !ok {
		return nil, nil
	}
	raw, ok := m["keep_indices"].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		out = append(out, asIntField(v))
	}
	return out, nil
}

func dedupPrompt(chunk []Question) string {
	var sb strings.Builder
	sb.WriteString("Below is a window of candidate questions. Identify near-duplicate or redundant questions " +
		"and return only the indices of the ones to KEEP (drop duplicates, keep the better-phrased one of each " +
		"group). If none are duplicates, return every index.\n\n")
	for i, q := range chunk {
		fmt.Fprintf(&sb, "%d: %s\n", i, q.Text)
	}
	sb.WriteString("\nRespond with JSON: {\"keep_indices\": [int, ...]}.")
	return sb.String()
}
