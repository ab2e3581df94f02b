package sandbox

import (
	"strings"

	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

// The allow-listed language only knows numbers, strings, bools, nil,
// slices ([]any) and maps (map[string]any). Everything the store-backed
// tool bindings return is converted to that shape here, once, rather
// than scattering ad-hoc map literals through tools.go.

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func entityToAny(e rlemodel.Entity) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"name":        e.Name,
		"type":        string(e.Type),
		"description": e.Description,
		"document-id": e.DocumentID,
	}
}

func entitiesToAny(entities []rlemodel.Entity) []any {
	out := make([]any, len(entities))
	for i, e := range entities {
		out[i] = entityToAny(e)
	}
	return out
}

func relationshipToAny(r rlemodel.Relationship) map[string]any {
	return map[string]any{
		"id":               r.ID,
		"type":             r.Type,
		"source-entity-id": r.SourceEntityID,
		"target-entity-id": r.TargetEntityID,
		"description":      r.Description,
		"document-id":      r.DocumentID,
	}
}

func relationshipsToAny(rels []rlemodel.Relationship) []any {
	out := make([]any, len(rels))
	for i, r := range rels {
		out[i] = relationshipToAny(r)
	}
	return out
}

func tocEntryToAny(e rlemodel.TocEntry) map[string]any {
	out := map[string]any{
		"id":          e.ID,
		"title":       e.Title,
		"description": e.Description,
		"level":       float64(e.Level),
		"document-id": e.DocumentID,
	}
	if e.TargetPage != nil {
		out["target-page"] = float64(*e.TargetPage)
	}
	return out
}

func tocEntriesToAny(entries []rlemodel.TocEntry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = tocEntryToAny(e)
	}
	return out
}

func pageNodeToAny(n rlemodel.PageNode) map[string]any {
	return map[string]any{
		"id":          n.ID,
		"kind":        string(n.Kind),
		"content":     n.Content,
		"description": n.Description,
		"caption":     n.Caption,
		"document-id": n.DocumentID,
		"page-index":  float64(n.PageIndex),
	}
}

func pageNodesToAny(nodes []rlemodel.PageNode) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = pageNodeToAny(n)
	}
	return out
}

func messageToAny(m rlemodel.Message) map[string]any {
	return map[string]any{
		"id":      m.ID,
		"role":    string(m.Role),
		"content": m.Content,
		"tokens":  float64(m.Tokens),
	}
}

func messagesToAny(msgs []rlemodel.Message) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = messageToAny(m)
	}
	return out
}

func learningToAny(l rlemodel.Learning) map[string]any {
	return map[string]any{
		"id":               l.ID,
		"insight":          l.Insight,
		"context":          l.Context,
		"useful-count":     float64(l.UsefulCount),
		"not-useful-count": float64(l.NotUsefulCount),
		"applied-count":    float64(l.AppliedCount),
		"decayed":          l.Decayed,
	}
}

func learningsToAny(learnings []rlemodel.Learning) []any {
	out := make([]any, len(learnings))
	for i, l := range learnings {
		out[i] = learningToAny(l)
	}
	return out
}

func claimToAny(c rlemodel.Claim) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"text":       c.Text,
		"document-id": c.DocumentID,
		"page":       float64(c.Page),
		"section":    c.Section,
		"quote":      c.Quote,
		"confidence": c.Confidence,
		"verified":   c.Verified,
	}
}
