package qa

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/rle/pkg/modelclient"
	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

type verdict struct {
	Status string // pass | fail | needs-revision
	Note   string
}

// verifyAll asks the model to verdict every kept candidate on:
// grounded-in-evidence, non-trivial, self-contained, answerable from the
// span alone, and answer-consistency with the span.
func verifyAll(ctx context.Context, model modelclient.ModelClient, candidates []Question, modelName string) (passed []Question, failed, needsRevision []DroppedQuestion, err error) {
	for _, q := range candidates {
		v, verr := verifyOne(ctx, model, q, modelName)
		if verr != nil {
			return nil, nil, nil, verr
		}
		switch v.Status {
		case "pass":
			q.State = "verified-pass"
			passed = append(passed, q)
		case "needs-revision":
			q.State = "needs-revision"
			needsRevision = append(needsRevision, DroppedQuestion{Question: q, Reason: v.Note})
		default:
			q.State = "verified-fail"
			failed = append(failed, DroppedQuestion{Question: q, Reason: "verified-fail: " + v.Note})
		}
	}
	return passed, failed, needsRevision, nil
}

func verifyOne(ctx context.Context, model modelclient.ModelClient, q Question, modelName string) (verdict, error) {
	resp, err := model.Ask(ctx, modelclient.AskRequest{
		Model: modelName,
		Messages: []rlemodel.Message{{Role: rlemodel.RoleUser, Content: verifyPrompt(q)}},
		Spec:         map[string]any{"verdict": "", "revision_note": ""},
		CheckContext: true,
	})
	if err != nil {
		return verdict{}, err
	}
	m, ok := resp.Result.(map[string]any)
	if !ok {
		return verdict{Status: "fail", Note: "verification response was not a JSON object"}, nil
	}
	return verdict{Status: asStrField(m["verdict"]), Note: asStrField(m["revision_note"])}, nil
}

func verifyPrompt(q Question) string {
	return fmt.Sprintf("Verdict this question against its evidence span on: grounded in the evidence, "+
		"non-trivial, self-contained, answerable from the span alone, and whether the answer is consistent "+
		"with the span.\n\nQuestion: %s\nAnswer: %s\nEvidence span: %s\n\n"+
		"Respond with JSON: {\"verdict\": \"pass\"|\"fail\"|\"needs-revision\", \"revision_note\": string}.",
		q.Text, q.Answer, q.EvidenceSpan)
}

// reviseAll regenerates each needs-revision question with its note, then
// re-verifies up to opts.revisionReVerifyRounds() times; failing every
// round drops the question as revised-fail.
func reviseAll(ctx context.Context, model modelclient.ModelClient, needsRevision []DroppedQuestion, opts Options) (passed []Question, failed []DroppedQuestion, err error) {
	rounds := opts.revisionReVerifyRounds()
	for _, dq := range needsRevision {
		q := dq.Question
		note := dq.Reason
		var lastVerdict verdict
		accepted := false

		for round := 0; round < rounds; round++ {
			revised, rerr := reviseOne(ctx, model, q, note, opts.Model)
			if rerr != nil {
				return nil, nil, rerr
			}
			q = revised

			v, verr := verifyOne(ctx, model, q, opts.Model)
			if verr != nil {
				return nil, nil, verr
			}
			lastVerdict = v
			if v.Status == "pass" {
				accepted = true
				break
			}
			note = v.Note
		}

		if accepted {
			q.State = "revised-pass"
			passed = append(passed, q)
		} else {
			q.State = "revised-fail"
			failed = append(failed, DroppedQuestion{Question: q, Reason: "revised-fail: " + lastVerdict.Note})
		}
	}
	return passed, failed, nil
}

func reviseOne(ctx context.Context, model modelclient.ModelClient, q Question, note, modelName string) (Question, error) {
	resp, err := model.Ask(ctx, modelclient.AskRequest{
		Model: modelName,
		Messages: []rlemodel.Message{{Role: rlemodel.RoleUser, Content: fmt.Sprintf(
			"Revise this question to address the reviewer's note. Keep the evidence_span a verbatim substring "+
				"of the original span.\n\nQuestion: %s\nAnswer: %s\nEvidence span: %s\nReviewer note: %s\n\n"+
				"Respond with JSON: {\"question\": string, \"answer\": string, \"evidence_span\": string}.",
			q.Text, q.Answer, q.EvidenceSpan, note)}},
		Spec:         map[string]any{"question": "", "answer": "", "evidence_span": ""},
		CheckContext: true,
	})
	if err != nil {
		return q, err
	}
	m, ok := resp.Result.(map[string]any)
	if !ok {
		return q, nil
	}
	if v := asStrField(m["question"]); v != "" {
		q.Text = v
	}
	if v := asStrField(m["answer"]); v != "" {
		q.Answer = v
	}
	if v := asStrField(m["evidence_span"]); v != "" {
		q.EvidenceSpan = v
	}
	return q, nil
}
