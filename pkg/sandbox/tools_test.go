package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rle/pkg/rlemodel"
	"github.com/codeready-toolchain/rle/pkg/store"
)

func newStoreBackedSandbox(t *testing.T) (*Sandbox, *store.Store) {
	t.Helper()
	st, err := store.CreateDisposable()
	require.NoError(t, err)
	t.Cleanup(func() { st.Dispose() })
	return New(st, Options{}), st
}

func TestTools_SearchEntitiesFindsSeededRecord(t *testing.T) {
	sb, st := newStoreBackedSandbox(t)
	st.AppendEntity(rlemodel.Entity{Name: "Acme Corp", Type: rlemodel.EntityOrganization})

	res := run(t, sb, `(search-entities "acme")`)
	require.Empty(t, res.Error)
	results, ok := res.Result.([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	entry := results[0].(map[string]any)
	assert.Equal(t, "Acme Corp", entry["name"])
}

func TestTools_GetEntityReturnsNilWhenMissing(t *testing.T) {
	sb, _ := newStoreBackedSandbox(t)
	res := run(t, sb, `(get-entity "missing-id")`)
	require.Empty(t, res.Error)
	assert.Nil(t, res.Result)
}

func TestTools_ListPageNodesHonorsTruncation(t *testing.T) {
	sb, st := newStoreBackedSandbox(t)
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	st.AppendPageNode(rlemodel.PageNode{Kind: rlemodel.NodeParagraph, Content: string(long)})

	res := run(t, sb, `(list-page-nodes "")`)
	require.Empty(t, res.Error)
	nodes := res.Result.([]any)
	require.Len(t, nodes, 1)
	content := nodes[0].(map[string]any)["content"].(string)
	assert.Len(t, content, 200)
}

func TestTools_StoreLearningAndVote(t *testing.T) {
	sb, st := newStoreBackedSandbox(t)
	res := run(t, sb, `(store-learning "always verify units" "physics queries")`)
	require.Empty(t, res.Error)
	record := res.Result.(map[string]any)
	id := record["id"].(string)

	for i := 0; i < 5; i++ {
		voteRes := run(t, sb, `(vote-learning "`+id+`" "not-useful")`)
		require.Empty(t, voteRes.Error)
	}
	stats := st.LearningStats()
	assert.Equal(t, 1, stats.Decayed)
}

func TestTools_CiteAppendsToInvocationClaims(t *testing.T) {
	sb, _ := newStoreBackedSandbox(t)
	inv := sb.NewInvocation()
	res := inv.Execute(context.Background(), `(CITE "payment due in 30 days" "contract-1" 4 "3.2" "payment is due net 30")`)
	require.Empty(t, res.Error)
	require.Len(t, inv.claims, 1)
	assert.Equal(t, "contract-1", inv.claims[0].DocumentID)
	assert.True(t, inv.claims[0].Verified)
}

func TestTools_CiteUnverifiedCapsConfidence(t *testing.T) {
	sb, _ := newStoreBackedSandbox(t)
	inv := sb.NewInvocation()
	res := inv.Execute(context.Background(), `(CITE-UNVERIFIED "possibly relevant clause")`)
	require.Empty(t, res.Error)
	require.Len(t, inv.claims, 1)
	assert.False(t, inv.claims[0].Verified)
	assert.LessOrEqual(t, inv.claims[0].Confidence, 0.5)
}

func TestTools_ListClaimsReflectsOnlyThisInvocation(t *testing.T) {
	sb, _ := newStoreBackedSandbox(t)
	inv := sb.NewInvocation()
	inv.Execute(context.Background(), `(CITE-UNVERIFIED "a")`)
	res := inv.Execute(context.Background(), `(list-claims)`)
	require.Empty(t, res.Error)
	assert.Len(t, res.Result, 1)

	otherInv := sb.NewInvocation()
	otherRes := otherInv.Execute(context.Background(), `(list-claims)`)
	assert.Len(t, otherRes.Result, 0)
}

func TestTools_RLMQueryRejectsWhenUnconfigured(t *testing.T) {
	sb, _ := newStoreBackedSandbox(t)
	res := run(t, sb, `(rlm-query "what is the termination clause?")`)
	assert.Contains(t, res.Error, "not configured")
}

func TestTools_RLMQueryEnforcesMaxRecursionDepth(t *testing.T) {
	st, err := store.CreateDisposable()
	require.NoError(t, err)
	t.Cleanup(func() { st.Dispose() })

	var calls int
	var sb *Sandbox
	sb = New(st, Options{
		MaxRecursionDepth: 1,
		RLMQuery: func(ctx context.Context, query string) (any, error) {
			calls++
			inv := sb.NewInvocation()
			return inv.Execute(ctx, `(rlm-query "nested")`).Result, nil
		},
	})

	res := run(t, sb, `(rlm-query "top level")`)
	require.Empty(t, res.Error)
	result, ok := res.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "max recursion depth", result["error"])
	assert.Equal(t, 1, calls)
}

func TestTools_ListLocalsSummarizesLargeCollections(t *testing.T) {
	sb, _ := newStoreBackedSandbox(t)
	inv := sb.NewInvocation()
	inv.locals["big"] = make([]any, localsSummaryThreshold+1)
	res := inv.Execute(context.Background(), `(list-locals)`)
	require.Empty(t, res.Error)
	locals := res.Result.(map[string]any)
	summary := locals["big"].(map[string]any)
	assert.Equal(t, true, summary["summary"])
}
