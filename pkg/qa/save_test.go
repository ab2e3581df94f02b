package qa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rle/pkg/rlemodel"
	"github.com/codeready-toolchain/rle/pkg/store"
)

func sampleResult() Result {
	return Result{
		Questions: []Question{
			{ID: "q1", Text: "What is X?", Answer: "X is Y", Difficulty: DifficultyRemember, Category: "factual",
				SourceDocument: "doc-1", SourcePage: 0, SourceSection: "Intro", EvidenceSpan: "X is Y", PassageIndex: 0, State: "verified-pass"},
		},
		DroppedQuestions: []DroppedQuestion{
			{Question: Question{ID: "q2", Text: "dup?"}, Reason: "dedup-dropped"},
		},
		Stats: Stats{TotalGenerated: 2, PassedVerification: 1, FinalCount: 1,
			ByDifficulty: map[Difficulty]int{DifficultyRemember: 1}, ByCategory: map[string]int{"factual": 1}},
	}
}

func TestSave_WritesEDNAndMarkdownFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "run1")

	err := Save(sampleResult(), base, SaveOptions{})
	require.NoError(t, err)

	ednRaw, err := os.ReadFile(base + ".edn")
	require.NoError(t, err)
	assert.Contains(t, string(ednRaw), "What is X?")

	mdRaw, err := os.ReadFile(base + ".md")
	require.NoError(t, err)
	md := string(mdRaw)
	assert.Contains(t, md, "## doc-1")
	assert.Contains(t, md, "### Intro")
	assert.Contains(t, md, "What is X?")
}

func TestSave_ExtractsReferencedImagesToSiblingDirectory(t *testing.T) {
	st, err := store.CreateDisposable()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Dispose() })

	st.AppendPageNode(rlemodel.PageNode{ID: "img-1", DocumentID: "doc-1", PageIndex: 0, Kind: rlemodel.NodeImage, ImageBytes: []byte{1, 2, 3}})

	dir := t.TempDir()
	base := filepath.Join(dir, "run1")

	err = Save(sampleResult(), base, SaveOptions{Store: st})
	require.NoError(t, err)

	imgBytes, err := os.ReadFile(filepath.Join(dir, "images", "img-1.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, imgBytes)

	mdRaw, err := os.ReadFile(base + ".md")
	require.NoError(t, err)
	assert.Contains(t, string(mdRaw), "images/img-1.png")
}

func TestSave_FormatsOptionRestrictsOutputToSelectedFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "run1")

	err := Save(sampleResult(), base, SaveOptions{Formats: []Format{FormatMarkdown}})
	require.NoError(t, err)

	_, err = os.Stat(base + ".md")
	require.NoError(t, err)
	_, err = os.Stat(base + ".edn")
	assert.True(t, os.IsNotExist(err))
}
