package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

func TestCreateDisposable_RemovesDirOnDispose(t *testing.T) {
	s, err := CreateDisposable()
	require.NoError(t, err)
	base := s.basePath
	_, err = os.Stat(base)
	require.NoError(t, err)

	require.NoError(t, s.Dispose())
	_, err = os.Stat(base)
	assert.True(t, os.IsNotExist(err))
}

func TestWrapExternal_SkipsRemovalOnDispose(t *testing.T) {
	dir := t.TempDir()
	s, err := WrapExternal(dir)
	require.NoError(t, err)

	s.AppendEntity(rlemodel.Entity{Name: "Acme Corp", Type: rlemodel.EntityOrganization})
	require.NoError(t, s.Dispose())

	_, err = os.Stat(dir)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "entities.yaml"))
	require.NoError(t, err)
}

func TestWrapExternal_ReloadsPersistedRecords(t *testing.T) {
	dir := t.TempDir()
	s1, err := WrapExternal(dir)
	require.NoError(t, err)
	s1.AppendEntity(rlemodel.Entity{Name: "Acme Corp", Type: rlemodel.EntityOrganization})
	require.NoError(t, s1.FlushNow())

	s2, err := WrapExternal(dir)
	require.NoError(t, err)
	entities := s2.ListEntities(EntityFilter{})
	require.Len(t, entities, 1)
	assert.Equal(t, "Acme Corp", entities[0].Name)
}

func TestFlushNow_OnlyWritesDirtyCollections(t *testing.T) {
	dir := t.TempDir()
	s, err := WrapExternal(dir)
	require.NoError(t, err)
	s.AppendEntity(rlemodel.Entity{Name: "X"})
	require.NoError(t, s.FlushNow())

	_, err = os.Stat(filepath.Join(dir, "entities.yaml"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "claims.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestSearchEntities_CaseInsensitiveSubstring(t *testing.T) {
	s, err := CreateDisposable()
	require.NoError(t, err)
	defer s.Dispose()

	s.AppendEntity(rlemodel.Entity{Name: "Acme Corp", Type: rlemodel.EntityOrganization})
	s.AppendEntity(rlemodel.Entity{Name: "Jane Doe", Type: rlemodel.EntityPerson})

	got := s.SearchEntities("acme", EntityFilter{})
	require.Len(t, got, 1)
	assert.Equal(t, "Acme Corp", got[0].Name)
}

func TestListPageNodes_TruncatesContentToListingLimit(t *testing.T) {
	s, err := CreateDisposable()
	require.NoError(t, err)
	defer s.Dispose()

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	added := s.AppendPageNode(rlemodel.PageNode{Kind: rlemodel.NodeParagraph, Content: string(long)})

	listed := s.ListPageNodes(PageNodeFilter{})
	require.Len(t, listed, 1)
	assert.Len(t, listed[0].Content, listingTruncateChars)

	full, ok := s.GetPageNode(added.ID)
	require.True(t, ok)
	assert.Len(t, full.Content, 500)
}

func TestVoteOnLearning_DecaysAfterThreshold(t *testing.T) {
	s, err := CreateDisposable()
	require.NoError(t, err)
	defer s.Dispose()

	l := s.AppendLearning(rlemodel.Learning{Insight: "always check units"})

	s.VoteOnLearning(l.ID, VoteUseful)
	s.VoteOnLearning(l.ID, VoteNotUseful)
	s.VoteOnLearning(l.ID, VoteNotUseful)
	s.VoteOnLearning(l.ID, VoteNotUseful)
	updated, _ := s.VoteOnLearning(l.ID, VoteNotUseful)

	assert.True(t, updated.Decayed)
	assert.Empty(t, s.SearchLearnings("units"))

	got, ok := s.GetLearning(l.ID)
	require.True(t, ok)
	assert.True(t, got.Decayed, "decayed record must remain on disk for audit")
}

func TestVoteOnLearning_DecayIsMonotonic(t *testing.T) {
	s, err := CreateDisposable()
	require.NoError(t, err)
	defer s.Dispose()

	l := s.AppendLearning(rlemodel.Learning{Insight: "x"})
	for i := 0; i < 5; i++ {
		s.VoteOnLearning(l.ID, VoteNotUseful)
	}
	before, _ := s.GetLearning(l.ID)
	require.True(t, before.Decayed)

	for i := 0; i < 10; i++ {
		s.VoteOnLearning(l.ID, VoteUseful)
	}
	after, _ := s.GetLearning(l.ID)
	assert.True(t, after.Decayed, "a decayed learning must never un-decay")
}

func TestAppendExample_PrunesToRetentionCap(t *testing.T) {
	s, err := CreateDisposable()
	require.NoError(t, err)
	defer s.Dispose()

	base := time.Now()
	for i := 0; i < 5; i++ {
		s.AppendExample(rlemodel.Example{
			Query: "q", Good: true, Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	good := 0
	for _, e := range s.ListExamples() {
		if e.Good {
			good++
		}
	}
	assert.Equal(t, maxExamplesPerBucket, good)
}

func TestGetHistory_ReturnsLastN(t *testing.T) {
	s, err := CreateDisposable()
	require.NoError(t, err)
	defer s.Dispose()

	for i := 0; i < 5; i++ {
		s.AppendMessage(rlemodel.Message{Role: rlemodel.RoleUser, Content: "msg"})
	}
	assert.Len(t, s.GetHistory(2), 2)
	assert.Len(t, s.GetHistory(100), 5)
}
