package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

func TestRetentionService_RunOnceRecomputesDecay(t *testing.T) {
	s, err := CreateDisposable()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Dispose() })

	l := s.AppendLearning(rlemodel.Learning{Insight: "watch out for X"})
	for i := 0; i < 4; i++ {
		_, _ = s.VoteOnLearning(l.ID, VoteNotUseful)
	}
	// 4 not-useful votes alone don't cross the total>=5 threshold yet.
	got, _ := s.GetLearning(l.ID)
	require.False(t, got.Decayed)

	// A fifth not-useful vote pushes it over — recorded directly on the
	// collection to simulate decay drifting past the threshold without a
	// vote ever landing on it again.
	all := s.learnings.list()
	for i := range all {
		if all[i].ID == l.ID {
			all[i].NotUsefulCount++
		}
	}
	s.learnings.replace(all)

	svc := NewRetentionService(s, time.Hour)
	svc.RunOnce()

	got, _ = s.GetLearning(l.ID)
	assert.True(t, got.Decayed)
}

func TestRetentionService_RunOncePrunesExamples(t *testing.T) {
	s, err := CreateDisposable()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Dispose() })

	now := time.Now()
	for i := 0; i < 10; i++ {
		s.examples.append(rlemodel.Example{Query: "q", Answer: "a", Good: true, Timestamp: now.Add(time.Duration(i) * time.Second)})
	}

	svc := NewRetentionService(s, time.Hour)
	svc.RunOnce()

	assert.LessOrEqual(t, len(s.ListExamples()), maxExamplesPerBucket)
}

func TestRetentionService_StartStop(t *testing.T) {
	s, err := CreateDisposable()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Dispose() })

	svc := NewRetentionService(s, time.Millisecond)
	svc.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	svc.Stop()

	// Stop/Start are idempotent no-ops when not in the opposite state.
	svc.Stop()
}

func TestNewRetentionService_NonPositiveIntervalFallsBackToDefault(t *testing.T) {
	s, err := CreateDisposable()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Dispose() })

	svc := NewRetentionService(s, 0)
	assert.Equal(t, DefaultRetentionInterval, svc.interval)
}
