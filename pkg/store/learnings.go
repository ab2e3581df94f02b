package store

import "github.com/codeready-toolchain/rle/pkg/rlemodel"

// Vote is the caller's judgment on a learning's usefulness.
type Vote string

const (
	VoteUseful    Vote = "useful"
	VoteNotUseful Vote = "not-useful"
)

// VoteOnLearning records a vote against id and re-evaluates the decay
// invariant. Once a learning decays it is excluded from SearchLearnings
// but remains on disk for audit — the record itself is never removed.
func (s *Store) VoteOnLearning(id string, vote Vote) (rlemodel.Learning, bool) {
	all := s.learnings.list()
	for i := range all {
		if all[i].ID != id {
			continue
		}
		switch vote {
		case VoteUseful:
			all[i].UsefulCount++
		case VoteNotUseful:
			all[i].NotUsefulCount++
		}
		all[i].Recompute()
		s.learnings.replace(all)
		s.MarkDirty(KeyLearnings)
		return all[i], true
	}
	return rlemodel.Learning{}, false
}

// IncrementAppliedCount records that a learning was surfaced and applied
// to a query, without affecting its decay status.
func (s *Store) IncrementAppliedCount(id string) (rlemodel.Learning, bool) {
	all := s.learnings.list()
	for i := range all {
		if all[i].ID != id {
			continue
		}
		all[i].AppliedCount++
		s.learnings.replace(all)
		s.MarkDirty(KeyLearnings)
		return all[i], true
	}
	return rlemodel.Learning{}, false
}

// SearchLearnings runs a case-insensitive substring search over insight
// and context, excluding decayed learnings. A blank query returns every
// non-decayed learning in insertion order.
func (s *Store) SearchLearnings(query string) []rlemodel.Learning {
	return s.learnings.listWhere(func(l rlemodel.Learning) bool {
		if l.Decayed {
			return false
		}
		if query == "" {
			return true
		}
		return contains(l.Insight, query) || contains(l.Context, query)
	})
}

// GetLearning looks up a single learning by id, including decayed ones.
func (s *Store) GetLearning(id string) (rlemodel.Learning, bool) {
	return s.learnings.getByID(id)
}

// LearningStats summarizes vote and decay activity across all learnings.
type LearningStats struct {
	Total        int
	Decayed      int
	TotalUseful  int
	TotalNotUseful int
	TotalApplied int
}

// RecomputeDecay re-evaluates the decay invariant across every learning,
// not just the one touched by the most recent vote — a learning's
// not-useful ratio can cross the decay threshold without a vote ever
// landing on it again, so this sweep is what makes the status converge in
// the absence of further traffic. Returns the number of learnings whose
// Decayed flag flipped false->true.
func (s *Store) RecomputeDecay() int {
	all := s.learnings.list()
	flipped := 0
	for i := range all {
		was := all[i].Decayed
		all[i].Recompute()
		if all[i].Decayed && !was {
			flipped++
		}
	}
	if flipped > 0 {
		s.learnings.replace(all)
		s.MarkDirty(KeyLearnings)
	}
	return flipped
}

// LearningStats computes LearningStats over the full learnings collection.
func (s *Store) LearningStats() LearningStats {
	all := s.learnings.list()
	stats := LearningStats{Total: len(all)}
	for _, l := range all {
		if l.Decayed {
			stats.Decayed++
		}
		stats.TotalUseful += l.UsefulCount
		stats.TotalNotUseful += l.NotUsefulCount
		stats.TotalApplied += l.AppliedCount
	}
	return stats
}
