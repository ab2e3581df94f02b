package qa

import "sort"

// assemble sorts accepted questions by passage index (completion order
// across Phase 2 batches is not guaranteed) and computes final stats.
func assemble(passed []Question, dropped []DroppedQuestion, stats Stats) Result {
	sort.SliceStable(passed, func(i, j int) bool {
		return passed[i].PassageIndex < passed[j].PassageIndex
	})

	for _, q := range passed {
		stats.ByDifficulty[q.Difficulty]++
		stats.ByCategory[q.Category]++
	}
	stats.FinalCount = len(passed)

	return Result{
		Questions:        passed,
		DroppedQuestions: dropped,
		Stats:            stats,
	}
}
