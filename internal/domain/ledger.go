package domain

// TotalProgress recomputes aggregate progress as a pure function over the
// full entry set. Recomputing from history instead of incrementing a counter
// keeps the result idempotent under replayed or reordered entries.
func TotalProgress(entries []ProgressEntry) float64 {
	var total float64
	for _, entry := range entries {
		total += entry.Value
	}
	return total
}

// GoalReached reports whether the recomputed total satisfies the challenge
// goal. Completion flips false to true exactly once and never reverts; the
// caller is responsible for not un-setting Completed on an existing record.
func GoalReached(total, goalValue float64) bool {
	return goalValue > 0 && total >= goalValue
}
