package domain

import (
	"context"
	"sort"
	"time"
)

// BattleStatus tracks the battle state machine. Transitions only advance:
// pending -> {in_progress, cancelled}, in_progress -> {completed, cancelled}.
type BattleStatus string

const (
	BattlePending    BattleStatus = "pending"
	BattleInProgress BattleStatus = "in_progress"
	BattleCompleted  BattleStatus = "completed"
	BattleCancelled  BattleStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s BattleStatus) Terminal() bool {
	return s == BattleCompleted || s == BattleCancelled
}

// Battle is a short, timed, head-to-head competition with live rep submission.
// A quick challenge is a battle created without a pre-selected opponent and
// broadcast to nearby users; OpponentID stays empty until someone accepts.
type Battle struct {
	ID               string
	CreatorID        string
	OpponentID       string
	ExerciseType     string
	DurationSec      int
	IsQuickChallenge bool
	Status           BattleStatus
	StartedAt        *time.Time
	CompletedAt      *time.Time
	WinnerID         string
	CreatedAt        time.Time
}

// HasParticipant reports whether userID is the creator or the opponent.
func (b *Battle) HasParticipant(userID string) bool {
	return b != nil && (userID == b.CreatorID || (b.OpponentID != "" && userID == b.OpponentID))
}

// ParticipantIDs returns the bound participants, creator first.
func (b *Battle) ParticipantIDs() []string {
	ids := []string{b.CreatorID}
	if b.OpponentID != "" {
		ids = append(ids, b.OpponentID)
	}
	return ids
}

// BattlePerformance holds the latest rep count submitted by one user in one
// battle. Submissions replace, never accumulate; there is one row per
// (battle, user).
type BattlePerformance struct {
	BattleID    string
	UserID      string
	Reps        int
	SubmittedAt time.Time
}

// BattleRepository captures persistence for battles and performances.
// Lookups return (nil, nil) on a miss.
type BattleRepository interface {
	Create(ctx context.Context, battle Battle) error
	Get(ctx context.Context, battleID string) (*Battle, error)
	Update(ctx context.Context, battle Battle) error
	// Complete persists the terminal record and records the battle-completed
	// event for downstream consumers.
	Complete(ctx context.Context, battle Battle) error

	UpsertPerformance(ctx context.Context, perf BattlePerformance) error
	Performances(ctx context.Context, battleID string) ([]BattlePerformance, error)
}

// DetermineWinner picks the winning user id from a performance set.
// Ordering is reps descending, then earliest submission, then user id as a
// final total-order guard. Returns "" for an empty set.
func DetermineWinner(perfs []BattlePerformance) string {
	if len(perfs) == 0 {
		return ""
	}
	ranked := make([]BattlePerformance, len(perfs))
	copy(ranked, perfs)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Reps != ranked[j].Reps {
			return ranked[i].Reps > ranked[j].Reps
		}
		if !ranked[i].SubmittedAt.Equal(ranked[j].SubmittedAt) {
			return ranked[i].SubmittedAt.Before(ranked[j].SubmittedAt)
		}
		return ranked[i].UserID < ranked[j].UserID
	})
	return ranked[0].UserID
}
