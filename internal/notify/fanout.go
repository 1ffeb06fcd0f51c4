// Package notify composes realtime payloads and dispatches them through the
// connection registry.
package notify

import (
	"time"

	"example.com/competition/internal/domain"
	"example.com/competition/internal/realtime"
)

// Fanout implements domain.Notifier on top of the connection registry.
type Fanout struct {
	registry *realtime.Registry
}

// NewFanout constructs a Fanout.
func NewFanout(registry *realtime.Registry) *Fanout {
	return &Fanout{registry: registry}
}

// ChallengeProgressData describes a participant's recomputed standing.
type ChallengeProgressData struct {
	ChallengeID     string     `json:"challenge_id"`
	UserID          string     `json:"user_id"`
	CurrentProgress float64    `json:"current_progress"`
	GoalValue       float64    `json:"goal_value"`
	Completed       bool       `json:"completed"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ChallengeStatusData announces a challenge lifecycle change.
type ChallengeStatusData struct {
	ChallengeID string `json:"challenge_id"`
	Status      string `json:"status"`
}

// BattleInviteData invites the opponent into a pending battle.
type BattleInviteData struct {
	BattleID     string `json:"battle_id"`
	CreatorID    string `json:"creator_id"`
	ExerciseType string `json:"exercise_type"`
	DurationSec  int    `json:"duration_sec"`
}

// BattleStatusData announces a battle state transition.
type BattleStatusData struct {
	BattleID  string     `json:"battle_id"`
	Status    string     `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// CountdownData is one step of the 3-2-1-GO sequence.
type CountdownData struct {
	BattleID  string     `json:"battle_id"`
	Countdown int        `json:"countdown"`
	Go        bool       `json:"go,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
}

// RepUpdateData carries the latest rep count for one battle participant.
type RepUpdateData struct {
	BattleID    string    `json:"battle_id"`
	UserID      string    `json:"user_id"`
	Reps        int       `json:"reps"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PerformanceSummary is one row of a battle completion summary.
type PerformanceSummary struct {
	UserID string `json:"user_id"`
	Reps   int    `json:"reps"`
}

// BattleCompletedData summarises a finished battle for one recipient.
type BattleCompletedData struct {
	BattleID     string               `json:"battle_id"`
	WinnerID     string               `json:"winner_id,omitempty"`
	IsWinner     bool                 `json:"is_winner"`
	Performances []PerformanceSummary `json:"performances"`
}

// QuickChallengeData advertises a nearby quick challenge with live distance.
type QuickChallengeData struct {
	BattleID      string  `json:"battle_id"`
	CreatorID     string  `json:"creator_id"`
	ExerciseType  string  `json:"exercise_type"`
	DurationSec   int     `json:"duration_sec"`
	DistanceMiles float64 `json:"distance_miles"`
}

// ChallengeProgress pushes the recomputed total to the given recipients.
func (f *Fanout) ChallengeProgress(challenge domain.Challenge, progress domain.ParticipantProgress, recipients []string) {
	data := ChallengeProgressData{
		ChallengeID:     challenge.ID,
		UserID:          progress.UserID,
		CurrentProgress: progress.CurrentProgress,
		GoalValue:       challenge.GoalValue,
		Completed:       progress.Completed,
		CompletedAt:     progress.CompletedAt,
	}
	f.sendAll(realtime.TypeChallengeProgress, progress.UserID, recipients, data)
}

// ChallengeCompleted announces a participant reaching the goal. Sent exactly
// once per participant, when Completed first flips true.
func (f *Fanout) ChallengeCompleted(challenge domain.Challenge, progress domain.ParticipantProgress, recipients []string) {
	data := ChallengeProgressData{
		ChallengeID:     challenge.ID,
		UserID:          progress.UserID,
		CurrentProgress: progress.CurrentProgress,
		GoalValue:       challenge.GoalValue,
		Completed:       true,
		CompletedAt:     progress.CompletedAt,
	}
	f.sendAll(realtime.TypeChallengeCompleted, progress.UserID, recipients, data)
}

// ChallengeStatusChanged announces a lifecycle transition to participants.
func (f *Fanout) ChallengeStatusChanged(challenge domain.Challenge, recipients []string) {
	data := ChallengeStatusData{ChallengeID: challenge.ID, Status: string(challenge.Status)}
	f.sendAll(realtime.TypeChallengeStatus, realtime.SystemSender, recipients, data)
}

// BattleInvitation notifies the chosen opponent of a pending battle.
func (f *Fanout) BattleInvitation(battle domain.Battle) {
	if battle.OpponentID == "" {
		return
	}
	data := BattleInviteData{
		BattleID:     battle.ID,
		CreatorID:    battle.CreatorID,
		ExerciseType: battle.ExerciseType,
		DurationSec:  battle.DurationSec,
	}
	f.send(realtime.TypeBattleInvitation, battle.CreatorID, battle.OpponentID, data)
}

// BattleStatusChanged notifies both parties of a battle transition.
func (f *Fanout) BattleStatusChanged(battle domain.Battle, actorID string) {
	data := BattleStatusData{
		BattleID:  battle.ID,
		Status:    string(battle.Status),
		StartedAt: battle.StartedAt,
	}
	f.sendAll(realtime.TypeBattleStatus, actorID, battle.ParticipantIDs(), data)
}

// BattleCountdown pushes one countdown step to both participants.
func (f *Fanout) BattleCountdown(battle domain.Battle, countdown int, startTime *time.Time) {
	data := CountdownData{
		BattleID:  battle.ID,
		Countdown: countdown,
		Go:        countdown == 0,
		StartTime: startTime,
	}
	f.sendAll(realtime.TypeBattleCountdown, realtime.SystemSender, battle.ParticipantIDs(), data)
}

// RepUpdate pushes the latest rep value to both participants.
func (f *Fanout) RepUpdate(battle domain.Battle, perf domain.BattlePerformance) {
	data := RepUpdateData{
		BattleID:    battle.ID,
		UserID:      perf.UserID,
		Reps:        perf.Reps,
		SubmittedAt: perf.SubmittedAt,
	}
	f.sendAll(realtime.TypeRepUpdate, perf.UserID, battle.ParticipantIDs(), data)
}

// BattleCompleted sends each recipient the full summary with a personal
// is_winner flag.
func (f *Fanout) BattleCompleted(battle domain.Battle, perfs []domain.BattlePerformance) {
	summaries := make([]PerformanceSummary, 0, len(perfs))
	for _, p := range perfs {
		summaries = append(summaries, PerformanceSummary{UserID: p.UserID, Reps: p.Reps})
	}
	for _, recipient := range battle.ParticipantIDs() {
		data := BattleCompletedData{
			BattleID:     battle.ID,
			WinnerID:     battle.WinnerID,
			IsWinner:     battle.WinnerID != "" && recipient == battle.WinnerID,
			Performances: summaries,
		}
		f.send(realtime.TypeBattleCompleted, realtime.SystemSender, recipient, data)
	}
}

// QuickChallengeNearby advertises a quick challenge to one nearby user.
func (f *Fanout) QuickChallengeNearby(battle domain.Battle, userID string, distanceMiles float64) {
	data := QuickChallengeData{
		BattleID:      battle.ID,
		CreatorID:     battle.CreatorID,
		ExerciseType:  battle.ExerciseType,
		DurationSec:   battle.DurationSec,
		DistanceMiles: distanceMiles,
	}
	f.send(realtime.TypeQuickChallenge, battle.CreatorID, userID, data)
}

// ConnectedUserIDs exposes the registry's live connection set.
func (f *Fanout) ConnectedUserIDs() []string {
	return f.registry.ConnectedIDs()
}

func (f *Fanout) send(msgType, senderID, receiverID string, data any) {
	f.registry.Send(receiverID, realtime.Message{
		Type:       msgType,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Data:       data,
	})
}

func (f *Fanout) sendAll(msgType, senderID string, recipients []string, data any) {
	for _, receiverID := range recipients {
		f.send(msgType, senderID, receiverID, data)
	}
}
