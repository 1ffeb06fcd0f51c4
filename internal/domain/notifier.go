package domain

import "time"

// Notifier is the best-effort fan-out port. Implementations push to
// currently connected users only; failures are expected and swallowed, and
// no call on this interface ever returns an error to the engine.
type Notifier interface {
	ChallengeProgress(challenge Challenge, progress ParticipantProgress, recipients []string)
	ChallengeCompleted(challenge Challenge, progress ParticipantProgress, recipients []string)
	ChallengeStatusChanged(challenge Challenge, recipients []string)

	BattleInvitation(battle Battle)
	BattleStatusChanged(battle Battle, actorID string)
	BattleCountdown(battle Battle, countdown int, startTime *time.Time)
	RepUpdate(battle Battle, perf BattlePerformance)
	BattleCompleted(battle Battle, perfs []BattlePerformance)
	QuickChallengeNearby(battle Battle, userID string, distanceMiles float64)

	// ConnectedUserIDs exposes the live connection set for nearby broadcasts.
	ConnectedUserIDs() []string
}
