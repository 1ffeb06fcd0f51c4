package domain_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/competition/internal/domain"
	"example.com/competition/internal/persistence/memory"
)

func newChallengeFixture() (*domain.ChallengeService, *memory.Store, *stubNotifier) {
	store := memory.NewStore()
	notifier := &stubNotifier{}
	service := domain.NewChallengeService(store.Challenges(), store.Users(), notifier)
	return service, store, notifier
}

func activeChallengeInput(creatorID string) domain.CreateChallengeInput {
	now := time.Now().UTC()
	return domain.CreateChallengeInput{
		CreatorID: creatorID,
		Title:     "100 push-ups",
		Exercise:  "push-up",
		GoalType:  domain.GoalReps,
		GoalValue: 100,
		StartDate: now.Add(-time.Hour),
		EndDate:   now.Add(24 * time.Hour),
		IsPublic:  true,
	}
}

func TestCreateChallengeAutoEnrollsCreator(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newChallengeFixture()

	challenge, err := service.CreateChallenge(ctx, activeChallengeInput("user-1"))
	require.NoError(t, err)
	require.Equal(t, domain.ChallengeActive, challenge.Status)

	participant, err := store.Challenges().GetParticipant(ctx, challenge.ID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, participant)
	require.Zero(t, participant.CurrentProgress)
	require.False(t, participant.Completed)
}

func TestCreateChallengeValidation(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newChallengeFixture()

	input := activeChallengeInput("user-1")
	input.GoalType = "steps"
	_, err := service.CreateChallenge(ctx, input)
	require.ErrorIs(t, err, domain.ErrValidation)

	input = activeChallengeInput("user-1")
	input.GoalValue = 0
	_, err = service.CreateChallenge(ctx, input)
	require.ErrorIs(t, err, domain.ErrValidation)

	input = activeChallengeInput("user-1")
	input.StartDate, input.EndDate = input.EndDate, input.StartDate
	_, err = service.CreateChallenge(ctx, input)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestJoinChallengeTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newChallengeFixture()

	challenge, err := service.CreateChallenge(ctx, activeChallengeInput("user-1"))
	require.NoError(t, err)

	_, err = service.JoinChallenge(ctx, "user-2", challenge.ID)
	require.NoError(t, err)

	_, err = service.JoinChallenge(ctx, "user-2", challenge.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyParticipating)
}

func TestJoinClosedChallenge(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newChallengeFixture()

	challenge, err := service.CreateChallenge(ctx, activeChallengeInput("user-1"))
	require.NoError(t, err)

	_, err = service.CancelChallenge(ctx, "user-1", challenge.ID)
	require.NoError(t, err)

	_, err = service.JoinChallenge(ctx, "user-2", challenge.ID)
	require.ErrorIs(t, err, domain.ErrChallengeClosed)
}

func TestLeaveChallengeRequiresParticipation(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newChallengeFixture()

	challenge, err := service.CreateChallenge(ctx, activeChallengeInput("user-1"))
	require.NoError(t, err)

	err = service.LeaveChallenge(ctx, "user-2", challenge.ID)
	require.ErrorIs(t, err, domain.ErrNotParticipating)

	_, err = service.JoinChallenge(ctx, "user-2", challenge.ID)
	require.NoError(t, err)
	require.NoError(t, service.LeaveChallenge(ctx, "user-2", challenge.ID))
}

func TestRecordProgressAccumulatesAndCompletes(t *testing.T) {
	ctx := context.Background()
	service, store, notifier := newChallengeFixture()

	challenge, err := service.CreateChallenge(ctx, activeChallengeInput("user-1"))
	require.NoError(t, err)

	joined, err := service.JoinChallenge(ctx, "user-2", challenge.ID)
	require.NoError(t, err)

	first, err := service.RecordProgress(ctx, domain.RecordProgressInput{
		ParticipantID: joined.ID,
		Value:         40,
	})
	require.NoError(t, err)
	require.Equal(t, 40.0, first.CurrentProgress)
	require.False(t, first.Completed)

	second, err := service.RecordProgress(ctx, domain.RecordProgressInput{
		ParticipantID: joined.ID,
		Value:         70,
	})
	require.NoError(t, err)
	require.Equal(t, 110.0, second.CurrentProgress)
	require.True(t, second.Completed)
	require.NotNil(t, second.CompletedAt)

	// Completion fires once, when the total first crosses the goal.
	require.Equal(t, 1, notifier.completedCalls())
	require.Equal(t, 2, notifier.progressCalls())

	events := store.Events()
	completions := 0
	for _, e := range events {
		if e.Type == "challenge.goal_completed" {
			completions++
		}
	}
	require.Equal(t, 1, completions)
}

func TestRecordProgressAfterCompletionStaysCompleted(t *testing.T) {
	ctx := context.Background()
	service, _, notifier := newChallengeFixture()

	challenge, err := service.CreateChallenge(ctx, activeChallengeInput("user-1"))
	require.NoError(t, err)

	joined, err := service.JoinChallenge(ctx, "user-2", challenge.ID)
	require.NoError(t, err)

	_, err = service.RecordProgress(ctx, domain.RecordProgressInput{ParticipantID: joined.ID, Value: 120})
	require.NoError(t, err)

	after, err := service.RecordProgress(ctx, domain.RecordProgressInput{ParticipantID: joined.ID, Value: 10})
	require.NoError(t, err)
	require.Equal(t, 130.0, after.CurrentProgress)
	require.True(t, after.Completed)
	require.Equal(t, 1, notifier.completedCalls())
}

func TestRecordProgressValidation(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newChallengeFixture()

	_, err := service.RecordProgress(ctx, domain.RecordProgressInput{ParticipantID: "p-1", Value: 0})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = service.RecordProgress(ctx, domain.RecordProgressInput{ParticipantID: "missing", Value: 5})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordProgressNotifiesOthersNotActor(t *testing.T) {
	ctx := context.Background()
	service, _, notifier := newChallengeFixture()

	challenge, err := service.CreateChallenge(ctx, activeChallengeInput("user-1"))
	require.NoError(t, err)

	joined, err := service.JoinChallenge(ctx, "user-2", challenge.ID)
	require.NoError(t, err)

	_, err = service.RecordProgress(ctx, domain.RecordProgressInput{ParticipantID: joined.ID, Value: 10})
	require.NoError(t, err)

	recipients := notifier.lastProgressRecipients()
	require.Equal(t, []string{"user-1"}, recipients)
}

func TestCancelChallengeCreatorOnly(t *testing.T) {
	ctx := context.Background()
	service, _, notifier := newChallengeFixture()

	challenge, err := service.CreateChallenge(ctx, activeChallengeInput("user-1"))
	require.NoError(t, err)

	_, err = service.CancelChallenge(ctx, "user-2", challenge.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	cancelled, err := service.CancelChallenge(ctx, "user-1", challenge.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChallengeCancelled, cancelled.Status)
	require.Equal(t, 1, notifier.statusCalls())

	_, err = service.CancelChallenge(ctx, "user-1", challenge.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestExpireChallenges(t *testing.T) {
	ctx := context.Background()
	service, store, notifier := newChallengeFixture()

	input := activeChallengeInput("user-1")
	input.EndDate = time.Now().UTC().Add(-time.Minute)
	input.StartDate = input.EndDate.Add(-24 * time.Hour)
	challenge, err := service.CreateChallenge(ctx, input)
	require.NoError(t, err)

	require.NoError(t, service.ExpireChallenges(ctx))

	reloaded, err := store.Challenges().Get(ctx, challenge.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ChallengeCompleted, reloaded.Status)
	require.Equal(t, 1, notifier.statusCalls())

	// A second sweep finds nothing to expire.
	require.NoError(t, service.ExpireChallenges(ctx))
	require.Equal(t, 1, notifier.statusCalls())
}

// stubNotifier records fan-out calls. Battle timers fire on their own
// goroutines, so every counter is mutex-guarded.
type stubNotifier struct {
	mu                 sync.Mutex
	progress           int
	completed          int
	status             int
	invitations        int
	countdowns         []int
	battleCompleted    int
	lastCompleted      domain.Battle
	nearby             map[string]float64
	connected          []string
	progressRecipients []string
}

func (n *stubNotifier) ChallengeProgress(_ domain.Challenge, _ domain.ParticipantProgress, recipients []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress++
	n.progressRecipients = append([]string(nil), recipients...)
}

func (n *stubNotifier) ChallengeCompleted(_ domain.Challenge, _ domain.ParticipantProgress, _ []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed++
}

func (n *stubNotifier) ChallengeStatusChanged(_ domain.Challenge, _ []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status++
}

func (n *stubNotifier) BattleInvitation(_ domain.Battle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invitations++
}

func (n *stubNotifier) BattleStatusChanged(_ domain.Battle, _ string) {}

func (n *stubNotifier) BattleCountdown(_ domain.Battle, countdown int, _ *time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.countdowns = append(n.countdowns, countdown)
}

func (n *stubNotifier) RepUpdate(_ domain.Battle, _ domain.BattlePerformance) {}

func (n *stubNotifier) BattleCompleted(battle domain.Battle, _ []domain.BattlePerformance) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.battleCompleted++
	n.lastCompleted = battle
}

func (n *stubNotifier) QuickChallengeNearby(_ domain.Battle, userID string, distanceMiles float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.nearby == nil {
		n.nearby = make(map[string]float64)
	}
	n.nearby[userID] = distanceMiles
}

func (n *stubNotifier) ConnectedUserIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.connected...)
}

func (n *stubNotifier) setConnected(ids ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = ids
}

func (n *stubNotifier) progressCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.progress
}

func (n *stubNotifier) completedCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.completed
}

func (n *stubNotifier) statusCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *stubNotifier) countdownSteps() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.countdowns...)
}

func (n *stubNotifier) battleCompletedCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.battleCompleted
}

func (n *stubNotifier) completedBattle() domain.Battle {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastCompleted
}

func (n *stubNotifier) nearbyBroadcasts() map[string]float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]float64, len(n.nearby))
	for k, v := range n.nearby {
		out[k] = v
	}
	return out
}

func (n *stubNotifier) lastProgressRecipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.progressRecipients...)
}
