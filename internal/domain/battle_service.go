package domain

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/competition/internal/geo"
	"example.com/competition/internal/observability"
	"example.com/competition/internal/scheduler"
)

// BattleServiceConfig carries tunables for the battle engine.
type BattleServiceConfig struct {
	// CountdownUnit is the spacing between countdown steps and the scale of
	// battle duration seconds. Defaults to one second; tests shrink it.
	CountdownUnit time.Duration
	// QuickChallengeRadiusMiles bounds the nearby broadcast. Defaults to 5.
	QuickChallengeRadiusMiles float64
	// CompletionRetries and CompletionRetryDelay bound the retry loop when
	// the store fails during scheduled auto-completion.
	CompletionRetries    int
	CompletionRetryDelay time.Duration
}

func (c BattleServiceConfig) withDefaults() BattleServiceConfig {
	if c.CountdownUnit <= 0 {
		c.CountdownUnit = time.Second
	}
	if c.QuickChallengeRadiusMiles <= 0 {
		c.QuickChallengeRadiusMiles = 5
	}
	if c.CompletionRetries <= 0 {
		c.CompletionRetries = 3
	}
	if c.CompletionRetryDelay <= 0 {
		c.CompletionRetryDelay = 2 * time.Second
	}
	return c
}

// BattleService orchestrates synchronous head-to-head battles.
type BattleService struct {
	battles  BattleRepository
	users    UserRepository
	notifier Notifier
	timers   *scheduler.BattleTimers
	cfg      BattleServiceConfig

	// mu serializes state transitions so a cancellation racing the
	// completion timer cannot double-fire.
	mu sync.Mutex
}

// NewBattleService constructs a BattleService.
func NewBattleService(battles BattleRepository, users UserRepository, notifier Notifier, timers *scheduler.BattleTimers, cfg BattleServiceConfig) *BattleService {
	return &BattleService{
		battles:  battles,
		users:    users,
		notifier: notifier,
		timers:   timers,
		cfg:      cfg.withDefaults(),
	}
}

// CreateBattleInput captures the payload for a new battle.
type CreateBattleInput struct {
	CreatorID    string
	OpponentID   string
	ExerciseType string
	DurationSec  int
}

// CreateBattle persists a pending battle and, when an opponent is named,
// sends a best-effort invitation.
func (s *BattleService) CreateBattle(ctx context.Context, input CreateBattleInput) (*Battle, error) {
	battle, err := s.newBattle(input.CreatorID, input.ExerciseType, input.DurationSec)
	if err != nil {
		return nil, err
	}
	if input.OpponentID == input.CreatorID {
		return nil, fmt.Errorf("%w: cannot battle yourself", ErrValidation)
	}
	battle.OpponentID = input.OpponentID

	if err := s.battles.Create(ctx, *battle); err != nil {
		return nil, err
	}
	if battle.OpponentID != "" {
		s.notifier.BattleInvitation(*battle)
	}
	return battle, nil
}

// CreateQuickChallenge persists a pending battle without an opponent and
// broadcasts it to every connected user within the configured radius of the
// creator's last known location, attaching the live distance.
func (s *BattleService) CreateQuickChallenge(ctx context.Context, creatorID, exerciseType string, durationSec int) (*Battle, error) {
	battle, err := s.newBattle(creatorID, exerciseType, durationSec)
	if err != nil {
		return nil, err
	}
	battle.IsQuickChallenge = true

	if err := s.battles.Create(ctx, *battle); err != nil {
		return nil, err
	}

	s.broadcastNearby(ctx, *battle)
	return battle, nil
}

func (s *BattleService) newBattle(creatorID, exerciseType string, durationSec int) (*Battle, error) {
	if exerciseType == "" {
		return nil, fmt.Errorf("%w: exercise type is required", ErrValidation)
	}
	if durationSec <= 0 {
		return nil, fmt.Errorf("%w: duration must be > 0", ErrValidation)
	}
	return &Battle{
		ID:           uuid.NewString(),
		CreatorID:    creatorID,
		ExerciseType: exerciseType,
		DurationSec:  durationSec,
		Status:       BattlePending,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (s *BattleService) broadcastNearby(ctx context.Context, battle Battle) {
	creator, err := s.users.Get(ctx, battle.CreatorID)
	if err != nil || !creator.HasLocation() {
		return
	}

	for _, userID := range s.notifier.ConnectedUserIDs() {
		if userID == battle.CreatorID {
			continue
		}
		user, err := s.users.Get(ctx, userID)
		if err != nil || !user.HasLocation() {
			continue
		}
		distance := geo.DistanceMiles(*creator.Latitude, *creator.Longitude, *user.Latitude, *user.Longitude)
		if distance <= s.cfg.QuickChallengeRadiusMiles {
			s.notifier.QuickChallengeNearby(battle, userID, distance)
		}
	}
}

// AcceptBattle moves a pending battle to in_progress and starts the
// countdown. Only the invited opponent may accept; for a quick challenge the
// first accepter is bound as the opponent.
func (s *BattleService) AcceptBattle(ctx context.Context, battleID, userID string) (*Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	battle, err := s.battles.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if battle == nil {
		return nil, fmt.Errorf("%w: battle %s", ErrNotFound, battleID)
	}
	if battle.Status != BattlePending {
		return nil, fmt.Errorf("%w: battle is %s", ErrInvalidState, battle.Status)
	}

	switch {
	case battle.IsQuickChallenge && battle.OpponentID == "":
		if userID == battle.CreatorID {
			return nil, fmt.Errorf("%w: cannot accept your own challenge", ErrForbidden)
		}
		battle.OpponentID = userID
	case userID != battle.OpponentID:
		return nil, fmt.Errorf("%w: only the invited opponent can accept", ErrForbidden)
	}

	now := time.Now().UTC()
	battle.Status = BattleInProgress
	battle.StartedAt = &now

	if err := s.battles.Update(ctx, *battle); err != nil {
		return nil, err
	}

	s.notifier.BattleStatusChanged(*battle, userID)
	s.scheduleCountdown(*battle)
	return battle, nil
}

// scheduleCountdown registers the fixed four-step countdown followed by the
// one-shot completion timer. Delays increase strictly, so the countdown
// messages are ordered and always precede completion.
func (s *BattleService) scheduleCountdown(battle Battle) {
	unit := s.cfg.CountdownUnit
	steps := []scheduler.Step{
		{After: 0, Run: func() { s.countdownStep(battle, 3) }},
		{After: 1 * unit, Run: func() { s.countdownStep(battle, 2) }},
		{After: 2 * unit, Run: func() { s.countdownStep(battle, 1) }},
		{After: 3 * unit, Run: func() {
			start := time.Now().UTC()
			observability.RecordBattleTimerFired("countdown")
			s.notifier.BattleCountdown(battle, 0, &start)
		}},
		{After: time.Duration(battle.DurationSec)*unit + 3*unit, Run: func() {
			s.completeScheduled(battle.ID)
		}},
	}
	s.timers.Schedule(battle.ID, steps)
}

func (s *BattleService) countdownStep(battle Battle, n int) {
	observability.RecordBattleTimerFired("countdown")
	s.notifier.BattleCountdown(battle, n, nil)
}

// completeScheduled is the auto-completion timer handler. Completion is
// idempotent and status-checked, so a battle cancelled before the timer
// fires stays cancelled. Store failures get a bounded retry.
func (s *BattleService) completeScheduled(battleID string) {
	observability.RecordBattleTimerFired("completion")

	var lastErr error
	for attempt := 0; attempt < s.cfg.CompletionRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.cfg.CompletionRetryDelay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := s.CompleteBattle(ctx, battleID)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
	}
	log.Printf("battle %s auto-completion failed after %d attempts: %v", battleID, s.cfg.CompletionRetries, lastErr)
}

// DeclineBattle cancels a pending battle. Only the invited opponent may
// decline; no countdown is ever sent.
func (s *BattleService) DeclineBattle(ctx context.Context, battleID, userID string) (*Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	battle, err := s.battles.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if battle == nil {
		return nil, fmt.Errorf("%w: battle %s", ErrNotFound, battleID)
	}
	if battle.Status != BattlePending {
		return nil, fmt.Errorf("%w: battle is %s", ErrInvalidState, battle.Status)
	}
	if battle.OpponentID == "" || userID != battle.OpponentID {
		return nil, fmt.Errorf("%w: only the invited opponent can decline", ErrForbidden)
	}

	battle.Status = BattleCancelled
	if err := s.battles.Update(ctx, *battle); err != nil {
		return nil, err
	}

	s.notifier.BattleStatusChanged(*battle, userID)
	return battle, nil
}

// CancelBattle cancels a battle that has not reached a terminal state.
// Either bound participant may cancel; pending countdown and completion
// timers are cancelled with it.
func (s *BattleService) CancelBattle(ctx context.Context, battleID, userID string) (*Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	battle, err := s.battles.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if battle == nil {
		return nil, fmt.Errorf("%w: battle %s", ErrNotFound, battleID)
	}
	if !battle.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: not a battle participant", ErrForbidden)
	}
	if battle.Status.Terminal() {
		return nil, fmt.Errorf("%w: battle is %s", ErrInvalidState, battle.Status)
	}

	battle.Status = BattleCancelled
	if err := s.battles.Update(ctx, *battle); err != nil {
		return nil, err
	}

	s.timers.Cancel(battleID)
	s.notifier.BattleStatusChanged(*battle, userID)
	return battle, nil
}

// SubmitReps upserts the latest rep count for a participant in a running
// battle and fans the value out. Submissions replace the previous value;
// only the latest row per user is authoritative.
func (s *BattleService) SubmitReps(ctx context.Context, battleID, userID string, reps int) (*BattlePerformance, error) {
	if reps < 0 {
		return nil, fmt.Errorf("%w: reps must be >= 0", ErrValidation)
	}

	battle, err := s.battles.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if battle == nil {
		return nil, fmt.Errorf("%w: battle %s", ErrNotFound, battleID)
	}
	if battle.Status != BattleInProgress {
		return nil, fmt.Errorf("%w: battle is %s", ErrInvalidState, battle.Status)
	}
	if !battle.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: not a battle participant", ErrForbidden)
	}

	perf := BattlePerformance{
		BattleID:    battleID,
		UserID:      userID,
		Reps:        reps,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.battles.UpsertPerformance(ctx, perf); err != nil {
		return nil, err
	}

	s.notifier.RepUpdate(*battle, perf)
	return &perf, nil
}

// CompleteBattle finishes a running battle: it loads all performances,
// determines the winner deterministically, persists the terminal record, and
// fans out a per-recipient summary. Calling it on a battle that is not
// in_progress returns the existing record unchanged, which makes the
// operation idempotent.
func (s *BattleService) CompleteBattle(ctx context.Context, battleID string) (*Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	battle, err := s.battles.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if battle == nil {
		return nil, fmt.Errorf("%w: battle %s", ErrNotFound, battleID)
	}
	if battle.Status != BattleInProgress {
		return battle, nil
	}

	perfs, err := s.battles.Performances(ctx, battleID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	battle.Status = BattleCompleted
	battle.CompletedAt = &now
	battle.WinnerID = DetermineWinner(perfs)

	if err := s.battles.Complete(ctx, *battle); err != nil {
		return nil, err
	}

	s.timers.Cancel(battleID)
	observability.RecordBattleCompleted()
	s.notifier.BattleCompleted(*battle, perfs)
	return battle, nil
}

// GetBattle fetches a battle by id.
func (s *BattleService) GetBattle(ctx context.Context, battleID string) (*Battle, error) {
	battle, err := s.battles.Get(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if battle == nil {
		return nil, fmt.Errorf("%w: battle %s", ErrNotFound, battleID)
	}
	return battle, nil
}

// Shutdown cancels every pending battle timer.
func (s *BattleService) Shutdown() {
	s.timers.Stop()
}
