package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/competition/internal/observability"
)

// ChallengeService orchestrates goal-based challenge workflows.
type ChallengeService struct {
	challenges ChallengeRepository
	users      UserRepository
	notifier   Notifier
}

// NewChallengeService constructs a ChallengeService.
func NewChallengeService(challenges ChallengeRepository, users UserRepository, notifier Notifier) *ChallengeService {
	return &ChallengeService{challenges: challenges, users: users, notifier: notifier}
}

// CreateChallengeInput captures the payload from the API layer.
type CreateChallengeInput struct {
	CreatorID string
	Title     string
	Exercise  string
	GoalType  GoalType
	GoalValue float64
	StartDate time.Time
	EndDate   time.Time
	IsPublic  bool
}

// CreateChallenge validates the input, persists the challenge in the active
// state, and auto-enrolls the creator as a participant with zero progress.
func (s *ChallengeService) CreateChallenge(ctx context.Context, input CreateChallengeInput) (*Challenge, error) {
	if !ValidGoalType(input.GoalType) {
		return nil, fmt.Errorf("%w: unknown goal type %q", ErrValidation, input.GoalType)
	}
	if input.GoalValue <= 0 {
		return nil, fmt.Errorf("%w: goal value must be > 0", ErrValidation)
	}
	if !input.StartDate.Before(input.EndDate) {
		return nil, fmt.Errorf("%w: start date must precede end date", ErrValidation)
	}

	now := time.Now().UTC()
	challenge := Challenge{
		ID:        uuid.NewString(),
		CreatorID: input.CreatorID,
		Title:     input.Title,
		Exercise:  input.Exercise,
		GoalType:  input.GoalType,
		GoalValue: input.GoalValue,
		StartDate: input.StartDate.UTC(),
		EndDate:   input.EndDate.UTC(),
		Status:    ChallengeActive,
		IsPublic:  input.IsPublic,
		CreatedAt: now,
		UpdatedAt: now,
	}
	creator := ParticipantProgress{
		ID:          uuid.NewString(),
		ChallengeID: challenge.ID,
		UserID:      input.CreatorID,
		JoinedAt:    now,
	}

	if err := s.challenges.Create(ctx, challenge, creator); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// JoinChallenge enrolls the user in an active challenge.
func (s *ChallengeService) JoinChallenge(ctx context.Context, userID, challengeID string) (*ParticipantProgress, error) {
	challenge, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, fmt.Errorf("%w: challenge %s", ErrNotFound, challengeID)
	}
	if challenge.Status != ChallengeActive {
		return nil, fmt.Errorf("%w: challenge %s is %s", ErrChallengeClosed, challengeID, challenge.Status)
	}

	existing, err := s.challenges.GetParticipant(ctx, challengeID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyParticipating
	}

	participant := ParticipantProgress{
		ID:          uuid.NewString(),
		ChallengeID: challengeID,
		UserID:      userID,
		JoinedAt:    time.Now().UTC(),
	}
	if err := s.challenges.AddParticipant(ctx, participant); err != nil {
		return nil, err
	}
	return &participant, nil
}

// LeaveChallenge removes the live participant record. Historical progress
// entries are retained.
func (s *ChallengeService) LeaveChallenge(ctx context.Context, userID, challengeID string) error {
	existing, err := s.challenges.GetParticipant(ctx, challengeID, userID)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrNotParticipating
	}
	return s.challenges.RemoveParticipant(ctx, challengeID, userID)
}

// RecordProgressInput captures one contribution toward a challenge goal.
type RecordProgressInput struct {
	ParticipantID string
	Value         float64
	Note          string
	ProofRef      string
}

// RecordProgress appends an immutable entry, recomputes the participant's
// total from the full entry set, and re-evaluates goal completion. Progress
// and completion are then fanned out to the other participants and, when the
// actor is not the creator, to the creator.
func (s *ChallengeService) RecordProgress(ctx context.Context, input RecordProgressInput) (*ParticipantProgress, error) {
	if input.Value <= 0 {
		return nil, fmt.Errorf("%w: progress value must be > 0", ErrValidation)
	}

	participant, err := s.challenges.GetParticipantByID(ctx, input.ParticipantID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, fmt.Errorf("%w: participant %s", ErrNotFound, input.ParticipantID)
	}

	challenge, err := s.challenges.Get(ctx, participant.ChallengeID)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, fmt.Errorf("%w: challenge %s", ErrNotFound, participant.ChallengeID)
	}
	if challenge.Status != ChallengeActive {
		return nil, fmt.Errorf("%w: challenge %s is %s", ErrChallengeClosed, challenge.ID, challenge.Status)
	}

	entry := ProgressEntry{
		ID:            uuid.NewString(),
		ParticipantID: participant.ID,
		Value:         input.Value,
		Note:          input.Note,
		ProofRef:      input.ProofRef,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.challenges.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	entries, err := s.challenges.EntriesByParticipant(ctx, participant.ID)
	if err != nil {
		return nil, err
	}

	participant.CurrentProgress = TotalProgress(entries)
	completedNow := !participant.Completed && GoalReached(participant.CurrentProgress, challenge.GoalValue)
	if completedNow {
		now := time.Now().UTC()
		participant.Completed = true
		participant.CompletedAt = &now
	}

	if completedNow {
		if err := s.challenges.MarkGoalCompleted(ctx, *participant); err != nil {
			return nil, err
		}
		observability.RecordGoalCompletion()
	} else {
		if err := s.challenges.SaveParticipant(ctx, *participant); err != nil {
			return nil, err
		}
	}

	recipients, err := s.progressRecipients(ctx, challenge, participant.UserID)
	if err == nil {
		s.notifier.ChallengeProgress(*challenge, *participant, recipients)
		if completedNow {
			s.notifier.ChallengeCompleted(*challenge, *participant, recipients)
		}
	}

	return participant, nil
}

// progressRecipients returns every other participant plus the creator when
// the actor is not the creator, deduplicated.
func (s *ChallengeService) progressRecipients(ctx context.Context, challenge *Challenge, actorID string) ([]string, error) {
	participants, err := s.challenges.Participants(ctx, challenge.ID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	recipients := make([]string, 0, len(participants))
	add := func(id string) {
		if id == actorID {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		recipients = append(recipients, id)
	}

	for _, p := range participants {
		add(p.UserID)
	}
	if actorID != challenge.CreatorID {
		add(challenge.CreatorID)
	}
	return recipients, nil
}

// CancelChallenge lets the creator cancel an active challenge.
func (s *ChallengeService) CancelChallenge(ctx context.Context, userID, challengeID string) (*Challenge, error) {
	challenge, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, fmt.Errorf("%w: challenge %s", ErrNotFound, challengeID)
	}
	if challenge.CreatorID != userID {
		return nil, fmt.Errorf("%w: only the creator can cancel a challenge", ErrForbidden)
	}
	if challenge.Status != ChallengeActive {
		return nil, fmt.Errorf("%w: challenge is %s", ErrInvalidState, challenge.Status)
	}

	if err := s.challenges.UpdateStatus(ctx, challengeID, ChallengeCancelled); err != nil {
		return nil, err
	}
	challenge.Status = ChallengeCancelled

	if recipients, err := s.statusRecipients(ctx, challengeID); err == nil {
		s.notifier.ChallengeStatusChanged(*challenge, recipients)
	}
	return challenge, nil
}

// ExpireChallenges moves active challenges past their end date to completed.
// Called periodically by the scheduler sweep.
func (s *ChallengeService) ExpireChallenges(ctx context.Context) error {
	expired, err := s.challenges.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	for _, challenge := range expired {
		if err := s.challenges.UpdateStatus(ctx, challenge.ID, ChallengeCompleted); err != nil {
			return err
		}
		challenge.Status = ChallengeCompleted
		if recipients, err := s.statusRecipients(ctx, challenge.ID); err == nil {
			s.notifier.ChallengeStatusChanged(challenge, recipients)
		}
	}
	return nil
}

func (s *ChallengeService) statusRecipients(ctx context.Context, challengeID string) ([]string, error) {
	participants, err := s.challenges.Participants(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	recipients := make([]string, 0, len(participants))
	for _, p := range participants {
		recipients = append(recipients, p.UserID)
	}
	return recipients, nil
}

// GetChallenge fetches a challenge by id.
func (s *ChallengeService) GetChallenge(ctx context.Context, challengeID string) (*Challenge, error) {
	challenge, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, fmt.Errorf("%w: challenge %s", ErrNotFound, challengeID)
	}
	return challenge, nil
}

// ListChallenges returns challenges with cursor pagination.
func (s *ChallengeService) ListChallenges(ctx context.Context, cursor *Cursor, limit int) ([]Challenge, *Cursor, error) {
	return s.challenges.List(ctx, cursor, limit)
}
