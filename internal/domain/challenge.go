// Package domain defines the business logic for the competition service.
package domain

import (
	"context"
	"time"
)

// GoalType classifies what a challenge measures.
type GoalType string

const (
	GoalReps      GoalType = "reps"
	GoalWeight    GoalType = "weight"
	GoalDistance  GoalType = "distance"
	GoalDuration  GoalType = "duration"
	GoalFrequency GoalType = "frequency"
)

// ValidGoalType reports whether t is one of the enumerated goal types.
func ValidGoalType(t GoalType) bool {
	switch t {
	case GoalReps, GoalWeight, GoalDistance, GoalDuration, GoalFrequency:
		return true
	}
	return false
}

// ChallengeStatus tracks the lifecycle of a challenge.
type ChallengeStatus string

const (
	ChallengeActive    ChallengeStatus = "active"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeCancelled ChallengeStatus = "cancelled"
)

// Challenge is a long-running, multi-participant, goal-based competition.
type Challenge struct {
	ID        string
	CreatorID string
	Title     string
	Exercise  string
	GoalType  GoalType
	GoalValue float64
	StartDate time.Time
	EndDate   time.Time
	Status    ChallengeStatus
	IsPublic  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ParticipantProgress is a user's accumulated standing within a challenge.
// CurrentProgress is always the sum of the participant's progress entries.
type ParticipantProgress struct {
	ID              string
	ChallengeID     string
	UserID          string
	JoinedAt        time.Time
	CurrentProgress float64
	Completed       bool
	CompletedAt     *time.Time
}

// ProgressEntry is one immutable contribution toward a challenge goal.
// Entries are append-only and survive the participant leaving the challenge.
type ProgressEntry struct {
	ID            string
	ParticipantID string
	Value         float64
	Note          string
	ProofRef      string
	CreatedAt     time.Time
}

// Cursor models the pagination token for challenge listings.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// ChallengeRepository captures persistence operations for challenges,
// participants, and the progress ledger. Lookups return (nil, nil) on a miss.
type ChallengeRepository interface {
	Create(ctx context.Context, challenge Challenge, creator ParticipantProgress) error
	Get(ctx context.Context, challengeID string) (*Challenge, error)
	List(ctx context.Context, cursor *Cursor, limit int) ([]Challenge, *Cursor, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]Challenge, error)
	UpdateStatus(ctx context.Context, challengeID string, status ChallengeStatus) error

	AddParticipant(ctx context.Context, p ParticipantProgress) error
	RemoveParticipant(ctx context.Context, challengeID, userID string) error
	GetParticipant(ctx context.Context, challengeID, userID string) (*ParticipantProgress, error)
	GetParticipantByID(ctx context.Context, participantID string) (*ParticipantProgress, error)
	Participants(ctx context.Context, challengeID string) ([]ParticipantProgress, error)
	AllParticipants(ctx context.Context) ([]ParticipantProgress, error)

	// SaveParticipant persists recomputed progress. MarkGoalCompleted does the
	// same while additionally recording the goal-completion event for the
	// gamification pipeline; it is called at most once per participant.
	SaveParticipant(ctx context.Context, p ParticipantProgress) error
	MarkGoalCompleted(ctx context.Context, p ParticipantProgress) error

	AppendEntry(ctx context.Context, entry ProgressEntry) error
	EntriesByParticipant(ctx context.Context, participantID string) ([]ProgressEntry, error)
}

// UserRepository resolves user profiles referenced by competitions.
type UserRepository interface {
	Get(ctx context.Context, userID string) (*User, error)
}

// User is the profile slice the engine needs: identity, display, last known
// location, and the accepted connection (friend) set.
type User struct {
	ID          string
	DisplayName string
	Latitude    *float64
	Longitude   *float64
	Connections []string
}

// IsConnectedTo reports whether other is in the user's connection set.
func (u *User) IsConnectedTo(other string) bool {
	if u == nil {
		return false
	}
	for _, id := range u.Connections {
		if id == other {
			return true
		}
	}
	return false
}

// HasLocation reports whether the user has a usable last known location.
func (u *User) HasLocation() bool {
	return u != nil && u.Latitude != nil && u.Longitude != nil
}
