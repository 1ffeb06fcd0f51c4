package domain

import (
	"context"
	"fmt"
	"sort"
)

// Points awarded by the global leaderboard formula.
const (
	pointsPerChallengeJoined    = 10
	pointsPerProgressUnit       = 1
	pointsPerChallengeCompleted = 50
)

// LeaderboardEntry is one row of a per-challenge leaderboard.
type LeaderboardEntry struct {
	UserID      string
	DisplayName string
	Progress    float64
	Completed   bool
	IsFriend    bool
}

// GlobalLeaderboardEntry is one row of the cross-challenge points ranking.
type GlobalLeaderboardEntry struct {
	UserID      string
	DisplayName string
	Points      int
	Rank        int
}

// LeaderboardService ranks participants per challenge or globally by points.
type LeaderboardService struct {
	challenges ChallengeRepository
	users      UserRepository
}

// NewLeaderboardService constructs a LeaderboardService.
func NewLeaderboardService(challenges ChallengeRepository, users UserRepository) *LeaderboardService {
	return &LeaderboardService{challenges: challenges, users: users}
}

// ChallengeLeaderboard ranks a challenge's participants by progress
// descending, breaking ties by join order then user id so the ordering is
// stable and deterministic. When viewerID is supplied, IsFriend is computed
// against the viewer's connection set.
func (s *LeaderboardService) ChallengeLeaderboard(ctx context.Context, challengeID, viewerID string) ([]LeaderboardEntry, error) {
	challenge, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, fmt.Errorf("%w: challenge %s", ErrNotFound, challengeID)
	}

	participants, err := s.challenges.Participants(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(participants, func(i, j int) bool {
		if participants[i].CurrentProgress != participants[j].CurrentProgress {
			return participants[i].CurrentProgress > participants[j].CurrentProgress
		}
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].UserID < participants[j].UserID
	})

	var viewer *User
	if viewerID != "" {
		viewer, err = s.users.Get(ctx, viewerID)
		if err != nil {
			return nil, err
		}
	}

	entries := make([]LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		entry := LeaderboardEntry{
			UserID:    p.UserID,
			Progress:  p.CurrentProgress,
			Completed: p.Completed,
			IsFriend:  viewer.IsConnectedTo(p.UserID),
		}
		if user, err := s.users.Get(ctx, p.UserID); err == nil && user != nil {
			entry.DisplayName = user.DisplayName
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GlobalLeaderboard ranks every user with at least one participation by
// points: 10 per challenge joined, 1 per current-progress unit, 50 per
// completed challenge. Rank is the 1-based position after sorting by points
// descending with user id as the deterministic tiebreak.
func (s *LeaderboardService) GlobalLeaderboard(ctx context.Context) ([]GlobalLeaderboardEntry, error) {
	participants, err := s.challenges.AllParticipants(ctx)
	if err != nil {
		return nil, err
	}

	points := make(map[string]int)
	for _, p := range participants {
		total := pointsPerChallengeJoined + pointsPerProgressUnit*int(p.CurrentProgress)
		if p.Completed {
			total += pointsPerChallengeCompleted
		}
		points[p.UserID] += total
	}

	entries := make([]GlobalLeaderboardEntry, 0, len(points))
	for userID, total := range points {
		entries = append(entries, GlobalLeaderboardEntry{UserID: userID, Points: total})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].UserID < entries[j].UserID
	})

	for i := range entries {
		entries[i].Rank = i + 1
		if user, err := s.users.Get(ctx, entries[i].UserID); err == nil && user != nil {
			entries[i].DisplayName = user.DisplayName
		}
	}
	return entries, nil
}
