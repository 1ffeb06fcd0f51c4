// Package memory implements the competition repositories over in-memory
// maps for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/competition/internal/domain"
)

// Event is a recorded domain event. The postgres repositories write these to
// the transactional outbox; here they are captured for inspection.
type Event struct {
	Type        string
	AggregateID string
	OccurredAt  time.Time
}

// Store holds all competition state behind one lock.
type Store struct {
	mu           sync.RWMutex
	users        map[string]domain.User
	challenges   map[string]domain.Challenge
	participants map[string]domain.ParticipantProgress
	entries      map[string][]domain.ProgressEntry
	battles      map[string]domain.Battle
	performances map[string]map[string]domain.BattlePerformance
	events       []Event
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		users:        make(map[string]domain.User),
		challenges:   make(map[string]domain.Challenge),
		participants: make(map[string]domain.ParticipantProgress),
		entries:      make(map[string][]domain.ProgressEntry),
		battles:      make(map[string]domain.Battle),
		performances: make(map[string]map[string]domain.BattlePerformance),
	}
}

// Users returns the user repository view of the store.
func (s *Store) Users() *UserRepository { return &UserRepository{store: s} }

// Challenges returns the challenge repository view of the store.
func (s *Store) Challenges() *ChallengeRepository { return &ChallengeRepository{store: s} }

// Battles returns the battle repository view of the store.
func (s *Store) Battles() *BattleRepository { return &BattleRepository{store: s} }

// PutUser seeds or replaces a user profile.
func (s *Store) PutUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// Events returns the recorded domain events in order.
func (s *Store) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Store) recordEvent(eventType, aggregateID string) {
	s.events = append(s.events, Event{Type: eventType, AggregateID: aggregateID, OccurredAt: time.Now().UTC()})
}

// UserRepository implements domain.UserRepository.
type UserRepository struct {
	store *Store
}

// Get returns the user or (nil, nil) when absent.
func (r *UserRepository) Get(ctx context.Context, userID string) (*domain.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if user, ok := r.store.users[userID]; ok {
		return &user, nil
	}
	return nil, nil
}

// ChallengeRepository implements domain.ChallengeRepository.
type ChallengeRepository struct {
	store *Store
}

// Create persists the challenge with the auto-enrolled creator.
func (r *ChallengeRepository) Create(ctx context.Context, challenge domain.Challenge, creator domain.ParticipantProgress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.challenges[challenge.ID] = challenge
	r.store.participants[creator.ID] = creator
	return nil
}

// Get returns the challenge or (nil, nil) when absent.
func (r *ChallengeRepository) Get(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if challenge, ok := r.store.challenges[challengeID]; ok {
		return &challenge, nil
	}
	return nil, nil
}

// List returns challenges newest first with cursor pagination.
func (r *ChallengeRepository) List(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.Challenge, *domain.Cursor, error) {
	r.store.mu.RLock()
	all := make([]domain.Challenge, 0, len(r.store.challenges))
	for _, c := range r.store.challenges {
		all = append(all, c)
	}
	r.store.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	filtered := make([]domain.Challenge, 0, len(all))
	for _, c := range all {
		if cursor != nil {
			if c.CreatedAt.After(cursor.CreatedAt) || (c.CreatedAt.Equal(cursor.CreatedAt) && c.ID >= cursor.ID) {
				continue
			}
		}
		filtered = append(filtered, c)
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	var next *domain.Cursor
	if limit > 0 && len(filtered) == limit {
		last := filtered[len(filtered)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return filtered, next, nil
}

// ListExpired returns active challenges whose end date passed.
func (r *ChallengeRepository) ListExpired(ctx context.Context, asOf time.Time) ([]domain.Challenge, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var expired []domain.Challenge
	for _, c := range r.store.challenges {
		if c.Status == domain.ChallengeActive && c.EndDate.Before(asOf) {
			expired = append(expired, c)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

// UpdateStatus transitions the challenge and records the status event.
func (r *ChallengeRepository) UpdateStatus(ctx context.Context, challengeID string, status domain.ChallengeStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	challenge, ok := r.store.challenges[challengeID]
	if !ok {
		return nil
	}
	challenge.Status = status
	challenge.UpdatedAt = time.Now().UTC()
	r.store.challenges[challengeID] = challenge
	r.store.recordEvent("challenge.status_changed", challengeID)
	return nil
}

// AddParticipant enrolls a participant.
func (r *ChallengeRepository) AddParticipant(ctx context.Context, p domain.ParticipantProgress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.participants[p.ID] = p
	return nil
}

// RemoveParticipant drops the live participant record. Progress entries are
// retained.
func (r *ChallengeRepository) RemoveParticipant(ctx context.Context, challengeID, userID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for id, p := range r.store.participants {
		if p.ChallengeID == challengeID && p.UserID == userID {
			delete(r.store.participants, id)
		}
	}
	return nil
}

// GetParticipant looks a participant up by challenge and user.
func (r *ChallengeRepository) GetParticipant(ctx context.Context, challengeID, userID string) (*domain.ParticipantProgress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, p := range r.store.participants {
		if p.ChallengeID == challengeID && p.UserID == userID {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

// GetParticipantByID looks a participant up by id.
func (r *ChallengeRepository) GetParticipantByID(ctx context.Context, participantID string) (*domain.ParticipantProgress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if p, ok := r.store.participants[participantID]; ok {
		return &p, nil
	}
	return nil, nil
}

// Participants returns a challenge's participants in join order.
func (r *ChallengeRepository) Participants(ctx context.Context, challengeID string) ([]domain.ParticipantProgress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []domain.ParticipantProgress
	for _, p := range r.store.participants {
		if p.ChallengeID == challengeID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AllParticipants returns every live participant record.
func (r *ChallengeRepository) AllParticipants(ctx context.Context) ([]domain.ParticipantProgress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.ParticipantProgress, 0, len(r.store.participants))
	for _, p := range r.store.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveParticipant persists recomputed progress.
func (r *ChallengeRepository) SaveParticipant(ctx context.Context, p domain.ParticipantProgress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.participants[p.ID] = p
	return nil
}

// MarkGoalCompleted persists the completed participant and records the
// gamification event.
func (r *ChallengeRepository) MarkGoalCompleted(ctx context.Context, p domain.ParticipantProgress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.participants[p.ID] = p
	r.store.recordEvent("challenge.goal_completed", p.ID)
	return nil
}

// AppendEntry appends to the participant's progress ledger.
func (r *ChallengeRepository) AppendEntry(ctx context.Context, entry domain.ProgressEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.entries[entry.ParticipantID] = append(r.store.entries[entry.ParticipantID], entry)
	return nil
}

// EntriesByParticipant returns the participant's full ledger.
func (r *ChallengeRepository) EntriesByParticipant(ctx context.Context, participantID string) ([]domain.ProgressEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	entries := r.store.entries[participantID]
	out := make([]domain.ProgressEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// BattleRepository implements domain.BattleRepository.
type BattleRepository struct {
	store *Store
}

// Create persists a new battle.
func (r *BattleRepository) Create(ctx context.Context, battle domain.Battle) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.battles[battle.ID] = battle
	return nil
}

// Get returns the battle or (nil, nil) when absent.
func (r *BattleRepository) Get(ctx context.Context, battleID string) (*domain.Battle, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if battle, ok := r.store.battles[battleID]; ok {
		return &battle, nil
	}
	return nil, nil
}

// Update persists a non-terminal transition.
func (r *BattleRepository) Update(ctx context.Context, battle domain.Battle) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.battles[battle.ID] = battle
	return nil
}

// Complete persists the terminal record and records the completion event.
func (r *BattleRepository) Complete(ctx context.Context, battle domain.Battle) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.battles[battle.ID] = battle
	r.store.recordEvent("battle.completed", battle.ID)
	return nil
}

// UpsertPerformance replaces the performance row for (battle, user).
func (r *BattleRepository) UpsertPerformance(ctx context.Context, perf domain.BattlePerformance) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rows, ok := r.store.performances[perf.BattleID]
	if !ok {
		rows = make(map[string]domain.BattlePerformance)
		r.store.performances[perf.BattleID] = rows
	}
	rows[perf.UserID] = perf
	return nil
}

// Performances returns the latest row per user for a battle.
func (r *BattleRepository) Performances(ctx context.Context, battleID string) ([]domain.BattlePerformance, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rows := r.store.performances[battleID]
	out := make([]domain.BattlePerformance, 0, len(rows))
	for _, perf := range rows {
		out = append(out, perf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
