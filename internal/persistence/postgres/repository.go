// Package postgres provides pgx-backed persistence for users, challenges,
// battles, performances, and the event outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/competition/internal/domain"
)

// UserRepository reads user profiles.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Get returns the user with their connection set, or (nil, nil) on a miss.
func (r *UserRepository) Get(ctx context.Context, userID string) (*domain.User, error) {
	const query = `SELECT user_id, display_name, latitude, longitude FROM users WHERE user_id=$1`

	var user domain.User
	row := r.pool.QueryRow(ctx, query, userID)
	if err := row.Scan(&user.ID, &user.DisplayName, &user.Latitude, &user.Longitude); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	const connQuery = `SELECT connected_user_id FROM user_connections WHERE user_id=$1 AND status='accepted'`
	rows, err := r.pool.Query(ctx, connQuery, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		user.Connections = append(user.Connections, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &user, nil
}

// ChallengeRepository persists challenges, participants, and the progress
// ledger.
type ChallengeRepository struct {
	pool *pgxpool.Pool
}

// NewChallengeRepository constructs a ChallengeRepository.
func NewChallengeRepository(pool *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{pool: pool}
}

const challengeColumns = `challenge_id, creator_id, title, exercise, goal_type, goal_value, start_date, end_date, status, is_public, created_at, updated_at`

func scanChallenge(row pgx.Row) (*domain.Challenge, error) {
	var c domain.Challenge
	err := row.Scan(&c.ID, &c.CreatorID, &c.Title, &c.Exercise, &c.GoalType, &c.GoalValue,
		&c.StartDate, &c.EndDate, &c.Status, &c.IsPublic, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create persists the challenge and the auto-enrolled creator in one
// transaction.
func (r *ChallengeRepository) Create(ctx context.Context, challenge domain.Challenge, creator domain.ParticipantProgress) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insertChallenge = `INSERT INTO challenges (` + challengeColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	if _, err := tx.Exec(ctx, insertChallenge,
		challenge.ID, challenge.CreatorID, challenge.Title, challenge.Exercise,
		challenge.GoalType, challenge.GoalValue, challenge.StartDate, challenge.EndDate,
		challenge.Status, challenge.IsPublic, challenge.CreatedAt, challenge.UpdatedAt,
	); err != nil {
		return err
	}

	const insertParticipant = `INSERT INTO challenge_participants (participant_id, challenge_id, user_id, joined_at, current_progress, completed)
        VALUES ($1,$2,$3,$4,0,false)`
	if _, err := tx.Exec(ctx, insertParticipant, creator.ID, creator.ChallengeID, creator.UserID, creator.JoinedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Get retrieves a challenge by id, (nil, nil) on a miss.
func (r *ChallengeRepository) Get(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	const query = `SELECT ` + challengeColumns + ` FROM challenges WHERE challenge_id=$1`
	challenge, err := scanChallenge(r.pool.QueryRow(ctx, query, challengeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return challenge, err
}

// List returns public challenges newest first with cursor pagination.
func (r *ChallengeRepository) List(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.Challenge, *domain.Cursor, error) {
	args := []interface{}{limit}
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE is_public`
	if cursor != nil {
		query += ` AND (created_at, challenge_id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, challenge_id DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Challenge, 0, limit)
	for rows.Next() {
		challenge, err := scanChallenge(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *challenge)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// ListExpired returns active challenges whose end date has passed.
func (r *ChallengeRepository) ListExpired(ctx context.Context, asOf time.Time) ([]domain.Challenge, error) {
	const query = `SELECT ` + challengeColumns + ` FROM challenges WHERE status='active' AND end_date < $1 ORDER BY challenge_id`

	rows, err := r.pool.Query(ctx, query, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Challenge
	for rows.Next() {
		challenge, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *challenge)
	}
	return results, rows.Err()
}

// UpdateStatus transitions the challenge and records the status event in the
// outbox within one transaction.
func (r *ChallengeRepository) UpdateStatus(ctx context.Context, challengeID string, status domain.ChallengeStatus) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE challenges SET status=$2, updated_at=NOW() WHERE challenge_id=$1`, challengeID, status); err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, "challenge", challengeID, "challenge.status_changed", map[string]any{
		"challenge_id": challengeID,
		"status":       string(status),
		"occurred_at":  time.Now().UTC(),
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AddParticipant enrolls a user.
func (r *ChallengeRepository) AddParticipant(ctx context.Context, p domain.ParticipantProgress) error {
	const stmt = `INSERT INTO challenge_participants (participant_id, challenge_id, user_id, joined_at, current_progress, completed)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.pool.Exec(ctx, stmt, p.ID, p.ChallengeID, p.UserID, p.JoinedAt, p.CurrentProgress, p.Completed)
	return err
}

// RemoveParticipant deletes the live participant record only; ledger rows
// keep their participant id.
func (r *ChallengeRepository) RemoveParticipant(ctx context.Context, challengeID, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM challenge_participants WHERE challenge_id=$1 AND user_id=$2`, challengeID, userID)
	return err
}

const participantColumns = `participant_id, challenge_id, user_id, joined_at, current_progress, completed, completed_at`

func scanParticipant(row pgx.Row) (*domain.ParticipantProgress, error) {
	var p domain.ParticipantProgress
	err := row.Scan(&p.ID, &p.ChallengeID, &p.UserID, &p.JoinedAt, &p.CurrentProgress, &p.Completed, &p.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetParticipant looks a participant up by challenge and user.
func (r *ChallengeRepository) GetParticipant(ctx context.Context, challengeID, userID string) (*domain.ParticipantProgress, error) {
	const query = `SELECT ` + participantColumns + ` FROM challenge_participants WHERE challenge_id=$1 AND user_id=$2`
	p, err := scanParticipant(r.pool.QueryRow(ctx, query, challengeID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetParticipantByID looks a participant up by id.
func (r *ChallengeRepository) GetParticipantByID(ctx context.Context, participantID string) (*domain.ParticipantProgress, error) {
	const query = `SELECT ` + participantColumns + ` FROM challenge_participants WHERE participant_id=$1`
	p, err := scanParticipant(r.pool.QueryRow(ctx, query, participantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// Participants returns a challenge's participants in join order.
func (r *ChallengeRepository) Participants(ctx context.Context, challengeID string) ([]domain.ParticipantProgress, error) {
	const query = `SELECT ` + participantColumns + ` FROM challenge_participants WHERE challenge_id=$1 ORDER BY joined_at, participant_id`
	return r.queryParticipants(ctx, query, challengeID)
}

// AllParticipants returns every live participant record.
func (r *ChallengeRepository) AllParticipants(ctx context.Context) ([]domain.ParticipantProgress, error) {
	const query = `SELECT ` + participantColumns + ` FROM challenge_participants ORDER BY participant_id`
	return r.queryParticipants(ctx, query)
}

func (r *ChallengeRepository) queryParticipants(ctx context.Context, query string, args ...interface{}) ([]domain.ParticipantProgress, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ParticipantProgress
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *p)
	}
	return results, rows.Err()
}

// SaveParticipant persists recomputed progress.
func (r *ChallengeRepository) SaveParticipant(ctx context.Context, p domain.ParticipantProgress) error {
	const stmt = `UPDATE challenge_participants SET current_progress=$2, completed=$3, completed_at=$4 WHERE participant_id=$1`
	_, err := r.pool.Exec(ctx, stmt, p.ID, p.CurrentProgress, p.Completed, p.CompletedAt)
	return err
}

// MarkGoalCompleted persists the completed participant and records the
// goal-completion event for the gamification pipeline in one transaction.
func (r *ChallengeRepository) MarkGoalCompleted(ctx context.Context, p domain.ParticipantProgress) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const stmt = `UPDATE challenge_participants SET current_progress=$2, completed=$3, completed_at=$4 WHERE participant_id=$1`
	if _, err := tx.Exec(ctx, stmt, p.ID, p.CurrentProgress, p.Completed, p.CompletedAt); err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, "challenge_participant", p.ID, "challenge.goal_completed", map[string]any{
		"participant_id": p.ID,
		"challenge_id":   p.ChallengeID,
		"user_id":        p.UserID,
		"progress":       p.CurrentProgress,
		"completed_at":   p.CompletedAt,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AppendEntry appends one immutable ledger row.
func (r *ChallengeRepository) AppendEntry(ctx context.Context, entry domain.ProgressEntry) error {
	const stmt = `INSERT INTO progress_entries (entry_id, participant_id, value, note, proof_ref, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.pool.Exec(ctx, stmt, entry.ID, entry.ParticipantID, entry.Value,
		nullIfEmpty(entry.Note), nullIfEmpty(entry.ProofRef), entry.CreatedAt)
	return err
}

// EntriesByParticipant returns the participant's full ledger, oldest first.
func (r *ChallengeRepository) EntriesByParticipant(ctx context.Context, participantID string) ([]domain.ProgressEntry, error) {
	const query = `SELECT entry_id, participant_id, value, COALESCE(note,''), COALESCE(proof_ref,''), created_at
        FROM progress_entries WHERE participant_id=$1 ORDER BY created_at, entry_id`

	rows, err := r.pool.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ProgressEntry
	for rows.Next() {
		var e domain.ProgressEntry
		if err := rows.Scan(&e.ID, &e.ParticipantID, &e.Value, &e.Note, &e.ProofRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// BattleRepository persists battles and live performances.
type BattleRepository struct {
	pool *pgxpool.Pool
}

// NewBattleRepository constructs a BattleRepository.
func NewBattleRepository(pool *pgxpool.Pool) *BattleRepository {
	return &BattleRepository{pool: pool}
}

const battleColumns = `battle_id, creator_id, COALESCE(opponent_id,''), exercise_type, duration_sec, is_quick_challenge, status, started_at, completed_at, COALESCE(winner_id,''), created_at`

func scanBattle(row pgx.Row) (*domain.Battle, error) {
	var b domain.Battle
	err := row.Scan(&b.ID, &b.CreatorID, &b.OpponentID, &b.ExerciseType, &b.DurationSec,
		&b.IsQuickChallenge, &b.Status, &b.StartedAt, &b.CompletedAt, &b.WinnerID, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create persists a new battle.
func (r *BattleRepository) Create(ctx context.Context, battle domain.Battle) error {
	const stmt = `INSERT INTO battles (battle_id, creator_id, opponent_id, exercise_type, duration_sec, is_quick_challenge, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.pool.Exec(ctx, stmt, battle.ID, battle.CreatorID, nullIfEmpty(battle.OpponentID),
		battle.ExerciseType, battle.DurationSec, battle.IsQuickChallenge, battle.Status, battle.CreatedAt)
	return err
}

// Get retrieves a battle by id, (nil, nil) on a miss.
func (r *BattleRepository) Get(ctx context.Context, battleID string) (*domain.Battle, error) {
	const query = `SELECT ` + battleColumns + ` FROM battles WHERE battle_id=$1`
	battle, err := scanBattle(r.pool.QueryRow(ctx, query, battleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return battle, err
}

// Update persists a non-terminal transition.
func (r *BattleRepository) Update(ctx context.Context, battle domain.Battle) error {
	const stmt = `UPDATE battles SET opponent_id=$2, status=$3, started_at=$4 WHERE battle_id=$1`
	_, err := r.pool.Exec(ctx, stmt, battle.ID, nullIfEmpty(battle.OpponentID), battle.Status, battle.StartedAt)
	return err
}

// Complete persists the terminal record and the battle-completed outbox
// event in one transaction.
func (r *BattleRepository) Complete(ctx context.Context, battle domain.Battle) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const stmt = `UPDATE battles SET status=$2, completed_at=$3, winner_id=$4 WHERE battle_id=$1`
	if _, err := tx.Exec(ctx, stmt, battle.ID, battle.Status, battle.CompletedAt, nullIfEmpty(battle.WinnerID)); err != nil {
		return err
	}

	if err := insertOutbox(ctx, tx, "battle", battle.ID, "battle.completed", map[string]any{
		"battle_id":    battle.ID,
		"creator_id":   battle.CreatorID,
		"opponent_id":  battle.OpponentID,
		"winner_id":    battle.WinnerID,
		"completed_at": battle.CompletedAt,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpsertPerformance replaces the performance row for (battle, user); later
// submissions overwrite, never duplicate.
func (r *BattleRepository) UpsertPerformance(ctx context.Context, perf domain.BattlePerformance) error {
	const stmt = `INSERT INTO battle_performances (battle_id, user_id, reps, submitted_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (battle_id, user_id) DO UPDATE SET reps=EXCLUDED.reps, submitted_at=EXCLUDED.submitted_at`
	_, err := r.pool.Exec(ctx, stmt, perf.BattleID, perf.UserID, perf.Reps, perf.SubmittedAt)
	return err
}

// Performances returns the latest row per user for a battle.
func (r *BattleRepository) Performances(ctx context.Context, battleID string) ([]domain.BattlePerformance, error) {
	const query = `SELECT battle_id, user_id, reps, submitted_at FROM battle_performances WHERE battle_id=$1 ORDER BY user_id`

	rows, err := r.pool.Query(ctx, query, battleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.BattlePerformance
	for rows.Next() {
		var p domain.BattlePerformance
		if err := rows.Scan(&p.BattleID, &p.UserID, &p.Reps, &p.SubmittedAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic        string
	PartitionKey func(aggregateID string) string
}

var eventCatalog = map[string]EventMetadata{
	"challenge.goal_completed": {
		Topic:        "competition_events",
		PartitionKey: func(id string) string { return id },
	},
	"challenge.status_changed": {
		Topic:        "competition_events",
		PartitionKey: func(id string) string { return id },
	},
	"battle.completed": {
		Topic:        "competition_events",
		PartitionKey: func(id string) string { return id },
	},
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", aggregateID, eventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (dedupe_key) DO NOTHING`
	_, err = tx.Exec(ctx, stmt, aggregateType, aggregateID, eventType, meta.Topic, meta.PartitionKey(aggregateID), body, dedupeKey)
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
