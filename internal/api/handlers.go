// Package api exposes HTTP handlers for the competition service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/competition/internal/auth"
	"example.com/competition/internal/domain"
	"example.com/competition/internal/persistence"
)

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	challenges   *domain.ChallengeService
	battles      *domain.BattleService
	leaderboards *domain.LeaderboardService
}

// NewHandler builds a Handler.
func NewHandler(challenges *domain.ChallengeService, battles *domain.BattleService, leaderboards *domain.LeaderboardService) *Handler {
	return &Handler{challenges: challenges, battles: battles, leaderboards: leaderboards}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/challenges", h.challengeCollection)
	mux.HandleFunc("/v1/challenges/", h.challengeByID)
	mux.HandleFunc("/v1/progress", h.recordProgress)
	mux.HandleFunc("/v1/leaderboard", h.globalLeaderboard)
	mux.HandleFunc("/v1/battles", h.battleCollection)
	mux.HandleFunc("/v1/battles/quick", h.createQuickChallenge)
	mux.HandleFunc("/v1/battles/", h.battleByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) challengeCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createChallenge(w, r)
	case http.MethodGet:
		h.listChallenges(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) challengeByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/challenges/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing challenge id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getChallenge(w, r, id)
	case action == "join" && r.Method == http.MethodPost:
		h.joinChallenge(w, r, id)
	case action == "leave" && r.Method == http.MethodPost:
		h.leaveChallenge(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		h.cancelChallenge(w, r, id)
	case action == "leaderboard" && r.Method == http.MethodGet:
		h.challengeLeaderboard(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) battleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createBattle(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) battleByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/battles/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing battle id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getBattle(w, r, id)
	case action == "accept" && r.Method == http.MethodPost:
		h.acceptBattle(w, r, id)
	case action == "decline" && r.Method == http.MethodPost:
		h.declineBattle(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		h.cancelBattle(w, r, id)
	case action == "reps" && r.Method == http.MethodPost:
		h.submitReps(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createChallenge(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeCompetitionsWrite)
	if !ok {
		return
	}

	var req CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	challenge, err := h.challenges.CreateChallenge(r.Context(), domain.CreateChallengeInput{
		CreatorID: claims.Subject,
		Title:     req.Title,
		Exercise:  req.Exercise,
		GoalType:  domain.GoalType(req.GoalType),
		GoalValue: req.GoalValue,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		IsPublic:  req.IsPublic,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChallengeView(*challenge))
}

func (h *Handler) listChallenges(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeCompetitionsRead, auth.ScopeCompetitionsWrite); !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	challenges, next, err := h.challenges.ListChallenges(r.Context(), cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ChallengeView, 0, len(challenges))
	for _, c := range challenges {
		items = append(items, toChallengeView(c))
	}
	writeJSON(w, http.StatusOK, ListChallengesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) getChallenge(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := requireScope(w, r, auth.ScopeCompetitionsRead, auth.ScopeCompetitionsWrite); !ok {
		return
	}

	challenge, err := h.challenges.GetChallenge(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeView(*challenge))
}

func (h *Handler) joinChallenge(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeCompetitionsWrite)
	if !ok {
		return
	}

	participant, err := h.challenges.JoinChallenge(r.Context(), claims.Subject, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toParticipantView(*participant))
}

func (h *Handler) leaveChallenge(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeCompetitionsWrite)
	if !ok {
		return
	}

	if err := h.challenges.LeaveChallenge(r.Context(), claims.Subject, id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelChallenge(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeCompetitionsWrite)
	if !ok {
		return
	}

	challenge, err := h.challenges.CancelChallenge(r.Context(), claims.Subject, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChallengeView(*challenge))
}

func (h *Handler) challengeLeaderboard(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeCompetitionsRead, auth.ScopeCompetitionsWrite)
	if !ok {
		return
	}

	entries, err := h.leaderboards.ChallengeLeaderboard(r.Context(), id, claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]LeaderboardEntryView, 0, len(entries))
	for i, e := range entries {
		items = append(items, LeaderboardEntryView{
			Rank:        i + 1,
			UserID:      e.UserID,
			DisplayName: e.DisplayName,
			Progress:    e.Progress,
			Completed:   e.Completed,
			IsFriend:    e.IsFriend,
		})
	}
	writeJSON(w, http.StatusOK, ChallengeLeaderboardResponse{ChallengeID: id, Entries: items})
}

func (h *Handler) recordProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeCompetitionsWrite); !ok {
		return
	}

	var req RecordProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.ParticipantID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "participant_id is required")
		return
	}

	participant, err := h.challenges.RecordProgress(r.Context(), domain.RecordProgressInput{
		ParticipantID: req.ParticipantID,
		Value:         req.Value,
		Note:          req.Note,
		ProofRef:      req.ProofRef,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantView(*participant))
}

func (h *Handler) globalLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := requireScope(w, r, auth.ScopeCompetitionsRead, auth.ScopeCompetitionsWrite); !ok {
		return
	}

	entries, err := h.leaderboards.GlobalLeaderboard(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]GlobalLeaderboardEntryView, 0, len(entries))
	for _, e := range entries {
		items = append(items, GlobalLeaderboardEntryView{
			Rank:        e.Rank,
			UserID:      e.UserID,
			DisplayName: e.DisplayName,
			Points:      e.Points,
		})
	}
	writeJSON(w, http.StatusOK, GlobalLeaderboardResponse{Entries: items})
}

func (h *Handler) createBattle(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeCompetitionsWrite)
	if !ok {
		return
	}

	var req CreateBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	battle, err := h.battles.CreateBattle(r.Context(), domain.CreateBattleInput{
		CreatorID:    claims.Subject,
		OpponentID:   req.OpponentID,
		ExerciseType: req.ExerciseType,
		DurationSec:  req.DurationSec,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBattleView(*battle))
}

func (h *Handler) createQuickChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopeCompetitionsWrite)
	if !ok {
		return
	}

	var req CreateQuickChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	battle, err := h.battles.CreateQuickChallenge(r.Context(), claims.Subject, req.ExerciseType, req.DurationSec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBattleView(*battle))
}

func (h *Handler) getBattle(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := requireScope(w, r, auth.ScopeCompetitionsRead, auth.ScopeCompetitionsWrite); !ok {
		return
	}

	battle, err := h.battles.GetBattle(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBattleView(*battle))
}

func (h *Handler) acceptBattle(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeCompetitionsWrite)
	if !ok {
		return
	}

	battle, err := h.battles.AcceptBattle(r.Context(), id, claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBattleView(*battle))
}

func (h *Handler) declineBattle(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeCompetitionsWrite)
	if !ok {
		return
	}

	battle, err := h.battles.DeclineBattle(r.Context(), id, claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBattleView(*battle))
}

func (h *Handler) cancelBattle(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeCompetitionsWrite)
	if !ok {
		return
	}

	battle, err := h.battles.CancelBattle(r.Context(), id, claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBattleView(*battle))
}

func (h *Handler) submitReps(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeCompetitionsWrite)
	if !ok {
		return
	}

	var req SubmitRepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	perf, err := h.battles.SubmitReps(r.Context(), id, claims.Subject, req.Reps)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PerformanceView{
		BattleID:    perf.BattleID,
		UserID:      perf.UserID,
		Reps:        perf.Reps,
		SubmittedAt: perf.SubmittedAt,
	})
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

// CreateChallengeRequest is the payload for POST /v1/challenges.
type CreateChallengeRequest struct {
	Title     string    `json:"title"`
	Exercise  string    `json:"exercise"`
	GoalType  string    `json:"goal_type"`
	GoalValue float64   `json:"goal_value"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsPublic  bool      `json:"is_public"`
}

// Validate ensures request correctness.
func (r CreateChallengeRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(r.Exercise) == "" {
		return errors.New("exercise is required")
	}
	if strings.TrimSpace(r.GoalType) == "" {
		return errors.New("goal_type is required")
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return errors.New("start_date and end_date are required")
	}
	return nil
}

// RecordProgressRequest is the payload for POST /v1/progress.
type RecordProgressRequest struct {
	ParticipantID string  `json:"participant_id"`
	Value         float64 `json:"value"`
	Note          string  `json:"note,omitempty"`
	ProofRef      string  `json:"proof_ref,omitempty"`
}

// CreateBattleRequest is the payload for POST /v1/battles.
type CreateBattleRequest struct {
	OpponentID   string `json:"opponent_id"`
	ExerciseType string `json:"exercise_type"`
	DurationSec  int    `json:"duration_sec"`
}

// CreateQuickChallengeRequest is the payload for POST /v1/battles/quick.
type CreateQuickChallengeRequest struct {
	ExerciseType string `json:"exercise_type"`
	DurationSec  int    `json:"duration_sec"`
}

// SubmitRepsRequest is the payload for POST /v1/battles/{id}/reps.
type SubmitRepsRequest struct {
	Reps int `json:"reps"`
}

// ChallengeView exposes full details about a challenge.
type ChallengeView struct {
	ChallengeID string    `json:"challenge_id"`
	CreatorID   string    `json:"creator_id"`
	Title       string    `json:"title"`
	Exercise    string    `json:"exercise"`
	GoalType    string    `json:"goal_type"`
	GoalValue   float64   `json:"goal_value"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Status      string    `json:"status"`
	IsPublic    bool      `json:"is_public"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ParticipantView exposes a participant's live progress.
type ParticipantView struct {
	ParticipantID   string     `json:"participant_id"`
	ChallengeID     string     `json:"challenge_id"`
	UserID          string     `json:"user_id"`
	JoinedAt        time.Time  `json:"joined_at"`
	CurrentProgress float64    `json:"current_progress"`
	Completed       bool       `json:"completed"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// BattleView exposes full details about a battle.
type BattleView struct {
	BattleID         string     `json:"battle_id"`
	CreatorID        string     `json:"creator_id"`
	OpponentID       string     `json:"opponent_id,omitempty"`
	ExerciseType     string     `json:"exercise_type"`
	DurationSec      int        `json:"duration_sec"`
	IsQuickChallenge bool       `json:"is_quick_challenge"`
	Status           string     `json:"status"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	WinnerID         string     `json:"winner_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// PerformanceView exposes a participant's latest rep count.
type PerformanceView struct {
	BattleID    string    `json:"battle_id"`
	UserID      string    `json:"user_id"`
	Reps        int       `json:"reps"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// LeaderboardEntryView is one row of a per-challenge leaderboard response.
type LeaderboardEntryView struct {
	Rank        int     `json:"rank"`
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name,omitempty"`
	Progress    float64 `json:"progress"`
	Completed   bool    `json:"completed"`
	IsFriend    bool    `json:"is_friend"`
}

// ChallengeLeaderboardResponse packages a per-challenge leaderboard.
type ChallengeLeaderboardResponse struct {
	ChallengeID string                 `json:"challenge_id"`
	Entries     []LeaderboardEntryView `json:"entries"`
}

// GlobalLeaderboardEntryView is one row of the global points ranking.
type GlobalLeaderboardEntryView struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Points      int    `json:"points"`
}

// GlobalLeaderboardResponse packages the global leaderboard.
type GlobalLeaderboardResponse struct {
	Entries []GlobalLeaderboardEntryView `json:"entries"`
}

// ListChallengesResponse packages list results.
type ListChallengesResponse struct {
	Items      []ChallengeView `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func toChallengeView(c domain.Challenge) ChallengeView {
	return ChallengeView{
		ChallengeID: c.ID,
		CreatorID:   c.CreatorID,
		Title:       c.Title,
		Exercise:    c.Exercise,
		GoalType:    string(c.GoalType),
		GoalValue:   c.GoalValue,
		StartDate:   c.StartDate,
		EndDate:     c.EndDate,
		Status:      string(c.Status),
		IsPublic:    c.IsPublic,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func toParticipantView(p domain.ParticipantProgress) ParticipantView {
	return ParticipantView{
		ParticipantID:   p.ID,
		ChallengeID:     p.ChallengeID,
		UserID:          p.UserID,
		JoinedAt:        p.JoinedAt,
		CurrentProgress: p.CurrentProgress,
		Completed:       p.Completed,
		CompletedAt:     p.CompletedAt,
	}
}

func toBattleView(b domain.Battle) BattleView {
	return BattleView{
		BattleID:         b.ID,
		CreatorID:        b.CreatorID,
		OpponentID:       b.OpponentID,
		ExerciseType:     b.ExerciseType,
		DurationSec:      b.DurationSec,
		IsQuickChallenge: b.IsQuickChallenge,
		Status:           string(b.Status),
		StartedAt:        b.StartedAt,
		CompletedAt:      b.CompletedAt,
		WinnerID:         b.WinnerID,
		CreatedAt:        b.CreatedAt,
	}
}

// writeDomainError maps domain sentinel errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrAlreadyParticipating),
		errors.Is(err, domain.ErrNotParticipating),
		errors.Is(err, domain.ErrChallengeClosed),
		errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
