package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"example.com/competition/internal/auth"
	"example.com/competition/internal/domain"
	"example.com/competition/internal/notify"
	"example.com/competition/internal/persistence/memory"
	"example.com/competition/internal/realtime"
	"example.com/competition/internal/scheduler"
)

func newTestHandler(t *testing.T) (*Handler, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	fanout := notify.NewFanout(realtime.NewRegistry())
	timers := scheduler.NewBattleTimers()
	t.Cleanup(timers.Stop)

	challenges := domain.NewChallengeService(store.Challenges(), store.Users(), fanout)
	battles := domain.NewBattleService(store.Battles(), store.Users(), fanout, timers, domain.BattleServiceConfig{
		CountdownUnit: time.Millisecond,
	})
	leaderboards := domain.NewLeaderboardService(store.Challenges(), store.Users())
	return NewHandler(challenges, battles, leaderboards), store
}

func authenticated(req *http.Request, userID string, scopes ...string) *http.Request {
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   userID,
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func createChallengeBody() string {
	start := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	end := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	return `{
        "title": "100 push-ups",
        "exercise": "push-up",
        "goal_type": "reps",
        "goal_value": 100,
        "start_date": "` + start + `",
        "end_date": "` + end + `",
        "is_public": true
    }`
}

func TestCreateChallengeSuccess(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/challenges", strings.NewReader(createChallengeBody()))
	req = authenticated(req, "user-1", auth.ScopeCompetitionsWrite)

	rr := httptest.NewRecorder()
	handler.challengeCollection(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ChallengeView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ChallengeID == "" {
		t.Fatal("expected challenge_id")
	}
	if resp.Status != "active" {
		t.Fatalf("expected active status got %s", resp.Status)
	}
	if resp.CreatorID != "user-1" {
		t.Fatalf("unexpected creator %s", resp.CreatorID)
	}
}

func TestCreateChallengeRequiresWriteScope(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/challenges", strings.NewReader(createChallengeBody()))
	req = authenticated(req, "user-1", auth.ScopeCompetitionsRead)

	rr := httptest.NewRecorder()
	handler.challengeCollection(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestCreateChallengeRejectsBadGoalType(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := strings.Replace(createChallengeBody(), `"reps"`, `"steps"`, 1)
	req := httptest.NewRequest(http.MethodPost, "/v1/challenges", strings.NewReader(body))
	req = authenticated(req, "user-1", auth.ScopeCompetitionsWrite)

	rr := httptest.NewRecorder()
	handler.challengeCollection(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestGetChallengeNotFound(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/challenges/missing", nil)
	req = authenticated(req, "user-1", auth.ScopeCompetitionsRead)

	rr := httptest.NewRecorder()
	handler.challengeByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestJoinTwiceConflicts(t *testing.T) {
	handler, _ := newTestHandler(t)

	create := httptest.NewRequest(http.MethodPost, "/v1/challenges", strings.NewReader(createChallengeBody()))
	create = authenticated(create, "user-1", auth.ScopeCompetitionsWrite)
	rr := httptest.NewRecorder()
	handler.challengeCollection(rr, create)
	if rr.Code != http.StatusCreated {
		t.Fatalf("setup create failed: %d", rr.Code)
	}
	var created ChallengeView
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode created challenge: %v", err)
	}

	join := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/challenges/"+created.ChallengeID+"/join", nil)
		req = authenticated(req, "user-2", auth.ScopeCompetitionsWrite)
		rec := httptest.NewRecorder()
		handler.challengeByID(rec, req)
		return rec
	}

	if rec := join(); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := join(); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRecordProgressFlow(t *testing.T) {
	handler, _ := newTestHandler(t)

	create := httptest.NewRequest(http.MethodPost, "/v1/challenges", strings.NewReader(createChallengeBody()))
	create = authenticated(create, "user-1", auth.ScopeCompetitionsWrite)
	rr := httptest.NewRecorder()
	handler.challengeCollection(rr, create)
	var created ChallengeView
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode created challenge: %v", err)
	}

	join := httptest.NewRequest(http.MethodPost, "/v1/challenges/"+created.ChallengeID+"/join", nil)
	join = authenticated(join, "user-2", auth.ScopeCompetitionsWrite)
	joinRec := httptest.NewRecorder()
	handler.challengeByID(joinRec, join)
	var participant ParticipantView
	if err := json.Unmarshal(joinRec.Body.Bytes(), &participant); err != nil {
		t.Fatalf("failed to decode participant: %v", err)
	}

	body := `{"participant_id":"` + participant.ParticipantID + `","value":110}`
	progress := httptest.NewRequest(http.MethodPost, "/v1/progress", strings.NewReader(body))
	progress = authenticated(progress, "user-2", auth.ScopeCompetitionsWrite)
	progressRec := httptest.NewRecorder()
	handler.recordProgress(progressRec, progress)

	if progressRec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", progressRec.Code, progressRec.Body.String())
	}
	var updated ParticipantView
	if err := json.Unmarshal(progressRec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("failed to decode progress response: %v", err)
	}
	if updated.CurrentProgress != 110 {
		t.Fatalf("expected progress 110 got %f", updated.CurrentProgress)
	}
	if !updated.Completed {
		t.Fatal("expected participant to be completed")
	}
}

func TestChallengeLeaderboardEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	create := httptest.NewRequest(http.MethodPost, "/v1/challenges", strings.NewReader(createChallengeBody()))
	create = authenticated(create, "user-1", auth.ScopeCompetitionsWrite)
	rr := httptest.NewRecorder()
	handler.challengeCollection(rr, create)
	var created ChallengeView
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode created challenge: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/challenges/"+created.ChallengeID+"/leaderboard", nil)
	req = authenticated(req, "user-1", auth.ScopeCompetitionsRead)
	rec := httptest.NewRecorder()
	handler.challengeByID(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ChallengeLeaderboardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode leaderboard: %v", err)
	}
	if len(resp.Entries) != 1 {
		t.Fatalf("expected 1 entry got %d", len(resp.Entries))
	}
	if resp.Entries[0].UserID != "user-1" || resp.Entries[0].Rank != 1 {
		t.Fatalf("unexpected top entry %+v", resp.Entries[0])
	}
}

func TestBattleLifecycleEndpoints(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := `{"opponent_id":"user-2","exercise_type":"push-up","duration_sec":600}`
	create := httptest.NewRequest(http.MethodPost, "/v1/battles", strings.NewReader(body))
	create = authenticated(create, "user-1", auth.ScopeCompetitionsWrite)
	rr := httptest.NewRecorder()
	handler.battleCollection(rr, create)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
	var battle BattleView
	if err := json.Unmarshal(rr.Body.Bytes(), &battle); err != nil {
		t.Fatalf("failed to decode battle: %v", err)
	}
	if battle.Status != "pending" {
		t.Fatalf("expected pending got %s", battle.Status)
	}

	// Submitting reps before the battle starts conflicts.
	reps := httptest.NewRequest(http.MethodPost, "/v1/battles/"+battle.BattleID+"/reps", strings.NewReader(`{"reps":5}`))
	reps = authenticated(reps, "user-1", auth.ScopeCompetitionsWrite)
	repsRec := httptest.NewRecorder()
	handler.battleByID(repsRec, reps)
	if repsRec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d: %s", repsRec.Code, repsRec.Body.String())
	}

	// A third party cannot accept.
	intruder := httptest.NewRequest(http.MethodPost, "/v1/battles/"+battle.BattleID+"/accept", nil)
	intruder = authenticated(intruder, "user-3", auth.ScopeCompetitionsWrite)
	intruderRec := httptest.NewRecorder()
	handler.battleByID(intruderRec, intruder)
	if intruderRec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", intruderRec.Code)
	}

	accept := httptest.NewRequest(http.MethodPost, "/v1/battles/"+battle.BattleID+"/accept", nil)
	accept = authenticated(accept, "user-2", auth.ScopeCompetitionsWrite)
	acceptRec := httptest.NewRecorder()
	handler.battleByID(acceptRec, accept)
	if acceptRec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", acceptRec.Code, acceptRec.Body.String())
	}
	var accepted BattleView
	if err := json.Unmarshal(acceptRec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("failed to decode accepted battle: %v", err)
	}
	if accepted.Status != "in_progress" || accepted.StartedAt == nil {
		t.Fatalf("unexpected accepted battle %+v", accepted)
	}

	reps = httptest.NewRequest(http.MethodPost, "/v1/battles/"+battle.BattleID+"/reps", strings.NewReader(`{"reps":12}`))
	reps = authenticated(reps, "user-1", auth.ScopeCompetitionsWrite)
	repsRec = httptest.NewRecorder()
	handler.battleByID(repsRec, reps)
	if repsRec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", repsRec.Code, repsRec.Body.String())
	}
	var perf PerformanceView
	if err := json.Unmarshal(repsRec.Body.Bytes(), &perf); err != nil {
		t.Fatalf("failed to decode performance: %v", err)
	}
	if perf.Reps != 12 || perf.UserID != "user-1" {
		t.Fatalf("unexpected performance %+v", perf)
	}

	cancel := httptest.NewRequest(http.MethodPost, "/v1/battles/"+battle.BattleID+"/cancel", nil)
	cancel = authenticated(cancel, "user-2", auth.ScopeCompetitionsWrite)
	cancelRec := httptest.NewRecorder()
	handler.battleByID(cancelRec, cancel)
	if cancelRec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", cancelRec.Code, cancelRec.Body.String())
	}
}

func TestGlobalLeaderboardEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	create := httptest.NewRequest(http.MethodPost, "/v1/challenges", strings.NewReader(createChallengeBody()))
	create = authenticated(create, "user-1", auth.ScopeCompetitionsWrite)
	rr := httptest.NewRecorder()
	handler.challengeCollection(rr, create)

	req := httptest.NewRequest(http.MethodGet, "/v1/leaderboard", nil)
	req = authenticated(req, "user-1", auth.ScopeCompetitionsRead)
	rec := httptest.NewRecorder()
	handler.globalLeaderboard(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp GlobalLeaderboardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode leaderboard: %v", err)
	}
	if len(resp.Entries) != 1 {
		t.Fatalf("expected 1 entry got %d", len(resp.Entries))
	}
	if resp.Entries[0].Points != 10 {
		t.Fatalf("expected 10 points for a bare join, got %d", resp.Entries[0].Points)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/challenges", nil)
	rr := httptest.NewRecorder()
	handler.challengeCollection(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestListChallengesPagination(t *testing.T) {
	handler, _ := newTestHandler(t)

	for i := 0; i < 3; i++ {
		create := httptest.NewRequest(http.MethodPost, "/v1/challenges", strings.NewReader(createChallengeBody()))
		create = authenticated(create, "user-1", auth.ScopeCompetitionsWrite)
		rec := httptest.NewRecorder()
		handler.challengeCollection(rec, create)
		if rec.Code != http.StatusCreated {
			t.Fatalf("setup create %d failed: %d", i, rec.Code)
		}
	}

	list := httptest.NewRequest(http.MethodGet, "/v1/challenges?limit=2", nil)
	list = authenticated(list, "user-1", auth.ScopeCompetitionsRead)
	rec := httptest.NewRecorder()
	handler.challengeCollection(rec, list)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var page ListChallengesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode page: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	next := httptest.NewRequest(http.MethodGet, "/v1/challenges?limit=2&cursor="+url.QueryEscape(page.NextCursor), nil)
	next = authenticated(next, "user-1", auth.ScopeCompetitionsRead)
	nextRec := httptest.NewRecorder()
	handler.challengeCollection(nextRec, next)

	var second ListChallengesResponse
	if err := json.Unmarshal(nextRec.Body.Bytes(), &second); err != nil {
		t.Fatalf("failed to decode second page: %v", err)
	}
	if len(second.Items) != 1 {
		t.Fatalf("expected 1 item on second page got %d", len(second.Items))
	}
}
