package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/competition/internal/domain"
	"example.com/competition/internal/realtime"
)

type captureConn struct {
	mu       sync.Mutex
	messages []realtime.Message
}

func (c *captureConn) Send(msg realtime.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *captureConn) Close() error { return nil }

func (c *captureConn) received() []realtime.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]realtime.Message(nil), c.messages...)
}

func connectedFanout(userIDs ...string) (*Fanout, map[string]*captureConn) {
	registry := realtime.NewRegistry()
	conns := make(map[string]*captureConn, len(userIDs))
	for _, id := range userIDs {
		conn := &captureConn{}
		registry.Register(id, conn)
		conns[id] = conn
	}
	return NewFanout(registry), conns
}

func TestBattleCompletedPersonalisesWinnerFlag(t *testing.T) {
	fanout, conns := connectedFanout("user-1", "user-2")

	now := time.Now().UTC()
	battle := domain.Battle{
		ID:          "battle-1",
		CreatorID:   "user-1",
		OpponentID:  "user-2",
		Status:      domain.BattleCompleted,
		WinnerID:    "user-2",
		CompletedAt: &now,
	}
	perfs := []domain.BattlePerformance{
		{BattleID: "battle-1", UserID: "user-1", Reps: 18},
		{BattleID: "battle-1", UserID: "user-2", Reps: 25},
	}

	fanout.BattleCompleted(battle, perfs)

	loserMsgs := conns["user-1"].received()
	require.Len(t, loserMsgs, 1)
	loserData, ok := loserMsgs[0].Data.(BattleCompletedData)
	require.True(t, ok)
	require.False(t, loserData.IsWinner)
	require.Equal(t, "user-2", loserData.WinnerID)
	require.Len(t, loserData.Performances, 2)

	winnerMsgs := conns["user-2"].received()
	require.Len(t, winnerMsgs, 1)
	winnerData, ok := winnerMsgs[0].Data.(BattleCompletedData)
	require.True(t, ok)
	require.True(t, winnerData.IsWinner)
}

func TestBattleCompletedNoWinnerNobodyWins(t *testing.T) {
	fanout, conns := connectedFanout("user-1", "user-2")

	battle := domain.Battle{
		ID:         "battle-1",
		CreatorID:  "user-1",
		OpponentID: "user-2",
		Status:     domain.BattleCompleted,
	}

	fanout.BattleCompleted(battle, nil)

	for userID, conn := range conns {
		msgs := conn.received()
		require.Len(t, msgs, 1, userID)
		data, ok := msgs[0].Data.(BattleCompletedData)
		require.True(t, ok)
		require.False(t, data.IsWinner, userID)
		require.Empty(t, data.WinnerID, userID)
	}
}

func TestCountdownGoCarriesStartTime(t *testing.T) {
	fanout, conns := connectedFanout("user-1", "user-2")

	battle := domain.Battle{ID: "battle-1", CreatorID: "user-1", OpponentID: "user-2"}

	fanout.BattleCountdown(battle, 3, nil)
	start := time.Now().UTC()
	fanout.BattleCountdown(battle, 0, &start)

	msgs := conns["user-2"].received()
	require.Len(t, msgs, 2)

	first, ok := msgs[0].Data.(CountdownData)
	require.True(t, ok)
	require.Equal(t, 3, first.Countdown)
	require.False(t, first.Go)
	require.Nil(t, first.StartTime)

	last, ok := msgs[1].Data.(CountdownData)
	require.True(t, ok)
	require.Zero(t, last.Countdown)
	require.True(t, last.Go)
	require.NotNil(t, last.StartTime)
}

func TestBattleInvitationSkipsOpenChallenges(t *testing.T) {
	fanout, conns := connectedFanout("user-1", "user-2")

	fanout.BattleInvitation(domain.Battle{ID: "battle-1", CreatorID: "user-1"})
	require.Empty(t, conns["user-2"].received())

	fanout.BattleInvitation(domain.Battle{ID: "battle-1", CreatorID: "user-1", OpponentID: "user-2"})
	msgs := conns["user-2"].received()
	require.Len(t, msgs, 1)
	require.Equal(t, realtime.TypeBattleInvitation, msgs[0].Type)
	require.Equal(t, "user-1", msgs[0].SenderID)
}

func TestChallengeProgressReachesOnlyRecipients(t *testing.T) {
	fanout, conns := connectedFanout("user-1", "user-2", "user-3")

	challenge := domain.Challenge{ID: "ch-1", GoalValue: 100}
	progress := domain.ParticipantProgress{ChallengeID: "ch-1", UserID: "user-1", CurrentProgress: 40}

	fanout.ChallengeProgress(challenge, progress, []string{"user-2"})

	require.Empty(t, conns["user-1"].received())
	require.Empty(t, conns["user-3"].received())

	msgs := conns["user-2"].received()
	require.Len(t, msgs, 1)
	data, ok := msgs[0].Data.(ChallengeProgressData)
	require.True(t, ok)
	require.Equal(t, 40.0, data.CurrentProgress)
	require.Equal(t, 100.0, data.GoalValue)
}
