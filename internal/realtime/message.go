// Package realtime tracks currently connected users and their live channel.
package realtime

// SystemSender is the sender id used for engine-originated messages.
const SystemSender = ""

// Message is the wire envelope pushed to connected clients. Type
// discriminates countdown, rep-update, invitation, status-change, and
// completion payloads.
type Message struct {
	Type       string `json:"type"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Data       any    `json:"data"`
}

// Message types understood by clients.
const (
	TypeChallengeProgress  = "challenge_progress"
	TypeChallengeCompleted = "challenge_completed"
	TypeChallengeStatus    = "challenge_status"
	TypeBattleInvitation   = "battle_invitation"
	TypeBattleStatus       = "battle_status"
	TypeBattleCountdown    = "battle_countdown"
	TypeRepUpdate          = "rep_update"
	TypeBattleCompleted    = "battle_completed"
	TypeQuickChallenge     = "quick_challenge_nearby"
)
