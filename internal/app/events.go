package app

import "oddstrike/internal/domain"

// Event names delivered to clients. Broadcast events go to the whole room
// stream; recipient-addressed events go to a single user.
const (
	EventRoomCreated    = "roomCreated"
	EventRoomUpdated    = "roomUpdated"
	EventGameStarted    = "gameStarted"
	EventDiceRolled     = "diceRolled"
	EventPlayerKilled   = "playerKilled"
	EventTurnTimedOut   = "turnTimedOut"
	EventGameOver       = "gameOver"
	EventContinueStatus = "continueStatus"
	EventContinued      = "continued"
	EventHostReminder   = "hostReminder"
	EventReminderSent   = "reminderSent"
	EventErrorMessage   = "errorMessage"
)

// Message kinds carried inside diceRolled payloads.
const (
	MessageJoker    = "joker"
	MessageDeadSlot = "deadSlot"
	MessageUpgrade  = "upgrade"
	MessageBullet   = "bullet"
)

// Auto-action tags carried inside turnTimedOut payloads.
const (
	AutoActionTurnSkipped  = "turn-skipped"
	AutoActionBulletWasted = "bullet-wasted"
	AutoActionAutoRoll     = "auto-roll"
	AutoActionAutoKill     = "auto-kill"
)

// Recipient addresses one connected player for targeted delivery.
type Recipient struct {
	UserID    string
	SessionID string
}

// Event is a named outcome of a state transition. Empty Recipients means
// broadcast to the room.
type Event struct {
	Name       string
	Payload    any
	Recipients []Recipient
}

// DiceRolledPayload mirrors the diceRolled broadcast.
type DiceRolledPayload struct {
	Room        *domain.Room `json:"room"`
	DiceValue   domain.Face  `json:"diceValue"`
	IsBullet    bool         `json:"isBullet"`
	MessageType string       `json:"messageType,omitempty"`
	MessageData any          `json:"messageData,omitempty"`
	RolledBy    string       `json:"rolledBy"`
}

// UpgradeMessageData details a successful upgrade inside diceRolled.
type UpgradeMessageData struct {
	SlotNumber int              `json:"slotNumber"`
	SlotIndex  int              `json:"slotIndex"`
	OldState   domain.SlotState `json:"oldState"`
	NewState   domain.SlotState `json:"newState"`
}

// DeadSlotMessageData names the already-dead slot a roll landed on.
type DeadSlotMessageData struct {
	SlotNumber int `json:"slotNumber"`
}

// PlayerKilledPayload wraps the post-kill room snapshot.
type PlayerKilledPayload struct {
	Room *domain.Room `json:"room"`
}

// TurnTimedOutPayload describes a deadline-forced resolution.
type TurnTimedOutPayload struct {
	Phase      string `json:"phase"`
	PlayerName string `json:"playerName"`
	AutoAction string `json:"autoAction"`
}

// GameOverPayload announces the winner with the final room snapshot.
type GameOverPayload struct {
	Room   *domain.Room `json:"room"`
	Winner string       `json:"winner"`
}

// ContinueStatusPayload reports rematch opt-in progress.
type ContinueStatusPayload struct {
	ReadyCount int `json:"readyCount"`
	Total      int `json:"total"`
}

// HostReminderPayload pokes the host on another member's behalf.
type HostReminderPayload struct {
	FromName string `json:"fromName"`
	RoomCode string `json:"roomCode"`
}

// ErrorMessagePayload carries a requester-only validation message.
type ErrorMessagePayload struct {
	Text string `json:"text"`
}
