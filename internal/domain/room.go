package domain

import "time"

// TurnPhase is the in-turn stage of an active game.
type TurnPhase string

const (
	// PhaseNone applies while no game is running.
	PhaseNone TurnPhase = ""
	// PhaseRoll means the current player owes a dice roll.
	PhaseRoll TurnPhase = "roll"
	// PhaseKill means the current player holds a bullet and owes a kill
	// decision.
	PhaseKill TurnPhase = "kill"
)

// Settings are per-room timing and automation knobs.
type Settings struct {
	AutoRollEnabled        bool `json:"autoRollEnabled"`
	AutoRollTimeoutSec     int  `json:"autoRollTimeoutSec"`
	AutoKillEnabled        bool `json:"autoKillEnabled"`
	KillDecisionTimeoutSec int  `json:"killDecisionTimeoutSec"`
}

// Room is the aggregate and sole unit of concurrency control. Player order
// is join order; index 0 is the host.
type Room struct {
	RoomCode       string     `json:"roomCode"`
	GameStarted    bool       `json:"gameStarted"`
	CurrentTurn    int        `json:"currentTurn"`
	TurnPhase      TurnPhase  `json:"turnPhase"`
	TurnDeadlineAt *time.Time `json:"turnDeadlineAt"`
	Winner         string     `json:"winner"`
	ContinueReady  []string   `json:"continueReady"`
	Players        []Player   `json:"players"`
	Settings       Settings   `json:"settings"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NewRoom seeds a lobby-state room with the creator as sole player and host.
func NewRoom(roomCode string, settings Settings, creator Player, now time.Time) *Room {
	return &Room{
		RoomCode:      roomCode,
		Players:       []Player{creator},
		Settings:      settings,
		ContinueReady: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Active reports whether a game is running with no winner decided.
func (r *Room) Active() bool { return r.GameStarted && r.Winner == "" }

// CurrentPlayer returns the player holding the turn, or nil when
// CurrentTurn is out of range (possible transiently after removals).
func (r *Room) CurrentPlayer() *Player {
	if r.CurrentTurn < 0 || r.CurrentTurn >= len(r.Players) {
		return nil
	}
	return &r.Players[r.CurrentTurn]
}

// Host returns the player at index 0, or nil for an empty room.
func (r *Room) Host() *Player {
	if len(r.Players) == 0 {
		return nil
	}
	return &r.Players[0]
}

// PlayerIndexBySession returns the index of the player bound to the given
// session, or -1.
func (r *Room) PlayerIndexBySession(sessionID string) int {
	for i := range r.Players {
		if r.Players[i].SessionID == sessionID {
			return i
		}
	}
	return -1
}

// PlayerByName returns the player with the given name, or nil.
func (r *Room) PlayerByName(name string) *Player {
	for i := range r.Players {
		if r.Players[i].Name == name {
			return &r.Players[i]
		}
	}
	return nil
}

// AlivePlayerCount returns the number of players with at least one living
// slot.
func (r *Room) AlivePlayerCount() int {
	count := 0
	for i := range r.Players {
		if r.Players[i].AliveCount > 0 {
			count++
		}
	}
	return count
}

// SoleAlivePlayer returns the single remaining alive player when exactly
// one exists, else nil.
func (r *Room) SoleAlivePlayer() *Player {
	var found *Player
	for i := range r.Players {
		if r.Players[i].AliveCount > 0 {
			if found != nil {
				return nil
			}
			found = &r.Players[i]
		}
	}
	return found
}

// ContinueReadyContains reports whether the session already opted into a
// rematch.
func (r *Room) ContinueReadyContains(sessionID string) bool {
	for _, id := range r.ContinueReady {
		if id == sessionID {
			return true
		}
	}
	return false
}
