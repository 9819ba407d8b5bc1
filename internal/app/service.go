package app

import (
	"math/rand"
	"sync"
	"time"

	"oddstrike/internal/domain"
)

// Service is the room state machine. Methods mutate a loaded *domain.Room
// in place and return the events to deliver; they never touch storage or
// transport, so a rejected action leaves nothing to persist.
type Service struct {
	rngMu       sync.Mutex // rooms are serialized individually, not globally
	rng         *rand.Rand
	dice        domain.DiceTable
	rollTimeout time.Duration
	killTimeout time.Duration
	now         func() time.Time
}

// NewService constructs the state machine. rng may be nil for a time-seeded
// default; now may be nil for time.Now.
func NewService(dice domain.DiceTable, rollTimeout, killTimeout time.Duration, rng *rand.Rand, now func() time.Time) *Service {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		rng:         rng,
		dice:        dice,
		rollTimeout: rollTimeout,
		killTimeout: killTimeout,
		now:         now,
	}
}

func (s *Service) setRollPhase(room *domain.Room) {
	room.TurnPhase = domain.PhaseRoll
	timeout := s.rollTimeout
	if sec := room.Settings.AutoRollTimeoutSec; sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}
	deadline := s.now().Add(timeout)
	room.TurnDeadlineAt = &deadline
}

func (s *Service) setKillPhase(room *domain.Room) {
	room.TurnPhase = domain.PhaseKill
	timeout := s.killTimeout
	if sec := room.Settings.KillDecisionTimeoutSec; sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}
	deadline := s.now().Add(timeout)
	room.TurnDeadlineAt = &deadline
}

func recipientFor(p *domain.Player) Recipient {
	return Recipient{UserID: p.UserID, SessionID: p.SessionID}
}

// StartGame transitions Lobby -> Rolling. Host only, two-player minimum.
// After a finished game only players who opted into the rematch are kept.
func (s *Service) StartGame(room *domain.Room, sessionID string) ([]Event, error) {
	host := room.Host()
	if host == nil || host.SessionID != sessionID {
		return nil, ErrNotHost
	}

	if room.Winner != "" {
		kept := room.Players[:0]
		for _, p := range room.Players {
			if room.ContinueReadyContains(p.SessionID) {
				kept = append(kept, p)
			}
		}
		room.Players = kept
	}

	if len(room.Players) < MinPlayersToStart {
		return nil, ErrTooFewPlayers
	}

	for i := range room.Players {
		room.Players[i].ResetForNewGame()
	}
	room.GameStarted = true
	room.Winner = ""
	room.ContinueReady = []string{}
	s.rngMu.Lock()
	room.CurrentTurn = domain.RandomAliveIndex(room, s.rng)
	s.rngMu.Unlock()
	s.setRollPhase(room)

	return []Event{{Name: EventGameStarted, Payload: room}}, nil
}

// Roll resolves a dice roll for the current player. auto marks the
// timeout-driven variant, which skips the requester check. The drawn face
// is recorded in the diceRolled event before any further transition.
func (s *Service) Roll(room *domain.Room, sessionID string, auto bool) ([]Event, error) {
	if !room.Active() {
		return nil, nil
	}
	current := room.CurrentPlayer()
	if current == nil {
		return nil, nil
	}

	if !auto && current.SessionID != sessionID {
		return nil, ErrNotYourTurn
	}

	if current.HasBullet() {
		if auto {
			return nil, nil
		}
		return nil, ErrBulletPending
	}

	// Should not normally happen; advance silently rather than rolling
	// for an eliminated player.
	if current.AliveCount == 0 {
		room.CurrentTurn = domain.NextTurn(room)
		s.setRollPhase(room)
		return []Event{{Name: EventRoomUpdated, Payload: room}}, nil
	}

	s.rngMu.Lock()
	face := s.dice.Roll(s.rng)
	s.rngMu.Unlock()
	payload := DiceRolledPayload{
		Room:      room,
		DiceValue: face,
		RolledBy:  current.SessionID,
	}

	switch {
	case face.IsJoker():
		room.CurrentTurn = domain.NextTurn(room)
		s.setRollPhase(room)
		payload.MessageType = MessageJoker

	default:
		slot := current.SlotByNumber(int(face))
		switch {
		case slot == nil:
			// Slots are numbered 1..5 so this is unreachable with the
			// standard table, but a misconfigured table must not wedge
			// the turn.
			room.CurrentTurn = domain.NextTurn(room)
			s.setRollPhase(room)

		case slot.State.Dead():
			room.CurrentTurn = domain.NextTurn(room)
			s.setRollPhase(room)
			payload.MessageType = MessageDeadSlot
			payload.MessageData = DeadSlotMessageData{SlotNumber: int(face)}

		default:
			oldState := slot.State
			slot.Upgrade()
			if slot.State.Loaded() {
				payload.IsBullet = true
				payload.MessageType = MessageBullet
				s.setKillPhase(room)
			} else {
				room.CurrentTurn = domain.NextTurn(room)
				s.setRollPhase(room)
				payload.MessageType = MessageUpgrade
				payload.MessageData = UpgradeMessageData{
					SlotNumber: int(face),
					SlotIndex:  slotIndex(current, slot),
					OldState:   oldState,
					NewState:   slot.State,
				}
			}
		}
	}

	return []Event{{Name: EventDiceRolled, Payload: payload}}, nil
}

func slotIndex(p *domain.Player, slot *domain.Slot) int {
	for i := range p.Slots {
		if &p.Slots[i] == slot {
			return i
		}
	}
	return -1
}

// Kill fires the current player's bullet at the target slot. Invalid
// targets are ignored silently; only an out-of-turn request is surfaced.
func (s *Service) Kill(room *domain.Room, sessionID string, targetPlayerIndex, targetNumber int, auto bool) ([]Event, error) {
	if !room.Active() {
		return nil, nil
	}
	shooter := room.CurrentPlayer()
	if shooter == nil {
		return nil, nil
	}

	if !auto && shooter.SessionID != sessionID {
		return nil, ErrNotYourTurn
	}

	bullet := shooter.BulletSlot()
	if bullet == nil {
		return nil, nil
	}

	if targetPlayerIndex == room.CurrentTurn {
		return nil, nil
	}
	if targetPlayerIndex < 0 || targetPlayerIndex >= len(room.Players) {
		return nil, nil
	}
	target := &room.Players[targetPlayerIndex]
	if target.AliveCount == 0 {
		return nil, nil
	}
	targetSlot := target.SlotByNumber(targetNumber)
	if targetSlot == nil || targetSlot.State.Dead() {
		return nil, nil
	}

	targetSlot.State = domain.SlotDead
	target.AliveCount--
	bullet.State = domain.SlotGun

	if ev, won := s.finalizeIfWon(room); won {
		return []Event{ev}, nil
	}

	room.CurrentTurn = domain.NextTurn(room)
	s.setRollPhase(room)

	return []Event{{Name: EventPlayerKilled, Payload: PlayerKilledPayload{Room: room}}}, nil
}

// finalizeIfWon ends the game when exactly one player remains alive.
func (s *Service) finalizeIfWon(room *domain.Room) (Event, bool) {
	if room.AlivePlayerCount() != 1 {
		return Event{}, false
	}
	sole := room.SoleAlivePlayer()
	room.Winner = sole.Name
	room.GameStarted = false
	room.TurnPhase = domain.PhaseNone
	room.TurnDeadlineAt = nil
	return Event{Name: EventGameOver, Payload: GameOverPayload{Room: room, Winner: room.Winner}}, true
}

// Continue registers a player's rematch opt-in after the game ended.
func (s *Service) Continue(room *domain.Room, sessionID string) ([]Event, error) {
	if room.Winner == "" {
		return nil, nil
	}
	idx := room.PlayerIndexBySession(sessionID)
	if idx < 0 {
		return nil, nil
	}

	player := &room.Players[idx]
	player.ResetForNewGame()
	if !room.ContinueReadyContains(sessionID) {
		room.ContinueReady = append(room.ContinueReady, sessionID)
	}

	return []Event{
		{Name: EventContinueStatus, Payload: ContinueStatusPayload{
			ReadyCount: len(room.ContinueReady),
			Total:      len(room.Players),
		}},
		{Name: EventRoomUpdated, Payload: room},
		{Name: EventContinued, Payload: room, Recipients: []Recipient{recipientFor(player)}},
	}, nil
}

// Reset forces the room back to the lobby. Host only; silently ignored
// otherwise.
func (s *Service) Reset(room *domain.Room, sessionID string) ([]Event, error) {
	host := room.Host()
	if host == nil || host.SessionID != sessionID {
		return nil, nil
	}

	for i := range room.Players {
		room.Players[i].ResetForNewGame()
	}
	room.Winner = ""
	room.GameStarted = false
	room.CurrentTurn = 0
	room.TurnPhase = domain.PhaseNone
	room.TurnDeadlineAt = nil
	room.ContinueReady = []string{}

	return []Event{{Name: EventRoomUpdated, Payload: room}}, nil
}

// RemovalOutcome summarizes a player removal for the lifecycle manager.
type RemovalOutcome struct {
	Removed         bool
	RoomEmpty       bool
	GameEndedByExit bool
}

// RemovePlayer drops the session's player from the room and re-derives
// turn/phase consistency: the turn pointer shifts with the list, a removed
// current player hands the turn to the next alive one, attrition down to a
// single alive player ends the game, and a kill phase without a bullet
// normalizes back to roll.
func (s *Service) RemovePlayer(room *domain.Room, sessionID string) (RemovalOutcome, []Event) {
	idx := room.PlayerIndexBySession(sessionID)
	if idx < 0 {
		return RemovalOutcome{RoomEmpty: len(room.Players) == 0}, nil
	}

	wasCurrentTurn := room.GameStarted && idx == room.CurrentTurn

	kept := room.ContinueReady[:0]
	for _, id := range room.ContinueReady {
		if id != sessionID {
			kept = append(kept, id)
		}
	}
	room.ContinueReady = kept
	room.Players = append(room.Players[:idx], room.Players[idx+1:]...)

	if len(room.Players) == 0 {
		return RemovalOutcome{Removed: true, RoomEmpty: true}, nil
	}

	if room.CurrentTurn > idx {
		room.CurrentTurn--
	}
	if room.CurrentTurn >= len(room.Players) {
		room.CurrentTurn = 0
	}

	if !room.GameStarted || room.Winner != "" {
		return RemovalOutcome{Removed: true}, []Event{{Name: EventRoomUpdated, Payload: room}}
	}

	// Elimination by exit: one alive player left wins, zero ends the game
	// with no winner.
	if alive := room.AlivePlayerCount(); alive <= 1 {
		if sole := room.SoleAlivePlayer(); sole != nil {
			room.Winner = sole.Name
		}
		room.GameStarted = false
		room.TurnPhase = domain.PhaseNone
		room.TurnDeadlineAt = nil
		if room.Winner != "" {
			return RemovalOutcome{Removed: true, GameEndedByExit: true},
				[]Event{{Name: EventGameOver, Payload: GameOverPayload{Room: room, Winner: room.Winner}}}
		}
		return RemovalOutcome{Removed: true}, []Event{{Name: EventRoomUpdated, Payload: room}}
	}

	if wasCurrentTurn {
		anchor := idx - 1
		if anchor < 0 {
			anchor = len(room.Players) - 1
		}
		room.CurrentTurn = domain.NextAliveFrom(room, anchor)
		s.setRollPhase(room)
		return RemovalOutcome{Removed: true}, []Event{{Name: EventRoomUpdated, Payload: room}}
	}

	active := room.CurrentPlayer()
	if active == nil || active.AliveCount == 0 {
		room.CurrentTurn = domain.NextAliveFrom(room, room.CurrentTurn-1)
		s.setRollPhase(room)
		return RemovalOutcome{Removed: true}, []Event{{Name: EventRoomUpdated, Payload: room}}
	}

	if room.TurnPhase == domain.PhaseKill && !active.HasBullet() {
		room.CurrentTurn = domain.NextTurn(room)
		s.setRollPhase(room)
		return RemovalOutcome{Removed: true}, []Event{{Name: EventRoomUpdated, Payload: room}}
	}

	if room.TurnPhase == domain.PhaseNone {
		s.setRollPhase(room)
	}

	return RemovalOutcome{Removed: true}, []Event{{Name: EventRoomUpdated, Payload: room}}
}

// ResolveTimeout forces the overdue turn forward. It is idempotent: a
// stale fire (game over, no deadline, or a deadline that moved back into
// the future after an earlier resolution) resolves nothing.
func (s *Service) ResolveTimeout(room *domain.Room) ([]Event, bool) {
	if !room.Active() || len(room.Players) == 0 {
		return nil, false
	}
	if room.TurnDeadlineAt == nil || room.TurnDeadlineAt.After(s.now()) {
		return nil, false
	}

	current := room.CurrentPlayer()
	if current == nil {
		// Concurrent removal left the pointer dangling.
		room.CurrentTurn = 0
		s.setRollPhase(room)
		return []Event{{Name: EventRoomUpdated, Payload: room}}, true
	}

	effectiveKill := current.HasBullet() || room.TurnPhase == domain.PhaseKill
	if effectiveKill {
		bullet := current.BulletSlot()
		if bullet == nil {
			// Recorded phase says kill but the bullet is gone; just move on.
			room.CurrentTurn = domain.NextTurn(room)
			s.setRollPhase(room)
			return []Event{{Name: EventRoomUpdated, Payload: room}}, true
		}

		if room.Settings.AutoKillEnabled {
			s.rngMu.Lock()
			target := domain.RandomKillTarget(room, room.CurrentTurn, s.rng)
			s.rngMu.Unlock()
			if target != nil {
				events := []Event{{Name: EventTurnTimedOut, Payload: TurnTimedOutPayload{
					Phase:      string(domain.PhaseKill),
					PlayerName: current.Name,
					AutoAction: AutoActionAutoKill,
				}}}
				killEvents, _ := s.Kill(room, "", target.PlayerIndex, target.SlotNumber, true)
				return append(events, killEvents...), true
			}
		}

		bullet.State = domain.SlotGun
		room.CurrentTurn = domain.NextTurn(room)
		s.setRollPhase(room)
		return []Event{
			{Name: EventTurnTimedOut, Payload: TurnTimedOutPayload{
				Phase:      string(domain.PhaseKill),
				PlayerName: current.Name,
				AutoAction: AutoActionBulletWasted,
			}},
			{Name: EventRoomUpdated, Payload: room},
		}, true
	}

	if room.Settings.AutoRollEnabled {
		events := []Event{{Name: EventTurnTimedOut, Payload: TurnTimedOutPayload{
			Phase:      string(domain.PhaseRoll),
			PlayerName: current.Name,
			AutoAction: AutoActionAutoRoll,
		}}}
		rollEvents, _ := s.Roll(room, "", true)
		return append(events, rollEvents...), true
	}

	room.CurrentTurn = domain.NextTurn(room)
	s.setRollPhase(room)
	return []Event{
		{Name: EventTurnTimedOut, Payload: TurnTimedOutPayload{
			Phase:      string(domain.PhaseRoll),
			PlayerName: current.Name,
			AutoAction: AutoActionTurnSkipped,
		}},
		{Name: EventRoomUpdated, Payload: room},
	}, true
}
