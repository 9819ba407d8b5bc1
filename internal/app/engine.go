package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"golang.org/x/time/rate"

	"oddstrike/internal/domain"
	"oddstrike/internal/ports"
)

const (
	roomCodeLength   = 5
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// createAttempts bounds room code allocation; collisions are resolved
	// by the create-only conditional write, not by a read-then-check.
	createAttempts = 8
	// saveAttempts: one reload-and-reapply after a lost conditional write,
	// then give up. Conflicts only happen across nodes since rooms are
	// mutex-serialized within a process.
	saveAttempts = 2

	defaultThrottleWindow = 900 * time.Millisecond
)

// Session identifies one connected client across the engine API.
type Session struct {
	ID       string
	UserID   string
	Username string
}

// Engine owns room lifecycle: it serializes access per room, runs the
// Service state machine over loaded snapshots, persists the result with a
// conditional write, then delivers events and realigns the turn timer.
type Engine struct {
	svc    *Service
	store  ports.RoomStore
	bc     ports.Broadcaster
	sched  ports.TimeoutScheduler
	logger runtime.Logger

	defaults       domain.Settings
	throttleWindow time.Duration
	now            func() time.Time

	locks sync.Map // roomCode -> *sync.Mutex

	throttleMu sync.Mutex
	throttles  map[string]*rate.Limiter // "roomCode:sessionID"

	codeMu  sync.Mutex
	codeRng *rand.Rand
}

// NewEngine wires the engine. rng and now may be nil; throttleWindow <= 0
// selects the default.
func NewEngine(svc *Service, store ports.RoomStore, bc ports.Broadcaster, logger runtime.Logger, defaults domain.Settings, throttleWindow time.Duration, rng *rand.Rand, now func() time.Time) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	if throttleWindow <= 0 {
		throttleWindow = defaultThrottleWindow
	}
	return &Engine{
		svc:            svc,
		store:          store,
		bc:             bc,
		logger:         logger,
		defaults:       defaults,
		throttleWindow: throttleWindow,
		now:            now,
		throttles:      make(map[string]*rate.Limiter),
		codeRng:        rng,
	}
}

// SetScheduler binds the deadline scheduler after construction; the
// scheduler needs the engine as its fire handler, so one of the two has to
// be attached late.
func (e *Engine) SetScheduler(s ports.TimeoutScheduler) { e.sched = s }

// NormalizeRoomCode canonicalizes client-supplied codes.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateRoom opens a new lobby with the caller as host. If the session
// already sits in a not-yet-started room, that room is handed back instead
// of leaking a second one.
func (e *Engine) CreateRoom(ctx context.Context, sess Session, name string) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = sess.Username
	}

	if code, err := e.store.RoomCodeForSession(ctx, sess.ID); err == nil {
		room, _, lerr := e.store.Load(ctx, code)
		if lerr == nil && !room.GameStarted {
			e.joinStream(ctx, code, sess)
			e.publish(ctx, code, []Event{{
				Name:       EventRoomCreated,
				Payload:    room,
				Recipients: []Recipient{{UserID: sess.UserID, SessionID: sess.ID}},
			}})
			return room, nil
		}
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		code := e.newRoomCode()
		room := domain.NewRoom(code, e.defaults, domain.NewPlayer(sess.ID, sess.UserID, name), e.now())
		if _, err := e.store.Save(ctx, room, ports.VersionNew); err != nil {
			if errors.Is(err, ports.ErrVersionConflict) {
				continue // code already in use
			}
			return nil, err
		}
		e.bindSession(ctx, sess.ID, code)
		e.joinStream(ctx, code, sess)
		e.publish(ctx, code, []Event{{
			Name:       EventRoomCreated,
			Payload:    room,
			Recipients: []Recipient{{UserID: sess.UserID, SessionID: sess.ID}},
		}})
		e.logger.Info("CreateRoom: room %s created by %s", code, name)
		return room, nil
	}
	return nil, fmt.Errorf("allocate room code: %w", ports.ErrVersionConflict)
}

// JoinRoom adds the caller to a lobby-state room.
func (e *Engine) JoinRoom(ctx context.Context, sess Session, roomCode, name string) (*domain.Room, error) {
	code := NormalizeRoomCode(roomCode)
	if code == "" {
		return nil, ErrRoomNotFound
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = sess.Username
	}

	mu := e.roomLock(code)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		room, version, err := e.store.Load(ctx, code)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return nil, ErrRoomNotFound
			}
			return nil, err
		}

		if room.PlayerIndexBySession(sess.ID) >= 0 {
			// duplicate join from the same connection
			e.joinStream(ctx, code, sess)
			e.publish(ctx, code, []Event{{
				Name:       EventRoomUpdated,
				Payload:    room,
				Recipients: []Recipient{{UserID: sess.UserID, SessionID: sess.ID}},
			}})
			return room, nil
		}
		if room.GameStarted {
			return nil, ErrGameStarted
		}
		if len(room.Players) >= MaxPlayersPerRoom {
			return nil, ErrRoomFull
		}
		if room.PlayerByName(name) != nil {
			return nil, ErrNameTaken
		}

		room.Players = append(room.Players, domain.NewPlayer(sess.ID, sess.UserID, name))
		room.UpdatedAt = e.now()
		if _, err := e.store.Save(ctx, room, version); err != nil {
			if errors.Is(err, ports.ErrVersionConflict) {
				lastErr = ErrJoinConflict
				continue
			}
			return nil, err
		}
		e.bindSession(ctx, sess.ID, code)
		e.joinStream(ctx, code, sess)
		e.publish(ctx, code, []Event{{Name: EventRoomUpdated, Payload: room}})
		e.logger.Info("JoinRoom: %s joined room %s", name, code)
		return room, nil
	}
	return nil, lastErr
}

// StartGame starts or restarts the game; host only.
func (e *Engine) StartGame(ctx context.Context, sess Session, roomCode string) error {
	return e.withRoom(ctx, NormalizeRoomCode(roomCode), func(room *domain.Room) ([]Event, error) {
		return e.svc.StartGame(room, sess.ID)
	})
}

// RollDice resolves the caller's roll-phase action.
func (e *Engine) RollDice(ctx context.Context, sess Session, roomCode string) error {
	return e.withRoom(ctx, NormalizeRoomCode(roomCode), func(room *domain.Room) ([]Event, error) {
		return e.svc.Roll(room, sess.ID, false)
	})
}

// KillPlayer resolves the caller's kill-phase decision.
func (e *Engine) KillPlayer(ctx context.Context, sess Session, roomCode string, targetPlayerIndex, targetNumber int) error {
	return e.withRoom(ctx, NormalizeRoomCode(roomCode), func(room *domain.Room) ([]Event, error) {
		return e.svc.Kill(room, sess.ID, targetPlayerIndex, targetNumber, false)
	})
}

// ContinueSameRoom opts the caller into a rematch after a game ends.
func (e *Engine) ContinueSameRoom(ctx context.Context, sess Session, roomCode string) error {
	return e.withRoom(ctx, NormalizeRoomCode(roomCode), func(room *domain.Room) ([]Event, error) {
		return e.svc.Continue(room, sess.ID)
	})
}

// ResetGame returns the room to lobby state; host only.
func (e *Engine) ResetGame(ctx context.Context, sess Session, roomCode string) error {
	return e.withRoom(ctx, NormalizeRoomCode(roomCode), func(room *domain.Room) ([]Event, error) {
		return e.svc.Reset(room, sess.ID)
	})
}

// LeaveRoom removes the caller from the room on explicit exit.
func (e *Engine) LeaveRoom(ctx context.Context, sess Session, roomCode string) error {
	return e.removeFromRoom(ctx, sess, NormalizeRoomCode(roomCode))
}

// Disconnect handles a dropped connection: the session index resolves
// which room, if any, the session occupied.
func (e *Engine) Disconnect(ctx context.Context, sess Session) error {
	e.dropSessionThrottles(sess.ID)
	code, err := e.store.RoomCodeForSession(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil
		}
		return err
	}
	return e.removeFromRoom(ctx, sess, code)
}

// RejoinRoom rebinds a player record, matched by display name, to the
// caller's new connection after a reconnect.
func (e *Engine) RejoinRoom(ctx context.Context, sess Session, roomCode, name string) (*domain.Room, error) {
	code := NormalizeRoomCode(roomCode)
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return nil, ErrRoomNotFound
	}

	mu := e.roomLock(code)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		room, version, err := e.store.Load(ctx, code)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return nil, ErrRoomNotFound
			}
			return nil, err
		}
		p := room.PlayerByName(name)
		if p == nil {
			return nil, ErrRoomNotFound
		}

		old := p.SessionID
		if old != sess.ID {
			p.SessionID = sess.ID
			p.UserID = sess.UserID
			for i, sid := range room.ContinueReady {
				if sid == old {
					room.ContinueReady[i] = sess.ID
				}
			}
		}
		room.UpdatedAt = e.now()
		if _, err := e.store.Save(ctx, room, version); err != nil {
			if errors.Is(err, ports.ErrVersionConflict) {
				lastErr = ErrJoinConflict
				continue
			}
			return nil, err
		}
		if old != sess.ID && old != "" {
			e.unbindSession(ctx, old)
		}
		e.bindSession(ctx, sess.ID, code)
		e.joinStream(ctx, code, sess)
		e.publish(ctx, code, []Event{{Name: EventRoomUpdated, Payload: room}})
		e.syncSchedule(room)
		e.logger.Info("RejoinRoom: %s rebound in room %s", name, code)
		return room, nil
	}
	return nil, lastErr
}

// RemindHost pokes the host to start on a member's behalf. Read-only, so
// no room lock is taken.
func (e *Engine) RemindHost(ctx context.Context, sess Session, roomCode string) error {
	code := NormalizeRoomCode(roomCode)
	room, _, err := e.store.Load(ctx, code)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	host := room.Host()
	if host == nil {
		return ErrRoomNotFound
	}

	from := "A player"
	if idx := room.PlayerIndexBySession(sess.ID); idx >= 0 {
		from = room.Players[idx].Name
	}
	e.publish(ctx, code, []Event{
		{
			Name:       EventHostReminder,
			Payload:    HostReminderPayload{FromName: from, RoomCode: code},
			Recipients: []Recipient{{UserID: host.UserID, SessionID: host.SessionID}},
		},
		{
			Name:       EventReminderSent,
			Payload:    struct{}{},
			Recipients: []Recipient{{UserID: sess.UserID, SessionID: sess.ID}},
		},
	})
	return nil
}

// RequestTimeoutCheck lets a client nudge deadline resolution, throttled
// per room and session so a burst of clients does not stampede the store.
func (e *Engine) RequestTimeoutCheck(ctx context.Context, sess Session, roomCode string) error {
	code := NormalizeRoomCode(roomCode)
	if code == "" || !e.allow(code, sess.ID) {
		return nil
	}

	// cheap read before taking the room lock
	room, _, err := e.store.Load(ctx, code)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil
		}
		return err
	}
	if !room.Active() || room.TurnDeadlineAt == nil || e.now().Before(*room.TurnDeadlineAt) {
		return nil
	}
	return e.resolveTimeout(ctx, code)
}

// HandleRoomTimeout is the scheduler's fire handler.
func (e *Engine) HandleRoomTimeout(roomCode string) {
	if err := e.resolveTimeout(context.Background(), roomCode); err != nil {
		e.logger.Error("HandleRoomTimeout: room %s: %v", roomCode, err)
	}
}

// withRoom is the shared load, apply, conditionally-save loop: serialize
// on the room, run fn over the snapshot, persist, then deliver events and
// realign the turn timer. A lost write reloads and reapplies once.
func (e *Engine) withRoom(ctx context.Context, roomCode string, fn func(*domain.Room) ([]Event, error)) error {
	if roomCode == "" {
		return ErrRoomNotFound
	}
	mu := e.roomLock(roomCode)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		room, version, err := e.store.Load(ctx, roomCode)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		events, err := fn(room)
		if err != nil {
			return err
		}
		room.UpdatedAt = e.now()
		if _, err := e.store.Save(ctx, room, version); err != nil {
			if errors.Is(err, ports.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}
		e.publish(ctx, roomCode, events)
		e.syncSchedule(room)
		return nil
	}
	return lastErr
}

func (e *Engine) removeFromRoom(ctx context.Context, sess Session, code string) error {
	if code == "" {
		return nil
	}
	mu := e.roomLock(code)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		room, version, err := e.store.Load(ctx, code)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				e.unbindSession(ctx, sess.ID)
				return nil
			}
			return err
		}

		outcome, events := e.svc.RemovePlayer(room, sess.ID)
		if !outcome.Removed {
			// stale session index entry
			e.unbindSession(ctx, sess.ID)
			return nil
		}
		if outcome.RoomEmpty {
			if err := e.store.Delete(ctx, code); err != nil {
				e.logger.Warn("removeFromRoom: delete room %s: %v", code, err)
			}
			if e.sched != nil {
				e.sched.Cancel(code)
			}
			e.unbindSession(ctx, sess.ID)
			e.leaveStream(ctx, code, sess)
			e.logger.Info("removeFromRoom: room %s deleted, last player left", code)
			return nil
		}

		room.UpdatedAt = e.now()
		if _, err := e.store.Save(ctx, room, version); err != nil {
			if errors.Is(err, ports.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}
		e.unbindSession(ctx, sess.ID)
		e.leaveStream(ctx, code, sess)
		e.publish(ctx, code, events)
		e.syncSchedule(room)
		return nil
	}
	return lastErr
}

func (e *Engine) resolveTimeout(ctx context.Context, roomCode string) error {
	mu := e.roomLock(roomCode)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		room, version, err := e.store.Load(ctx, roomCode)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				if e.sched != nil {
					e.sched.Cancel(roomCode)
				}
				return nil
			}
			return err
		}

		events, resolved := e.svc.ResolveTimeout(room)
		if !resolved {
			// stale fire; realign the timer with the stored deadline
			e.syncSchedule(room)
			return nil
		}
		room.UpdatedAt = e.now()
		if _, err := e.store.Save(ctx, room, version); err != nil {
			if errors.Is(err, ports.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}
		e.publish(ctx, roomCode, events)
		e.syncSchedule(room)
		return nil
	}
	return lastErr
}

func (e *Engine) publish(ctx context.Context, roomCode string, events []Event) {
	for _, ev := range events {
		if len(ev.Recipients) == 0 {
			if err := e.bc.BroadcastRoom(ctx, roomCode, ev.Name, ev.Payload); err != nil {
				e.logger.Warn("publish: broadcast %s to room %s: %v", ev.Name, roomCode, err)
			}
			continue
		}
		for _, rcpt := range ev.Recipients {
			if err := e.bc.SendToUser(ctx, rcpt.UserID, ev.Name, ev.Payload); err != nil {
				e.logger.Warn("publish: send %s to user %s: %v", ev.Name, rcpt.UserID, err)
			}
		}
	}
}

func (e *Engine) syncSchedule(room *domain.Room) {
	if e.sched == nil {
		return
	}
	if room.Active() && room.TurnDeadlineAt != nil {
		e.sched.Schedule(room.RoomCode, *room.TurnDeadlineAt)
	} else {
		e.sched.Cancel(room.RoomCode)
	}
}

func (e *Engine) roomLock(roomCode string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(roomCode, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (e *Engine) allow(roomCode, sessionID string) bool {
	key := roomCode + ":" + sessionID
	e.throttleMu.Lock()
	lim, ok := e.throttles[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(e.throttleWindow), 1)
		e.throttles[key] = lim
	}
	e.throttleMu.Unlock()
	return lim.Allow()
}

func (e *Engine) dropSessionThrottles(sessionID string) {
	suffix := ":" + sessionID
	e.throttleMu.Lock()
	for key := range e.throttles {
		if strings.HasSuffix(key, suffix) {
			delete(e.throttles, key)
		}
	}
	e.throttleMu.Unlock()
}

func (e *Engine) newRoomCode() string {
	b := make([]byte, roomCodeLength)
	e.codeMu.Lock()
	for i := range b {
		b[i] = roomCodeAlphabet[e.codeRng.Intn(len(roomCodeAlphabet))]
	}
	e.codeMu.Unlock()
	return string(b)
}

func (e *Engine) bindSession(ctx context.Context, sessionID, roomCode string) {
	if err := e.store.BindSession(ctx, sessionID, roomCode); err != nil {
		e.logger.Warn("bindSession: session %s room %s: %v", sessionID, roomCode, err)
	}
}

func (e *Engine) unbindSession(ctx context.Context, sessionID string) {
	if err := e.store.UnbindSession(ctx, sessionID); err != nil {
		e.logger.Warn("unbindSession: session %s: %v", sessionID, err)
	}
}

func (e *Engine) joinStream(ctx context.Context, roomCode string, sess Session) {
	if err := e.bc.JoinRoom(ctx, roomCode, sess.UserID, sess.ID); err != nil {
		e.logger.Warn("joinStream: session %s room %s: %v", sess.ID, roomCode, err)
	}
}

func (e *Engine) leaveStream(ctx context.Context, roomCode string, sess Session) {
	if err := e.bc.LeaveRoom(ctx, roomCode, sess.UserID, sess.ID); err != nil {
		e.logger.Warn("leaveStream: session %s room %s: %v", sess.ID, roomCode, err)
	}
}
