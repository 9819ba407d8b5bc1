package app

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"oddstrike/internal/domain"
	"oddstrike/internal/ports"
)

// noopLogger implements runtime.Logger for tests that only need to satisfy the interface.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) WithField(string, interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) WithFields(map[string]interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) Fields() map[string]interface{} {
	return nil
}

// fakeStore is an in-memory RoomStore with version counting, so the
// engine's conditional-write path is exercised for real.
type fakeStore struct {
	mu        sync.Mutex
	rooms     map[string]string
	versions  map[string]int
	sessions  map[string]string
	loads     int
	failSaves int // next N saves fail with a version conflict
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:    map[string]string{},
		versions: map[string]int{},
		sessions: map[string]string{},
	}
}

func (f *fakeStore) Load(ctx context.Context, roomCode string) (*domain.Room, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	raw, ok := f.rooms[roomCode]
	if !ok {
		return nil, "", ports.ErrNotFound
	}
	var room domain.Room
	if err := json.Unmarshal([]byte(raw), &room); err != nil {
		return nil, "", err
	}
	return &room, strconv.Itoa(f.versions[roomCode]), nil
}

func (f *fakeStore) Save(ctx context.Context, room *domain.Room, version string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaves > 0 {
		f.failSaves--
		return "", ports.ErrVersionConflict
	}
	current, exists := f.versions[room.RoomCode]
	if version == ports.VersionNew {
		if exists {
			return "", ports.ErrVersionConflict
		}
	} else if !exists || version != strconv.Itoa(current) {
		return "", ports.ErrVersionConflict
	}
	raw, err := json.Marshal(room)
	if err != nil {
		return "", err
	}
	f.rooms[room.RoomCode] = string(raw)
	f.versions[room.RoomCode] = current + 1
	return strconv.Itoa(current + 1), nil
}

func (f *fakeStore) Delete(ctx context.Context, roomCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, roomCode)
	delete(f.versions, roomCode)
	return nil
}

func (f *fakeStore) BindSession(ctx context.Context, sessionID, roomCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = roomCode
	return nil
}

func (f *fakeStore) UnbindSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeStore) RoomCodeForSession(ctx context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.sessions[sessionID]
	if !ok {
		return "", ports.ErrNotFound
	}
	return code, nil
}

func (f *fakeStore) mustPut(t *testing.T, room *domain.Room) {
	t.Helper()
	raw, err := json.Marshal(room)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	f.rooms[room.RoomCode] = string(raw)
	f.versions[room.RoomCode] = 1
	f.mu.Unlock()
}

func (f *fakeStore) get(t *testing.T, roomCode string) *domain.Room {
	t.Helper()
	room, _, err := f.Load(context.Background(), roomCode)
	if err != nil {
		t.Fatalf("load %s: %v", roomCode, err)
	}
	return room
}

type sentEvent struct {
	target string // room code or user id
	event  string
}

type fakeBroadcaster struct {
	mu         sync.Mutex
	broadcasts []sentEvent
	sends      []sentEvent
	members    map[string][]string // roomCode -> session ids
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{members: map[string][]string{}}
}

func (f *fakeBroadcaster) JoinRoom(ctx context.Context, roomCode, userID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[roomCode] = append(f.members[roomCode], sessionID)
	return nil
}

func (f *fakeBroadcaster) LeaveRoom(ctx context.Context, roomCode, userID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.members[roomCode][:0]
	for _, id := range f.members[roomCode] {
		if id != sessionID {
			kept = append(kept, id)
		}
	}
	f.members[roomCode] = kept
	return nil
}

func (f *fakeBroadcaster) BroadcastRoom(ctx context.Context, roomCode, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, sentEvent{target: roomCode, event: event})
	return nil
}

func (f *fakeBroadcaster) SendToUser(ctx context.Context, userID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentEvent{target: userID, event: event})
	return nil
}

func (f *fakeBroadcaster) broadcastNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.broadcasts))
	for i, b := range f.broadcasts {
		names[i] = b.event
	}
	return names
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	canceled  []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: map[string]time.Time{}}
}

func (f *fakeScheduler) Schedule(roomCode string, deadline time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[roomCode] = deadline
}

func (f *fakeScheduler) Cancel(roomCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, roomCode)
	f.canceled = append(f.canceled, roomCode)
}

type engineFixture struct {
	engine *Engine
	store  *fakeStore
	bc     *fakeBroadcaster
	sched  *fakeScheduler
}

func newEngineFixture(draws ...int64) *engineFixture {
	store := newFakeStore()
	bc := newFakeBroadcaster()
	sched := newFakeScheduler()
	svc := newTestService(draws...)
	engine := NewEngine(svc, store, bc, noopLogger{}, domain.Settings{}, time.Hour,
		rand.New(rand.NewSource(1)), fixedNow)
	engine.SetScheduler(sched)
	return &engineFixture{engine: engine, store: store, bc: bc, sched: sched}
}

func session(n string) Session {
	return Session{ID: "sess-" + n, UserID: "user-" + n, Username: n}
}

func (fx *engineFixture) seedLobby(t *testing.T, names ...string) *domain.Room {
	t.Helper()
	room := domain.NewRoom("AB2C3", domain.Settings{}, domain.NewPlayer("sess-"+names[0], "user-"+names[0], names[0]), baseTime)
	for _, n := range names[1:] {
		room.Players = append(room.Players, domain.NewPlayer("sess-"+n, "user-"+n, n))
	}
	fx.store.mustPut(t, room)
	for _, n := range names {
		fx.store.sessions["sess-"+n] = room.RoomCode
	}
	return room
}

func TestEngineCreateRoom(t *testing.T) {
	fx := newEngineFixture(0)
	ctx := context.Background()

	room, err := fx.engine.CreateRoom(ctx, session("ann"), "ann")
	if err != nil {
		t.Fatal(err)
	}
	if len(room.RoomCode) != roomCodeLength {
		t.Fatalf("code = %q", room.RoomCode)
	}
	if got := fx.store.sessions["sess-ann"]; got != room.RoomCode {
		t.Fatalf("session bound to %q", got)
	}
	stored := fx.store.get(t, room.RoomCode)
	if len(stored.Players) != 1 || stored.Players[0].Name != "ann" {
		t.Fatalf("stored players = %+v", stored.Players)
	}
	if len(fx.bc.sends) != 1 || fx.bc.sends[0].event != EventRoomCreated {
		t.Fatalf("sends = %+v", fx.bc.sends)
	}
}

func TestEngineCreateRoomReturnsExistingLobby(t *testing.T) {
	fx := newEngineFixture(0)
	fx.seedLobby(t, "ann")

	room, err := fx.engine.CreateRoom(context.Background(), session("ann"), "ann")
	if err != nil {
		t.Fatal(err)
	}
	if room.RoomCode != "AB2C3" {
		t.Fatalf("code = %q, want the existing lobby", room.RoomCode)
	}
	if len(fx.store.rooms) != 1 {
		t.Fatalf("rooms = %d, a duplicate was created", len(fx.store.rooms))
	}
}

func TestEngineJoinRoomValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("room not found", func(t *testing.T) {
		fx := newEngineFixture(0)
		if _, err := fx.engine.JoinRoom(ctx, session("zed"), "NOPE1", "zed"); !errors.Is(err, ErrRoomNotFound) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("game started", func(t *testing.T) {
		fx := newEngineFixture(0)
		room := fx.seedLobby(t, "ann", "bob")
		room.GameStarted = true
		fx.store.mustPut(t, room)
		if _, err := fx.engine.JoinRoom(ctx, session("zed"), "ab2c3", "zed"); !errors.Is(err, ErrGameStarted) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("room full", func(t *testing.T) {
		fx := newEngineFixture(0)
		fx.seedLobby(t, "p1", "p2", "p3", "p4", "p5", "p6")
		if _, err := fx.engine.JoinRoom(ctx, session("zed"), "AB2C3", "zed"); !errors.Is(err, ErrRoomFull) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("name taken", func(t *testing.T) {
		fx := newEngineFixture(0)
		fx.seedLobby(t, "ann", "bob")
		if _, err := fx.engine.JoinRoom(ctx, session("zed"), "AB2C3", "bob"); !errors.Is(err, ErrNameTaken) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestEngineJoinRoomNormalizesCodeAndBroadcasts(t *testing.T) {
	fx := newEngineFixture(0)
	fx.seedLobby(t, "ann")

	room, err := fx.engine.JoinRoom(context.Background(), session("bob"), "  ab2c3 ", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(room.Players) != 2 {
		t.Fatalf("players = %d", len(room.Players))
	}
	names := fx.bc.broadcastNames()
	if len(names) != 1 || names[0] != EventRoomUpdated {
		t.Fatalf("broadcasts = %v", names)
	}
	stored := fx.store.get(t, "AB2C3")
	if stored.Players[1].Name != "bob" {
		t.Fatalf("stored = %+v", stored.Players)
	}
}

func TestEngineJoinRoomRetriesLostWrite(t *testing.T) {
	fx := newEngineFixture(0)
	fx.seedLobby(t, "ann")
	fx.store.failSaves = 1

	if _, err := fx.engine.JoinRoom(context.Background(), session("bob"), "AB2C3", "bob"); err != nil {
		t.Fatal(err)
	}
	stored := fx.store.get(t, "AB2C3")
	if len(stored.Players) != 2 {
		t.Fatalf("players = %d after retry", len(stored.Players))
	}
}

func TestEngineStartGameSchedulesDeadline(t *testing.T) {
	fx := newEngineFixture(0)
	fx.seedLobby(t, "ann", "bob")

	if err := fx.engine.StartGame(context.Background(), session("ann"), "AB2C3"); err != nil {
		t.Fatal(err)
	}
	stored := fx.store.get(t, "AB2C3")
	if !stored.GameStarted || stored.TurnDeadlineAt == nil {
		t.Fatalf("stored = %+v", stored)
	}
	deadline, ok := fx.sched.scheduled["AB2C3"]
	if !ok || !deadline.Equal(*stored.TurnDeadlineAt) {
		t.Fatalf("scheduled = %v, want %v", deadline, stored.TurnDeadlineAt)
	}
}

func TestEngineStartGameRejectsNonHost(t *testing.T) {
	fx := newEngineFixture(0)
	fx.seedLobby(t, "ann", "bob")

	if err := fx.engine.StartGame(context.Background(), session("bob"), "AB2C3"); !errors.Is(err, ErrNotHost) {
		t.Fatalf("err = %v", err)
	}
	if len(fx.sched.scheduled) != 0 {
		t.Fatal("rejected start scheduled a deadline")
	}
}

func TestEngineLeaveRoomDeletesEmptyRoom(t *testing.T) {
	fx := newEngineFixture(0)
	fx.seedLobby(t, "ann")

	if err := fx.engine.LeaveRoom(context.Background(), session("ann"), "AB2C3"); err != nil {
		t.Fatal(err)
	}
	if _, ok := fx.store.rooms["AB2C3"]; ok {
		t.Fatal("empty room not deleted")
	}
	if _, ok := fx.store.sessions["sess-ann"]; ok {
		t.Fatal("session still bound")
	}
	if len(fx.sched.canceled) == 0 {
		t.Fatal("scheduler not canceled")
	}
}

func TestEngineDisconnectRemovesPlayer(t *testing.T) {
	fx := newEngineFixture(0)
	fx.seedLobby(t, "ann", "bob")

	if err := fx.engine.Disconnect(context.Background(), session("bob")); err != nil {
		t.Fatal(err)
	}
	stored := fx.store.get(t, "AB2C3")
	if len(stored.Players) != 1 || stored.Players[0].Name != "ann" {
		t.Fatalf("players = %+v", stored.Players)
	}
}

func TestEngineDisconnectAttritionEndsGame(t *testing.T) {
	fx := newEngineFixture(0)
	room := fx.seedLobby(t, "ann", "bob")
	room.GameStarted = true
	room.TurnPhase = domain.PhaseRoll
	deadline := baseTime.Add(time.Minute)
	room.TurnDeadlineAt = &deadline
	fx.store.mustPut(t, room)
	fx.sched.Schedule("AB2C3", deadline)
	fx.sched.canceled = nil

	if err := fx.engine.Disconnect(context.Background(), session("bob")); err != nil {
		t.Fatal(err)
	}
	stored := fx.store.get(t, "AB2C3")
	if stored.Winner != "ann" || stored.GameStarted {
		t.Fatalf("stored = %+v", stored)
	}
	names := fx.bc.broadcastNames()
	if len(names) != 1 || names[0] != EventGameOver {
		t.Fatalf("broadcasts = %v", names)
	}
	if _, ok := fx.sched.scheduled["AB2C3"]; ok {
		t.Fatal("deadline survived game over")
	}
}

func TestEngineHandleRoomTimeout(t *testing.T) {
	fx := newEngineFixture(0)
	room := fx.seedLobby(t, "ann", "bob")
	room.GameStarted = true
	room.TurnPhase = domain.PhaseRoll
	past := baseTime.Add(-time.Second)
	room.TurnDeadlineAt = &past
	fx.store.mustPut(t, room)

	fx.engine.HandleRoomTimeout("AB2C3")

	stored := fx.store.get(t, "AB2C3")
	if stored.CurrentTurn != 1 {
		t.Fatalf("currentTurn = %d", stored.CurrentTurn)
	}
	names := fx.bc.broadcastNames()
	if len(names) != 2 || names[0] != EventTurnTimedOut || names[1] != EventRoomUpdated {
		t.Fatalf("broadcasts = %v", names)
	}
	// next turn's deadline was re-armed
	if deadline, ok := fx.sched.scheduled["AB2C3"]; !ok || !deadline.Equal(*stored.TurnDeadlineAt) {
		t.Fatalf("scheduled = %v", fx.sched.scheduled)
	}
}

func TestEngineHandleRoomTimeoutStaleFire(t *testing.T) {
	fx := newEngineFixture(0)
	room := fx.seedLobby(t, "ann", "bob")
	room.GameStarted = true
	room.TurnPhase = domain.PhaseRoll
	future := baseTime.Add(time.Minute)
	room.TurnDeadlineAt = &future
	fx.store.mustPut(t, room)

	fx.engine.HandleRoomTimeout("AB2C3")

	stored := fx.store.get(t, "AB2C3")
	if stored.CurrentTurn != 0 {
		t.Fatal("stale fire advanced the turn")
	}
	if len(fx.bc.broadcastNames()) != 0 {
		t.Fatalf("broadcasts = %v", fx.bc.broadcastNames())
	}
	// the timer realigns with the stored deadline instead of resolving
	if deadline, ok := fx.sched.scheduled["AB2C3"]; !ok || !deadline.Equal(future) {
		t.Fatalf("scheduled = %v", fx.sched.scheduled)
	}
}

func TestEngineRequestTimeoutCheckThrottled(t *testing.T) {
	fx := newEngineFixture(0)
	fx.seedLobby(t, "ann", "bob")

	if err := fx.engine.RequestTimeoutCheck(context.Background(), session("ann"), "AB2C3"); err != nil {
		t.Fatal(err)
	}
	loadsAfterFirst := fx.store.loads

	// second request inside the window must not even touch the store
	if err := fx.engine.RequestTimeoutCheck(context.Background(), session("ann"), "AB2C3"); err != nil {
		t.Fatal(err)
	}
	if fx.store.loads != loadsAfterFirst {
		t.Fatalf("loads = %d, want %d", fx.store.loads, loadsAfterFirst)
	}
}

func TestEngineRequestTimeoutCheckResolvesOverdue(t *testing.T) {
	fx := newEngineFixture(0)
	room := fx.seedLobby(t, "ann", "bob")
	room.GameStarted = true
	room.TurnPhase = domain.PhaseRoll
	past := baseTime.Add(-time.Second)
	room.TurnDeadlineAt = &past
	fx.store.mustPut(t, room)

	if err := fx.engine.RequestTimeoutCheck(context.Background(), session("bob"), "AB2C3"); err != nil {
		t.Fatal(err)
	}
	stored := fx.store.get(t, "AB2C3")
	if stored.CurrentTurn != 1 {
		t.Fatalf("currentTurn = %d, overdue turn not resolved", stored.CurrentTurn)
	}
}

func TestEngineRejoinRebindsSession(t *testing.T) {
	fx := newEngineFixture(0)
	room := fx.seedLobby(t, "ann", "bob")
	room.Winner = "ann"
	room.ContinueReady = []string{"sess-bob"}
	fx.store.mustPut(t, room)

	fresh := Session{ID: "sess-bob2", UserID: "user-bob", Username: "bob"}
	got, err := fx.engine.RejoinRoom(context.Background(), fresh, "AB2C3", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got.Players[1].SessionID != "sess-bob2" {
		t.Fatalf("session = %q", got.Players[1].SessionID)
	}
	if got.ContinueReady[0] != "sess-bob2" {
		t.Fatalf("continueReady = %v", got.ContinueReady)
	}
	if fx.store.sessions["sess-bob2"] != "AB2C3" {
		t.Fatal("new session not bound")
	}
	if _, ok := fx.store.sessions["sess-bob"]; ok {
		t.Fatal("old session still bound")
	}
}

func TestEngineRejoinUnknownName(t *testing.T) {
	fx := newEngineFixture(0)
	fx.seedLobby(t, "ann")
	if _, err := fx.engine.RejoinRoom(context.Background(), session("zed"), "AB2C3", "zed"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestEngineRemindHost(t *testing.T) {
	fx := newEngineFixture(0)
	fx.seedLobby(t, "ann", "bob")

	if err := fx.engine.RemindHost(context.Background(), session("bob"), "AB2C3"); err != nil {
		t.Fatal(err)
	}
	if len(fx.bc.sends) != 2 {
		t.Fatalf("sends = %+v", fx.bc.sends)
	}
	if fx.bc.sends[0].target != "user-ann" || fx.bc.sends[0].event != EventHostReminder {
		t.Fatalf("host send = %+v", fx.bc.sends[0])
	}
	if fx.bc.sends[1].target != "user-bob" || fx.bc.sends[1].event != EventReminderSent {
		t.Fatalf("requester send = %+v", fx.bc.sends[1])
	}
}
