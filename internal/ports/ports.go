// Package ports defines the interfaces the room engine needs from its
// external collaborators: a keyed record store, a room-scoped broadcast
// channel, and a deadline scheduler. Adapters live under ports/nakama.
package ports

import (
	"context"
	"errors"
	"time"

	"oddstrike/internal/domain"
)

var (
	// ErrNotFound signals a missing or expired record.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict signals a lost conditional write; callers reload
	// and retry or abort.
	ErrVersionConflict = errors.New("record version conflict")
)

// VersionNew is the version passed to Save for create-only writes.
const VersionNew = "*"

// RoomStore is the keyed record store holding one record per room plus a
// session index backing "which room is this connection in".
type RoomStore interface {
	// Load returns the room and its current write version.
	Load(ctx context.Context, roomCode string) (*domain.Room, string, error)
	// Save persists the room conditionally on version (VersionNew for
	// create-only) and returns the new version. A lost race yields
	// ErrVersionConflict with nothing written.
	Save(ctx context.Context, room *domain.Room, version string) (string, error)
	// Delete removes the room record. Deleting an absent room is not an
	// error.
	Delete(ctx context.Context, roomCode string) error

	// BindSession records which room a session currently occupies.
	BindSession(ctx context.Context, sessionID, roomCode string) error
	// UnbindSession drops the session index entry.
	UnbindSession(ctx context.Context, sessionID string) error
	// RoomCodeForSession resolves the session's room, or ErrNotFound.
	RoomCodeForSession(ctx context.Context, sessionID string) (string, error)
}

// Broadcaster delivers named events to all members of a room or to one
// member.
type Broadcaster interface {
	// JoinRoom subscribes a connection to the room's event stream.
	JoinRoom(ctx context.Context, roomCode, userID, sessionID string) error
	// LeaveRoom unsubscribes a connection.
	LeaveRoom(ctx context.Context, roomCode, userID, sessionID string) error
	// BroadcastRoom sends an event to every member of the room.
	BroadcastRoom(ctx context.Context, roomCode, event string, payload any) error
	// SendToUser sends an event to a single member.
	SendToUser(ctx context.Context, userID, event string, payload any) error
}

// TimeoutScheduler keeps at most one pending deadline callback per room.
// Scheduling replaces any predecessor for the same room; Cancel is
// reliable in that a canceled entry never fires afterwards.
type TimeoutScheduler interface {
	Schedule(roomCode string, deadline time.Time)
	Cancel(roomCode string)
}
