package nakama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"

	"oddstrike/internal/domain"
	"oddstrike/internal/ports"
)

// storageModule is the slice of runtime.NakamaModule the room store needs.
type storageModule interface {
	StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error)
	StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error)
	StorageDelete(ctx context.Context, deletes []*runtime.StorageDelete) error
}

// NakamaRoomStore persists rooms and the session index in Nakama storage.
// Room writes are conditional on the object version, which is what makes
// the engine's load-apply-save loop safe across server nodes.
type NakamaRoomStore struct {
	nk  storageModule
	ttl time.Duration
	now func() time.Time
}

// NewNakamaRoomStore creates the store. ttl <= 0 disables expiry.
func NewNakamaRoomStore(nk storageModule, ttl time.Duration) *NakamaRoomStore {
	return &NakamaRoomStore{nk: nk, ttl: ttl, now: time.Now}
}

type sessionIndexRecord struct {
	RoomCode string `json:"roomCode"`
}

// Load reads the room record. Expiry is lazy: a record idle past the TTL
// is deleted on read and reported as missing.
func (s *NakamaRoomStore) Load(ctx context.Context, roomCode string) (*domain.Room, string, error) {
	objects, err := s.nk.StorageRead(ctx, []*runtime.StorageRead{
		{Collection: roomsCollection, Key: roomCode},
	})
	if err != nil {
		return nil, "", fmt.Errorf("read room %s: %w", roomCode, err)
	}
	if len(objects) == 0 {
		return nil, "", ports.ErrNotFound
	}

	var room domain.Room
	if err := json.Unmarshal([]byte(objects[0].Value), &room); err != nil {
		return nil, "", fmt.Errorf("unmarshal room %s: %w", roomCode, err)
	}

	if s.ttl > 0 && s.now().Sub(room.UpdatedAt) > s.ttl {
		// best effort; an expired record that survives a failed delete
		// just expires again on the next read
		_ = s.Delete(ctx, roomCode)
		return nil, "", ports.ErrNotFound
	}
	return &room, objects[0].Version, nil
}

// Save writes the room conditionally on version.
func (s *NakamaRoomStore) Save(ctx context.Context, room *domain.Room, version string) (string, error) {
	value, err := json.Marshal(room)
	if err != nil {
		return "", fmt.Errorf("marshal room %s: %w", room.RoomCode, err)
	}

	acks, err := s.nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection:      roomsCollection,
			Key:             room.RoomCode,
			Value:           string(value),
			Version:         version,
			PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		},
	})
	if err != nil {
		if errors.Is(err, runtime.ErrStorageRejectedVersion) {
			return "", ports.ErrVersionConflict
		}
		return "", fmt.Errorf("write room %s: %w", room.RoomCode, err)
	}
	if len(acks) == 0 {
		return "", fmt.Errorf("write room %s: no ack", room.RoomCode)
	}
	return acks[0].Version, nil
}

func (s *NakamaRoomStore) Delete(ctx context.Context, roomCode string) error {
	err := s.nk.StorageDelete(ctx, []*runtime.StorageDelete{
		{Collection: roomsCollection, Key: roomCode},
	})
	if err != nil {
		return fmt.Errorf("delete room %s: %w", roomCode, err)
	}
	return nil
}

func (s *NakamaRoomStore) BindSession(ctx context.Context, sessionID, roomCode string) error {
	value, err := json.Marshal(sessionIndexRecord{RoomCode: roomCode})
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	_, err = s.nk.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection:      sessionsCollection,
			Key:             sessionID,
			Value:           string(value),
			PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		},
	})
	if err != nil {
		return fmt.Errorf("bind session %s: %w", sessionID, err)
	}
	return nil
}

func (s *NakamaRoomStore) UnbindSession(ctx context.Context, sessionID string) error {
	err := s.nk.StorageDelete(ctx, []*runtime.StorageDelete{
		{Collection: sessionsCollection, Key: sessionID},
	})
	if err != nil {
		return fmt.Errorf("unbind session %s: %w", sessionID, err)
	}
	return nil
}

func (s *NakamaRoomStore) RoomCodeForSession(ctx context.Context, sessionID string) (string, error) {
	objects, err := s.nk.StorageRead(ctx, []*runtime.StorageRead{
		{Collection: sessionsCollection, Key: sessionID},
	})
	if err != nil {
		return "", fmt.Errorf("read session %s: %w", sessionID, err)
	}
	if len(objects) == 0 {
		return "", ports.ErrNotFound
	}
	var rec sessionIndexRecord
	if err := json.Unmarshal([]byte(objects[0].Value), &rec); err != nil {
		return "", fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	if rec.RoomCode == "" {
		return "", ports.ErrNotFound
	}
	return rec.RoomCode, nil
}

var _ ports.RoomStore = (*NakamaRoomStore)(nil)
