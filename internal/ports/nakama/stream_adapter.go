package nakama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"

	"oddstrike/internal/ports"
)

// streamModule is the slice of runtime.NakamaModule the broadcaster needs.
type streamModule interface {
	StreamUserJoin(mode uint8, subject, subcontext, label, userID, sessionID string, hidden, persistence bool, status string) (bool, error)
	StreamUserLeave(mode uint8, subject, subcontext, label, userID, sessionID string) error
	StreamSend(mode uint8, subject, subcontext, label, data string, presences []runtime.Presence, reliable bool) error
	NotificationSend(ctx context.Context, userID, subject string, content map[string]interface{}, code int, sender string, persistent bool) error
}

// NakamaBroadcaster delivers room events over a per-room stream and
// single-user events as transient in-app notifications. Every message is
// a JSON envelope of {"event": name, "payload": ...}.
type NakamaBroadcaster struct {
	nk streamModule
}

func NewNakamaBroadcaster(nk streamModule) *NakamaBroadcaster {
	return &NakamaBroadcaster{nk: nk}
}

type eventEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

func (b *NakamaBroadcaster) JoinRoom(ctx context.Context, roomCode, userID, sessionID string) error {
	_, err := b.nk.StreamUserJoin(StreamModeRoom, "", "", roomCode, userID, sessionID, false, false, "")
	if err != nil {
		return fmt.Errorf("join stream for room %s: %w", roomCode, err)
	}
	return nil
}

func (b *NakamaBroadcaster) LeaveRoom(ctx context.Context, roomCode, userID, sessionID string) error {
	if err := b.nk.StreamUserLeave(StreamModeRoom, "", "", roomCode, userID, sessionID); err != nil {
		return fmt.Errorf("leave stream for room %s: %w", roomCode, err)
	}
	return nil
}

func (b *NakamaBroadcaster) BroadcastRoom(ctx context.Context, roomCode, event string, payload any) error {
	data, err := json.Marshal(eventEnvelope{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if err := b.nk.StreamSend(StreamModeRoom, "", "", roomCode, string(data), nil, true); err != nil {
		return fmt.Errorf("send %s to room %s: %w", event, roomCode, err)
	}
	return nil
}

func (b *NakamaBroadcaster) SendToUser(ctx context.Context, userID, event string, payload any) error {
	content, err := toContent(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if err := b.nk.NotificationSend(ctx, userID, event, content, notificationCodeEvent, "", false); err != nil {
		return fmt.Errorf("send %s to user %s: %w", event, userID, err)
	}
	return nil
}

// toContent converts an event payload to the map shape notifications
// require.
func toContent(payload any) (map[string]interface{}, error) {
	if payload == nil {
		return map[string]interface{}{}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	content := map[string]interface{}{}
	if err := json.Unmarshal(data, &content); err != nil {
		// non-object payloads are wrapped
		return map[string]interface{}{"value": json.RawMessage(data)}, nil
	}
	return content, nil
}

var _ ports.Broadcaster = (*NakamaBroadcaster)(nil)
