package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/heroiclabs/nakama-common/runtime"

	"oddstrike/internal/app"
	"oddstrike/internal/domain"
	"oddstrike/internal/ports"
)

// Request payloads. Clients send JSON; absent fields take zero values and
// fail validation downstream.
type createRoomRequest struct {
	Name string `json:"name"`
}

type joinRoomRequest struct {
	RoomCode string `json:"roomCode"`
	Name     string `json:"name"`
}

type roomRequest struct {
	RoomCode string `json:"roomCode"`
}

type killPlayerRequest struct {
	RoomCode          string `json:"roomCode"`
	TargetPlayerIndex int    `json:"targetPlayerIndex"`
	TargetNumber      int    `json:"targetNumber"`
}

type roomResponse struct {
	Room *domain.Room `json:"room"`
}

const okResponse = `{"success":true}`

type rpcHandlers struct {
	engine *app.Engine
	bc     ports.Broadcaster
}

// RegisterRPCs registers the room RPC endpoints.
func RegisterRPCs(initializer runtime.Initializer, engine *app.Engine, bc ports.Broadcaster) error {
	h := &rpcHandlers{engine: engine, bc: bc}
	for id, fn := range map[string]func(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule, string) (string, error){
		RpcCreateRoom:          h.rpcCreateRoom,
		RpcJoinRoom:            h.rpcJoinRoom,
		RpcStartGame:           h.rpcStartGame,
		RpcRollDice:            h.rpcRollDice,
		RpcKillPlayer:          h.rpcKillPlayer,
		RpcContinueSameRoom:    h.rpcContinueSameRoom,
		RpcLeaveRoom:           h.rpcLeaveRoom,
		RpcRejoinRoom:          h.rpcRejoinRoom,
		RpcRemindHost:          h.rpcRemindHost,
		RpcResetGame:           h.rpcResetGame,
		RpcRequestTimeoutCheck: h.rpcRequestTimeoutCheck,
	} {
		if err := initializer.RegisterRpc(id, fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *rpcHandlers) rpcCreateRoom(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	sess, err := sessionFromContext(ctx)
	if err != nil {
		return "", err
	}
	var req createRoomRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", runtime.NewError("Invalid payload", 3) // INVALID_ARGUMENT
	}
	room, err := h.engine.CreateRoom(ctx, sess, req.Name)
	if err != nil {
		return "", h.fail(ctx, logger, sess, err)
	}
	return marshalRoom(room)
}

func (h *rpcHandlers) rpcJoinRoom(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	sess, err := sessionFromContext(ctx)
	if err != nil {
		return "", err
	}
	var req joinRoomRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", runtime.NewError("Invalid payload", 3)
	}
	room, err := h.engine.JoinRoom(ctx, sess, req.RoomCode, req.Name)
	if err != nil {
		return "", h.fail(ctx, logger, sess, err)
	}
	return marshalRoom(room)
}

func (h *rpcHandlers) rpcStartGame(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return h.roomAction(ctx, logger, payload, h.engine.StartGame)
}

func (h *rpcHandlers) rpcRollDice(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return h.roomAction(ctx, logger, payload, h.engine.RollDice)
}

func (h *rpcHandlers) rpcKillPlayer(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	sess, err := sessionFromContext(ctx)
	if err != nil {
		return "", err
	}
	var req killPlayerRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", runtime.NewError("Invalid payload", 3)
	}
	if err := h.engine.KillPlayer(ctx, sess, req.RoomCode, req.TargetPlayerIndex, req.TargetNumber); err != nil {
		return "", h.fail(ctx, logger, sess, err)
	}
	return okResponse, nil
}

func (h *rpcHandlers) rpcContinueSameRoom(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return h.roomAction(ctx, logger, payload, h.engine.ContinueSameRoom)
}

func (h *rpcHandlers) rpcLeaveRoom(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return h.roomAction(ctx, logger, payload, h.engine.LeaveRoom)
}

func (h *rpcHandlers) rpcRejoinRoom(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	sess, err := sessionFromContext(ctx)
	if err != nil {
		return "", err
	}
	var req joinRoomRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", runtime.NewError("Invalid payload", 3)
	}
	room, err := h.engine.RejoinRoom(ctx, sess, req.RoomCode, req.Name)
	if err != nil {
		return "", h.fail(ctx, logger, sess, err)
	}
	return marshalRoom(room)
}

func (h *rpcHandlers) rpcRemindHost(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return h.roomAction(ctx, logger, payload, h.engine.RemindHost)
}

func (h *rpcHandlers) rpcResetGame(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return h.roomAction(ctx, logger, payload, h.engine.ResetGame)
}

func (h *rpcHandlers) rpcRequestTimeoutCheck(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return h.roomAction(ctx, logger, payload, h.engine.RequestTimeoutCheck)
}

// roomAction handles the RPCs whose request is just a room code.
func (h *rpcHandlers) roomAction(ctx context.Context, logger runtime.Logger, payload string, fn func(context.Context, app.Session, string) error) (string, error) {
	sess, err := sessionFromContext(ctx)
	if err != nil {
		return "", err
	}
	var req roomRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return "", runtime.NewError("Invalid payload", 3)
	}
	if err := fn(ctx, sess, req.RoomCode); err != nil {
		return "", h.fail(ctx, logger, sess, err)
	}
	return okResponse, nil
}

// fail maps engine errors to RPC errors. Validation failures also reach
// the requester as an errorMessage event, matching what in-room clients
// listen for.
func (h *rpcHandlers) fail(ctx context.Context, logger runtime.Logger, sess app.Session, err error) error {
	if app.IsValidation(err) {
		if sendErr := h.bc.SendToUser(ctx, sess.UserID, app.EventErrorMessage, app.ErrorMessagePayload{Text: err.Error()}); sendErr != nil {
			logger.Warn("fail: errorMessage to user %s: %v", sess.UserID, sendErr)
		}
		if errors.Is(err, app.ErrRoomNotFound) {
			return runtime.NewError(err.Error(), 5) // NOT_FOUND
		}
		return runtime.NewError(err.Error(), 3) // INVALID_ARGUMENT
	}
	logger.Error("fail: %v", err)
	return runtime.NewError("Internal error", 13) // INTERNAL
}

func sessionFromContext(ctx context.Context) (app.Session, error) {
	userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if !ok || userID == "" {
		return app.Session{}, runtime.NewError("Authentication required", 16) // UNAUTHENTICATED
	}
	sessionID, _ := ctx.Value(runtime.RUNTIME_CTX_SESSION_ID).(string)
	username, _ := ctx.Value(runtime.RUNTIME_CTX_USERNAME).(string)
	return app.Session{ID: sessionID, UserID: userID, Username: username}, nil
}

func marshalRoom(room *domain.Room) (string, error) {
	b, err := json.Marshal(roomResponse{Room: room})
	if err != nil {
		return "", runtime.NewError("Internal error", 13)
	}
	return string(b), nil
}
