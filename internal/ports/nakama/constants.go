package nakama

// RPC ids registered with the Nakama runtime.
const (
	RpcCreateRoom          = "create_room"
	RpcJoinRoom            = "join_room"
	RpcStartGame           = "start_game"
	RpcRollDice            = "roll_dice"
	RpcKillPlayer          = "kill_player"
	RpcContinueSameRoom    = "continue_same_room"
	RpcLeaveRoom           = "leave_room"
	RpcRejoinRoom          = "rejoin_room"
	RpcRemindHost          = "remind_host"
	RpcResetGame           = "reset_game"
	RpcRequestTimeoutCheck = "request_turn_timeout_check"
)

// Storage layout. Records are system-owned; clients only see rooms
// through events and RPC responses.
const (
	roomsCollection    = "rooms"
	sessionsCollection = "room_sessions"
)

// StreamModeRoom is the custom stream mode carrying room events. Subject
// is unused; the room code travels in the stream label.
const StreamModeRoom uint8 = 101

// notificationCodeEvent marks in-app notifications that carry a room
// event for a single user.
const notificationCodeEvent = 100
