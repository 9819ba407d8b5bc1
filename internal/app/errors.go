package app

import "errors"

// Validation errors surfaced only to the requester. The texts are shown to
// players verbatim, hence the sentence casing.
var (
	ErrRoomNotFound  = errors.New("Room not found")
	ErrGameStarted   = errors.New("Game already started")
	ErrRoomFull      = errors.New("Room is full")
	ErrNameTaken     = errors.New("Name already taken in this room")
	ErrNotHost       = errors.New("Only host can start")
	ErrTooFewPlayers = errors.New("Need at least 2 players")
	ErrNotYourTurn   = errors.New("Not your turn")
	ErrBulletPending = errors.New("Use your bullet first")
	ErrJoinConflict  = errors.New("Unable to join room. Please try again.")
)

// IsValidation reports whether err is one of the requester-facing
// validation errors (as opposed to a storage or transport failure).
func IsValidation(err error) bool {
	for _, v := range []error{
		ErrRoomNotFound, ErrGameStarted, ErrRoomFull, ErrNameTaken,
		ErrNotHost, ErrTooFewPlayers, ErrNotYourTurn, ErrBulletPending,
		ErrJoinConflict,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}
