package game

import (
	"errors"

	"github.com/scythe504/drawguess/internal"
	"github.com/scythe504/drawguess/internal/protocol"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrGameInProgress   = errors.New("game already in progress")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotInRoom        = errors.New("player is not in a room")
	ErrTooManyRooms     = errors.New("too many rooms")
	ErrNotEnoughPlayers = errors.New("not enough players")
)

// ErrorKind maps an error to the kind reported to clients.
func ErrorKind(err error) protocol.ErrorKind {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return protocol.ErrKindRoomNotFound
	case errors.Is(err, ErrRoomFull):
		return protocol.ErrKindRoomFull
	case errors.Is(err, ErrGameInProgress):
		return protocol.ErrKindGameInProgress
	case errors.Is(err, ErrPermissionDenied):
		return protocol.ErrKindPermissionDenied
	case errors.Is(err, ErrNotInRoom):
		return protocol.ErrKindNotInRoom
	case errors.Is(err, ErrTooManyRooms):
		return protocol.ErrKindTooManyRooms
	case errors.Is(err, ErrNotEnoughPlayers):
		return protocol.ErrKindNotEnoughPlayers
	case errors.Is(err, internal.ErrInvalidConfig):
		return protocol.ErrKindInvalidConfig
	case errors.Is(err, protocol.ErrMalformed):
		return protocol.ErrKindMalformed
	}
	return protocol.ErrKindInternal
}

func errorMessage(roomID string, err error) protocol.Message {
	return protocol.Message{
		Kind:    protocol.KindError,
		RoomID:  roomID,
		Payload: protocol.Error{Kind: ErrorKind(err), Message: err.Error()},
	}
}
