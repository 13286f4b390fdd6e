package ws

import "errors"

var (
	ErrClientQueueFull  = errors.New("client message queue is full")
	ErrInvalidEvent     = errors.New("invalid event format")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotAuthenticated = errors.New("connection is not authenticated")
	ErrRoomNotFound     = errors.New("room not found")
	ErrUserNotInRoom    = errors.New("user not in room")
)
