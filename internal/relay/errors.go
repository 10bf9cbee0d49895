package relay

import "errors"

// Relay errors
var (
	// Handshake errors

	ErrUnauthorized = errors.New("handshake rejected: unauthorized")
	ErrRoomFull     = errors.New("handshake rejected: room is full")
	ErrInvalidRoom  = errors.New("invalid room identifier")

	// Connection errors

	ErrConnectionClosed = errors.New("connection is closed")
	ErrSendQueueFull    = errors.New("send queue is full")

	// Server errors

	ErrServerRunning    = errors.New("server is already running")
	ErrServerNotRunning = errors.New("server is not running")
)
