package session

import "errors"

var (
	// ErrTimeout is returned when no correlated reply arrives in time.
	ErrTimeout = errors.New("session: reply timeout")

	// ErrConnection wraps I/O failures opening, reading or writing the connection.
	ErrConnection = errors.New("session: connection error")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session: closed")

	// ErrOffline is returned when there is no open connection to send on.
	ErrOffline = errors.New("session: offline")
)
