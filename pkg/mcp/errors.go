package mcp

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for connection-level failures.
var (
	// ErrNotConnected is returned when an operation requires a connected server.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionClosed fails every pending request when its connection is
	// torn down, deliberately or by transport loss.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrReconnectExhausted marks a connection that has used up its reconnect
	// budget. It is terminal; only a manual Connect retries.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrTransportLost marks a mid-session transport failure.
	ErrTransportLost = errors.New("transport lost")

	// ErrUnauthorized is the 401-equivalent surfaced by transports. Credential
	// refresh is the caller's responsibility.
	ErrUnauthorized = errors.New("unauthorized")
)

// Handshake stages, for HandshakeError.
const (
	stageOpen       = "open"
	stageInitialize = "initialize"
)

// HandshakeError reports why establishing a session failed: the push channel
// could not be opened, the negotiation timed out, or the server rejected the
// initialize request.
type HandshakeError struct {
	Stage   string // "open" or "initialize"
	Timeout bool
	Cause   error
}

func (e *HandshakeError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("handshake %s timed out: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("handshake %s failed: %v", e.Stage, e.Cause)
}

func (e *HandshakeError) Unwrap() error { return e.Cause }

// RequestTimeoutError is returned to a caller whose request deadline expired.
// It cancels only that request; the connection is unaffected.
type RequestTimeoutError struct {
	Method string
	After  time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Method, e.After)
}
