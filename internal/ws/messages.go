package ws

import "encoding/json"

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "rooms/join"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// ──────────────────────────── Request / Response DTOs ─────────────────────────

// RoomRequest is the body for "rooms/join" and "rooms/leave".
type RoomRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}

// AcquireLockRequest is the body for "locks/acquire". ElementID narrows the
// scope from the whole document to a single element.
type AcquireLockRequest struct {
	DocumentID string `json:"documentId" validate:"required"`
	ElementID  string `json:"elementId,omitempty"`
	TTLMs      int64  `json:"ttlMs,omitempty"`
}

// AcquireLockResponse reports contention as data, not as an error.
type AcquireLockResponse struct {
	Acquired bool   `json:"acquired"`
	Token    string `json:"token,omitempty"`
}

type RenewLockRequest struct {
	DocumentID string `json:"documentId" validate:"required"`
	ElementID  string `json:"elementId,omitempty"`
	Token      string `json:"token" validate:"required"`
	TTLMs      int64  `json:"ttlMs,omitempty"`
}

type RenewLockResponse struct {
	Renewed bool `json:"renewed"`
}

type ReleaseLockRequest struct {
	DocumentID string `json:"documentId" validate:"required"`
	ElementID  string `json:"elementId,omitempty"`
	Token      string `json:"token" validate:"required"`
}

type ReleaseLockResponse struct {
	Released bool `json:"released"`
}

// Empty ACK body (useful for many handlers).
type AckBody struct{}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error string `json:"error"`
}
