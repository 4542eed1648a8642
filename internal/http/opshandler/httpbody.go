package opshandler

import "time"

type HealthResponse struct {
	Status string `json:"status"`
}

type OnlineResponse struct {
	Online []string `json:"online"`
}

type UserPresenceResponse struct {
	Online     bool      `json:"online"`
	Status     string    `json:"status,omitempty"`
	LastSeenAt time.Time `json:"lastSeenAt,omitempty"`
}

type LockResponse struct {
	Locked     bool      `json:"locked"`
	HolderID   string    `json:"holderId,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
