package events

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"realtimesvc/internal/broker"
)

// sessionKind is the closed set of session event types we accept from the
// wire. Anything else is dropped, never an error.
type sessionKind int

const (
	sessionUnknown sessionKind = iota
	sessionUpdate
	sessionActivity
	sessionProgress
	sessionComplete
)

func parseSessionKind(s string) sessionKind {
	switch s {
	case "update":
		return sessionUpdate
	case "activity":
		return sessionActivity
	case "progress":
		return sessionProgress
	case "complete":
		return sessionComplete
	default:
		return sessionUnknown
	}
}

// SessionStatus is the closed status set exposed to clients.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusIdle      SessionStatus = "idle"
	StatusCompleted SessionStatus = "completed"
)

func parseSessionStatus(s string) SessionStatus {
	switch s {
	case "completed", "complete", "finished":
		return StatusCompleted
	case "idle", "paused":
		return StatusIdle
	default:
		// Free-text statuses from producers default to the safe value.
		return StatusActive
	}
}

// sessionEvent mirrors the loosely-typed shape session-svc publishes.
type sessionEvent struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"sessionId"`
	StudentID   string          `json:"studentId"`
	StudentName string          `json:"studentName,omitempty"`
	ClassID     string          `json:"classId"`
	Data        sessionData     `json:"data"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

type sessionData struct {
	Status          string   `json:"status,omitempty"`
	Progress        *float64 `json:"progress,omitempty"`
	CurrentActivity string   `json:"currentActivity,omitempty"`
	CurrentSkill    string   `json:"currentSkill,omitempty"`
	Score           *float64 `json:"score,omitempty"`
}

// SessionUpdate is the typed record broadcast to analytics:{classId}.
type SessionUpdate struct {
	SessionID       string          `json:"sessionId"`
	StudentID       string          `json:"studentId"`
	StudentName     string          `json:"studentName,omitempty"`
	ClassID         string          `json:"classId"`
	Status          SessionStatus   `json:"status"`
	Progress        *float64        `json:"progress,omitempty"`
	CurrentActivity string          `json:"currentActivity,omitempty"`
	CurrentSkill    string          `json:"currentSkill,omitempty"`
	Score           *float64        `json:"score,omitempty"`
	Timestamp       json.RawMessage `json:"timestamp,omitempty"`
}

// SessionHandler relays session-svc progress events to class dashboards.
type SessionHandler struct {
	broker  *broker.Broker
	gateway Broadcaster
	log     *zap.Logger

	mu  sync.Mutex
	sub *broker.Subscription
}

func NewSessionHandler(b *broker.Broker, g Broadcaster, log *zap.Logger) *SessionHandler {
	if log == nil {
		log = zap.L()
	}
	return &SessionHandler{broker: b, gateway: g, log: log}
}

func (h *SessionHandler) Initialize() error {
	sub, err := h.broker.Subscribe(ChannelSession, h.handle)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.sub = sub
	h.mu.Unlock()
	return nil
}

// Shutdown unsubscribes; calling it twice is safe.
func (h *SessionHandler) Shutdown() {
	h.mu.Lock()
	sub := h.sub
	h.sub = nil
	h.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (h *SessionHandler) handle(_ string, payload json.RawMessage) {
	var ev sessionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.log.Warn("events.session_decode", zap.Error(err))
		return
	}
	if ev.ClassID == "" {
		h.log.Debug("events.session_no_class", zap.String("session", ev.SessionID))
		return
	}

	kind := parseSessionKind(ev.Type)

	update := SessionUpdate{
		SessionID:       ev.SessionID,
		StudentID:       ev.StudentID,
		StudentName:     ev.StudentName,
		ClassID:         ev.ClassID,
		Status:          parseSessionStatus(ev.Data.Status),
		Progress:        ev.Data.Progress,
		CurrentActivity: ev.Data.CurrentActivity,
		CurrentSkill:    ev.Data.CurrentSkill,
		Score:           ev.Data.Score,
		Timestamp:       ev.Timestamp,
	}

	var eventType string
	switch kind {
	case sessionUpdate:
		eventType = EventSessionUpdate
	case sessionActivity:
		eventType = EventSessionActivity
	case sessionProgress:
		eventType = EventSessionProgress
	case sessionComplete:
		eventType = EventSessionComplete
		update.Status = StatusCompleted
	case sessionUnknown:
		h.log.Debug("events.session_unknown_type", zap.String("type", ev.Type))
		return
	default:
		return
	}

	h.gateway.Broadcast(AnalyticsRoom(ev.ClassID), eventType, update)
}
