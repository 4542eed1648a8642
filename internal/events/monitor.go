package events

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"realtimesvc/internal/broker"
)

type monitorKind int

const (
	monitorUnknown monitorKind = iota
	monitorActivity
	monitorStatus
)

func parseMonitorKind(s string) monitorKind {
	switch s {
	case "activity":
		return monitorActivity
	case "status":
		return monitorStatus
	default:
		return monitorUnknown
	}
}

// monitorEvent is the wire shape on realtime:monitor.
type monitorEvent struct {
	Type        string          `json:"type"`
	ClassroomID string          `json:"classroomId"`
	StudentID   string          `json:"studentId,omitempty"`
	Data        json.RawMessage `json:"data"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// MonitorUpdate is the typed record broadcast to monitor:{classroomId}.
type MonitorUpdate struct {
	ClassroomID string          `json:"classroomId"`
	StudentID   string          `json:"studentId,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
}

// MonitorHandler relays classroom-monitor activity to monitor views.
type MonitorHandler struct {
	broker  *broker.Broker
	gateway Broadcaster
	log     *zap.Logger

	mu  sync.Mutex
	sub *broker.Subscription
}

func NewMonitorHandler(b *broker.Broker, g Broadcaster, log *zap.Logger) *MonitorHandler {
	if log == nil {
		log = zap.L()
	}
	return &MonitorHandler{broker: b, gateway: g, log: log}
}

func (h *MonitorHandler) Initialize() error {
	sub, err := h.broker.Subscribe(ChannelMonitor, h.handle)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.sub = sub
	h.mu.Unlock()
	return nil
}

func (h *MonitorHandler) Shutdown() {
	h.mu.Lock()
	sub := h.sub
	h.sub = nil
	h.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (h *MonitorHandler) handle(_ string, payload json.RawMessage) {
	var ev monitorEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.log.Warn("events.monitor_decode", zap.Error(err))
		return
	}
	if ev.ClassroomID == "" {
		h.log.Debug("events.monitor_no_classroom")
		return
	}

	var eventType string
	switch parseMonitorKind(ev.Type) {
	case monitorActivity:
		eventType = EventMonitorActivity
	case monitorStatus:
		eventType = EventMonitorStatus
	case monitorUnknown:
		h.log.Debug("events.monitor_unknown_type", zap.String("type", ev.Type))
		return
	default:
		return
	}

	h.gateway.Broadcast(MonitorRoom(ev.ClassroomID), eventType, MonitorUpdate{
		ClassroomID: ev.ClassroomID,
		StudentID:   ev.StudentID,
		Data:        ev.Data,
		Timestamp:   ev.Timestamp,
	})
}
