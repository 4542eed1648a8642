package events

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"realtimesvc/internal/broker"
)

// AlertSeverity is the closed severity set clients render. Producers send
// free-text severities; anything unrecognized maps to info rather than
// failing the event.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

func parseSeverity(s string) AlertSeverity {
	switch strings.ToLower(s) {
	case "critical", "high", "urgent":
		return SeverityCritical
	case "warning", "warn", "medium":
		return SeverityWarning
	case "info", "low":
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// alertEvent is the wire shape on realtime:alerts.
type alertEvent struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Severity    string          `json:"severity"`
	StudentID   string          `json:"studentId"`
	StudentName string          `json:"studentName"`
	ClassID     string          `json:"classId"`
	Message     string          `json:"message"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// Alert is the typed record broadcast to analytics:{classId}.
type Alert struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Severity    AlertSeverity   `json:"severity"`
	StudentID   string          `json:"studentId"`
	StudentName string          `json:"studentName,omitempty"`
	ClassID     string          `json:"classId"`
	Message     string          `json:"message"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
}

// AlertsHandler relays analytics alerts to teacher dashboards.
//
// Acknowledgments are the documented exception: an alert with
// type "acknowledge" marks an existing alert as handled, so it is consumed
// for bookkeeping only and must not be re-fanned-out as a new alert.
type AlertsHandler struct {
	broker  *broker.Broker
	gateway Broadcaster
	log     *zap.Logger

	mu           sync.Mutex
	sub          *broker.Subscription
	acknowledged int
}

func NewAlertsHandler(b *broker.Broker, g Broadcaster, log *zap.Logger) *AlertsHandler {
	if log == nil {
		log = zap.L()
	}
	return &AlertsHandler{broker: b, gateway: g, log: log}
}

func (h *AlertsHandler) Initialize() error {
	sub, err := h.broker.Subscribe(ChannelAlerts, h.handle)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.sub = sub
	h.mu.Unlock()
	return nil
}

func (h *AlertsHandler) Shutdown() {
	h.mu.Lock()
	sub := h.sub
	h.sub = nil
	h.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// AcknowledgedCount reports how many acknowledge events this instance has
// consumed. Ops visibility only.
func (h *AlertsHandler) AcknowledgedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acknowledged
}

func (h *AlertsHandler) handle(_ string, payload json.RawMessage) {
	var ev alertEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.log.Warn("events.alert_decode", zap.Error(err))
		return
	}

	if ev.Type == "acknowledge" {
		h.mu.Lock()
		h.acknowledged++
		h.mu.Unlock()
		h.log.Debug("events.alert_acknowledged", zap.String("id", ev.ID))
		return
	}

	if ev.ClassID == "" {
		h.log.Debug("events.alert_no_class", zap.String("id", ev.ID))
		return
	}

	h.gateway.Broadcast(AnalyticsRoom(ev.ClassID), EventNewAlert, Alert{
		ID:          ev.ID,
		Type:        ev.Type,
		Severity:    parseSeverity(ev.Severity),
		StudentID:   ev.StudentID,
		StudentName: ev.StudentName,
		ClassID:     ev.ClassID,
		Message:     ev.Message,
		Timestamp:   ev.Timestamp,
	})
}
