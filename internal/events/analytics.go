package events

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"realtimesvc/internal/broker"
)

type analyticsKind int

const (
	analyticsUnknown analyticsKind = iota
	analyticsUpdate
	analyticsAlert
)

func parseAnalyticsKind(s string) analyticsKind {
	switch s {
	case "update":
		return analyticsUpdate
	case "alert":
		return analyticsAlert
	default:
		return analyticsUnknown
	}
}

// analyticsEvent is the wire shape on realtime:analytics.
type analyticsEvent struct {
	Type      string          `json:"type"`
	ClassID   string          `json:"classId"`
	Metric    string          `json:"metric,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// AnalyticsUpdate is the typed record broadcast to analytics:{classId}.
type AnalyticsUpdate struct {
	ClassID   string          `json:"classId"`
	Metric    string          `json:"metric,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// AnalyticsHandler relays pipeline metric updates and alerts to dashboards.
type AnalyticsHandler struct {
	broker  *broker.Broker
	gateway Broadcaster
	log     *zap.Logger

	mu  sync.Mutex
	sub *broker.Subscription
}

func NewAnalyticsHandler(b *broker.Broker, g Broadcaster, log *zap.Logger) *AnalyticsHandler {
	if log == nil {
		log = zap.L()
	}
	return &AnalyticsHandler{broker: b, gateway: g, log: log}
}

func (h *AnalyticsHandler) Initialize() error {
	sub, err := h.broker.Subscribe(ChannelAnalytics, h.handle)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.sub = sub
	h.mu.Unlock()
	return nil
}

func (h *AnalyticsHandler) Shutdown() {
	h.mu.Lock()
	sub := h.sub
	h.sub = nil
	h.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (h *AnalyticsHandler) handle(_ string, payload json.RawMessage) {
	var ev analyticsEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.log.Warn("events.analytics_decode", zap.Error(err))
		return
	}
	if ev.ClassID == "" {
		h.log.Debug("events.analytics_no_class")
		return
	}

	var eventType string
	switch parseAnalyticsKind(ev.Type) {
	case analyticsUpdate:
		eventType = EventAnalyticsUpdate
	case analyticsAlert:
		eventType = EventAnalyticsAlert
	case analyticsUnknown:
		h.log.Debug("events.analytics_unknown_type", zap.String("type", ev.Type))
		return
	default:
		return
	}

	h.gateway.Broadcast(AnalyticsRoom(ev.ClassID), eventType, AnalyticsUpdate{
		ClassID:   ev.ClassID,
		Metric:    ev.Metric,
		Data:      ev.Data,
		Timestamp: ev.Timestamp,
	})
}
