package events

// Broker channels written by producer services (session-svc, analytics
// pipelines, classroom monitor). Names are part of the wire contract.
const (
	ChannelSession   = "realtime:session"
	ChannelAnalytics = "realtime:analytics"
	ChannelAlerts    = "realtime:alerts"
	ChannelMonitor   = "realtime:monitor"
)

// Outbound eventType values pushed to WebSocket clients.
const (
	EventSessionUpdate   = "SESSION_UPDATE"
	EventSessionActivity = "SESSION_ACTIVITY"
	EventSessionProgress = "SESSION_PROGRESS"
	EventSessionComplete = "SESSION_COMPLETE"
	EventAnalyticsUpdate = "ANALYTICS_UPDATE"
	EventAnalyticsAlert  = "ANALYTICS_ALERT"
	EventNewAlert        = "NEW_ALERT"
	EventMonitorActivity = "MONITOR_ACTIVITY"
	EventMonitorStatus   = "MONITOR_STATUS"
)

// Broadcaster is the slice of the WebSocket gateway the handlers need.
type Broadcaster interface {
	Broadcast(roomID, eventType string, payload any)
}

// AnalyticsRoom is where a class's dashboards listen.
func AnalyticsRoom(classID string) string { return "analytics:" + classID }

// MonitorRoom is where a classroom's monitor views listen.
func MonitorRoom(classroomID string) string { return "monitor:" + classroomID }
