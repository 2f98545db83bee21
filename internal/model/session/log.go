package session

import "time"

// LogType categorizes audit log entries.
type LogType string

const (
	LogInfo           LogType = "info"
	LogUserInput      LogType = "user_input"
	LogAgentAction    LogType = "agent_action"
	LogUserConnection LogType = "user_connection"
	LogDeviceMetadata LogType = "device_metadata"
	LogUserActivity   LogType = "user_activity"
	LogPageView       LogType = "page_view"
	LogSessionStart   LogType = "session_start"
)

// Valid reports whether t is a defined log category.
func (t LogType) Valid() bool {
	switch t {
	case LogInfo, LogUserInput, LogAgentAction, LogUserConnection,
		LogDeviceMetadata, LogUserActivity, LogPageView, LogSessionStart:
		return true
	}
	return false
}

// LogEntry is an immutable audit fact about one session. Entries are only
// ever appended; per-session ordering follows append order.
type LogEntry struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Type      LogType        `json:"log_type"`
	Message   string         `json:"message"`
	Extra     map[string]any `json:"extra_data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
