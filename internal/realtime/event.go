package realtime

import "fmt"

// Channel names. The firehose carries every session's events and is visible
// only to superusers; agent channels isolate one agent's sessions; session
// channels reach the single end-user socket group.
const ChannelFirehose = "control_room"

// AgentChannel names the per-agent isolation channel.
func AgentChannel(agentID string) string {
	return fmt.Sprintf("agent_%s", agentID)
}

// SessionChannel names the per-session user channel, keyed by the internal
// session id.
func SessionChannel(sessionID string) string {
	return fmt.Sprintf("session_%s", sessionID)
}

// Event is one fan-out message. Type matches the frames the dashboard and
// user frontends consume (session_update, user_status, verified_data,
// command, control_message, and the relayed user telemetry types).
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"uuid,omitempty"`
	CaseID    string         `json:"case_id,omitempty"`
	Payload   map[string]any `json:"data,omitempty"`
}
