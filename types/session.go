package types

import "time"

// Message is a unit of mid-run interjection delivered to a running or
// paused session.
type Message struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Agent    string         `json:"agent,omitempty"`
	RunID    string         `json:"run_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// SessionState is the durable snapshot captured when a run is resumably
// paused. It holds exactly enough to continue from the captured position:
// the node index, outputs accumulated so far, and the undelivered inbox.
type SessionState struct {
	SessionID        string         `json:"session_id"`
	FlowName         string         `json:"flow_name"`
	CurrentNodeID    string         `json:"current_node_id"`
	CurrentNodeIndex int            `json:"current_node_index"`
	Outputs          map[string]any `json:"outputs"`
	PendingMessages  []Message      `json:"pending_messages,omitempty"`
	// StartedAt anchors the run's duration across pauses: a resumed
	// continuation reports the span from the original flow start.
	StartedAt time.Time `json:"started_at,omitempty"`
	PausedAt  time.Time `json:"paused_at"`
	PauseReason      string         `json:"pause_reason,omitempty"`
}
