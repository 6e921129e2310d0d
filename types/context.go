package types

// PhaseScope identifies a logical phase within a run.
type PhaseScope struct {
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Number int    `json:"number,omitempty" yaml:"number,omitempty"`
}

// TaskScope identifies a task within a phase.
type TaskScope struct {
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
}

// AgentScope identifies the agent currently holding the turn.
type AgentScope struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// EventContext is the hierarchical, additively-merged scope attached to every
// event. SessionID is fixed for the life of a hub; the remaining fields are
// pushed and popped by scoped execution.
type EventContext struct {
	SessionID string      `json:"sessionId"`
	Phase     *PhaseScope `json:"phase,omitempty"`
	Task      *TaskScope  `json:"task,omitempty"`
	Agent     *AgentScope `json:"agent,omitempty"`
}

// Merge returns the shallow merge of c and override: fields set on override
// win, fields unset on override fall through to c. Neither input is mutated.
func (c EventContext) Merge(override EventContext) EventContext {
	out := c
	if override.SessionID != "" {
		out.SessionID = override.SessionID
	}
	if override.Phase != nil {
		out.Phase = override.Phase
	}
	if override.Task != nil {
		out.Task = override.Task
	}
	if override.Agent != nil {
		out.Agent = override.Agent
	}
	return out
}
