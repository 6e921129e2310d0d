package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/flowkit/types"
)

// Category groups event types for exhaustive handling at boundaries.
type Category string

const (
	CategoryWorkflow Category = "workflow"
	CategoryNode     Category = "node"
	CategoryTask     Category = "task"
	CategoryAgent    Category = "agent"
	CategorySession  Category = "session"
	CategoryChannel  Category = "channel"
)

// Event is a tagged payload in one of the closed event categories.
type Event interface {
	EventType() string
	EventCategory() Category
}

// Workflow lifecycle events

// FlowStarted marks the start of a run.
type FlowStarted struct {
	FlowName string         `json:"flowName"`
	Input    map[string]any `json:"input,omitempty"`
}

func (FlowStarted) EventType() string        { return "flow:start" }
func (FlowStarted) EventCategory() Category  { return CategoryWorkflow }

// FlowCompleted terminates every run, successful or not. Failed runs carry
// the triggering message and, when available, a trace reference; consumers
// never infer failure from silence.
type FlowCompleted struct {
	FlowName   string `json:"flowName"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
	TraceID    string `json:"traceId,omitempty"`
}

func (FlowCompleted) EventType() string       { return "flow:complete" }
func (FlowCompleted) EventCategory() Category { return CategoryWorkflow }

// Node lifecycle events

type NodeStarted struct {
	NodeID   string `json:"nodeId"`
	NodeType string `json:"nodeType"`
	Attempt  int    `json:"attempt"`
}

func (NodeStarted) EventType() string       { return "node:start" }
func (NodeStarted) EventCategory() Category { return CategoryNode }

type NodeCompleted struct {
	NodeID     string `json:"nodeId"`
	NodeType   string `json:"nodeType"`
	DurationMs int64  `json:"durationMs"`
}

func (NodeCompleted) EventType() string       { return "node:complete" }
func (NodeCompleted) EventCategory() Category { return CategoryNode }

// SkipReason distinguishes an unsatisfied inbound edge from a false node
// `when` condition.
type SkipReason string

const (
	SkipReasonEdge SkipReason = "edge"
	SkipReasonWhen SkipReason = "when"
)

type NodeSkipped struct {
	NodeID string     `json:"nodeId"`
	Reason SkipReason `json:"reason"`
}

func (NodeSkipped) EventType() string       { return "node:skipped" }
func (NodeSkipped) EventCategory() Category { return CategoryNode }

type NodeFailed struct {
	NodeID   string          `json:"nodeId"`
	NodeType string          `json:"nodeType"`
	Code     types.ErrorCode `json:"code,omitempty"`
	Message  string          `json:"message"`
	Attempt  int             `json:"attempt"`
	Fatal    bool            `json:"fatal"`
	TraceID  string          `json:"traceId,omitempty"`
}

func (NodeFailed) EventType() string       { return "node:failed" }
func (NodeFailed) EventCategory() Category { return CategoryNode }

type NodeRetrying struct {
	NodeID  string `json:"nodeId"`
	Attempt int    `json:"attempt"`
	DelayMs int64  `json:"delayMs"`
}

func (NodeRetrying) EventType() string       { return "node:retry" }
func (NodeRetrying) EventCategory() Category { return CategoryNode }

// Task events, emitted by nodes that decompose their work.

type TaskStarted struct {
	TaskID string `json:"taskId"`
	Name   string `json:"name,omitempty"`
}

func (TaskStarted) EventType() string       { return "task:start" }
func (TaskStarted) EventCategory() Category { return CategoryTask }

type TaskCompleted struct {
	TaskID  string `json:"taskId"`
	Success bool   `json:"success"`
}

func (TaskCompleted) EventType() string       { return "task:complete" }
func (TaskCompleted) EventCategory() Category { return CategoryTask }

// Agent events, emitted by provider-backed nodes through the node contract.

type AgentMessage struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
	Partial bool   `json:"partial,omitempty"`
}

func (AgentMessage) EventType() string       { return "agent:message" }
func (AgentMessage) EventCategory() Category { return CategoryAgent }

// Session command and lifecycle events

type SessionMessage struct {
	Message     types.Message `json:"message"`
	TargetAgent string        `json:"targetAgent,omitempty"`
	TargetRun   string        `json:"targetRun,omitempty"`
}

func (SessionMessage) EventType() string       { return "session:message" }
func (SessionMessage) EventCategory() Category { return CategorySession }

type SessionPrompt struct {
	PromptID string `json:"promptId"`
	Prompt   string `json:"prompt"`
}

func (SessionPrompt) EventType() string       { return "session:prompt" }
func (SessionPrompt) EventCategory() Category { return CategorySession }

type SessionReply struct {
	PromptID string `json:"promptId"`
	Response any    `json:"response"`
}

func (SessionReply) EventType() string       { return "session:reply" }
func (SessionReply) EventCategory() Category { return CategorySession }

type SessionPaused struct {
	Reason string `json:"reason,omitempty"`
}

func (SessionPaused) EventType() string       { return "session:paused" }
func (SessionPaused) EventCategory() Category { return CategorySession }

type SessionResumed struct {
	Message *types.Message `json:"message,omitempty"`
}

func (SessionResumed) EventType() string       { return "session:resumed" }
func (SessionResumed) EventCategory() Category { return CategorySession }

type SessionAborted struct {
	Reason string `json:"reason,omitempty"`
}

func (SessionAborted) EventType() string       { return "session:aborted" }
func (SessionAborted) EventCategory() Category { return CategorySession }

// Channel lifecycle events

type ChannelRegistered struct {
	Channel string `json:"channel"`
}

func (ChannelRegistered) EventType() string       { return "channel:registered" }
func (ChannelRegistered) EventCategory() Category { return CategoryChannel }

type ChannelStarted struct {
	Channel string `json:"channel"`
}

func (ChannelStarted) EventType() string       { return "channel:started" }
func (ChannelStarted) EventCategory() Category { return CategoryChannel }

type ChannelStopped struct {
	Channel string `json:"channel"`
}

func (ChannelStopped) EventType() string       { return "channel:stopped" }
func (ChannelStopped) EventCategory() Category { return CategoryChannel }

// EnrichedEvent is the durable, replayable unit of observability: the
// payload plus id, timestamp and the context snapshot active at emission.
type EnrichedEvent struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Context   types.EventContext `json:"context"`
	Event     Event              `json:"event"`
}

// Type returns the payload event type.
func (e EnrichedEvent) Type() string {
	if e.Event == nil {
		return ""
	}
	return e.Event.EventType()
}

// envelope is the stable, additive-only wire shape.
type envelope struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Context   types.EventContext `json:"context"`
	Event     json.RawMessage    `json:"event"`
}

// MarshalJSON flattens the payload with its "type" tag into the event field.
func (e EnrichedEvent) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Event)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("flatten event payload: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["type"] = e.Event.EventType()
	tagged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{ID: e.ID, Timestamp: e.Timestamp, Context: e.Context, Event: tagged})
}

// ErrUnknownEventType is returned when decoding an event type outside the
// closed sum. Boundaries log and skip such events rather than coercing them.
var ErrUnknownEventType = types.NewError(types.ErrValidation, "unknown event type")

// UnmarshalJSON decodes the wire shape back into the closed sum.
func (e *EnrichedEvent) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(env.Event, &tag); err != nil {
		return err
	}
	event, err := decodeEvent(tag.Type, env.Event)
	if err != nil {
		return err
	}
	e.ID = env.ID
	e.Timestamp = env.Timestamp
	e.Context = env.Context
	e.Event = event
	return nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeEvent(eventType string, data []byte) (Event, error) {
	switch eventType {
	case "flow:start":
		return decodeAs[FlowStarted](data)
	case "flow:complete":
		return decodeAs[FlowCompleted](data)
	case "node:start":
		return decodeAs[NodeStarted](data)
	case "node:complete":
		return decodeAs[NodeCompleted](data)
	case "node:skipped":
		return decodeAs[NodeSkipped](data)
	case "node:failed":
		return decodeAs[NodeFailed](data)
	case "node:retry":
		return decodeAs[NodeRetrying](data)
	case "task:start":
		return decodeAs[TaskStarted](data)
	case "task:complete":
		return decodeAs[TaskCompleted](data)
	case "agent:message":
		return decodeAs[AgentMessage](data)
	case "session:message":
		return decodeAs[SessionMessage](data)
	case "session:prompt":
		return decodeAs[SessionPrompt](data)
	case "session:reply":
		return decodeAs[SessionReply](data)
	case "session:paused":
		return decodeAs[SessionPaused](data)
	case "session:resumed":
		return decodeAs[SessionResumed](data)
	case "session:aborted":
		return decodeAs[SessionAborted](data)
	case "channel:registered":
		return decodeAs[ChannelRegistered](data)
	case "channel:started":
		return decodeAs[ChannelStarted](data)
	case "channel:stopped":
		return decodeAs[ChannelStopped](data)
	default:
		return nil, ErrUnknownEventType
	}
}
