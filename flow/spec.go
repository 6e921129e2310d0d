package flow

import (
	"time"

	"github.com/BaSui01/flowkit/binding"
	"github.com/BaSui01/flowkit/types"
)

// EdgeType distinguishes the static forward graph from runtime loop
// re-entries.
type EdgeType string

const (
	EdgeForward EdgeType = "forward"
	EdgeLoop    EdgeType = "loop"
)

// GateMode controls how a node's inbound forward edges are combined.
type GateMode string

const (
	// GateAny fires the node when at least one predecessor fired and its
	// edge condition, if present, holds. The default.
	GateAny GateMode = "any"
	// GateAll requires every inbound edge's predecessor to have fired with
	// a holding condition.
	GateAll GateMode = "all"
)

// RetrySpec is the declarative retry policy of a node.
type RetrySpec struct {
	MaxAttempts int   `yaml:"maxAttempts" json:"maxAttempts"`
	BackoffMs   int64 `yaml:"backoffMs" json:"backoffMs"`
}

// NodePolicy tunes invocation of a single node.
type NodePolicy struct {
	// TimeoutMs bounds the run function; expiry is treated identically to
	// an execution failure.
	TimeoutMs int64 `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	// Retry bounds re-attempts through the backoff policy.
	Retry *RetrySpec `yaml:"retry,omitempty" json:"retry,omitempty"`
	// ContinueOnError downgrades an otherwise-fatal node failure to a
	// recorded failure that does not abort the run.
	ContinueOnError bool `yaml:"continueOnError,omitempty" json:"continueOnError,omitempty"`
}

// Timeout returns the timeout as a duration, zero when unset.
func (p *NodePolicy) Timeout() time.Duration {
	if p == nil || p.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// NodeSpec declares one node of a flow. Created at load time and never
// mutated during a run.
type NodeSpec struct {
	ID     string            `yaml:"id" json:"id"`
	Type   string            `yaml:"type" json:"type"`
	Input  map[string]any    `yaml:"input,omitempty" json:"input,omitempty"`
	Config map[string]any    `yaml:"config,omitempty" json:"config,omitempty"`
	When   *binding.WhenExpr `yaml:"when,omitempty" json:"when,omitempty"`
	Gate   GateMode          `yaml:"gate,omitempty" json:"gate,omitempty"`
	Policy *NodePolicy       `yaml:"policy,omitempty" json:"policy,omitempty"`
}

// Edge is a directed, optionally conditional connection between nodes.
// Loop edges are runtime-evaluated, cap-bounded re-entries excluded from
// the static order; MaxIterations may be a literal or a binding resolvable
// against the flow input at validation time.
type Edge struct {
	From          string            `yaml:"from" json:"from"`
	To            string            `yaml:"to" json:"to"`
	When          *binding.WhenExpr `yaml:"when,omitempty" json:"when,omitempty"`
	Type          EdgeType          `yaml:"type,omitempty" json:"type,omitempty"`
	MaxIterations any               `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
}

// IsLoop reports whether the edge is a loop back-edge.
func (e Edge) IsLoop() bool {
	return e.Type == EdgeLoop
}

// Policy is the flow-level execution policy.
type Policy struct {
	// FailFast fails the run on the first node failure, overriding any
	// per-node continueOnError.
	FailFast bool `yaml:"failFast,omitempty" json:"failFast,omitempty"`
}

// Spec is an immutable flow definition: the declarative node/edge graph
// plus metadata and policy.
type Spec struct {
	Name        string            `yaml:"name" json:"name"`
	Version     string            `yaml:"version,omitempty" json:"version,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Input       *types.JSONSchema `yaml:"input,omitempty" json:"input,omitempty"`
	NodePacks   []string          `yaml:"nodePacks,omitempty" json:"nodePacks,omitempty"`
	Policy      Policy            `yaml:"policy,omitempty" json:"policy,omitempty"`
	Nodes       []NodeSpec        `yaml:"nodes" json:"nodes"`
	Edges       []Edge            `yaml:"edges,omitempty" json:"edges,omitempty"`
}

// nodeContinuesOnError reports whether a failure of ns is downgraded to a
// recorded, non-fatal failure. Flow-level failFast beats the per-node
// policy.
func (s *Spec) nodeContinuesOnError(ns NodeSpec) bool {
	if s.Policy.FailFast {
		return false
	}
	return ns.Policy != nil && ns.Policy.ContinueOnError
}

// Node returns the node with the given id.
func (s *Spec) Node(id string) (NodeSpec, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}
