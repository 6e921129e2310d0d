package node

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/flowkit/binding"
	"github.com/BaSui01/flowkit/hub"
	"github.com/BaSui01/flowkit/types"
)

// Capabilities are the optional contract extensions a node may declare.
// The executor supplies the matching RunContext fields on demand.
type Capabilities struct {
	// IsStreaming marks nodes that deliver partial values over a [Stream]
	// before the final output.
	IsStreaming bool `json:"is_streaming,omitempty"`
	// SupportsMultiTurn marks nodes that block on the session inbox for
	// continuation messages.
	SupportsMultiTurn bool `json:"supports_multi_turn,omitempty"`
	// IsContainer marks nodes that drive a named list of child nodes.
	IsContainer bool `json:"is_container,omitempty"`
	// CreatesSession wraps each invocation in a freshly minted session id.
	CreatesSession bool `json:"creates_session,omitempty"`
	// NeedsBindingContext exposes the current binding context to the node.
	NeedsBindingContext bool `json:"needs_binding_context,omitempty"`
}

// ExecuteChildFunc lets a container node drive child nodes by id. The
// executor runs them in order under a freshly minted session scope, with
// vars overlaid on the binding context (e.g. the current foreach item), and
// returns their outputs keyed by node id.
type ExecuteChildFunc func(ctx context.Context, nodeIDs []string, vars map[string]any) (map[string]any, error)

// RunContext carries the executor-supplied collaborators into a node's run
// function. Hub and RunID are always present; BindingContext and
// ExecuteChild only when the matching capability is declared.
type RunContext struct {
	Hub            *hub.Hub
	RunID          string
	Logger         *zap.Logger
	BindingContext *binding.Context
	ExecuteChild   ExecuteChildFunc
	// FanOutWidth is the executor's default concurrency for container
	// fan-out nodes that declare no width of their own; zero or negative
	// leaves the node's built-in default in effect.
	FanOutWidth int
}

// RunFunc executes a node against its resolved input.
type RunFunc func(ctx context.Context, rc RunContext, input any) (any, error)

// Definition is the immutable contract of a node type, registered once at
// startup.
type Definition struct {
	Type         string
	Description  string
	InputSchema  *types.JSONSchema
	OutputSchema *types.JSONSchema
	Capabilities Capabilities
	Run          RunFunc
}

// Pack returns the node-pack identifier, the segment before the first dot
// of the type id ("control.if" → "control").
func (d Definition) Pack() string {
	if i := strings.Index(d.Type, "."); i > 0 {
		return d.Type[:i]
	}
	return d.Type
}

// Registry maps type identifiers to node definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// NewRegistryWithBuiltins creates a registry preloaded with the control
// pack and the core value nodes.
func NewRegistryWithBuiltins() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// Register adds a definition. Type ids are unique; re-registration is an
// error so startup wiring mistakes surface immediately.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" {
		return types.NewError(types.ErrValidation, "node definition requires a type id")
	}
	if def.Run == nil {
		return types.NewError(types.ErrValidation, fmt.Sprintf("node type %q requires a run function", def.Type))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Type]; exists {
		return types.NewError(types.ErrValidation, fmt.Sprintf("node type %q already registered", def.Type))
	}
	r.defs[def.Type] = def
	return nil
}

// MustRegister panics on registration failure; intended for startup wiring.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns the definition for a type id.
func (r *Registry) Get(typeID string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[typeID]
	return def, ok
}

// Has reports whether a type id is registered.
func (r *Registry) Has(typeID string) bool {
	_, ok := r.Get(typeID)
	return ok
}

// HasPack reports whether at least one type of the given pack is
// registered.
func (r *Registry) HasPack(pack string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.defs {
		if def.Pack() == pack {
			return true
		}
	}
	return false
}

// Types returns every registered type id, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
