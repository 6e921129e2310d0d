package binding

import (
	"strconv"
	"strings"
	"sync"

	"github.com/BaSui01/flowkit/types"
)

// Context is the lookup environment for binding resolution: the flow input
// plus the outputs of every node that has completed so far, keyed by node id.
// The flow input is addressable under the reserved "flow.input" prefix.
// Safe for concurrent use: fan-out iterations fork and merge back into one
// shared parent.
type Context struct {
	mu      sync.RWMutex
	input   map[string]any
	outputs map[string]any
	vars    map[string]any
}

// NewContext creates a binding context over the given flow input.
func NewContext(input map[string]any) *Context {
	return &Context{
		input:   input,
		outputs: make(map[string]any),
	}
}

// Fork returns an isolated child context: outputs are copied, and vars are
// overlaid as additional top-level lookup roots (e.g. "item", "index" for a
// fan-out iteration). Writes to the fork never touch the parent.
func (c *Context) Fork(vars map[string]any) *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()

	outputs := make(map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		outputs[k] = v
	}
	merged := make(map[string]any, len(c.vars)+len(vars))
	for k, v := range c.vars {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	return &Context{input: c.input, outputs: outputs, vars: merged}
}

// SetOutput records a node output under its id. Later writes to the same id
// replace earlier ones (loop re-entries observe the latest iteration).
func (c *Context) SetOutput(nodeID string, output any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[nodeID] = output
}

// Output returns the recorded output for a node id.
func (c *Context) Output(nodeID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[nodeID]
	return v, ok
}

// Outputs returns a copy of all recorded outputs keyed by node id.
func (c *Context) Outputs() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

// Lookup resolves a dot-separated path against the context. The first
// missing or nil segment fails with a MISSING_BINDING error naming the
// full path.
func (c *Context) Lookup(path string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, types.NewError(types.ErrMissingBinding, "empty binding path").WithPath(path)
	}

	var current any
	if v, ok := c.vars[segments[0]]; ok {
		current = v
	} else if segments[0] == "flow" {
		current = map[string]any{"input": c.input}
	} else {
		v, ok := c.outputs[segments[0]]
		if !ok {
			return nil, missing(path, segments[0])
		}
		current = v
	}

	for _, seg := range segments[1:] {
		if current == nil {
			return nil, missing(path, seg)
		}
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, missing(path, seg)
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, missing(path, seg)
			}
			current = node[idx]
		default:
			return nil, missing(path, seg)
		}
	}
	if current == nil {
		return nil, missing(path, segments[len(segments)-1])
	}
	return current, nil
}

func missing(path, segment string) *types.Error {
	return types.NewError(types.ErrMissingBinding, "binding path not found at segment "+strconv.Quote(segment)).WithPath(path)
}
